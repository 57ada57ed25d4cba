package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/onemorebsmith/spl-airdrop/src/cache"
	"github.com/onemorebsmith/spl-airdrop/src/cashier"
	"github.com/onemorebsmith/spl-airdrop/src/common"
	"github.com/onemorebsmith/spl-airdrop/src/model"
	"github.com/onemorebsmith/spl-airdrop/src/notify"
	"github.com/onemorebsmith/spl-airdrop/src/postgres"
	"github.com/onemorebsmith/spl-airdrop/src/recipients"
	"github.com/onemorebsmith/spl-airdrop/src/solanaapi"
	"github.com/onemorebsmith/spl-airdrop/src/units"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

var active atomic.Pointer[cashier.Session]

func main() {
	_ = godotenv.Load()

	pwd, _ := os.Getwd()
	fullPath := path.Join(pwd, "config.yaml")
	cfg := cashier.AirdropConfig{}
	log.Printf("loading config @ `%s`", fullPath)
	if rawCfg, err := ioutil.ReadFile(fullPath); err != nil {
		log.Printf("config file not found, using flags and defaults: %s", err)
	} else if err := yaml.Unmarshal(rawCfg, &cfg); err != nil {
		log.Printf("failed parsing config file: %s", err)
		os.Exit(1)
	}
	if kp := os.Getenv("KEYPAIR_PATH"); kp != "" && cfg.KeypairPath == "" {
		cfg.KeypairPath = kp
	}

	var asset, csvPath, listPath, amount, exportPath string
	var demoCSV, quoteOnly bool
	flag.StringVar(&cfg.RPCServer, "rpc", cfg.RPCServer, "solana rpc endpoint, default `https://api.mainnet-beta.solana.com`")
	flag.StringVar(&cfg.KeypairPath, "keypair", cfg.KeypairPath, "solana-keygen json file of the sending wallet")
	flag.StringVar(&cfg.PlatformWallet, "platform", cfg.PlatformWallet, "wallet receiving the per-address fee, no fee if empty")
	flag.StringVar(&asset, "asset", "", "mint address of the token to airdrop")
	flag.StringVar(&csvPath, "recipients", "", "csv of `address[,amount]` rows")
	flag.StringVar(&listPath, "list", "", "newline separated addresses, all receiving -amount")
	flag.StringVar(&amount, "amount", "", "amount per address, also the default for csv rows without one")
	flag.StringVar(&exportPath, "export", "", "where to write the results json, default airdrop-results-<ms>.json")
	flag.StringVar(&cfg.PromPort, "prom", cfg.PromPort, "address to serve prom stats, default `:2112`")
	flag.StringVar(&cfg.HealthCheckPort, "hcp", cfg.HealthCheckPort, `if defined will expose /readyz and /progress, default ""`)
	flag.StringVar(&cfg.PostgresConfig, "pg", cfg.PostgresConfig, `config string for the postgres connection"`)
	flag.StringVar(&cfg.RedisConfig, "redis", cfg.RedisConfig, `address of the redis server"`)
	flag.BoolVar(&cfg.Mock, "mock", cfg.Mock, "dry run against an in-memory ledger")
	flag.BoolVar(&demoCSV, "demo-csv", false, "print a sample recipients csv and exit")
	flag.BoolVar(&quoteOnly, "quote", false, "validate, quote fees and plan batches without sending")
	flag.Parse()

	if demoCSV {
		fmt.Print(recipients.DemoCSV())
		return
	}
	if cfg.RPCServer == "" {
		cfg.RPCServer = "https://api.mainnet-beta.solana.com"
	}
	cfg = cfg.WithDefaults()

	log.Println("----------------------------------")
	log.Printf("initializing airdrop")
	log.Printf("\trpc:           %s", cfg.RPCServer)
	log.Printf("\tasset:         %s", asset)
	log.Printf("\tplatform:      %s", cfg.PlatformWallet)
	log.Printf("\tfee/address:   %s", cfg.FeePerAddress)
	log.Printf("\tbatch size:    %d", cfg.BatchSize)
	log.Printf("\tprom:          %s", cfg.PromPort)
	log.Printf("\thealth check:  %s", cfg.HealthCheckPort)
	log.Printf("\tpostgres:      %t", cfg.PostgresConfig != "")
	log.Printf("\tredis:         %s", cfg.RedisConfig)
	log.Printf("\tmock:          %t", cfg.Mock)
	log.Println("----------------------------------")

	if err := run(cfg, asset, csvPath, listPath, amount, exportPath, quoteOnly); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func configureLogger(cfg cashier.AirdropConfig) (*zap.Logger, func(), error) {
	level := zap.InfoLevel
	if cfg.Debug {
		level = zap.DebugLevel
	}
	if cfg.LogFile != "" {
		return common.ConfigureZapWithFile(level, cfg.LogFile)
	}
	logger := common.ConfigureZap(level)
	return logger, func() { logger.Sync() }, nil
}

func run(cfg cashier.AirdropConfig, asset, csvPath, listPath, amount, exportPath string, quoteOnly bool) error {
	logger, closeLog, err := configureLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "failed configuring logger")
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handleSignals(cancel, logger)

	if cfg.PromPort != "" {
		cashier.StartPromServer(logger, cfg.PromPort)
	}

	network := solanaapi.Network{}
	set, err := loadRecipients(cfg, network, csvPath, listPath, amount)
	if err != nil {
		return err
	}
	for _, w := range set.Warnings {
		logger.Warn("recipient skipped", zap.Int("line", w.Line), zap.String("address", w.Address), zap.String("reason", w.Reason))
	}

	ledger, signer, err := configureChain(cfg, network, asset, logger)
	if err != nil {
		return err
	}

	airdrop := cashier.NewAirdrop(cfg, ledger, signer, network, logger)
	if cfg.PostgresConfig != "" {
		postgres.ConfigurePostgres(cfg.PostgresConfig)
		if err := postgres.EnsureSchema(ctx); err != nil {
			return err
		}
		store := postgres.NewStore(cfg.KeepRuns, logger)
		airdrop.WithStore(store).WithJournals(store)
	}
	var rd *redis.Client
	if cfg.RedisConfig != "" {
		rd = redis.NewClient(&redis.Options{
			Addr: cfg.RedisConfig,
			DB:   0, // use default DB
		})
		defer rd.Close()
		if err := rd.Ping(ctx).Err(); err != nil {
			return errors.Wrapf(err, "failed to connect to redis at %s", cfg.RedisConfig)
		}
		airdrop.WithLocker(cache.NewSessionLock(rd)).WithJournals(cache.NewJournal(rd, 24*time.Hour))
	}
	notifier, err := notify.FromEnv(logger)
	if err != nil {
		return err
	}
	airdrop.WithNotifier(notifier)

	if cfg.HealthCheckPort != "" {
		go beginReadyzHandler(cfg, rd, logger)
	}

	plan, err := airdrop.Prepare(ctx, cashier.Request{Asset: asset, Recipients: set, Amount: amount})
	if err != nil {
		return err
	}
	log.Printf("recipients:    %d (%d new token accounts)", len(set.Entries), plan.NewAccounts)
	log.Printf("total:         %s", units.FromBaseUnits(plan.TotalBaseUnits, plan.Decimals))
	log.Printf("fee:           %s %s", units.FromBaseUnits(plan.FeeLamports, cashier.NativeDecimals), cashier.NativeSymbol)
	log.Printf("transactions:  %d", len(plan.Batches))
	if quoteOnly {
		return nil
	}

	session := airdrop.NewSession(plan)
	active.Store(session)
	report, runErr := airdrop.Execute(ctx, plan, session)
	if report == nil {
		return runErr
	}
	fmt.Println(report.StatusMessage())

	if exportPath == "" {
		exportPath = fmt.Sprintf("airdrop-results-%d.json", time.Now().UnixMilli())
	}
	if err := writeExport(report, exportPath, set.CustomAmounts, amount); err != nil {
		logger.Warn("results not exported", zap.Error(err))
	} else {
		log.Printf("results written to %s", exportPath)
	}
	return runErr
}

func loadRecipients(cfg cashier.AirdropConfig, network solanaapi.Network, csvPath, listPath, amount string) (*recipients.Set, error) {
	opts := cfg.RecipientOptions(network.ValidateAddress)
	switch {
	case csvPath != "":
		f, err := os.Open(csvPath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed opening %s", csvPath)
		}
		defer f.Close()
		return recipients.FromCSV(f, amount, opts)
	case listPath != "":
		raw, err := ioutil.ReadFile(listPath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed reading %s", listPath)
		}
		return recipients.FromList(string(raw), amount, opts)
	default:
		return nil, errors.New("one of -recipients or -list is required")
	}
}

func configureChain(cfg cashier.AirdropConfig, network solanaapi.Network, asset string, logger *zap.Logger) (cashier.Ledger, cashier.Signer, error) {
	if cfg.Mock {
		key, err := solana.NewRandomPrivateKey()
		if err != nil {
			return nil, nil, err
		}
		signer := cashier.NewMockSigner(key.PublicKey().String())
		ledger := cashier.NewMockLedger()
		if senderAccount, err := network.ReceivingAccount(signer.Account(), asset); err == nil {
			ledger.Accounts[senderAccount] = true
		}
		logger.Warn("mock mode, nothing will be sent", zap.String("wallet", signer.Account()))
		return ledger, signer, nil
	}
	if cfg.KeypairPath == "" {
		return nil, nil, errors.New("a keypair is required, set -keypair or keypair_path")
	}
	signer, err := solanaapi.NewKeypairSigner(cfg.KeypairPath, cfg.PriorityFee, logger)
	if err != nil {
		return nil, nil, err
	}
	return solanaapi.NewSolanaApi(cfg.RPCServer, cfg.RPCRateLimit, logger), signer, nil
}

// handleSignals cancels the active session on the first signal and the whole process on the
// second.
func handleSignals(cancel context.CancelFunc, logger *zap.Logger) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		if s := active.Load(); s != nil && s.Cancel() == nil {
			logger.Warn("cancelling airdrop after the current batch, signal again to abort")
		} else {
			cancel()
			return
		}
		<-sigs
		logger.Warn("aborting")
		cancel()
	}()
}

func writeExport(report *cashier.Report, exportPath string, custom bool, amount string) error {
	f, err := os.Create(exportPath)
	if err != nil {
		return errors.Wrapf(err, "failed creating %s", exportPath)
	}
	defer f.Close()
	return report.Export(f, cashier.ExportConfig{CustomAmounts: custom, Amount: amount})
}

type progressView struct {
	RunID     string  `json:"runId"`
	State     string  `json:"state"`
	Progress  float64 `json:"progress"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	FeePaid   bool    `json:"feePaid"`
}

func beginReadyzHandler(cfg cashier.AirdropConfig, rd *redis.Client, logger *zap.Logger) {
	http.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.PostgresConfig != "" {
			pg, err := postgres.GetConnection(r.Context())
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(errors.Wrap(err, "failed pinging postgres").Error()))
				return
			}
			defer pg.Close(r.Context())
			if err := pg.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(errors.Wrap(err, "failed pinging postgres").Error()))
				return
			}
		}
		if rd != nil {
			if err := rd.Ping(r.Context()).Err(); err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(errors.Wrap(err, "failed pinging redis").Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	http.HandleFunc("/progress", func(w http.ResponseWriter, r *http.Request) {
		s := active.Load()
		if s == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		view := progressView{RunID: s.RunID, State: string(s.State()), Progress: s.Progress(), FeePaid: s.FeePaid()}
		for _, o := range s.Outcomes() {
			if o.Status == model.OutcomeStatusSuccess {
				view.Succeeded++
			} else {
				view.Failed++
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(view)
	})
	logger.Info("enabling health check on port " + cfg.HealthCheckPort)
	if err := http.ListenAndServe(cfg.HealthCheckPort, nil); err != nil {
		logger.Error("health check server exited", zap.Error(err))
	}
}
