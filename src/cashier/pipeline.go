package cashier

import (
	"context"
	"math/big"
	"time"

	"github.com/onemorebsmith/spl-airdrop/src/model"
	"github.com/onemorebsmith/spl-airdrop/src/recipients"
	"github.com/onemorebsmith/spl-airdrop/src/units"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Request struct {
	Asset      string
	Recipients *recipients.Set
	// Amount is the shared amount when the list was built from plain addresses
	Amount string
}

// AirdropPlan is a validated, fully resolved airdrop ready for dispatch.
type AirdropPlan struct {
	Asset          string
	Sender         string
	Decimals       uint8
	Recipients     *recipients.Set
	Amount         string
	Batches        []model.OperationBatch
	FeeLamports    *big.Int
	TotalBaseUnits *big.Int
	NewAccounts    int
}

// TransferBatches is the number of batches carrying recipient transfers.
func (p *AirdropPlan) TransferBatches() int {
	n := 0
	for _, b := range p.Batches {
		if !b.Fee {
			n++
		}
	}
	return n
}

// Airdrop wires validation, account resolution, planning and dispatch together.
type Airdrop struct {
	cfg     AirdropConfig
	ledger  Ledger
	signer  Signer
	network Network
	logger  *zap.Logger

	locker   SessionLocker
	store    ResultStore
	notifier Notifier
	journals []BatchJournal
	wait     waitFunc
	sleep    sleepFunc
}

func NewAirdrop(cfg AirdropConfig, ledger Ledger, signer Signer, network Network, logger *zap.Logger) *Airdrop {
	return &Airdrop{
		cfg:     cfg.WithDefaults(),
		ledger:  ledger,
		signer:  signer,
		network: network,
		logger:  logger.Named("airdrop"),
		wait:    waitOrCancel,
		sleep:   sleepCtx,
	}
}

func (a *Airdrop) WithLocker(l SessionLocker) *Airdrop {
	a.locker = l
	return a
}

func (a *Airdrop) WithStore(s ResultStore) *Airdrop {
	a.store = s
	return a
}

func (a *Airdrop) WithNotifier(n Notifier) *Airdrop {
	a.notifier = n
	return a
}

func (a *Airdrop) WithJournals(j ...BatchJournal) *Airdrop {
	a.journals = append(a.journals, j...)
	return a
}

// Prepare validates the request, checks balances and resolves receiving accounts. Nothing is
// submitted.
func (a *Airdrop) Prepare(ctx context.Context, req Request) (*AirdropPlan, error) {
	if req.Recipients == nil || len(req.Recipients.Entries) == 0 {
		return nil, model.Validationf("at least one recipient address is required")
	}
	if err := a.network.ValidateAddress(req.Asset); err != nil {
		return nil, model.Validationf("invalid asset address %q: %s", req.Asset, err)
	}
	if !a.signer.IsConnected() {
		return nil, model.Preconditionf("wallet not connected")
	}
	sender := a.signer.Account()

	info, err := a.ledger.GetAssetSupply(ctx, req.Asset)
	if err != nil {
		return nil, errors.Wrapf(model.ErrExternal, "failed fetching asset %s: %s", req.Asset, err)
	}

	perAddress, err := units.ParseAmount(a.cfg.FeePerAddress)
	if err != nil {
		return nil, errors.Wrap(err, "fee_per_address")
	}
	buffer, err := units.ParseAmount(a.cfg.FeeBuffer)
	if err != nil {
		return nil, errors.Wrap(err, "fee_buffer")
	}
	feeLamports := QuoteFee(len(req.Recipients.Entries), perAddress)
	var fee *FeeTransfer
	if a.cfg.PlatformWallet != "" && feeLamports.Sign() > 0 {
		fee = &FeeTransfer{To: a.cfg.PlatformWallet, Amount: feeLamports}
	} else {
		feeLamports = big.NewInt(0)
	}

	planned := make([]PlannedRecipient, 0, len(req.Recipients.Entries))
	accounts := make([]string, 0, len(req.Recipients.Entries))
	for _, entry := range req.Recipients.Entries {
		amount := units.ToBaseUnits(entry.Amount, info.Decimals)
		if amount.Sign() <= 0 {
			return nil, model.Validationf("amount %s for %s is below the asset's smallest unit", entry.Amount, entry.Address)
		}
		account, err := a.network.ReceivingAccount(entry.Address, req.Asset)
		if err != nil {
			return nil, model.Validationf("cannot derive receiving account for %s: %s", entry.Address, err)
		}
		planned = append(planned, PlannedRecipient{Entry: entry, Account: account, Amount: amount})
		accounts = append(accounts, account)
	}
	total := units.Sum(amountsOf(planned)...)

	senderAccount, err := a.network.ReceivingAccount(sender, req.Asset)
	if err != nil {
		return nil, model.Validationf("cannot derive sender asset account: %s", err)
	}
	if err := CheckBalances(ctx, a.ledger, Precheck{
		Sender:             sender,
		SenderTokenAccount: senderAccount,
		FeeLamports:        feeLamports,
		FeeBuffer:          units.ToBaseUnits(buffer, NativeDecimals),
		RequiredBaseUnits:  total,
	}); err != nil {
		return nil, err
	}

	exists, err := resolveExistence(ctx, a.ledger, accounts, a.cfg.LookupBatchSize, a.cfg.LookupDelay, a.sleep)
	if err != nil {
		return nil, err
	}
	newAccounts := 0
	for i := range planned {
		planned[i].AccountExists = exists[i]
		if !exists[i] {
			newAccounts++
		}
	}

	batches, err := Plan(planned, a.cfg.BatchSize, fee)
	if err != nil {
		return nil, err
	}

	a.logger.Info("airdrop planned",
		zap.String("asset", req.Asset),
		zap.Int("recipients", len(planned)),
		zap.Int("new_accounts", newAccounts),
		zap.Int("batches", len(batches)),
		zap.String("fee_lamports", feeLamports.String()),
		zap.String("total", total.String()))

	return &AirdropPlan{
		Asset:          req.Asset,
		Sender:         sender,
		Decimals:       info.Decimals,
		Recipients:     req.Recipients,
		Amount:         req.Amount,
		Batches:        batches,
		FeeLamports:    feeLamports,
		TotalBaseUnits: total,
		NewAccounts:    newAccounts,
	}, nil
}

func amountsOf(planned []PlannedRecipient) []*big.Int {
	out := make([]*big.Int, len(planned))
	for i, p := range planned {
		out[i] = p.Amount
	}
	return out
}

// NewSession opens a session for the plan's sender and asset.
func (a *Airdrop) NewSession(plan *AirdropPlan) *Session {
	return NewSession(plan.Sender, plan.Asset)
}

// Execute dispatches a prepared plan. The report is returned even when err is non-nil.
func (a *Airdrop) Execute(ctx context.Context, plan *AirdropPlan, session *Session) (*Report, error) {
	if a.locker != nil {
		ok, err := a.locker.Acquire(ctx, session.Sender, session.RunID, a.cfg.LockTTL)
		if err != nil {
			return nil, errors.Wrapf(model.ErrExternal, "failed acquiring session lock: %s", err)
		}
		if !ok {
			return nil, model.Preconditionf("another airdrop is already running for %s", session.Sender)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.locker.Release(releaseCtx, session.Sender, session.RunID); err != nil {
				a.logger.Warn("failed releasing session lock", zap.Error(err))
			}
		}()
	}

	if rr, ok := a.store.(RunRecorder); ok {
		if err := rr.BeginRun(ctx, session); err != nil {
			a.logger.Warn("failed registering run", zap.String("run_id", session.RunID), zap.Error(err))
		}
	}

	engine := NewEngine(a.ledger, a.signer, a.cfg.RetryPolicy(), a.logger).WithJournals(a.journals...)
	engine.wait = a.wait
	report, runErr := engine.Dispatch(ctx, session, plan.Batches)
	if report == nil {
		return nil, runErr
	}

	// persistence runs on a fresh context so a cancelled run still gets recorded
	saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if a.store != nil {
		if err := a.store.SaveReport(saveCtx, report); err != nil {
			a.logger.Error("failed saving report", zap.String("run_id", report.RunID), zap.Error(err))
		}
	}
	if a.notifier != nil {
		if err := a.notifier.Notify(saveCtx, report.StatusMessage()); err != nil {
			a.logger.Warn("failed sending notification", zap.Error(err))
		}
	}

	sum := report.Summary()
	a.logger.Info(report.StatusMessage(),
		zap.String("run_id", report.RunID),
		zap.String("state", string(report.State)),
		zap.Int("succeeded", sum.SuccessCount),
		zap.Int("failed", sum.FailedCount))
	return report, runErr
}

// Run prepares and executes in one step.
func (a *Airdrop) Run(ctx context.Context, req Request) (*Report, error) {
	plan, err := a.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return a.Execute(ctx, plan, a.NewSession(plan))
}
