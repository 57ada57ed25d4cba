package solanaapi

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/onemorebsmith/spl-airdrop/src/cashier"
	"github.com/onemorebsmith/spl-airdrop/src/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrAnchorExpired = errors.Wrap(model.ErrExternal, "blockhash expired before confirmation")

const (
	DefaultPollInterval = 500 * time.Millisecond
	// sendMaxRetries is how often the RPC node itself rebroadcasts a submission
	sendMaxRetries uint = 3
)

// SolanaApi is the cashier.Ledger for a Solana JSON-RPC endpoint. Every call waits on a
// shared token bucket first.
type SolanaApi struct {
	client       *rpc.Client
	limiter      *rate.Limiter
	commitment   rpc.CommitmentType
	pollInterval time.Duration
	logger       *zap.Logger
}

var _ cashier.Ledger = (*SolanaApi)(nil)

func NewSolanaApi(endpoint string, rps float64, logger *zap.Logger) *SolanaApi {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &SolanaApi{
		client:       rpc.New(endpoint),
		limiter:      rate.NewLimiter(rate.Limit(rps), burst),
		commitment:   rpc.CommitmentConfirmed,
		pollInterval: DefaultPollInterval,
		logger:       logger.With(zap.String("endpoint", endpoint), zap.String("component", "solana_api")),
	}
}

func (s *SolanaApi) WithPollInterval(d time.Duration) *SolanaApi {
	s.pollInterval = d
	return s
}

// wait takes exactly one token, or returns when ctx ends.
func (s *SolanaApi) wait(ctx context.Context, method string) error {
	r := s.limiter.Reserve()
	if !r.OK() {
		return errors.New("rate: cannot reserve token")
	}
	if delay := r.Delay(); delay > 0 {
		rpcRateLimitWaits.Inc()
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			r.Cancel()
			return ctx.Err()
		}
	}
	return nil
}

func (s *SolanaApi) done(method string, err error) error {
	RecordRPCCall(method, err)
	if err != nil {
		return errors.Wrapf(err, "%s failed", method)
	}
	return nil
}

func (s *SolanaApi) GetBalance(ctx context.Context, account string) (uint64, error) {
	pk, err := solana.PublicKeyFromBase58(account)
	if err != nil {
		return 0, model.Validationf("invalid account %q: %s", account, err)
	}
	if err := s.wait(ctx, "getBalance"); err != nil {
		return 0, err
	}
	res, err := s.client.GetBalance(ctx, pk, s.commitment)
	if err := s.done("getBalance", err); err != nil {
		return 0, err
	}
	return res.Value, nil
}

func (s *SolanaApi) GetLatestAnchor(ctx context.Context) (cashier.Anchor, error) {
	if err := s.wait(ctx, "getLatestBlockhash"); err != nil {
		return cashier.Anchor{}, err
	}
	res, err := s.client.GetLatestBlockhash(ctx, s.commitment)
	if err := s.done("getLatestBlockhash", err); err != nil {
		return cashier.Anchor{}, err
	}
	if res.Value == nil {
		return cashier.Anchor{}, errors.New("getLatestBlockhash returned no value")
	}
	return cashier.Anchor{
		Hash:         res.Value.Blockhash.String(),
		ExpiryHeight: res.Value.LastValidBlockHeight,
	}, nil
}

// Submit sends the signed transaction with preflight simulation on and returns its signature.
func (s *SolanaApi) Submit(ctx context.Context, tx cashier.SignedTransaction) (string, error) {
	if err := s.wait(ctx, "sendTransaction"); err != nil {
		return "", err
	}
	maxRetries := sendMaxRetries
	sig, err := s.client.SendRawTransactionWithOpts(ctx, tx.Raw, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: s.commitment,
		MaxRetries:          &maxRetries,
	})
	if err := s.done("sendTransaction", err); err != nil {
		return "", err
	}
	s.logger.Debug("transaction submitted", zap.String("signature", sig.String()))
	return sig.String(), nil
}

// Confirm polls the signature status until it reaches the configured commitment, fails on
// chain, or its blockhash expires.
func (s *SolanaApi) Confirm(ctx context.Context, submissionID string, anchor cashier.Anchor) error {
	sig, err := solana.SignatureFromBase58(submissionID)
	if err != nil {
		return model.Validationf("invalid signature %q: %s", submissionID, err)
	}
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		landed, err := s.signatureStatus(ctx, sig)
		if err != nil || landed {
			return err
		}

		if err := s.wait(ctx, "getBlockHeight"); err != nil {
			return err
		}
		height, err := s.client.GetBlockHeight(ctx, s.commitment)
		if err := s.done("getBlockHeight", err); err != nil {
			return err
		}
		if height > anchor.ExpiryHeight {
			// one last look, the transaction may have landed in the final valid block
			if landed, err := s.signatureStatus(ctx, sig); err != nil || landed {
				return err
			}
			return errors.Wrapf(ErrAnchorExpired, "signature %s, height %d > %d", submissionID, height, anchor.ExpiryHeight)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *SolanaApi) signatureStatus(ctx context.Context, sig solana.Signature) (bool, error) {
	if err := s.wait(ctx, "getSignatureStatuses"); err != nil {
		return false, err
	}
	res, err := s.client.GetSignatureStatuses(ctx, true, sig)
	if err := s.done("getSignatureStatuses", err); err != nil {
		return false, err
	}
	if len(res.Value) == 0 || res.Value[0] == nil {
		return false, nil
	}
	status := res.Value[0]
	if status.Err != nil {
		return false, errors.Wrapf(model.ErrExecution, "%v", status.Err)
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return true, nil
	}
	return false, nil
}

func (s *SolanaApi) GetAssetSupply(ctx context.Context, asset string) (cashier.AssetInfo, error) {
	mint, err := solana.PublicKeyFromBase58(asset)
	if err != nil {
		return cashier.AssetInfo{}, model.Validationf("invalid mint %q: %s", asset, err)
	}
	if err := s.wait(ctx, "getTokenSupply"); err != nil {
		return cashier.AssetInfo{}, err
	}
	res, err := s.client.GetTokenSupply(ctx, mint, s.commitment)
	if err := s.done("getTokenSupply", err); err != nil {
		return cashier.AssetInfo{}, err
	}
	if res.Value == nil {
		return cashier.AssetInfo{}, errors.Errorf("mint %s not found", asset)
	}
	supply, ok := new(big.Int).SetString(res.Value.Amount, 10)
	if !ok {
		return cashier.AssetInfo{}, errors.Errorf("unparsable supply %q for mint %s", res.Value.Amount, asset)
	}
	return cashier.AssetInfo{Decimals: res.Value.Decimals, Supply: supply}, nil
}

func (s *SolanaApi) GetAccountInfo(ctx context.Context, address string) (bool, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return false, model.Validationf("invalid account %q: %s", address, err)
	}
	if err := s.wait(ctx, "getAccountInfo"); err != nil {
		return false, err
	}
	_, err = s.client.GetAccountInfoWithOpts(ctx, pk, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: s.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		RecordRPCCall("getAccountInfo", nil)
		return false, nil
	}
	if err := s.done("getAccountInfo", err); err != nil {
		return false, err
	}
	return true, nil
}

// GetMultipleAccountInfo answers existence for up to 100 addresses in one call.
func (s *SolanaApi) GetMultipleAccountInfo(ctx context.Context, addresses []string) ([]bool, error) {
	keys := make([]solana.PublicKey, 0, len(addresses))
	for _, a := range addresses {
		pk, err := solana.PublicKeyFromBase58(a)
		if err != nil {
			return nil, model.Validationf("invalid account %q: %s", a, err)
		}
		keys = append(keys, pk)
	}
	if err := s.wait(ctx, "getMultipleAccounts"); err != nil {
		return nil, err
	}
	res, err := s.client.GetMultipleAccountsWithOpts(ctx, keys, &rpc.GetMultipleAccountsOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: s.commitment,
	})
	if err := s.done("getMultipleAccounts", err); err != nil {
		return nil, err
	}
	found := make([]bool, len(res.Value))
	for i, acct := range res.Value {
		found[i] = acct != nil
	}
	return found, nil
}

func (s *SolanaApi) GetTokenAccountBalance(ctx context.Context, account string) (*big.Int, error) {
	pk, err := solana.PublicKeyFromBase58(account)
	if err != nil {
		return nil, model.Validationf("invalid account %q: %s", account, err)
	}
	if err := s.wait(ctx, "getTokenAccountBalance"); err != nil {
		return nil, err
	}
	res, err := s.client.GetTokenAccountBalance(ctx, pk, s.commitment)
	if err := s.done("getTokenAccountBalance", err); err != nil {
		return nil, err
	}
	if res.Value == nil {
		return nil, errors.Errorf("no balance for token account %s", account)
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(res.Value.Amount), 10)
	if !ok {
		return nil, errors.Errorf("unparsable token balance %q", res.Value.Amount)
	}
	return amount, nil
}
