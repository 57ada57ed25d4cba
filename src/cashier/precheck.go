package cashier

import (
	"context"
	"math/big"

	"github.com/onemorebsmith/spl-airdrop/src/model"
	"github.com/onemorebsmith/spl-airdrop/src/units"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFeeBalance   = errors.Wrap(model.ErrPrecondition, "insufficient native balance for fees")
	ErrMissingSenderAccount     = errors.Wrap(model.ErrPrecondition, "sender has no account for this asset")
	ErrInsufficientAssetBalance = errors.Wrap(model.ErrPrecondition, "insufficient asset balance")
)

type Precheck struct {
	Sender             string
	SenderTokenAccount string
	FeeLamports        *big.Int
	FeeBuffer          *big.Int
	RequiredBaseUnits  *big.Int
}

// CheckBalances verifies the sender can pay both the fee and every transfer before anything
// is submitted.
func CheckBalances(ctx context.Context, ledger Ledger, p Precheck) error {
	balance, err := ledger.GetBalance(ctx, p.Sender)
	if err != nil {
		return errors.Wrapf(model.ErrExternal, "failed fetching balance for %s: %s", p.Sender, err)
	}
	needed := units.Sum(p.FeeLamports, p.FeeBuffer)
	if new(big.Int).SetUint64(balance).Cmp(needed) < 0 {
		return errors.Wrapf(ErrInsufficientFeeBalance, "have %s %s, need %s %s",
			units.FromBaseUnits(new(big.Int).SetUint64(balance), NativeDecimals), NativeSymbol,
			units.FromBaseUnits(needed, NativeDecimals), NativeSymbol)
	}

	exists, err := ledger.GetAccountInfo(ctx, p.SenderTokenAccount)
	if err != nil {
		return errors.Wrapf(model.ErrExternal, "failed fetching sender asset account: %s", err)
	}
	if !exists {
		return errors.Wrapf(ErrMissingSenderAccount, "%s", p.SenderTokenAccount)
	}

	held, err := ledger.GetTokenAccountBalance(ctx, p.SenderTokenAccount)
	if err != nil {
		return errors.Wrapf(model.ErrExternal, "failed fetching sender asset balance: %s", err)
	}
	if p.RequiredBaseUnits != nil && held.Cmp(p.RequiredBaseUnits) < 0 {
		return errors.Wrapf(ErrInsufficientAssetBalance, "have %s, need %s", held, p.RequiredBaseUnits)
	}
	return nil
}

// QuoteFee is the lump platform fee for count recipients, in native base units, rounded to
// the nearest unit.
func QuoteFee(count int, perAddress decimal.Decimal) *big.Int {
	if count <= 0 || perAddress.Sign() <= 0 {
		return big.NewInt(0)
	}
	return perAddress.Mul(decimal.NewFromInt(int64(count))).Shift(int32(NativeDecimals)).Round(0).BigInt()
}
