package solanaapi

import (
	"context"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/onemorebsmith/spl-airdrop/src/cashier"
	"github.com/onemorebsmith/spl-airdrop/src/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MaxTransactionSize is the largest serialized transaction a validator accepts.
const MaxTransactionSize = 1232

// KeypairSigner signs drafts with a local keypair.
type KeypairSigner struct {
	key         solana.PrivateKey
	priorityFee uint64
	logger      *zap.Logger
}

var _ cashier.Signer = (*KeypairSigner)(nil)

func NewKeypairSigner(path string, priorityFee uint64, logger *zap.Logger) (*KeypairSigner, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed loading keypair from %s", path)
	}
	return NewKeypairSignerFromKey(key, priorityFee, logger), nil
}

func NewKeypairSignerFromKey(key solana.PrivateKey, priorityFee uint64, logger *zap.Logger) *KeypairSigner {
	return &KeypairSigner{
		key:         key,
		priorityFee: priorityFee,
		logger:      logger.With(zap.String("component", "signer"), zap.String("wallet", key.PublicKey().String())),
	}
}

func (ks *KeypairSigner) IsConnected() bool {
	return len(ks.key) == 64
}

func (ks *KeypairSigner) Account() string {
	return ks.key.PublicKey().String()
}

func (ks *KeypairSigner) RequestSignature(ctx context.Context, draft cashier.TransactionDraft) (cashier.SignedTransaction, error) {
	tx, err := BuildTransaction(draft, ks.priorityFee)
	if err != nil {
		return cashier.SignedTransaction{}, err
	}
	payer := ks.key.PublicKey()
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &ks.key
		}
		return nil
	}); err != nil {
		return cashier.SignedTransaction{}, errors.Wrap(err, "failed signing transaction")
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return cashier.SignedTransaction{}, errors.Wrap(err, "failed serializing transaction")
	}
	if len(raw) > MaxTransactionSize {
		return cashier.SignedTransaction{}, model.Validationf("transaction is %d bytes, limit is %d; lower batch_size", len(raw), MaxTransactionSize)
	}
	ks.logger.Debug("signed batch", zap.Int("operations", len(draft.Operations)), zap.Int("bytes", len(raw)))
	return cashier.SignedTransaction{Raw: raw, Signature: tx.Signatures[0].String()}, nil
}

// BuildTransaction compiles a draft into a transaction paid by draft.FeePayer. Token
// transfers draw from the payer's associated token account.
func BuildTransaction(draft cashier.TransactionDraft, priorityFee uint64) (*solana.Transaction, error) {
	payer, err := solana.PublicKeyFromBase58(draft.FeePayer)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid fee payer %s", draft.FeePayer)
	}
	blockhash, err := solana.HashFromBase58(draft.Anchor.Hash)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid blockhash %s", draft.Anchor.Hash)
	}

	instructions := make([]solana.Instruction, 0, len(draft.Operations)+1)
	if priorityFee > 0 {
		instructions = append(instructions, computebudget.NewSetComputeUnitPriceInstruction(priorityFee).Build())
	}

	var mint, source solana.PublicKey
	if needsMint(draft.Operations) {
		if mint, err = solana.PublicKeyFromBase58(draft.Asset); err != nil {
			return nil, errors.Wrapf(err, "invalid mint %s", draft.Asset)
		}
		if source, _, err = solana.FindAssociatedTokenAddress(payer, mint); err != nil {
			return nil, errors.Wrap(err, "failed deriving sender token account")
		}
	}

	for _, op := range draft.Operations {
		owner, err := solana.PublicKeyFromBase58(op.Owner)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid destination %s", op.Owner)
		}
		switch op.Kind {
		case model.OpFeeTransfer:
			lamports, err := uint64Amount(op)
			if err != nil {
				return nil, err
			}
			instructions = append(instructions, system.NewTransferInstruction(lamports, payer, owner).Build())
		case model.OpCreateAccount:
			instructions = append(instructions, associatedtokenaccount.NewCreateInstruction(payer, owner, mint).Build())
		case model.OpTransfer:
			amount, err := uint64Amount(op)
			if err != nil {
				return nil, err
			}
			dest, err := solana.PublicKeyFromBase58(op.Account)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid token account %s", op.Account)
			}
			instructions = append(instructions, token.NewTransferInstruction(amount, source, dest, payer, nil).Build())
		default:
			return nil, errors.Errorf("unknown operation %q", op.Kind)
		}
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, errors.Wrap(err, "failed building transaction")
	}
	return tx, nil
}

func needsMint(ops []model.Operation) bool {
	for _, op := range ops {
		if op.Kind != model.OpFeeTransfer {
			return true
		}
	}
	return false
}

func uint64Amount(op model.Operation) (uint64, error) {
	if op.Amount == nil || op.Amount.Sign() <= 0 || !op.Amount.IsUint64() {
		return 0, model.Validationf("amount %v for %s does not fit a u64", op.Amount, op.Owner)
	}
	return op.Amount.Uint64(), nil
}
