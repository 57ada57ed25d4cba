package solanaapi

import (
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// Network holds the Solana address rules.
type Network struct{}

// ValidateAddress accepts any base58 string that decodes to a 32 byte public key.
func (Network) ValidateAddress(address string) error {
	if address == "" {
		return errors.New("empty address")
	}
	raw, err := base58.Decode(address)
	if err != nil {
		return errors.Wrap(err, "not base58")
	}
	if len(raw) != solana.PublicKeyLength {
		return errors.Errorf("decodes to %d bytes, expected %d", len(raw), solana.PublicKeyLength)
	}
	return nil
}

// ReceivingAccount is the owner's associated token account for mint.
func (Network) ReceivingAccount(owner, mint string) (string, error) {
	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return "", errors.Wrapf(err, "invalid owner %s", owner)
	}
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return "", errors.Wrapf(err, "invalid mint %s", mint)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(ownerKey, mintKey)
	if err != nil {
		return "", errors.Wrapf(err, "failed deriving token account for %s", owner)
	}
	return ata.String(), nil
}
