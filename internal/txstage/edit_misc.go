package txstage

import (
	"fmt"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
)

// SetFee sets the explicit transaction fee, in lovelace.
func (e *Editor) SetFee(lovelace uint64) error {
	return e.apply(func(tx *StagingTx) error {
		tx.Fee = &lovelace
		return nil
	})
}

// ClearFee unsets the fee.
func (e *Editor) ClearFee() error {
	return e.apply(func(tx *StagingTx) error {
		tx.Fee = nil
		return nil
	})
}

// SetTTL sets the upper slot bound of the validity interval.
func (e *Editor) SetTTL(slot uint64) error {
	return e.apply(func(tx *StagingTx) error {
		tx.TTL = &slot
		return nil
	})
}

// ClearTTL unsets the upper slot bound.
func (e *Editor) ClearTTL() error {
	return e.apply(func(tx *StagingTx) error {
		tx.TTL = nil
		return nil
	})
}

// SetValidHereafter sets the lower slot bound of the validity interval.
func (e *Editor) SetValidHereafter(slot uint64) error {
	return e.apply(func(tx *StagingTx) error {
		tx.ValidHereafter = &slot
		return nil
	})
}

// ClearValidHereafter unsets the lower slot bound.
func (e *Editor) ClearValidHereafter() error {
	return e.apply(func(tx *StagingTx) error {
		tx.ValidHereafter = nil
		return nil
	})
}

// SetNetwork sets the explicit network id (0 testnet, 1 mainnet) the
// transaction declares.
func (e *Editor) SetNetwork(id uint8) error {
	return e.apply(func(tx *StagingTx) error {
		tx.NetworkID = &id
		return nil
	})
}

// ClearNetwork unsets the network id.
func (e *Editor) ClearNetwork() error {
	return e.apply(func(tx *StagingTx) error {
		tx.NetworkID = nil
		return nil
	})
}

// AddDisclosedSigner adds a required-signer key hash, rejecting a
// duplicate add.
func (e *Editor) AddDisclosedSigner(keyHash []byte) error {
	return e.apply(func(tx *StagingTx) error {
		for _, existing := range tx.DisclosedSigners {
			if string(existing) == string(keyHash) {
				return fmt.Errorf("txstage: disclosed signer %x already present: %w", keyHash, cdmerr.ErrAlreadyExists)
			}
		}
		tx.DisclosedSigners = append(tx.DisclosedSigners, keyHash)
		return nil
	})
}

// RemoveDisclosedSigner removes a required-signer key hash.
func (e *Editor) RemoveDisclosedSigner(keyHash []byte) error {
	return e.apply(func(tx *StagingTx) error {
		for i, existing := range tx.DisclosedSigners {
			if string(existing) == string(keyHash) {
				tx.DisclosedSigners = append(tx.DisclosedSigners[:i], tx.DisclosedSigners[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("txstage: disclosed signer %x not staged: %w", keyHash, cdmerr.ErrNotFound)
	})
}

// SetSignerAmount sets the expected-signers count override. The field
// is persisted with the staging transaction; Build does not read it,
// and no fee sizing uses it.
func (e *Editor) SetSignerAmount(count uint8) error {
	return e.apply(func(tx *StagingTx) error {
		tx.SignerAmountOverride = &count
		return nil
	})
}

// ClearSignerAmount unsets the signer-count override.
func (e *Editor) ClearSignerAmount() error {
	return e.apply(func(tx *StagingTx) error {
		tx.SignerAmountOverride = nil
		return nil
	})
}

// SetChangeAddress sets the change address. The field is accepted and
// persisted but not yet consumed by Build (no coin selection exists
// to produce change).
func (e *Editor) SetChangeAddress(addr string) error {
	return e.apply(func(tx *StagingTx) error {
		tx.ChangeAddress = &addr
		return nil
	})
}

// ClearChangeAddress unsets the change address.
func (e *Editor) ClearChangeAddress() error {
	return e.apply(func(tx *StagingTx) error {
		tx.ChangeAddress = nil
		return nil
	})
}
