package txstage

import (
	"encoding/hex"
	"fmt"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
)

// AddScript stages a script, keyed by its hash. A second add under
// the same hash overwrites the first; scripts carry no uniqueness
// constraint the way inputs and signers do.
func (e *Editor) AddScript(hash []byte, kind ScriptKind, bytes []byte) error {
	return e.apply(func(tx *StagingTx) error {
		if tx.Scripts == nil {
			tx.Scripts = map[string]Script{}
		}
		tx.Scripts[hex.EncodeToString(hash)] = Script{Kind: kind, Bytes: bytes}
		return nil
	})
}

// RemoveScript drops a staged script by hash.
func (e *Editor) RemoveScript(hash []byte) error {
	return e.apply(func(tx *StagingTx) error {
		key := hex.EncodeToString(hash)
		if _, ok := tx.Scripts[key]; !ok {
			return fmt.Errorf("txstage: script %x not staged: %w", hash, cdmerr.ErrNotFound)
		}
		delete(tx.Scripts, key)
		return nil
	})
}

// AddDatum stages a datum, keyed by its hash.
func (e *Editor) AddDatum(hash []byte, bytes []byte) error {
	return e.apply(func(tx *StagingTx) error {
		if tx.Datums == nil {
			tx.Datums = map[string]HexBytes{}
		}
		tx.Datums[hex.EncodeToString(hash)] = bytes
		return nil
	})
}

// RemoveDatum drops a staged datum by hash.
func (e *Editor) RemoveDatum(hash []byte) error {
	return e.apply(func(tx *StagingTx) error {
		key := hex.EncodeToString(hash)
		if _, ok := tx.Datums[key]; !ok {
			return fmt.Errorf("txstage: datum %x not staged: %w", hash, cdmerr.ErrNotFound)
		}
		delete(tx.Datums, key)
		return nil
	})
}

// AddRedeemerSpend stages a redeemer for spending the input (txHash,
// index), keyed by the "spend:<hex>#<idx>" purpose.
func (e *Editor) AddRedeemerSpend(txHash []byte, index uint32, data []byte, exUnits *ExUnits) error {
	return e.apply(func(tx *StagingTx) error {
		if tx.Redeemers == nil {
			tx.Redeemers = map[string]Redeemer{}
		}
		tx.Redeemers[SpendPurposeKey(txHash, index)] = Redeemer{Data: data, ExUnits: exUnits}
		return nil
	})
}

// AddRedeemerMint stages a redeemer for minting under a policy, keyed
// by the "mint:<hex>" purpose.
func (e *Editor) AddRedeemerMint(policy []byte, data []byte, exUnits *ExUnits) error {
	return e.apply(func(tx *StagingTx) error {
		if tx.Redeemers == nil {
			tx.Redeemers = map[string]Redeemer{}
		}
		tx.Redeemers[MintPurposeKey(policy)] = Redeemer{Data: data, ExUnits: exUnits}
		return nil
	})
}

// RemoveRedeemerSpend drops the spend redeemer for (txHash, index).
func (e *Editor) RemoveRedeemerSpend(txHash []byte, index uint32) error {
	return e.removeRedeemer(SpendPurposeKey(txHash, index))
}

// RemoveRedeemerMint drops the mint redeemer for policy.
func (e *Editor) RemoveRedeemerMint(policy []byte) error {
	return e.removeRedeemer(MintPurposeKey(policy))
}

func (e *Editor) removeRedeemer(key string) error {
	return e.apply(func(tx *StagingTx) error {
		if _, ok := tx.Redeemers[key]; !ok {
			return fmt.Errorf("txstage: redeemer %q not staged: %w", key, cdmerr.ErrNotFound)
		}
		delete(tx.Redeemers, key)
		return nil
	})
}
