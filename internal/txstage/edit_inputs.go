package txstage

import (
	"fmt"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
)

// AddInput appends a transaction input, rejecting a duplicate add.
func (e *Editor) AddInput(txHash []byte, index uint32) error {
	return e.apply(func(tx *StagingTx) error {
		in := Input{TxHash: txHash, Index: index}
		for _, existing := range tx.Inputs {
			if existing.equals(in) {
				return fmt.Errorf("txstage: input %x#%d already present: %w", txHash, index, cdmerr.ErrAlreadyExists)
			}
		}
		tx.Inputs = append(tx.Inputs, in)
		return nil
	})
}

// RemoveInput removes a transaction input by its (tx_hash, index).
func (e *Editor) RemoveInput(txHash []byte, index uint32) error {
	return e.apply(func(tx *StagingTx) error {
		removed, err := removeInput(tx.Inputs, txHash, index)
		if err != nil {
			return err
		}
		tx.Inputs = removed
		return nil
	})
}

// AddReferenceInput appends a reference input.
func (e *Editor) AddReferenceInput(txHash []byte, index uint32) error {
	return e.apply(func(tx *StagingTx) error {
		in := Input{TxHash: txHash, Index: index}
		for _, existing := range tx.ReferenceInputs {
			if existing.equals(in) {
				return fmt.Errorf("txstage: reference input %x#%d already present: %w", txHash, index, cdmerr.ErrAlreadyExists)
			}
		}
		tx.ReferenceInputs = append(tx.ReferenceInputs, in)
		return nil
	})
}

// RemoveReferenceInput removes a reference input.
func (e *Editor) RemoveReferenceInput(txHash []byte, index uint32) error {
	return e.apply(func(tx *StagingTx) error {
		removed, err := removeInput(tx.ReferenceInputs, txHash, index)
		if err != nil {
			return err
		}
		tx.ReferenceInputs = removed
		return nil
	})
}

// AddCollateralInput appends a collateral input.
func (e *Editor) AddCollateralInput(txHash []byte, index uint32) error {
	return e.apply(func(tx *StagingTx) error {
		in := Input{TxHash: txHash, Index: index}
		for _, existing := range tx.CollateralInputs {
			if existing.equals(in) {
				return fmt.Errorf("txstage: collateral input %x#%d already present: %w", txHash, index, cdmerr.ErrAlreadyExists)
			}
		}
		tx.CollateralInputs = append(tx.CollateralInputs, in)
		return nil
	})
}

// RemoveCollateralInput removes a collateral input.
func (e *Editor) RemoveCollateralInput(txHash []byte, index uint32) error {
	return e.apply(func(tx *StagingTx) error {
		removed, err := removeInput(tx.CollateralInputs, txHash, index)
		if err != nil {
			return err
		}
		tx.CollateralInputs = removed
		return nil
	})
}

func removeInput(list []Input, txHash []byte, index uint32) ([]Input, error) {
	target := Input{TxHash: txHash, Index: index}
	for i, existing := range list {
		if existing.equals(target) {
			return append(list[:i], list[i+1:]...), nil
		}
	}
	return nil, fmt.Errorf("txstage: input %x#%d not staged: %w", txHash, index, cdmerr.ErrNotFound)
}
