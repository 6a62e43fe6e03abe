package txstage

import (
	"fmt"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
)

// AddOutput appends an output to the transaction.
func (e *Editor) AddOutput(out Output) error {
	return e.apply(func(tx *StagingTx) error {
		tx.Outputs = append(tx.Outputs, out)
		return nil
	})
}

// RemoveOutput removes the output at the given positional index.
func (e *Editor) RemoveOutput(index int) error {
	return e.apply(func(tx *StagingTx) error {
		if index < 0 || index >= len(tx.Outputs) {
			return fmt.Errorf("txstage: output index %d out of range (have %d): %w", index, len(tx.Outputs), cdmerr.ErrNotFound)
		}
		tx.Outputs = append(tx.Outputs[:index], tx.Outputs[index+1:]...)
		return nil
	})
}

// SetCollateralOutput sets the single collateral-return output.
func (e *Editor) SetCollateralOutput(out CollateralOutput) error {
	return e.apply(func(tx *StagingTx) error {
		tx.CollateralOutput = &out
		return nil
	})
}

// ClearCollateralOutput unsets the collateral-return output.
func (e *Editor) ClearCollateralOutput() error {
	return e.apply(func(tx *StagingTx) error {
		tx.CollateralOutput = nil
		return nil
	})
}
