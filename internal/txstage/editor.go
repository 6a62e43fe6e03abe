package txstage

import (
	"encoding/json"
	"fmt"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
	"github.com/klingon-exchange/cardaminal/internal/walletdb"
)

// Editor applies the edit verbs to one staging transaction,
// load-mutate-save against walletdb in a single call per
// verb. Every verb rejects unless the row's status is Staging.
type Editor struct {
	store *walletdb.Store
	id    string
}

// NewEditor returns an Editor bound to transaction id on store.
func NewEditor(store *walletdb.Store, id string) *Editor {
	return &Editor{store: store, id: id}
}

// apply loads the staging value, runs fn against it, and persists the
// result. fn returning an error aborts the whole edit: the stored row
// is left untouched: a failed edit never leaves a partially-modified
// transaction behind.
func (e *Editor) apply(fn func(*StagingTx) error) error {
	row, err := e.store.FetchByID(e.id)
	if err != nil {
		return fmt.Errorf("txstage: edit %s: %w", e.id, err)
	}
	tx, err := decodeStaging(row)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("txstage: encode staging tx %s: %w", e.id, cdmerr.ErrStorage)
	}
	row.TxJSON = data
	return e.store.UpdateTransaction(row)
}

// Get returns the current staging value without mutating it, for CLI
// inspection and for build's read path.
func (e *Editor) Get() (*StagingTx, error) {
	row, err := e.store.FetchByID(e.id)
	if err != nil {
		return nil, fmt.Errorf("txstage: get %s: %w", e.id, err)
	}
	return decodeStaging(row)
}
