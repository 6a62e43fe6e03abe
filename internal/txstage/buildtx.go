package txstage

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
	"github.com/klingon-exchange/cardaminal/internal/genesis"
	"github.com/klingon-exchange/cardaminal/internal/walletdb"
)

// BuildTransaction loads transaction id, runs Build against its staged
// fields, and advances it from Staging to Built: tx_cbor is populated,
// tx_json switches from the staging representation to BuiltTxJSON, and
// status moves forward. A failed build leaves the row untouched.
func BuildTransaction(store *walletdb.Store, id string, params *genesis.Params) (*Built, error) {
	row, err := store.FetchByID(id)
	if err != nil {
		return nil, fmt.Errorf("txstage: build %s: %w", id, err)
	}
	stage, err := decodeStaging(row)
	if err != nil {
		return nil, err
	}

	built, err := Build(stage, params)
	if err != nil {
		return nil, err
	}

	bj := BuiltTxJSON{
		Version:   stagingVersion,
		CreatedAt: row.CreatedAt,
		Status:    walletdb.StatusBuilt,
		TxHash:    built.TxHash,
		TxBody:    built.TxCBOR,
	}
	data, err := json.Marshal(&bj)
	if err != nil {
		return nil, fmt.Errorf("txstage: encode built tx %s: %w", id, cdmerr.ErrStorage)
	}

	hashHex := hex.EncodeToString(built.TxHash)
	row.TxJSON = data
	row.TxCBOR = built.TxCBOR
	row.Status = walletdb.StatusBuilt
	row.Hash = &hashHex

	if err := store.UpdateTransaction(row); err != nil {
		return nil, err
	}
	return built, nil
}
