// Package txstage is the staging transaction: a persistent,
// incrementally editable representation of an unsigned transaction,
// stored as structured JSON in walletdb's transaction table, that
// builds to the canonical binary ledger format, computes its hash, and
// accepts detached signatures to produce a submittable transaction.
//
// The edit verbs are grouped by the entity they touch, one file per
// entity, mirroring walletdb's layout.
package txstage

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
	"github.com/klingon-exchange/cardaminal/internal/walletdb"
)

// stagingVersion is written into every freshly created staging value
// so later schema changes can be migrated.
const stagingVersion = "v1"

// HexBytes round-trips a byte slice through JSON as a lowercase hex
// string, so the staging representation's byte fields (hashes, script
// bytes, datum CBOR) survive a JSON encode/decode cycle losslessly.
type HexBytes []byte

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("txstage: decode hex field: %w", cdmerr.ErrInvalidArgument)
	}
	*h = b
	return nil
}

// AssetMap is a policy-id-hex -> asset-name-hex -> amount map, keyed
// the same way as the indexer's view of a decoded output's assets
// (internal/indexer.DecodedOutput.Assets); amounts here are uint64,
// where that map holds int64.
type AssetMap map[string]map[string]uint64

// MintMap is AssetMap's signed counterpart: mint/burn amounts can be
// negative.
type MintMap map[string]map[string]int64

// Input is a transaction input or reference input: a UTxO reference.
type Input struct {
	TxHash HexBytes `json:"tx_hash"`
	Index  uint32   `json:"tx_index"`
}

func (i Input) equals(o Input) bool {
	return i.Index == o.Index && hex.EncodeToString(i.TxHash) == hex.EncodeToString(o.TxHash)
}

// DatumKind distinguishes a datum attached by hash from one supplied
// inline in the output.
type DatumKind string

const (
	DatumHash   DatumKind = "hash"
	DatumInline DatumKind = "inline"
)

// Datum is an output's attached datum, either a hash reference to a
// datum staged separately (see Datums) or inline bytes.
type Datum struct {
	Kind  DatumKind `json:"kind"`
	Bytes HexBytes  `json:"bytes"`
}

// ScriptKind is the Cardano script language a staged script is written
// in.
type ScriptKind string

const (
	ScriptNative   ScriptKind = "native"
	ScriptPlutusV1 ScriptKind = "plutus_v1"
	ScriptPlutusV2 ScriptKind = "plutus_v2"
)

// Script is a staged script, keyed by its hash in StagingTx.Scripts.
type Script struct {
	Kind  ScriptKind `json:"kind"`
	Bytes HexBytes   `json:"bytes"`
}

// Output is a transaction output: an address, a lovelace amount, an
// optional multi-asset value, an optional attached datum, and an
// optional reference script (by hash, looked up in StagingTx.Scripts).
type Output struct {
	Address    string   `json:"address"`
	Lovelace   uint64   `json:"lovelace"`
	Assets     AssetMap `json:"assets,omitempty"`
	Datum      *Datum   `json:"datum,omitempty"`
	ScriptHash HexBytes `json:"script_hash,omitempty"`
}

// CollateralOutput is the single optional collateral-return output.
type CollateralOutput struct {
	Address  string `json:"address"`
	Lovelace uint64 `json:"lovelace"`
}

// ExUnits is a redeemer's declared Plutus execution budget. Build
// requires it on every redeemer; no ex-units estimation exists in
// this version.
type ExUnits struct {
	Mem   uint64 `json:"mem"`
	Steps uint64 `json:"steps"`
}

// Redeemer is keyed in StagingTx.Redeemers by its purpose discriminator
// string, "spend:<hex>#<idx>" or "mint:<hex>".
type Redeemer struct {
	Data    HexBytes `json:"data"`
	ExUnits *ExUnits `json:"ex_units,omitempty"`
}

// SpendPurposeKey formats the redeemer-purpose key for spending the
// input (txHash, index).
func SpendPurposeKey(txHash []byte, index uint32) string {
	return fmt.Sprintf("spend:%s#%d", hex.EncodeToString(txHash), index)
}

// MintPurposeKey formats the redeemer-purpose key for minting under a
// policy.
func MintPurposeKey(policy []byte) string {
	return fmt.Sprintf("mint:%s", hex.EncodeToString(policy))
}

// StagingTx is the persistent, incrementally edited transaction value
// holding everything an unsigned transaction accumulates before build.
// It is marshaled verbatim as the `tx_json` column's contents while
// Status is Staging.
type StagingTx struct {
	Version              string              `json:"version"`
	Inputs               []Input             `json:"inputs,omitempty"`
	ReferenceInputs      []Input             `json:"reference_inputs,omitempty"`
	Outputs              []Output            `json:"outputs,omitempty"`
	Fee                  *uint64             `json:"fee,omitempty"`
	Mint                 MintMap             `json:"mint,omitempty"`
	TTL                  *uint64             `json:"ttl,omitempty"`
	ValidHereafter       *uint64             `json:"valid_hereafter,omitempty"`
	NetworkID            *uint8              `json:"network_id,omitempty"`
	CollateralInputs     []Input             `json:"collateral_inputs,omitempty"`
	CollateralOutput     *CollateralOutput   `json:"collateral_output,omitempty"`
	DisclosedSigners     []HexBytes          `json:"disclosed_signers,omitempty"`
	Scripts              map[string]Script   `json:"scripts,omitempty"`
	Datums               map[string]HexBytes `json:"datums,omitempty"`
	Redeemers            map[string]Redeemer `json:"redeemers,omitempty"`
	ScriptDataHash       HexBytes            `json:"script_data_hash,omitempty"`
	SignerAmountOverride *uint8              `json:"signature_amount_override,omitempty"`
	ChangeAddress        *string             `json:"change_address,omitempty"`
}

// New returns a fresh staging value with no fields set.
func New() *StagingTx {
	return &StagingTx{Version: stagingVersion}
}

// Create persists a brand-new staging transaction and returns its id.
func Create(store *walletdb.Store) (string, error) {
	tx := New()
	data, err := json.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("txstage: encode new staging tx: %w", cdmerr.ErrStorage)
	}
	return store.InsertTransaction(data)
}

// decodeStaging parses a transaction row's tx_json into a StagingTx,
// failing if the row isn't currently Staging: edits are rejected once
// a transaction has been built.
func decodeStaging(row *walletdb.TransactionRow) (*StagingTx, error) {
	if row.Status != walletdb.StatusStaging {
		return nil, fmt.Errorf("txstage: transaction %s is %s, not staging: %w", row.ID, row.Status, cdmerr.ErrValidation)
	}
	var tx StagingTx
	if err := json.Unmarshal(row.TxJSON, &tx); err != nil {
		return nil, fmt.Errorf("txstage: decode staging tx %s: %w", row.ID, cdmerr.ErrStorage)
	}
	return &tx, nil
}
