package txstage

import (
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
	"github.com/klingon-exchange/cardaminal/internal/genesis"
	"github.com/klingon-exchange/cardaminal/internal/walletdb"
)

// Body map keys, per the Alonzo-era transaction_body CDDL (the subset
// the staging fields actually populate).
const (
	bodyInputs                = 0
	bodyOutputs               = 1
	bodyFee                   = 2
	bodyTTL                   = 3
	bodyValidityIntervalStart = 8
	bodyMint                  = 9
	bodyScriptDataHash        = 11
	bodyCollateralInputs      = 13
	bodyRequiredSigners       = 14
	bodyNetworkID             = 15
	bodyCollateralReturn      = 16
	bodyReferenceInputs       = 18
)

// Witness-set map keys, per the Alonzo-era transaction_witness_set CDDL.
const (
	witnessVKeys         = 0
	witnessNativeScripts = 1
	witnessPlutusV1      = 3
	witnessPlutusData    = 4
	witnessRedeemers     = 5
	witnessPlutusV2      = 6
)

// Built is the outcome of a successful Build: the transaction's hash
// and the full CBOR-encoded transaction (body, a witness set holding
// the staged scripts, datums and redeemers but no vkey witnesses,
// is_valid, no auxiliary data) ready for Sign to attach witnesses to.
type Built struct {
	TxHash HexBytes
	TxCBOR []byte
}

// BuiltTxJSON is tx_json's shape once a transaction has advanced past
// Staging: version, created_at, status, tx_hash, tx_body, and the
// collected signatures.
type BuiltTxJSON struct {
	Version    string              `json:"version"`
	CreatedAt  int64               `json:"created_at"`
	Status     walletdb.Status     `json:"status"`
	TxHash     HexBytes            `json:"tx_hash"`
	TxBody     HexBytes            `json:"tx_body"`
	Signatures map[string]HexBytes `json:"signatures,omitempty"`
}

// Build assembles stage's staged fields into a canonical CBOR
// transaction body, hashes it, and wraps it with a witness set holding
// the staged scripts, datums and redeemers (no vkey witnesses yet).
// It performs no coin selection, fee estimation, or change
// computation: fee and every input/output must already be staged
// exactly as the caller wants them encoded.
func Build(stage *StagingTx, params *genesis.Params) (*Built, error) {
	if len(stage.Inputs) == 0 {
		return nil, fmt.Errorf("txstage: build: no inputs staged: %w", cdmerr.ErrValidation)
	}
	if stage.Fee == nil {
		return nil, fmt.Errorf("txstage: build: no fee staged: %w", cdmerr.ErrValidation)
	}

	for hash, script := range stage.Scripts {
		if script.Kind == ScriptNative && !isWellFormedNativeScript(script.Bytes) {
			return nil, fmt.Errorf("txstage: build: malformed native script %s: %w", hash, cdmerr.ErrProtocol)
		}
	}
	for hash, datum := range stage.Datums {
		if !isWellFormedCBOR(datum) {
			return nil, fmt.Errorf("txstage: build: malformed datum %s: %w", hash, cdmerr.ErrProtocol)
		}
	}
	for _, out := range stage.Outputs {
		if out.Datum != nil && out.Datum.Kind == DatumInline && !isWellFormedCBOR(out.Datum.Bytes) {
			return nil, fmt.Errorf("txstage: build: malformed inline datum on output: %w", cdmerr.ErrProtocol)
		}
	}

	outputs, err := outputArrayCBOR(stage.Outputs)
	if err != nil {
		return nil, err
	}

	body := map[int]any{
		bodyInputs:  inputSetCBOR(stage.Inputs),
		bodyOutputs: outputs,
		bodyFee:     *stage.Fee,
	}
	if stage.TTL != nil {
		body[bodyTTL] = *stage.TTL
	}
	if stage.ValidHereafter != nil {
		body[bodyValidityIntervalStart] = *stage.ValidHereafter
	}
	if len(stage.Mint) > 0 {
		mint, err := multiassetCBOR(stage.Mint)
		if err != nil {
			return nil, err
		}
		body[bodyMint] = mint
	}
	if len(stage.ScriptDataHash) > 0 {
		body[bodyScriptDataHash] = []byte(stage.ScriptDataHash)
	}
	if len(stage.CollateralInputs) > 0 {
		body[bodyCollateralInputs] = inputSetCBOR(stage.CollateralInputs)
	}
	if len(stage.DisclosedSigners) > 0 {
		signers := make([][]byte, len(stage.DisclosedSigners))
		for i, s := range stage.DisclosedSigners {
			signers[i] = []byte(s)
		}
		body[bodyRequiredSigners] = signers
	}
	// An explicitly staged network id wins; otherwise the output falls
	// back to the chain params' own network so a build never silently
	// omits it when one network is unambiguous from context.
	if stage.NetworkID != nil {
		body[bodyNetworkID] = uint64(*stage.NetworkID)
	} else if params != nil {
		body[bodyNetworkID] = uint64(params.Network)
	}
	if stage.CollateralOutput != nil {
		out, err := outputCBOR(*stage.CollateralOutput)
		if err != nil {
			return nil, err
		}
		body[bodyCollateralReturn] = out
	}
	if len(stage.ReferenceInputs) > 0 {
		body[bodyReferenceInputs] = inputSetCBOR(stage.ReferenceInputs)
	}

	bodyBytes, err := marshalCanonical(body)
	if err != nil {
		return nil, err
	}

	hash := blake2b.Sum256(bodyBytes)

	witnessSet, err := buildWitnessSet(stage)
	if err != nil {
		return nil, err
	}

	full := rawTx{Body: body, Witnesses: witnessSet, Valid: true}
	txBytes, err := marshalCanonical(&full)
	if err != nil {
		return nil, err
	}

	return &Built{TxHash: hash[:], TxCBOR: txBytes}, nil
}

// buildWitnessSet assembles the witness-set map entries Build can
// populate up front: staged scripts and datums. Vkey witnesses are
// added later by Sign; the set starts empty of them.
func buildWitnessSet(stage *StagingTx) (map[int]any, error) {
	set := map[int]any{}

	var native, v1, v2 [][]byte
	for _, script := range stage.Scripts {
		switch script.Kind {
		case ScriptNative:
			native = append(native, script.Bytes)
		case ScriptPlutusV1:
			v1 = append(v1, script.Bytes)
		case ScriptPlutusV2:
			v2 = append(v2, script.Bytes)
		default:
			return nil, fmt.Errorf("txstage: build: unknown script kind %q: %w", script.Kind, cdmerr.ErrValidation)
		}
	}
	if len(native) > 0 {
		set[witnessNativeScripts] = native
	}
	if len(v1) > 0 {
		set[witnessPlutusV1] = v1
	}
	if len(v2) > 0 {
		set[witnessPlutusV2] = v2
	}

	if len(stage.Datums) > 0 {
		data := make([][]byte, 0, len(stage.Datums))
		for _, d := range stage.Datums {
			data = append(data, d)
		}
		set[witnessPlutusData] = data
	}

	if len(stage.Redeemers) > 0 {
		redeemers := make([]any, 0, len(stage.Redeemers))
		for _, r := range stage.Redeemers {
			if r.ExUnits == nil {
				return nil, fmt.Errorf("txstage: build: redeemer missing ex_units: %w", cdmerr.ErrValidation)
			}
			redeemers = append(redeemers, []any{
				[]byte(r.Data),
				uint64(r.ExUnits.Mem),
				uint64(r.ExUnits.Steps),
			})
		}
		set[witnessRedeemers] = redeemers
	}

	return set, nil
}

func inputSetCBOR(inputs []Input) []any {
	out := make([]any, len(inputs))
	for i, in := range inputs {
		out[i] = inputArray(in)
	}
	return out
}

func outputCBOR(out CollateralOutput) (any, error) {
	addr, err := decodeBech32Payload(out.Address)
	if err != nil {
		return nil, err
	}
	return map[int]any{0: addr, 1: out.Lovelace}, nil
}

// Output datum-option tags, per the post-Alonzo transaction_output CDDL:
// [0, datum_hash] for a hash reference, [1, data] for inline data.
const (
	datumOptionHash   = 0
	datumOptionInline = 1
)

// outputArrayCBOR encodes each staged output in the post-Alonzo map
// form: address, value, an optional datum option, and an optional
// reference-script hash. A plain address-and-lovelace output (the
// common case) still encodes as this map shape rather than the
// pre-Alonzo 2-tuple array, since any field beyond address/value
// forces the newer shape and cardaminal doesn't distinguish "could
// have used the old shape" from "didn't need to."
func outputArrayCBOR(outputs []Output) ([]any, error) {
	result := make([]any, len(outputs))
	for i, out := range outputs {
		addr, err := decodeBech32Payload(out.Address)
		if err != nil {
			return nil, err
		}
		value, err := valueCBOR(out.Lovelace, out.Assets)
		if err != nil {
			return nil, err
		}
		m := map[int]any{
			0: addr,
			1: value,
		}
		if out.Datum != nil {
			switch out.Datum.Kind {
			case DatumHash:
				m[2] = []any{datumOptionHash, []byte(out.Datum.Bytes)}
			case DatumInline:
				m[2] = []any{datumOptionInline, []byte(out.Datum.Bytes)}
			default:
				return nil, fmt.Errorf("txstage: build: unknown datum kind %q: %w", out.Datum.Kind, cdmerr.ErrValidation)
			}
		}
		if len(out.ScriptHash) > 0 {
			m[3] = []byte(out.ScriptHash)
		}
		result[i] = m
	}
	return result, nil
}
