package txstage

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
)

// rawTx is the 4-element top-level array every post-Alonzo transaction
// encodes to: [body, witness_set, is_valid, auxiliary_data]. Body and
// WitnessSet are left as int-keyed maps (rather than fully-typed
// structs) so Build can omit absent optional fields simply by not
// setting a key, emitting only the CBOR map entries a field was
// actually supplied for.
type rawTx struct {
	_         struct{} `cbor:",toarray"`
	Body      map[int]any
	Witnesses map[int]any
	Valid     bool
	Aux       any
}

// canonicalMode is the deterministic CBOR encoding used for every byte
// form cardaminal produces or hashes: sorted map keys and the shortest
// well-formed length encoding, so two builds of the same staging value
// are byte-identical.
var canonicalMode = mustCanonicalMode()

func mustCanonicalMode() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("txstage: build canonical cbor mode: %v", err))
	}
	return mode
}

func marshalCanonical(v any) ([]byte, error) {
	b, err := canonicalMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("txstage: cbor encode: %w", cdmerr.ErrProtocol)
	}
	return b, nil
}

func unmarshalStrict(data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("txstage: cbor decode: %w", cdmerr.ErrProtocol)
	}
	return nil
}

// inputArray is the 2-element [tx_id, index] encoding of a transaction
// input reference.
func inputArray(in Input) []any {
	return []any{[]byte(in.TxHash), uint64(in.Index)}
}

// valueCBOR encodes a lovelace amount plus an optional multi-asset map
// into the ledger value shape: a bare uint64 when no assets are
// present, or a [coin, multiasset] pair otherwise.
func valueCBOR(lovelace uint64, assets AssetMap) (any, error) {
	if len(assets) == 0 {
		return lovelace, nil
	}
	ma, err := multiassetCBOR(assets)
	if err != nil {
		return nil, err
	}
	return []any{lovelace, ma}, nil
}

// multiassetCBOR converts a staged multi-asset map from its
// hex-string-keyed JSON representation into the byte-string-keyed
// shape the ledger's multiasset CDDL requires on the wire: policy ids
// and asset names are CBOR byte strings, not text strings, so the
// keys are re-expressed as cbor.ByteString — the same key type the
// indexer's value decoder reads them back as.
func multiassetCBOR[N int64 | uint64](m map[string]map[string]N) (map[cbor.ByteString]map[cbor.ByteString]N, error) {
	out := make(map[cbor.ByteString]map[cbor.ByteString]N, len(m))
	for policyHex, assets := range m {
		policy, err := assetKey(policyHex)
		if err != nil {
			return nil, err
		}
		inner := make(map[cbor.ByteString]N, len(assets))
		for nameHex, amount := range assets {
			name, err := assetKey(nameHex)
			if err != nil {
				return nil, err
			}
			inner[name] = amount
		}
		out[policy] = inner
	}
	return out, nil
}

// assetKey decodes a policy-id or asset-name hex key into its CBOR
// byte-string form.
func assetKey(hexKey string) (cbor.ByteString, error) {
	b, err := hex.DecodeString(hexKey)
	if err != nil {
		return "", fmt.Errorf("txstage: asset key %q is not hex: %w", hexKey, cdmerr.ErrValidation)
	}
	return cbor.ByteString(b), nil
}

// isWellFormedCBOR reports whether data decodes as a syntactically
// valid CBOR item, the generic check build uses for a staged datum's
// bytes.
func isWellFormedCBOR(data []byte) bool {
	var v any
	return cbor.Unmarshal(data, &v) == nil
}

// isWellFormedNativeScript reports whether data decodes as a
// syntactically plausible Cardano native script: a non-empty CBOR
// array whose first element is the small integer script-type tag (0-5
// in the ledger's native-script CDDL: sig, all, any, atLeast, after,
// before). PlutusV1/V2 scripts are opaque compiled bytecode with no
// structural check of their own; script evaluation is out of scope.
func isWellFormedNativeScript(data []byte) bool {
	var items []any
	if err := cbor.Unmarshal(data, &items); err != nil || len(items) == 0 {
		return false
	}
	tag, ok := items[0].(uint64)
	if !ok {
		if i, ok := items[0].(int64); ok && i >= 0 {
			tag = uint64(i)
		} else {
			return false
		}
	}
	return tag <= 5
}
