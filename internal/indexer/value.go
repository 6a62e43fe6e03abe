package indexer

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
)

// DecodeOutputValue extracts the (lovelace, multi-asset) value from a
// stored UTxO's raw output CBOR, without a full era-aware decode: both
// the pre-Alonzo array shape ([address, value, ...]) and the
// post-Alonzo map shape ({0: address, 1: value, ...}) carry the value
// in the same position, and the value itself is either a bare coin or
// a [coin, multiasset] pair. This is what serves a wallet's balance
// view: the live utxo rows' cbor column is the lossless source of
// per-asset holdings (the history table only persists the lovelace
// component of each delta).
func DecodeOutputValue(data []byte) (uint64, map[string]map[string]uint64, error) {
	var decoded any
	if err := cbor.Unmarshal(data, &decoded); err != nil {
		return 0, nil, fmt.Errorf("indexer: decode output: %w", cdmerr.ErrProtocol)
	}

	var value any
	switch out := decoded.(type) {
	case []any:
		if len(out) < 2 {
			return 0, nil, fmt.Errorf("indexer: output array has %d elements: %w", len(out), cdmerr.ErrProtocol)
		}
		value = out[1]
	case map[any]any:
		v, ok := lookupIntKey(out, 1)
		if !ok {
			return 0, nil, fmt.Errorf("indexer: output map has no value entry: %w", cdmerr.ErrProtocol)
		}
		value = v
	default:
		return 0, nil, fmt.Errorf("indexer: unrecognized output shape %T: %w", decoded, cdmerr.ErrProtocol)
	}
	return decodeValue(value)
}

func decodeValue(v any) (uint64, map[string]map[string]uint64, error) {
	if coin, ok := asUint64(v); ok {
		return coin, nil, nil
	}

	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return 0, nil, fmt.Errorf("indexer: unrecognized value shape %T: %w", v, cdmerr.ErrProtocol)
	}
	coin, ok := asUint64(pair[0])
	if !ok {
		return 0, nil, fmt.Errorf("indexer: non-integer coin in value: %w", cdmerr.ErrProtocol)
	}

	rawAssets, ok := pair[1].(map[any]any)
	if !ok {
		return 0, nil, fmt.Errorf("indexer: unrecognized multiasset shape %T: %w", pair[1], cdmerr.ErrProtocol)
	}
	assets := make(map[string]map[string]uint64, len(rawAssets))
	for policyKey, perPolicy := range rawAssets {
		policy, ok := keyBytesHex(policyKey)
		if !ok {
			return 0, nil, fmt.Errorf("indexer: non-bytes policy id key: %w", cdmerr.ErrProtocol)
		}
		names, ok := perPolicy.(map[any]any)
		if !ok {
			return 0, nil, fmt.Errorf("indexer: unrecognized asset map shape %T: %w", perPolicy, cdmerr.ErrProtocol)
		}
		assets[policy] = make(map[string]uint64, len(names))
		for nameKey, amount := range names {
			name, ok := keyBytesHex(nameKey)
			if !ok {
				return 0, nil, fmt.Errorf("indexer: non-bytes asset name key: %w", cdmerr.ErrProtocol)
			}
			amt, ok := asUint64(amount)
			if !ok {
				return 0, nil, fmt.Errorf("indexer: non-integer asset amount: %w", cdmerr.ErrProtocol)
			}
			assets[policy][name] = amt
		}
	}
	return coin, assets, nil
}

// lookupIntKey finds a map entry under an integer key regardless of
// whether the generic decode produced it as uint64 or int64.
func lookupIntKey(m map[any]any, key int64) (any, bool) {
	if v, ok := m[uint64(key)]; ok {
		return v, true
	}
	if v, ok := m[key]; ok {
		return v, true
	}
	return nil, false
}

func asUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}

// keyBytesHex hex-encodes a CBOR map key that arrived as a byte
// string. The generic decoder hands byte-string keys back as
// cbor.ByteString (a string-backed type), so both it and a plain
// string are accepted.
func keyBytesHex(k any) (string, bool) {
	switch key := k.(type) {
	case cbor.ByteString:
		return hex.EncodeToString([]byte(string(key))), true
	case string:
		return hex.EncodeToString([]byte(key)), true
	case []byte:
		return hex.EncodeToString(key), true
	default:
		return "", false
	}
}
