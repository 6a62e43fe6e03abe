package txstage

import (
	"fmt"

	"github.com/btcsuite/btcutil/bech32"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
)

// decodeBech32Payload returns the raw header-plus-payload bytes behind
// a bech32-encoded Cardano address. Unlike walletkeys.DecodeAddress
// (which only accepts the wallet's own enterprise-address shape), an
// output can pay to any address an upstream party controls — base,
// pointer, script, or enterprise, any network — so this decodes the
// bech32 envelope generically and leaves header-byte interpretation to
// the ledger, the same division gouroboros's own CBOR encoder uses.
func decodeBech32Payload(addr string) ([]byte, error) {
	_, data, err := bech32.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("txstage: decode address %q: %w", addr, cdmerr.ErrInvalidArgument)
	}
	converted, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("txstage: decode address %q: %w", addr, cdmerr.ErrInvalidArgument)
	}
	return converted, nil
}
