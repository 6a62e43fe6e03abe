package walletkeys

import (
	"fmt"

	"github.com/btcsuite/btcutil/bech32"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
	"github.com/klingon-exchange/cardaminal/internal/genesis"
)

// shelleyEnterpriseType is the CIP-19 address-header type nibble for
// an enterprise address (payment credential only, no delegation part).
const shelleyEnterpriseType = 0x06

// DeriveAddress builds the Shelley enterprise address for a key hash
// on the given network: header byte (type<<4 | network id) followed by
// the 28-byte payment key hash, bech32-encoded with the network's HRP.
func DeriveAddress(pkh []byte, network genesis.NetworkID) (string, error) {
	if len(pkh) != 28 {
		return "", fmt.Errorf("walletkeys: key hash must be 28 bytes, got %d: %w", len(pkh), cdmerr.ErrInvalidArgument)
	}

	header := byte(shelleyEnterpriseType<<4) | byte(network)
	payload := make([]byte, 0, 29)
	payload = append(payload, header)
	payload = append(payload, pkh...)

	words, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("walletkeys: convert bits: %w", err)
	}
	addr, err := bech32.Encode(network.Bech32HRP(), words)
	if err != nil {
		return "", fmt.Errorf("walletkeys: bech32 encode: %w", err)
	}
	return addr, nil
}

// DecodeAddress reverses DeriveAddress, returning the payment key hash
// and the network id encoded in the address header.
func DecodeAddress(addr string) (pkh []byte, network genesis.NetworkID, err error) {
	hrp, words, err := bech32.Decode(addr)
	if err != nil {
		return nil, 0, fmt.Errorf("walletkeys: bech32 decode: %w", cdmerr.ErrInvalidArgument)
	}
	if hrp != genesis.NetworkMainnet.Bech32HRP() && hrp != genesis.NetworkTestnet.Bech32HRP() {
		return nil, 0, fmt.Errorf("walletkeys: unrecognized address prefix %q: %w", hrp, cdmerr.ErrInvalidArgument)
	}
	payload, err := bech32.ConvertBits(words, 5, 8, false)
	if err != nil {
		return nil, 0, fmt.Errorf("walletkeys: convert bits: %w", err)
	}
	if len(payload) != 29 {
		return nil, 0, fmt.Errorf("walletkeys: decoded address has length %d, want 29: %w", len(payload), cdmerr.ErrInvalidArgument)
	}
	header := payload[0]
	if header>>4 != shelleyEnterpriseType {
		return nil, 0, fmt.Errorf("walletkeys: address is not a Shelley enterprise address: %w", cdmerr.ErrInvalidArgument)
	}
	return payload[1:], genesis.NetworkID(header & 0x0f), nil
}
