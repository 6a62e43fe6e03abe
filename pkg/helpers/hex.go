// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// HexToBytes converts a hex string (with or without 0x prefix) to bytes.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}

// BytesToHex converts bytes to a lowercase hex string.
func BytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// ParseHash decodes a hex string and checks it yields exactly n bytes,
// for hashes whose length is fixed by the ledger (32-byte tx/block
// hashes, 28-byte key and script hashes).
func ParseHash(s string, n int) ([]byte, error) {
	b, err := HexToBytes(s)
	if err != nil {
		return nil, fmt.Errorf("malformed hex %q: %w", s, err)
	}
	if len(b) != n {
		return nil, fmt.Errorf("hash %q is %d bytes, want %d", s, len(b), n)
	}
	return b, nil
}

// ParseUTxORef parses a "hash#idx" UTxO reference string into its
// 32-byte transaction hash and output index.
func ParseUTxORef(s string) ([]byte, uint32, error) {
	pos := strings.LastIndexByte(s, '#')
	if pos < 0 {
		return nil, 0, fmt.Errorf("utxo reference %q is not in hash#idx form", s)
	}
	hash, err := ParseHash(s[:pos], 32)
	if err != nil {
		return nil, 0, fmt.Errorf("utxo reference %q: %w", s, err)
	}
	idx, err := strconv.ParseUint(s[pos+1:], 10, 32)
	if err != nil {
		return nil, 0, fmt.Errorf("utxo reference %q has a bad index: %w", s, err)
	}
	return hash, uint32(idx), nil
}

// FormatUTxORef is ParseUTxORef's inverse.
func FormatUTxORef(hash []byte, index uint32) string {
	return fmt.Sprintf("%s#%d", hex.EncodeToString(hash), index)
}

// PadLeft pads a byte slice with zeros on the left to reach the specified length.
func PadLeft(b []byte, length int) []byte {
	if len(b) >= length {
		return b
	}
	result := make([]byte, length)
	copy(result[length-len(b):], b)
	return result
}
