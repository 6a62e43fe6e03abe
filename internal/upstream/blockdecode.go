package upstream

import (
	"fmt"

	"github.com/blinklabs-io/gouroboros/ledger"
)

// decodeBlockPointGouroboros decodes a raw, era-tagged block body
// (gouroboros's NewBlockFromCbor dispatches on the leading CBOR array
// element, the era tag) and returns its (slot, hash).
func decodeBlockPointGouroboros(body []byte) (slot uint64, hash []byte, err error) {
	block, err := ledger.NewBlockFromCbor(ledger.BlockTypeUnknown, body)
	if err != nil {
		return 0, nil, fmt.Errorf("decode block cbor: %w", err)
	}
	return block.SlotNumber(), block.Hash().Bytes(), nil
}
