package txstage

import (
	"encoding/hex"
	"fmt"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
)

// AddMint sets the signed amount for one (policy, asset) pair.
func (e *Editor) AddMint(policy, asset []byte, amount int64) error {
	return e.apply(func(tx *StagingTx) error {
		if tx.Mint == nil {
			tx.Mint = MintMap{}
		}
		pk := hex.EncodeToString(policy)
		if tx.Mint[pk] == nil {
			tx.Mint[pk] = map[string]int64{}
		}
		tx.Mint[pk][hex.EncodeToString(asset)] = amount
		return nil
	})
}

// RemoveMint removes one (policy, asset) pair's mint amount, emptying
// and dropping the policy's nested map once its last asset is removed.
func (e *Editor) RemoveMint(policy, asset []byte) error {
	return e.apply(func(tx *StagingTx) error {
		pk := hex.EncodeToString(policy)
		ak := hex.EncodeToString(asset)
		assets, ok := tx.Mint[pk]
		if !ok {
			return fmt.Errorf("txstage: mint policy %x not staged: %w", policy, cdmerr.ErrNotFound)
		}
		if _, ok := assets[ak]; !ok {
			return fmt.Errorf("txstage: mint asset %x:%x not staged: %w", policy, asset, cdmerr.ErrNotFound)
		}
		delete(assets, ak)
		if len(assets) == 0 {
			delete(tx.Mint, pk)
		}
		return nil
	})
}
