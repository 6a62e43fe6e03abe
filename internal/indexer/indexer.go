// Package indexer is the wallet indexer: given the block store and a
// set of controlled payment credentials, it incrementally maintains
// the wallet store's UTxO set, transaction history, recent points,
// and protocol-parameter archive, rolling back atomically when the
// chain does.
package indexer

import (
	"fmt"
	"math/big"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
	"github.com/klingon-exchange/cardaminal/internal/chainstore"
	"github.com/klingon-exchange/cardaminal/internal/walletdb"
	"github.com/klingon-exchange/cardaminal/pkg/logging"
)

// Indexer maintains a wallet's view of the chain.
type Indexer struct {
	chain   *chainstore.Store
	wallet  *walletdb.Store
	decoder BlockDecoder
	log     *logging.Logger
}

// New builds an Indexer over a chain store and a wallet store.
func New(chain *chainstore.Store, wallet *walletdb.Store, decoder BlockDecoder, log *logging.Logger) *Indexer {
	if decoder == nil {
		decoder = NewDecoder()
	}
	if log == nil {
		log = logging.Default()
	}
	return &Indexer{chain: chain, wallet: wallet, decoder: decoder, log: log.Component("indexer")}
}

// ControlledSet is the wallet's set of controlled payment-credential
// key hashes, hex-encoded. The set is static within one Update call:
// an external input, not derived from the chain.
type ControlledSet map[string]bool

// NewControlledSet builds a ControlledSet from raw 28-byte key hashes.
func NewControlledSet(hashes ...[]byte) ControlledSet {
	set := make(ControlledSet, len(hashes))
	for _, h := range hashes {
		set[fmt.Sprintf("%x", h)] = true
	}
	return set
}

func (c ControlledSet) contains(pkh []byte) bool {
	if pkh == nil {
		return false
	}
	return c[fmt.Sprintf("%x", pkh)]
}

// Update is the indexer's entry point: find the intersection of the
// wallet's recent points with the chain, roll the wallet store back
// to it, then index forward every subsequent block in one transaction
// per block.
func (ix *Indexer) Update(controlled ControlledSet) error {
	tip, ok, err := ix.chain.FindTip()
	if err != nil {
		return fmt.Errorf("indexer: update: %w", err)
	}
	if !ok {
		return fmt.Errorf("indexer: update: chain has no blocks: %w", cdmerr.ErrChainEmpty)
	}

	intersection, foundAny, err := ix.findIntersection()
	if err != nil {
		return err
	}

	if err := ix.wallet.RollbackToSlot(intersection.Slot); err != nil {
		return fmt.Errorf("indexer: update: rollback to intersection: %w", err)
	}

	var points []chainstore.Point
	if foundAny {
		points, err = ix.chain.ReadChainRange(&intersection, tip)
		if err != nil {
			return fmt.Errorf("indexer: update: read_chain_range: %w", err)
		}
		if len(points) > 0 && points[0].Slot == intersection.Slot {
			points = points[1:] // the intersection itself is already indexed
		}
	} else {
		points, err = ix.chain.ReadChainRange(nil, tip)
		if err != nil {
			return fmt.Errorf("indexer: update: read_chain_range: %w", err)
		}
	}

	for _, p := range points {
		if err := ix.indexOne(p, controlled); err != nil {
			return fmt.Errorf("indexer: update: index block at slot %d: %w", p.Slot, err)
		}
	}
	ix.log.Info("update complete", "blocks_indexed", len(points), "tip_slot", tip.Slot)
	return nil
}

// findIntersection pages through the wallet's recent points (newest
// first) looking for the first one the chain still contains.
func (ix *Indexer) findIntersection() (chainstore.Point, bool, error) {
	candidates, err := ix.wallet.PaginateRecentPoints(walletdb.RecentPointsLimit)
	if err != nil {
		return chainstore.Point{}, false, fmt.Errorf("indexer: paginate_recent_points: %w", err)
	}
	if len(candidates) == 0 {
		return chainstore.Point{}, false, nil
	}

	for _, c := range candidates {
		ok, err := ix.chain.ChainContains(c.Slot, c.BlockHash)
		if err != nil {
			return chainstore.Point{}, false, fmt.Errorf("indexer: chain_contains: %w", err)
		}
		if ok {
			return chainstore.Point{Slot: c.Slot, Hash: c.BlockHash}, true, nil
		}
	}
	return chainstore.Point{}, false, fmt.Errorf("indexer: update: no recent point intersects the chain: %w", cdmerr.ErrNoCommonAncestor)
}

// indexOne applies a single block's produced/consumed UTxOs, history
// delta, protocol updates, and recent point in one walletdb
// transaction.
func (ix *Indexer) indexOne(p chainstore.Point, controlled ControlledSet) error {
	body, err := ix.chain.GetBlock(p.Hash)
	if err != nil {
		return fmt.Errorf("get_block(%x): %w", p.Hash, err)
	}
	block, err := ix.decoder.Decode(body)
	if err != nil {
		return fmt.Errorf("decode block: %w", cdmerr.ErrProtocol)
	}

	return ix.wallet.IndexBlock(func(b *walletdb.BlockTx) error {
		for blockIndex, tx := range block.Txs {
			produced, producedTotal := producedUTXOs(tx, block.Slot, block.Era, controlled)
			if len(produced) > 0 {
				if err := b.InsertUTXOs(produced); err != nil {
					return fmt.Errorf("insert_utxos: %w", err)
				}
			}

			refs := make([]walletdb.UTxORef, len(tx.Inputs))
			for i, in := range tx.Inputs {
				refs[i] = walletdb.UTxORef{TxHash: in.TxHash, TxOIndex: in.Index}
			}
			removed, err := b.RemoveUTXOs(refs)
			if err != nil {
				return fmt.Errorf("remove_utxos: %w", err)
			}

			if len(produced) > 0 || len(removed) > 0 {
				consumedTotal := new(big.Int)
				for _, r := range removed {
					consumedTotal.Add(consumedTotal, new(big.Int).SetUint64(r.Lovelace))
				}
				delta := new(big.Int).Sub(producedTotal, consumedTotal)
				if err := b.InsertHistoryTx(tx.Hash, block.Slot, uint16(blockIndex), EncodeDelta(delta)); err != nil {
					return fmt.Errorf("insert_history_tx: %w", err)
				}
			}

			if tx.ProtocolUpdateValid {
				if err := b.InsertProtocolParameters(block.Slot, blockIndex, tx.ProtocolUpdateCBOR); err != nil {
					return fmt.Errorf("insert_protocol_parameters: %w", err)
				}
			}
		}

		if err := b.InsertRecentPoint(block.Slot, block.Hash); err != nil {
			return fmt.Errorf("insert_recent_point: %w", err)
		}
		return nil
	})
}

// producedUTXOs filters a transaction's outputs down to the ones whose
// payment credential is controlled, converting them to walletdb rows,
// and returns their total lovelace for the per-tx delta calculation.
func producedUTXOs(tx DecodedTx, slot uint64, era uint8, controlled ControlledSet) ([]walletdb.UTxO, *big.Int) {
	var rows []walletdb.UTxO
	total := new(big.Int)
	for _, out := range tx.Outputs {
		if !controlled.contains(out.PaymentKeyHash) {
			continue
		}
		rows = append(rows, walletdb.UTxO{
			TxHash:      tx.Hash,
			TxOIndex:    out.Index,
			PaymentCred: out.PaymentKeyHash,
			FullAddress: out.FullAddress,
			Slot:        slot,
			Era:         era,
			Lovelace:    out.Lovelace,
			CBOR:        out.CBOR,
		})
		total.Add(total, new(big.Int).SetUint64(out.Lovelace))
	}
	return rows, total
}
