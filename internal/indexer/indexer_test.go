package indexer

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
	"github.com/klingon-exchange/cardaminal/internal/chainstore"
	"github.com/klingon-exchange/cardaminal/internal/walletdb"
)

// stubDecoder maps a raw block body directly to a *DecodedBlock keyed
// by the body's first byte, so tests never need real block CBOR.
type stubDecoder struct {
	blocks map[byte]*DecodedBlock
}

func (d *stubDecoder) Decode(body []byte) (*DecodedBlock, error) {
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	b, ok := d.blocks[body[0]]
	if !ok {
		return nil, fmt.Errorf("stubDecoder: no block registered for tag %d", body[0])
	}
	return b, nil
}

func openChain(t *testing.T) *chainstore.Store {
	t.Helper()
	s, err := chainstore.Open(&chainstore.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("chainstore.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func openWallet(t *testing.T) *walletdb.Store {
	t.Helper()
	s, err := walletdb.Open(&walletdb.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("walletdb.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var myPKH = bytes.Repeat([]byte{0xAB}, 28)

func shelleyKeyAddr(pkh []byte) []byte {
	out := make([]byte, 1+len(pkh))
	out[0] = 0x61 // enterprise, mainnet, key-hash payment part
	copy(out[1:], pkh)
	return out
}

func TestIndexerUpdateChainEmpty(t *testing.T) {
	chain := openChain(t)
	wallet := openWallet(t)
	ix := New(chain, wallet, &stubDecoder{}, nil)

	err := ix.Update(NewControlledSet(myPKH))
	if !errors.Is(err, cdmerr.ErrChainEmpty) {
		t.Fatalf("expected ErrChainEmpty, got %v", err)
	}
}

func TestIndexerUpdateFromOriginIndexesProducedUTXO(t *testing.T) {
	chain := openChain(t)
	wallet := openWallet(t)

	txHash := bytes.Repeat([]byte{0x01}, 32)
	blockHash := bytes.Repeat([]byte{0x02}, 32)
	if err := chain.RollForward(100, blockHash, []byte{1}); err != nil {
		t.Fatalf("RollForward: %v", err)
	}

	decoder := &stubDecoder{blocks: map[byte]*DecodedBlock{
		1: {
			Slot: 100,
			Hash: blockHash,
			Era:  5,
			Txs: []DecodedTx{{
				Hash: txHash,
				Outputs: []DecodedOutput{{
					Index:          0,
					PaymentKeyHash: myPKH,
					FullAddress:    shelleyKeyAddr(myPKH),
					Lovelace:       5_000_000,
				}},
			}},
		},
	}}

	ix := New(chain, wallet, decoder, nil)
	if err := ix.Update(NewControlledSet(myPKH)); err != nil {
		t.Fatalf("Update: %v", err)
	}

	utxos, err := wallet.FetchAllUTXOs(walletdb.Asc)
	if err != nil {
		t.Fatalf("FetchAllUTXOs: %v", err)
	}
	if len(utxos) != 1 || utxos[0].Lovelace != 5_000_000 {
		t.Fatalf("utxos = %+v, want one 5_000_000 lovelace UTxO", utxos)
	}

	history, err := wallet.PaginateTxHistory(walletdb.Asc, 10, 0)
	if err != nil {
		t.Fatalf("PaginateTxHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history entries = %d, want 1", len(history))
	}
	if got := DecodeDelta(history[0].BalanceDelta); got.Sign() <= 0 {
		t.Fatalf("balance delta = %v, want positive", got)
	}

	points, err := wallet.PaginateRecentPoints(10)
	if err != nil {
		t.Fatalf("PaginateRecentPoints: %v", err)
	}
	if len(points) != 1 || points[0].Slot != 100 {
		t.Fatalf("recent points = %+v, want one at slot 100", points)
	}
}

func TestIndexerUpdateSkipsUncontrolledOutputs(t *testing.T) {
	chain := openChain(t)
	wallet := openWallet(t)

	otherPKH := bytes.Repeat([]byte{0xCD}, 28)
	blockHash := bytes.Repeat([]byte{0x02}, 32)
	if err := chain.RollForward(50, blockHash, []byte{1}); err != nil {
		t.Fatalf("RollForward: %v", err)
	}

	decoder := &stubDecoder{blocks: map[byte]*DecodedBlock{
		1: {
			Slot: 50,
			Hash: blockHash,
			Txs: []DecodedTx{{
				Hash: bytes.Repeat([]byte{0x09}, 32),
				Outputs: []DecodedOutput{{
					Index:          0,
					PaymentKeyHash: otherPKH,
					FullAddress:    shelleyKeyAddr(otherPKH),
					Lovelace:       1_000_000,
				}},
			}},
		},
	}}

	ix := New(chain, wallet, decoder, nil)
	if err := ix.Update(NewControlledSet(myPKH)); err != nil {
		t.Fatalf("Update: %v", err)
	}

	utxos, err := wallet.FetchAllUTXOs(walletdb.Asc)
	if err != nil {
		t.Fatalf("FetchAllUTXOs: %v", err)
	}
	if len(utxos) != 0 {
		t.Fatalf("utxos = %+v, want none (output not controlled)", utxos)
	}
	history, err := wallet.PaginateTxHistory(walletdb.Asc, 10, 0)
	if err != nil {
		t.Fatalf("PaginateTxHistory: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("history entries = %d, want 0", len(history))
	}
}

func TestIndexerUpdateResumesFromIntersection(t *testing.T) {
	chain := openChain(t)
	wallet := openWallet(t)

	hash1 := bytes.Repeat([]byte{0x01}, 32)
	hash2 := bytes.Repeat([]byte{0x02}, 32)
	if err := chain.RollForward(10, hash1, []byte{1}); err != nil {
		t.Fatalf("RollForward: %v", err)
	}

	decoder := &stubDecoder{blocks: map[byte]*DecodedBlock{
		1: {Slot: 10, Hash: hash1, Txs: nil},
		2: {Slot: 20, Hash: hash2, Txs: []DecodedTx{{
			Hash: bytes.Repeat([]byte{0x0A}, 32),
			Outputs: []DecodedOutput{{
				Index:          0,
				PaymentKeyHash: myPKH,
				FullAddress:    shelleyKeyAddr(myPKH),
				Lovelace:       7_000_000,
			}},
		}}},
	}}

	ix := New(chain, wallet, decoder, nil)
	if err := ix.Update(NewControlledSet(myPKH)); err != nil {
		t.Fatalf("first Update: %v", err)
	}

	if err := chain.RollForward(20, hash2, []byte{2}); err != nil {
		t.Fatalf("RollForward: %v", err)
	}
	if err := ix.Update(NewControlledSet(myPKH)); err != nil {
		t.Fatalf("second Update: %v", err)
	}

	utxos, err := wallet.FetchAllUTXOs(walletdb.Asc)
	if err != nil {
		t.Fatalf("FetchAllUTXOs: %v", err)
	}
	if len(utxos) != 1 || utxos[0].Lovelace != 7_000_000 {
		t.Fatalf("utxos = %+v, want the slot-20 output only", utxos)
	}

	points, err := wallet.PaginateRecentPoints(10)
	if err != nil {
		t.Fatalf("PaginateRecentPoints: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("recent points = %+v, want 2 (one per update)", points)
	}
}

func TestIndexerUpdateNoCommonAncestor(t *testing.T) {
	chain := openChain(t)
	wallet := openWallet(t)

	hash1 := bytes.Repeat([]byte{0x01}, 32)
	if err := chain.RollForward(10, hash1, []byte{1}); err != nil {
		t.Fatalf("RollForward: %v", err)
	}
	decoder := &stubDecoder{blocks: map[byte]*DecodedBlock{1: {Slot: 10, Hash: hash1}}}
	ix := New(chain, wallet, decoder, nil)
	if err := ix.Update(NewControlledSet(myPKH)); err != nil {
		t.Fatalf("seed Update: %v", err)
	}

	// Simulate a reorg that drops the block the wallet's only recent
	// point refers to, without a matching rollback: the chain is wiped
	// and a disjoint history is grown in its place.
	reorgHash := bytes.Repeat([]byte{0x99}, 32)
	freshChain, err := chainstore.Open(&chainstore.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("chainstore.Open: %v", err)
	}
	t.Cleanup(func() { freshChain.Close() })
	if err := freshChain.RollForward(99, reorgHash, []byte{1}); err != nil {
		t.Fatalf("RollForward: %v", err)
	}

	ix2 := New(freshChain, wallet, decoder, nil)
	err = ix2.Update(NewControlledSet(myPKH))
	if !errors.Is(err, cdmerr.ErrNoCommonAncestor) {
		t.Fatalf("expected ErrNoCommonAncestor, got %v", err)
	}
}

func TestDecodeOutputValueBareCoin(t *testing.T) {
	data, err := cbor.Marshal([]any{[]byte{0x61, 0x01}, uint64(3_000_000)})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	coin, assets, err := DecodeOutputValue(data)
	if err != nil {
		t.Fatalf("DecodeOutputValue: %v", err)
	}
	if coin != 3_000_000 || assets != nil {
		t.Fatalf("got coin=%d assets=%v, want 3000000 and no assets", coin, assets)
	}
}

func TestDecodeOutputValueMultiAsset(t *testing.T) {
	policy := bytes.Repeat([]byte{0xAB}, 28)
	value := []any{
		uint64(7_500_000),
		map[any]any{
			cbor.ByteString(policy): map[any]any{
				cbor.ByteString("HOSKY"): uint64(20),
			},
		},
	}
	data, err := cbor.Marshal(map[any]any{uint64(0): []byte{0x61, 0x01}, uint64(1): value})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	coin, assets, err := DecodeOutputValue(data)
	if err != nil {
		t.Fatalf("DecodeOutputValue: %v", err)
	}
	if coin != 7_500_000 {
		t.Fatalf("coin = %d, want 7500000", coin)
	}
	policyHex := fmt.Sprintf("%x", policy)
	nameHex := fmt.Sprintf("%x", "HOSKY")
	if assets[policyHex][nameHex] != 20 {
		t.Fatalf("assets = %v, want %s:%s -> 20", assets, policyHex, nameHex)
	}
}

func TestDecodeOutputValueMalformed(t *testing.T) {
	if _, _, err := DecodeOutputValue([]byte{0xff, 0x00}); !errors.Is(err, cdmerr.ErrProtocol) {
		t.Fatalf("expected ErrProtocol for garbage CBOR, got %v", err)
	}
	data, _ := cbor.Marshal(uint64(5))
	if _, _, err := DecodeOutputValue(data); !errors.Is(err, cdmerr.ErrProtocol) {
		t.Fatalf("expected ErrProtocol for a non-output item, got %v", err)
	}
}

func TestIndexerUpdateDropsOrphanedStateAfterReorg(t *testing.T) {
	chain := openChain(t)
	wallet := openWallet(t)

	hashY := bytes.Repeat([]byte{0x02}, 32)
	hashX := bytes.Repeat([]byte{0x03}, 32) // orphaned in the reorg
	hashZ := bytes.Repeat([]byte{0x04}, 32) // replacement at the same height

	// Wallet state from a prior run: an indexed block at 102 and one at
	// 103 whose block was later orphaned.
	if err := wallet.InsertRecentPoint(102, hashY); err != nil {
		t.Fatalf("InsertRecentPoint: %v", err)
	}
	if err := wallet.InsertRecentPoint(103, hashX); err != nil {
		t.Fatalf("InsertRecentPoint: %v", err)
	}
	if err := wallet.InsertUTXOs([]walletdb.UTxO{{
		TxHash:      bytes.Repeat([]byte{0x0B}, 32),
		TxOIndex:    0,
		PaymentCred: myPKH,
		FullAddress: shelleyKeyAddr(myPKH),
		Slot:        103,
		Era:         5,
		Lovelace:    9_000_000,
		CBOR:        []byte{0xa0},
	}}); err != nil {
		t.Fatalf("InsertUTXOs: %v", err)
	}

	// The chain after the reorg: 102 survives, 103 is now hashZ.
	if err := chain.RollForward(102, hashY, []byte{1}); err != nil {
		t.Fatalf("RollForward(102): %v", err)
	}
	if err := chain.RollForward(103, hashZ, []byte{2}); err != nil {
		t.Fatalf("RollForward(103): %v", err)
	}

	decoder := &stubDecoder{blocks: map[byte]*DecodedBlock{
		1: {Slot: 102, Hash: hashY},
		2: {Slot: 103, Hash: hashZ, Txs: []DecodedTx{{
			Hash: bytes.Repeat([]byte{0x0C}, 32),
			Outputs: []DecodedOutput{{
				Index:          0,
				PaymentKeyHash: myPKH,
				FullAddress:    shelleyKeyAddr(myPKH),
				Lovelace:       4_000_000,
			}},
		}}},
	}}

	ix := New(chain, wallet, decoder, nil)
	if err := ix.Update(NewControlledSet(myPKH)); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// The orphaned slot-103 UTxO must be gone; only the re-indexed
	// output from the replacement block remains.
	utxos, err := wallet.FetchAllUTXOs(walletdb.Asc)
	if err != nil {
		t.Fatalf("FetchAllUTXOs: %v", err)
	}
	if len(utxos) != 1 || utxos[0].Lovelace != 4_000_000 {
		t.Fatalf("utxos = %+v, want only the replacement block's output", utxos)
	}

	points, err := wallet.PaginateRecentPoints(10)
	if err != nil {
		t.Fatalf("PaginateRecentPoints: %v", err)
	}
	for _, p := range points {
		if p.Slot == 103 && bytes.Equal(p.BlockHash, hashX) {
			t.Fatal("orphaned recent point survived the rollback")
		}
	}
}

func TestExtractPaymentKeyHash(t *testing.T) {
	pkh := bytes.Repeat([]byte{0x11}, 28)

	if got := extractPaymentKeyHash(shelleyKeyAddr(pkh)); !bytes.Equal(got, pkh) {
		t.Fatalf("shelley key address: got %x, want %x", got, pkh)
	}

	script := append([]byte{0x71}, pkh...) // script-hash payment part
	if got := extractPaymentKeyHash(script); got != nil {
		t.Fatalf("script address: got %x, want nil", got)
	}

	// A Byron bootstrap address is raw CBOR: array(2) of the tagged
	// address payload and its checksum. Its first byte (0x82) must be
	// rejected as Byron, not read as a Shelley header.
	byron := append([]byte{0x82, 0xd8, 0x18, 0x58, 0x20}, bytes.Repeat([]byte{0x00}, 36)...)
	if got := extractPaymentKeyHash(byron); got != nil {
		t.Fatalf("byron address: got %x, want nil", got)
	}

	reward := append([]byte{0xe1}, pkh...) // stake address, no payment part
	if got := extractPaymentKeyHash(reward); got != nil {
		t.Fatalf("reward address: got %x, want nil", got)
	}

	if got := extractPaymentKeyHash([]byte{0x61, 0x01}); got != nil {
		t.Fatalf("truncated address: got %x, want nil", got)
	}
	if got := extractPaymentKeyHash(nil); got != nil {
		t.Fatalf("empty address: got %x, want nil", got)
	}
}
