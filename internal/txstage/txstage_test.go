package txstage

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
	"github.com/klingon-exchange/cardaminal/internal/genesis"
	"github.com/klingon-exchange/cardaminal/internal/walletdb"
	"github.com/klingon-exchange/cardaminal/internal/walletkeys"
)

func openTestStore(t *testing.T) *walletdb.Store {
	t.Helper()
	s, err := walletdb.Open(&walletdb.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testParams() *genesis.Params {
	p, ok := genesis.Get(genesis.PreviewMagic)
	if !ok {
		panic("preview genesis params not registered")
	}
	return p
}

func testAddress(t *testing.T) string {
	t.Helper()
	kp, err := walletkeys.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	pkh, err := kp.PubKeyHash()
	if err != nil {
		t.Fatalf("PubKeyHash: %v", err)
	}
	addr, err := walletkeys.DeriveAddress(pkh, genesis.NetworkTestnet)
	if err != nil {
		t.Fatalf("DeriveAddress: %v", err)
	}
	return addr
}

func TestStagingTxJSONRoundTrip(t *testing.T) {
	ttl := uint64(1000)
	fee := uint64(200000)
	tx := &StagingTx{
		Version: stagingVersion,
		Inputs:  []Input{{TxHash: HexBytes{0x01, 0x02}, Index: 0}},
		Outputs: []Output{{
			Address:  "addr_test1q...",
			Lovelace: 5_000_000,
			Assets:   AssetMap{"deadbeef": {"cafe": 1}},
		}},
		Fee: &fee,
		TTL: &ttl,
		Mint: MintMap{"deadbeef": {"cafe": -1}},
		Redeemers: map[string]Redeemer{
			SpendPurposeKey([]byte{0x01, 0x02}, 0): {Data: HexBytes{0xa0}, ExUnits: &ExUnits{Mem: 100, Steps: 200}},
		},
	}

	data, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got StagingTx
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Inputs) != 1 || hex.EncodeToString(got.Inputs[0].TxHash) != "0102" {
		t.Fatalf("Inputs round-tripped wrong: %+v", got.Inputs)
	}
	if got.Fee == nil || *got.Fee != fee {
		t.Fatalf("Fee round-tripped wrong: %+v", got.Fee)
	}
	if got.Mint["deadbeef"]["cafe"] != -1 {
		t.Fatalf("Mint round-tripped wrong: %+v", got.Mint)
	}
	key := SpendPurposeKey([]byte{0x01, 0x02}, 0)
	if r, ok := got.Redeemers[key]; !ok || r.ExUnits.Mem != 100 {
		t.Fatalf("Redeemers round-tripped wrong: %+v", got.Redeemers)
	}
}

func TestCreateStartsEmptyAndStaging(t *testing.T) {
	s := openTestStore(t)
	id, err := Create(s)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	row, err := s.FetchByID(id)
	if err != nil {
		t.Fatalf("FetchByID: %v", err)
	}
	if row.Status != walletdb.StatusStaging {
		t.Fatalf("Status = %q, want %q", row.Status, walletdb.StatusStaging)
	}
	e := NewEditor(s, id)
	tx, err := e.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(tx.Inputs) != 0 || len(tx.Outputs) != 0 {
		t.Fatalf("expected empty staging tx, got %+v", tx)
	}
}

func TestEditorAddInputRejectsDuplicate(t *testing.T) {
	s := openTestStore(t)
	id, _ := Create(s)
	e := NewEditor(s, id)

	txHash := []byte{0xde, 0xad}
	if err := e.AddInput(txHash, 0); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	err := e.AddInput(txHash, 0)
	if !errors.Is(err, cdmerr.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	tx, err := e.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(tx.Inputs) != 1 {
		t.Fatalf("duplicate add must not have been applied, got %+v", tx.Inputs)
	}
}

func TestEditorRemoveInputNotStaged(t *testing.T) {
	s := openTestStore(t)
	id, _ := Create(s)
	e := NewEditor(s, id)

	err := e.RemoveInput([]byte{0x01}, 0)
	if !errors.Is(err, cdmerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEditorRejectsEditsOutsideStaging(t *testing.T) {
	s := openTestStore(t)
	id, _ := Create(s)
	e := NewEditor(s, id)

	if err := e.AddInput([]byte{0x01}, 0); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if err := e.SetFee(200000); err != nil {
		t.Fatalf("SetFee: %v", err)
	}
	if err := e.AddOutput(Output{Address: testAddress(t), Lovelace: 1_000_000}); err != nil {
		t.Fatalf("AddOutput: %v", err)
	}

	if _, err := BuildTransaction(s, id, testParams()); err != nil {
		t.Fatalf("BuildTransaction: %v", err)
	}

	err := e.SetFee(1)
	if !errors.Is(err, cdmerr.ErrValidation) {
		t.Fatalf("expected ErrValidation editing a built tx, got %v", err)
	}
}

func TestEditorMintAddRemove(t *testing.T) {
	s := openTestStore(t)
	id, _ := Create(s)
	e := NewEditor(s, id)

	policy := []byte{0xaa, 0xbb}
	asset := []byte{0x01}
	if err := e.AddMint(policy, asset, 5); err != nil {
		t.Fatalf("AddMint: %v", err)
	}
	tx, err := e.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tx.Mint["aabb"]["01"] != 5 {
		t.Fatalf("mint not staged: %+v", tx.Mint)
	}

	if err := e.RemoveMint(policy, asset); err != nil {
		t.Fatalf("RemoveMint: %v", err)
	}
	tx, err = e.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := tx.Mint["aabb"]; ok {
		t.Fatalf("expected policy entry pruned once empty, got %+v", tx.Mint)
	}

	if err := e.RemoveMint(policy, asset); !errors.Is(err, cdmerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound removing an already-removed mint, got %v", err)
	}
}

func TestBuildRequiresInputsAndFee(t *testing.T) {
	s := openTestStore(t)
	id, _ := Create(s)

	if _, err := BuildTransaction(s, id, testParams()); !errors.Is(err, cdmerr.ErrValidation) {
		t.Fatalf("expected ErrValidation with no inputs staged, got %v", err)
	}

	e := NewEditor(s, id)
	if err := e.AddInput([]byte{0x01}, 0); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if _, err := BuildTransaction(s, id, testParams()); !errors.Is(err, cdmerr.ErrValidation) {
		t.Fatalf("expected ErrValidation with no fee staged, got %v", err)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	addr := testAddress(t)
	fee := uint64(180000)
	stage := &StagingTx{
		Version: stagingVersion,
		Inputs:  []Input{{TxHash: HexBytes{0x01, 0x02, 0x03}, Index: 1}},
		Outputs: []Output{{Address: addr, Lovelace: 3_000_000}},
		Fee:     &fee,
	}

	b1, err := Build(stage, testParams())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b2, err := Build(stage, testParams())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if hex.EncodeToString(b1.TxHash) != hex.EncodeToString(b2.TxHash) {
		t.Fatalf("hashes differ across identical builds: %x vs %x", b1.TxHash, b2.TxHash)
	}
	if string(b1.TxCBOR) != string(b2.TxCBOR) {
		t.Fatalf("CBOR differs across identical builds")
	}
}

func TestSignThenRemoveSignatureRevertsStatus(t *testing.T) {
	s := openTestStore(t)
	id, _ := Create(s)
	e := NewEditor(s, id)

	kp, err := walletkeys.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	pkh, err := kp.PubKeyHash()
	if err != nil {
		t.Fatalf("PubKeyHash: %v", err)
	}
	if err := e.AddInput([]byte{0x01}, 0); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if err := e.AddOutput(Output{Address: testAddress(t), Lovelace: 2_000_000}); err != nil {
		t.Fatalf("AddOutput: %v", err)
	}
	if err := e.SetFee(170000); err != nil {
		t.Fatalf("SetFee: %v", err)
	}
	if err := e.AddDisclosedSigner(pkh); err != nil {
		t.Fatalf("AddDisclosedSigner: %v", err)
	}
	if _, err := BuildTransaction(s, id, testParams()); err != nil {
		t.Fatalf("BuildTransaction: %v", err)
	}

	if err := Sign(s, id, kp); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	row, err := s.FetchByID(id)
	if err != nil {
		t.Fatalf("FetchByID: %v", err)
	}
	if row.Status != walletdb.StatusSigned {
		t.Fatalf("Status = %q, want %q", row.Status, walletdb.StatusSigned)
	}

	if err := RemoveSignature(s, id, []byte(kp.Public)); err != nil {
		t.Fatalf("RemoveSignature: %v", err)
	}
	row, err = s.FetchByID(id)
	if err != nil {
		t.Fatalf("FetchByID: %v", err)
	}
	if row.Status != walletdb.StatusBuilt {
		t.Fatalf("Status after removing sole signature = %q, want %q", row.Status, walletdb.StatusBuilt)
	}

	if err := RemoveSignature(s, id, []byte(kp.Public)); !errors.Is(err, cdmerr.ErrValidation) {
		t.Fatalf("expected ErrValidation removing a signature from a non-signed tx, got %v", err)
	}
}

func TestBuildRejectsMalformedNativeScript(t *testing.T) {
	addr := testAddress(t)
	fee := uint64(170000)
	stage := &StagingTx{
		Version: stagingVersion,
		Inputs:  []Input{{TxHash: HexBytes{0x01}, Index: 0}},
		Outputs: []Output{{Address: addr, Lovelace: 1_000_000}},
		Fee:     &fee,
		Scripts: map[string]Script{
			"deadbeef": {Kind: ScriptNative, Bytes: HexBytes{0xff, 0xff}},
		},
	}

	_, err := Build(stage, testParams())
	if !errors.Is(err, cdmerr.ErrProtocol) {
		t.Fatalf("expected ErrProtocol for a malformed native script, got %v", err)
	}
}

func TestBuildEncodesAssetsAsByteStringKeys(t *testing.T) {
	addr := testAddress(t)
	fee := uint64(200000)
	policyHex := strings.Repeat("ab", 28)
	nameHex := hex.EncodeToString([]byte("HOSKY"))
	stage := &StagingTx{
		Version: stagingVersion,
		Inputs:  []Input{{TxHash: HexBytes{0x01}, Index: 0}},
		Outputs: []Output{{
			Address:  addr,
			Lovelace: 2_000_000,
			Assets:   AssetMap{policyHex: {nameHex: 20}},
		}},
		Fee:  &fee,
		Mint: MintMap{policyHex: {nameHex: -5}},
	}

	built, err := Build(stage, testParams())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var full rawTx
	if err := cbor.Unmarshal(built.TxCBOR, &full); err != nil {
		t.Fatalf("Unmarshal tx_cbor: %v", err)
	}

	assertByteStringKeys := func(label string, v any) {
		t.Helper()
		m, ok := v.(map[any]any)
		if !ok {
			t.Fatalf("%s decoded as %T, want map", label, v)
		}
		for pk, inner := range m {
			policy, ok := pk.(cbor.ByteString)
			if !ok {
				t.Fatalf("%s policy key decoded as %T, want cbor.ByteString", label, pk)
			}
			if hex.EncodeToString([]byte(string(policy))) != policyHex {
				t.Fatalf("%s policy key = %x, want %s", label, string(policy), policyHex)
			}
			names, ok := inner.(map[any]any)
			if !ok {
				t.Fatalf("%s inner map decoded as %T, want map", label, inner)
			}
			for nk := range names {
				name, ok := nk.(cbor.ByteString)
				if !ok {
					t.Fatalf("%s asset-name key decoded as %T, want cbor.ByteString", label, nk)
				}
				if string(name) != "HOSKY" {
					t.Fatalf("%s asset-name key = %q, want HOSKY", label, string(name))
				}
			}
		}
	}

	assertByteStringKeys("mint", full.Body[bodyMint])

	outputs, ok := full.Body[bodyOutputs].([]any)
	if !ok || len(outputs) != 1 {
		t.Fatalf("outputs decoded as %T (%v), want one-element array", full.Body[bodyOutputs], full.Body[bodyOutputs])
	}
	out0, ok := outputs[0].(map[any]any)
	if !ok {
		t.Fatalf("output decoded as %T, want map", outputs[0])
	}
	value, ok := out0[uint64(1)].([]any)
	if !ok || len(value) != 2 {
		t.Fatalf("output value decoded as %T, want [coin, multiasset] pair", out0[uint64(1)])
	}
	assertByteStringKeys("output value", value[1])
}

func TestBuildRejectsNonHexAssetKey(t *testing.T) {
	addr := testAddress(t)
	fee := uint64(200000)
	stage := &StagingTx{
		Version: stagingVersion,
		Inputs:  []Input{{TxHash: HexBytes{0x01}, Index: 0}},
		Outputs: []Output{{Address: addr, Lovelace: 1_000_000}},
		Fee:     &fee,
		Mint:    MintMap{"not-hex": {"00": 1}},
	}
	if _, err := Build(stage, testParams()); !errors.Is(err, cdmerr.ErrValidation) {
		t.Fatalf("expected ErrValidation for a non-hex mint policy key, got %v", err)
	}
}
