package txstage

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
	"github.com/klingon-exchange/cardaminal/internal/walletdb"
	"github.com/klingon-exchange/cardaminal/internal/walletkeys"
)

// vkeyWitness is the 2-element [vkey, signature] shape a vkey witness
// set member encodes to; encodeVKeyWitnesses/decodeVKeyWitnesses
// convert it to and from the []any pair cbor actually reads and
// writes.
type vkeyWitness struct {
	VKey []byte
	Sig  []byte
}

// Sign attaches kp's signature over the transaction's hash to a Built
// (or already partially Signed) transaction's witness set, advancing
// its status to Signed. Signing the same key twice overwrites the
// earlier signature rather than appending a duplicate witness.
func Sign(store *walletdb.Store, id string, kp *walletkeys.KeyPair) error {
	row, err := store.FetchByID(id)
	if err != nil {
		return fmt.Errorf("txstage: sign %s: %w", id, err)
	}
	if row.Status != walletdb.StatusBuilt && row.Status != walletdb.StatusSigned {
		return fmt.Errorf("txstage: sign %s: status is %s, want built or signed: %w", id, row.Status, cdmerr.ErrValidation)
	}
	if row.Hash == nil {
		return fmt.Errorf("txstage: sign %s: no tx_hash recorded: %w", id, cdmerr.ErrValidation)
	}

	hashBytes, err := hex.DecodeString(*row.Hash)
	if err != nil {
		return fmt.Errorf("txstage: sign %s: decode stored hash: %w", id, cdmerr.ErrStorage)
	}
	sig := kp.Sign(hashBytes)
	pub := []byte(kp.Public)

	var full rawTx
	if err := unmarshalStrict(row.TxCBOR, &full); err != nil {
		return fmt.Errorf("txstage: sign %s: decode tx_cbor: %w", id, err)
	}
	setVKeyWitness(&full, pub, sig)

	newCBOR, err := marshalCanonical(&full)
	if err != nil {
		return err
	}

	var bj BuiltTxJSON
	if err := json.Unmarshal(row.TxJSON, &bj); err != nil {
		return fmt.Errorf("txstage: sign %s: decode tx_json: %w", id, cdmerr.ErrStorage)
	}
	if bj.Signatures == nil {
		bj.Signatures = map[string]HexBytes{}
	}
	bj.Signatures[hex.EncodeToString(pub)] = sig
	bj.Status = walletdb.StatusSigned

	data, err := json.Marshal(&bj)
	if err != nil {
		return fmt.Errorf("txstage: sign %s: encode tx_json: %w", id, cdmerr.ErrStorage)
	}

	row.TxCBOR = newCBOR
	row.TxJSON = data
	row.Status = walletdb.StatusSigned
	return store.UpdateTransaction(row)
}

// RemoveSignature drops pubkey's witness from a Signed transaction,
// reverting status to Built once no signatures remain.
func RemoveSignature(store *walletdb.Store, id string, pubkey []byte) error {
	row, err := store.FetchByID(id)
	if err != nil {
		return fmt.Errorf("txstage: remove_signature %s: %w", id, err)
	}
	if row.Status != walletdb.StatusSigned {
		return fmt.Errorf("txstage: remove_signature %s: status is %s, want signed: %w", id, row.Status, cdmerr.ErrValidation)
	}

	var full rawTx
	if err := unmarshalStrict(row.TxCBOR, &full); err != nil {
		return fmt.Errorf("txstage: remove_signature %s: decode tx_cbor: %w", id, err)
	}
	if !dropVKeyWitness(&full, pubkey) {
		return fmt.Errorf("txstage: remove_signature %s: no witness for key %x: %w", id, pubkey, cdmerr.ErrNotFound)
	}
	newCBOR, err := marshalCanonical(&full)
	if err != nil {
		return err
	}

	var bj BuiltTxJSON
	if err := json.Unmarshal(row.TxJSON, &bj); err != nil {
		return fmt.Errorf("txstage: remove_signature %s: decode tx_json: %w", id, cdmerr.ErrStorage)
	}
	delete(bj.Signatures, hex.EncodeToString(pubkey))
	remaining := len(bj.Signatures) > 0

	status := walletdb.StatusBuilt
	if remaining {
		status = walletdb.StatusSigned
	}
	bj.Status = status

	data, err := json.Marshal(&bj)
	if err != nil {
		return fmt.Errorf("txstage: remove_signature %s: encode tx_json: %w", id, cdmerr.ErrStorage)
	}

	row.TxCBOR = newCBOR
	row.TxJSON = data
	row.Status = status
	return store.UpdateTransaction(row)
}

func setVKeyWitness(full *rawTx, pub, sig []byte) {
	list := decodeVKeyWitnesses(full)
	for i, w := range list {
		if string(w.VKey) == string(pub) {
			list[i].Sig = sig
			full.Witnesses[witnessVKeys] = encodeVKeyWitnesses(list)
			return
		}
	}
	list = append(list, vkeyWitness{VKey: pub, Sig: sig})
	if full.Witnesses == nil {
		full.Witnesses = map[int]any{}
	}
	full.Witnesses[witnessVKeys] = encodeVKeyWitnesses(list)
}

func dropVKeyWitness(full *rawTx, pub []byte) bool {
	list := decodeVKeyWitnesses(full)
	for i, w := range list {
		if string(w.VKey) == string(pub) {
			list = append(list[:i], list[i+1:]...)
			full.Witnesses[witnessVKeys] = encodeVKeyWitnesses(list)
			return true
		}
	}
	return false
}

// decodeVKeyWitnesses reads the witness set's existing vkey-witness
// entries back out of their generic-decoded []any/[]byte shape.
func decodeVKeyWitnesses(full *rawTx) []vkeyWitness {
	raw, ok := full.Witnesses[witnessVKeys]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	result := make([]vkeyWitness, 0, len(items))
	for _, item := range items {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		vkey, _ := pair[0].([]byte)
		sig, _ := pair[1].([]byte)
		result = append(result, vkeyWitness{VKey: vkey, Sig: sig})
	}
	return result
}

func encodeVKeyWitnesses(list []vkeyWitness) []any {
	out := make([]any, len(list))
	for i, w := range list {
		out[i] = []any{w.VKey, w.Sig}
	}
	return out
}
