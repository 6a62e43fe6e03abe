// Package walletkeys owns a wallet's Ed25519 signing key: generating
// it, wrapping it in the fixed-size encrypted blob a wallet's
// config.toml stores in hex, and deriving the Shelley enterprise
// addresses the rest of cardaminal indexes and builds against.
//
// The encrypted blob is a fixed 77-byte layout: a version byte, the
// Argon2 salt, the ChaCha20-Poly1305 nonce and tag, and the sealed
// 32-byte seed. The KDF is Argon2id; golang.org/x/crypto/argon2
// exposes only Key (Argon2i) and IDKey (Argon2id), so a blob written
// by an Argon2d implementation with the same parameters will not
// decrypt here.
package walletkeys

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"unicode"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
	"github.com/klingon-exchange/cardaminal/pkg/helpers"
)

const (
	blobVersion  byte = 0x01
	saltLen           = 16
	nonceLen          = chacha20poly1305.NonceSize // 12
	tagLen            = chacha20poly1305.Overhead  // 16
	plaintextLen      = ed25519.SeedSize           // 32
	blobLen           = 1 + saltLen + nonceLen + tagLen + plaintextLen // 77

	argon2Iterations  = 2500
	argon2Memory      = 64 * 1024 // KiB
	argon2Parallelism = 1
	argon2KeyLen      = 32
)

// KeyPair is a wallet's decrypted Ed25519 signing key, held only for
// the duration of a sign operation.
type KeyPair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// Generate creates a fresh Ed25519 key pair from a purely random
// 32-byte seed.
func Generate() (*KeyPair, error) {
	seed, err := helpers.GenerateSecureRandom(ed25519.SeedSize)
	if err != nil {
		return nil, fmt.Errorf("walletkeys: generate seed: %w", err)
	}
	defer SecureClear(seed)
	return fromSeed(seed), nil
}

// GenerateMnemonic derives the wallet's Ed25519 seed from a fresh
// BIP39 mnemonic instead of raw randomness, for operators who want a
// human-recoverable backup. It is offered alongside Generate, never
// in place of it.
func GenerateMnemonic() (mnemonic string, kp *KeyPair, err error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", nil, fmt.Errorf("walletkeys: generate entropy: %w", err)
	}
	mnemonic, err = bip39.NewMnemonic(entropy)
	if err != nil {
		return "", nil, fmt.Errorf("walletkeys: derive mnemonic: %w", err)
	}
	kp, err = FromMnemonic(mnemonic, "")
	return mnemonic, kp, err
}

// FromMnemonic derives an Ed25519 seed from a BIP39 mnemonic and
// passphrase by taking the first 32 bytes of the BIP39 seed.
func FromMnemonic(mnemonic, passphrase string) (*KeyPair, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("walletkeys: invalid mnemonic: %w", cdmerr.ErrInvalidArgument)
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	defer SecureClear(seed)
	return fromSeed(seed[:ed25519.SeedSize]), nil
}

func fromSeed(seed []byte) *KeyPair {
	priv := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{Private: priv, Public: priv.Public().(ed25519.PublicKey)}
}

// FromSeed rebuilds a KeyPair from a decrypted 32-byte Ed25519 seed,
// the path `tx sign` takes after DecryptSeed.
func FromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("walletkeys: seed must be %d bytes, got %d: %w", ed25519.SeedSize, len(seed), cdmerr.ErrInvalidArgument)
	}
	return fromSeed(seed), nil
}

// PubKeyHash returns Blake2b-224(pk), the key hash used as a Shelley
// address's payment credential and stored hex-encoded in the wallet's
// config.toml.
func (kp *KeyPair) PubKeyHash() ([]byte, error) {
	h, err := blake2b.New(28, nil)
	if err != nil {
		return nil, fmt.Errorf("walletkeys: blake2b-224: %w", err)
	}
	h.Write(kp.Public)
	return h.Sum(nil), nil
}

// Sign produces a 64-byte Ed25519 signature over msg (the tx body
// hash, when signing a built transaction).
func (kp *KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(kp.Private, msg)
}

// EncryptSeed wraps the 32-byte Ed25519 seed in the byte-exact blob:
//
//	version(1) || salt(16) || nonce(12) || tag(16) || ciphertext(32)
//
// KDF is Argon2id over password||salt (2500 iterations, 32-byte key);
// AEAD is ChaCha20-Poly1305 over an empty AAD. Total length is always
// 77 bytes.
func EncryptSeed(seed []byte, password string) ([]byte, error) {
	if len(seed) != plaintextLen {
		return nil, fmt.Errorf("walletkeys: seed must be %d bytes, got %d: %w", plaintextLen, len(seed), cdmerr.ErrInvalidArgument)
	}

	salt, err := helpers.GenerateSecureRandom(saltLen)
	if err != nil {
		return nil, fmt.Errorf("walletkeys: generate salt: %w", err)
	}

	key := deriveKey(password, salt)
	defer SecureClear(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("walletkeys: init aead: %w", err)
	}

	nonce, err := helpers.GenerateSecureRandom(nonceLen)
	if err != nil {
		return nil, fmt.Errorf("walletkeys: generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, seed, nil) // ciphertext(32) || tag(16)

	blob := make([]byte, 0, blobLen)
	blob = append(blob, blobVersion)
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	// chacha20poly1305.Seal appends the tag after the ciphertext; the
	// wire layout puts the tag before the ciphertext, so split and
	// reorder.
	ciphertext := sealed[:plaintextLen]
	tag := sealed[plaintextLen:]
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)

	if len(blob) != blobLen {
		return nil, fmt.Errorf("walletkeys: assembled blob has length %d, want %d", len(blob), blobLen)
	}
	return blob, nil
}

// DecryptSeed reverses EncryptSeed, returning cdmerr.ErrAuth on a
// wrong password or a MAC mismatch.
func DecryptSeed(blob []byte, password string) ([]byte, error) {
	if len(blob) != blobLen {
		return nil, fmt.Errorf("walletkeys: blob has length %d, want %d: %w", len(blob), blobLen, cdmerr.ErrInvalidArgument)
	}
	if blob[0] != blobVersion {
		return nil, fmt.Errorf("walletkeys: unsupported blob version %d: %w", blob[0], cdmerr.ErrInvalidArgument)
	}

	off := 1
	salt := blob[off : off+saltLen]
	off += saltLen
	nonce := blob[off : off+nonceLen]
	off += nonceLen
	tag := blob[off : off+tagLen]
	off += tagLen
	ciphertext := blob[off : off+plaintextLen]

	key := deriveKey(password, salt)
	defer SecureClear(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("walletkeys: init aead: %w", err)
	}

	sealed := make([]byte, 0, plaintextLen+tagLen)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	seed, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("walletkeys: decrypt: %w", cdmerr.ErrAuth)
	}
	return seed, nil
}

// deriveKey uses Argon2id; x/crypto/argon2 has no Argon2d variant.
func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argon2Iterations, argon2Memory, argon2Parallelism, argon2KeyLen)
}

// BlobHex and UnblobHex round-trip an encrypted blob through the hex
// encoding a wallet's config.toml stores it as.
func BlobHex(blob []byte) string { return hex.EncodeToString(blob) }

func UnblobHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("walletkeys: decode private_encrypted hex: %w", cdmerr.ErrInvalidArgument)
	}
	return b, nil
}

// SecureClear overwrites data with zeros so plaintext key material
// does not outlive its use.
func SecureClear(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

const (
	MinPasswordLength = 8
	MaxPasswordLength = 256
)

// ValidatePassword enforces a password-strength policy of minimum
// length plus 3-of-4 character classes. It is enforced one layer up
// from EncryptSeed/DecryptSeed — at `wallet create` — so the primitive
// itself stays usable for any 32-byte plaintext a test supplies.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters: %w", MinPasswordLength, cdmerr.ErrValidation)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("password must be at most %d characters: %w", MaxPasswordLength, cdmerr.ErrValidation)
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, c := range password {
		switch {
		case unicode.IsUpper(c):
			hasUpper = true
		case unicode.IsLower(c):
			hasLower = true
		case unicode.IsNumber(c):
			hasNumber = true
		case unicode.IsPunct(c) || unicode.IsSymbol(c):
			hasSpecial = true
		}
	}
	complexity := 0
	for _, ok := range []bool{hasUpper, hasLower, hasNumber, hasSpecial} {
		if ok {
			complexity++
		}
	}
	if complexity < 3 {
		return fmt.Errorf("password must contain at least 3 of: uppercase, lowercase, number, special character: %w", cdmerr.ErrValidation)
	}
	return nil
}
