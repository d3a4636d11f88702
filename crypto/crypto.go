package crypto

import (
	"encoding/hex"

	"github.com/tendermint/tendermint/crypto/tmhash"
)

const (
	// AddressPrefix starts every account and contract address.
	AddressPrefix = "M"
	addressHexLen = 30
)

// Hasher is the hashing half of a Provider. Blocks and transactions only need this.
type Hasher interface {
	Hash(data []byte) string
	DoubleHash(data []byte) string
}

// Provider bundles the primitives the node consumes. Keys travel as opaque
// binary encodings so callers never depend on a concrete curve.
type Provider interface {
	Hasher

	GenKeyPair() (priv []byte, pub []byte, err error)
	PubKey(priv []byte) ([]byte, error)

	Sign(priv []byte, msg []byte) ([]byte, error)
	Verify(pub []byte, msg []byte, sig []byte) bool

	Encrypt(pub []byte, msg []byte) ([]byte, error)
	Decrypt(priv []byte, ciphertext []byte) ([]byte, error)

	DeriveAddress(pub []byte) string
}

// sha256Hasher is embedded by providers that hash with SHA-256.
type sha256Hasher struct{}

// Hash returns the hex encoded SHA-256 digest of data.
func (sha256Hasher) Hash(data []byte) string {
	return hex.EncodeToString(tmhash.Sum(data))
}

// DoubleHash returns SHA-256 over the hex digest of SHA-256(data).
func (h sha256Hasher) DoubleHash(data []byte) string {
	return h.Hash([]byte(h.Hash(data)))
}

// DeriveAddress returns AddressPrefix followed by the first 30 hex characters of SHA-256(pub).
func (h sha256Hasher) DeriveAddress(pub []byte) string {
	return AddressPrefix + h.Hash(pub)[:addressHexLen]
}

// IsAddress reports whether s has the shape produced by DeriveAddress.
func IsAddress(s string) bool {
	if len(s) != len(AddressPrefix)+addressHexLen || s[:len(AddressPrefix)] != AddressPrefix {
		return false
	}
	_, err := hex.DecodeString(s[len(AddressPrefix):])
	return err == nil
}
