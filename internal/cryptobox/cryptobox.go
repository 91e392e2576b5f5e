// Package cryptobox wraps the NaCl crypto_box primitives used to derive and
// apply the per-connection shared key, the same construction the node itself
// uses to encrypt its P2P traffic.
package cryptobox

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

// PrecomputedKey is the shared secret derived once per connection from the
// local secret key and the peer's public key (crypto_box_beforenm).
type PrecomputedKey [32]byte

// Precompute derives the shared key for one connection. It is computed once
// by the handshake observer and reused for every chunk in both directions.
func Precompute(peerPublicKey, ourSecretKey [32]byte) PrecomputedKey {
	var shared [32]byte
	box.Precompute(&shared, &peerPublicKey, &ourSecretKey)
	return PrecomputedKey(shared)
}

// ErrOpenFailed is returned when a ciphertext chunk fails authentication.
// This must never advance the nonce: the caller retains its state exactly as
// it was before the attempt.
var ErrOpenFailed = errors.New("cryptobox: message authentication failed")

// Open authenticates and decrypts one ciphertext chunk using the precomputed
// key and the given nonce. NaCl's secretbox primitive performs the actual
// AEAD operation once the shared key has been precomputed, matching the
// crypto_secretbox_open_easy call the node makes per chunk.
func Open(ciphertext []byte, nonce *[24]byte, key *PrecomputedKey) ([]byte, error) {
	plain, ok := secretbox.Open(nil, ciphertext, nonce, (*[32]byte)(key))
	if !ok {
		return nil, ErrOpenFailed
	}
	return plain, nil
}

// Seal encrypts plaintext under the precomputed key and the given nonce. It
// exists for symmetry and test fixture construction; the debugger never
// originates traffic itself.
func Seal(plaintext []byte, nonce *[24]byte, key *PrecomputedKey) []byte {
	return secretbox.Seal(nil, plaintext, nonce, (*[32]byte)(key))
}

// GenerateKeyPair creates a fresh NaCl box key pair, used only by tests to
// build handshake fixtures.
func GenerateKeyPair() (public, secret [32]byte, err error) {
	pub, sec, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return public, secret, fmt.Errorf("generating key pair: %w", err)
	}
	return *pub, *sec, nil
}
