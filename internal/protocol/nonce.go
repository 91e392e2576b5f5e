package protocol

import "golang.org/x/crypto/blake2b"

// Nonce is the 24-byte counter used to decrypt one direction's chunk
// stream. Each successful decrypt advances it by exactly one; a failed
// decrypt must never advance it.
type Nonce [24]byte

// Increment returns the nonce with one added to its big-endian value,
// wrapping around on overflow. It does not mutate the receiver, matching
// the value-type, non-mutating style used elsewhere for wire constants.
func (n Nonce) Increment() Nonce {
	var out Nonce = n
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}

// GenerateNonces derives the pair of starting nonces for a freshly upgraded
// connection from the two raw (length-framed) handshake messages that were
// actually exchanged on the wire. sent is the raw bytes of the message this
// host transmitted, recv is the raw bytes of the message it received.
//
// local is the nonce used to decrypt the peer's first encrypted chunk,
// remote is the nonce used to encrypt (and, here, merely track) our own
// outgoing stream. Swapping sent/recv between the two sides of a connection
// yields complementary local/remote pairs, so both ends derive the same two
// nonces without exchanging anything further.
func GenerateNonces(sent, recv []byte, incoming bool) (local, remote Nonce) {
	localSum := blake2b.Sum256(append(append([]byte{}, recv...), sent...))
	remoteSum := blake2b.Sum256(append(append([]byte{}, sent...), recv...))
	copy(local[:], localSum[:24])
	copy(remote[:], remoteSum[:24])
	if incoming {
		return local, remote
	}
	return remote, local
}
