package protocol

import "testing"

func TestNonceIncrementSimple(t *testing.T) {
	var n Nonce
	next := n.Increment()
	if next[len(next)-1] != 1 {
		t.Errorf("last byte = %d, want 1", next[len(next)-1])
	}
	for i := 0; i < len(n); i++ {
		if n[i] != 0 {
			t.Fatalf("Increment must not mutate the receiver, got %v", n)
		}
	}
}

func TestNonceIncrementWraps(t *testing.T) {
	var n Nonce
	for i := range n {
		n[i] = 0xFF
	}
	next := n.Increment()
	for i, b := range next {
		if b != 0 {
			t.Errorf("byte %d = %#x, want 0 after wraparound", i, b)
		}
	}
}

func TestNonceIncrementCarriesAcrossBytes(t *testing.T) {
	var n Nonce
	n[len(n)-1] = 0xFF
	next := n.Increment()
	if next[len(n)-1] != 0 {
		t.Errorf("last byte = %#x, want 0", next[len(n)-1])
	}
	if next[len(n)-2] != 1 {
		t.Errorf("carry byte = %#x, want 1", next[len(n)-2])
	}
}

func TestGenerateNoncesAgreeBetweenBothSides(t *testing.T) {
	a := []byte("our connection message bytes")
	b := []byte("their connection message bytes")

	// One side calls with (sent=a, recv=b, incoming=false); the other holds
	// the same two messages with sent/recv swapped and incoming=true, since
	// whichever message arrived to it is the one it received. Both must
	// derive the identical pair of nonces without exchanging anything
	// further.
	local1, remote1 := GenerateNonces(a, b, false)
	local2, remote2 := GenerateNonces(b, a, true)

	if local1 != local2 {
		t.Errorf("local nonces disagree: %x vs %x", local1, local2)
	}
	if remote1 != remote2 {
		t.Errorf("remote nonces disagree: %x vs %x", remote1, remote2)
	}
	if local1 == remote1 {
		t.Errorf("local and remote nonces must differ when sent != recv")
	}
}
