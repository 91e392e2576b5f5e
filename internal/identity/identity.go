// Package identity loads the node's cryptographic identity from disk, polling
// until it appears the way a co-located node process would eventually write it.
package identity

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// Identity holds the node's static key material, decoded from the identity
// file's hex-encoded fields.
type Identity struct {
	PublicKey        [32]byte
	SecretKey        [32]byte
	ProofOfWorkStamp [24]byte
}

// identityFile mirrors the on-disk JSON document written by the node.
type identityFile struct {
	PublicKey        string `json:"public_key"`
	SecretKey        string `json:"secret_key"`
	ProofOfWorkStamp string `json:"proof_of_work_stamp"`
}

// ErrNotFound is returned by loadOnce when none of the candidate paths holds
// a parseable identity file yet (missing and malformed files alike).
var ErrNotFound = errors.New("identity: no identity file found yet")

// Loader polls a fixed list of candidate paths until one of them yields a
// parseable identity file, logging a throttled "waiting" message meanwhile.
type Loader struct {
	Paths       []string
	RetryPeriod time.Duration
	Logger      *slog.Logger

	limiter *rate.Limiter
}

// Load blocks until an identity file is found and parsed, or ctx is canceled.
// A malformed identity file on one candidate path is logged and treated like
// "not found": the co-located node process may still be in the middle of
// writing it, so Load keeps polling rather than giving up.
func (l *Loader) Load(ctx context.Context) (Identity, error) {
	if l.limiter == nil {
		// at most one "waiting for identity" line every 5 seconds, regardless of RetryPeriod
		l.limiter = rate.NewLimiter(rate.Every(5*time.Second), 1)
	}
	period := l.RetryPeriod
	if period <= 0 {
		period = 5 * time.Second
	}

	for {
		id, err := l.loadOnce()
		switch {
		case err == nil:
			return id, nil
		case errors.Is(err, ErrNotFound):
			if l.Logger != nil && l.limiter.Allow() {
				l.Logger.Info("waiting for identity file", "paths", l.Paths)
			}
		default:
			return Identity{}, err
		}

		select {
		case <-ctx.Done():
			return Identity{}, ctx.Err()
		case <-time.After(period):
		}
	}
}

func (l *Loader) loadOnce() (Identity, error) {
	for _, path := range l.Paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Identity{}, fmt.Errorf("reading identity file %q: %w", path, err)
		}
		id, err := parse(data)
		if err != nil {
			if l.Logger != nil {
				l.Logger.Warn("malformed identity file, will keep waiting", "path", path, "error", err)
			}
			continue
		}
		return id, nil
	}
	return Identity{}, ErrNotFound
}

func parse(data []byte) (Identity, error) {
	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Identity{}, fmt.Errorf("parsing identity file: %w", err)
	}

	var id Identity
	if err := decodeHex32(f.PublicKey, &id.PublicKey); err != nil {
		return Identity{}, fmt.Errorf("decoding public_key: %w", err)
	}
	if err := decodeHex32(f.SecretKey, &id.SecretKey); err != nil {
		return Identity{}, fmt.Errorf("decoding secret_key: %w", err)
	}
	if err := decodeHex24(f.ProofOfWorkStamp, &id.ProofOfWorkStamp); err != nil {
		return Identity{}, fmt.Errorf("decoding proof_of_work_stamp: %w", err)
	}
	return id, nil
}

func decodeHex32(s string, out *[32]byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != 32 {
		return fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return nil
}

func decodeHex24(s string, out *[24]byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != 24 {
		return fmt.Errorf("expected 24 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return nil
}
