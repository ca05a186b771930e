// Package alloc produces the opaque identifiers a paste is reachable by:
// the public ID and the removal key.
package alloc

import (
	"context"

	"github.com/axololly/paste/metrics"
	"github.com/axololly/paste/pkg/domain"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const maxRetries = 5

// ExistsFunc reports whether a candidate value is already held by a live
// paste. Each uniqueness scope (IDs, removal keys) supplies its own probe.
type ExistsFunc func(ctx context.Context, candidate string) (bool, error)

// Allocator generates fixed-length tokens from a fixed alphabet.
type Allocator struct {
	length int
}

func New(length int) *Allocator {
	if length <= 0 {
		panic("alloc: length must be positive")
	}
	return &Allocator{length: length}
}

func (a *Allocator) Length() int { return a.length }

// Allocate returns a candidate not currently in use per the exists probe.
// The probe is advisory only: nothing is reserved, so the store's insert
// must still enforce uniqueness at write time. Retries are capped; with a
// base62 alphabet at the configured lengths, exhausting them means the
// identifier space itself is effectively full.
func (a *Allocator) Allocate(ctx context.Context, exists ExistsFunc) (string, error) {
	for retry := 0; retry < maxRetries; retry++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		candidate, err := gonanoid.Generate(alphabet, a.length)
		if err != nil {
			return "", errors.Wrap(err, "generate candidate")
		}
		inUse, err := exists(ctx, candidate)
		if err != nil {
			return "", errors.Wrap(err, "existence probe")
		}
		if !inUse {
			return candidate, nil
		}
		metrics.IDCollisions.Inc()
	}
	return "", errors.Wrapf(domain.ErrAllocationFailed, "no free identifier after %d attempts", maxRetries)
}
