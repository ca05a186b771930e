// Package quota holds the stateless admission checks applied before any
// mutation. Both checks are advisory under concurrent load: two creates
// racing at max-1 entries can both pass, transiently overshooting the
// entry cap by one. That approximation is accepted.
package quota

import (
	"github.com/axololly/paste/pkg/domain"
)

type Guard struct {
	maxEntries   int64
	maxPasteSize int64
}

func NewGuard(maxEntries, maxPasteSize int64) *Guard {
	return &Guard{maxEntries: maxEntries, maxPasteSize: maxPasteSize}
}

// CheckEntryCapacity rejects a creation once the store holds the configured
// maximum number of live pastes.
func (g *Guard) CheckEntryCapacity(liveCount int64) error {
	if liveCount >= g.maxEntries {
		return domain.ErrCapacityExceeded
	}
	return nil
}

// CheckPasteSize rejects a file set whose cumulative original byte length
// exceeds the configured maximum, reporting the exact overage.
func (g *Guard) CheckPasteSize(totalOriginalBytes int64) error {
	if totalOriginalBytes > g.maxPasteSize {
		return domain.PasteTooLarge(totalOriginalBytes - g.maxPasteSize)
	}
	return nil
}

func (g *Guard) MaxPasteSize() int64 { return g.maxPasteSize }
func (g *Guard) MaxEntries() int64   { return g.maxEntries }
