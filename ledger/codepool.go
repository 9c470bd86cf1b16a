/*
codepool.go - Owned pool of single-use redemption codes

PURPOSE:
  Each plan's inventory is a finite list of unique code strings. The pool
  exposes exactly two mutating-relevant operations, Allocate and Size, so
  no caller can splice the underlying list out-of-band and violate the
  uniqueness invariant.

INVARIANTS:
  - Every code is unique within the pool at rest
  - Allocate removes the drawn codes; a code can never be issued twice
  - Codes not drawn keep their relative order

RANDOMNESS:
  Allocate draws uniformly at random without replacement. The draw has no
  semantic meaning beyond avoiding ordering bias in which codes are
  issued; callers must not depend on any particular distribution.
*/
package ledger

import (
	"encoding/json"
	"math/rand"
)

// CodePool holds a plan's remaining redemption codes.
// The zero value is an empty pool.
type CodePool struct {
	codes []string
}

// NewCodePool builds a pool from codes, dropping duplicates so the
// at-rest uniqueness invariant holds even for sloppy admin input.
func NewCodePool(codes []string) CodePool {
	seen := make(map[string]struct{}, len(codes))
	kept := make([]string, 0, len(codes))
	for _, c := range codes {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		kept = append(kept, c)
	}
	return CodePool{codes: kept}
}

// Size returns the remaining inventory count.
func (p *CodePool) Size() int {
	return len(p.codes)
}

// Allocate removes and returns n codes drawn uniformly at random without
// replacement. The remaining codes keep their relative order. Returns an
// InsufficientStockError if fewer than n codes remain; the pool is not
// modified on failure.
func (p *CodePool) Allocate(n int) ([]string, error) {
	if n <= 0 {
		return nil, ErrInvalidInput
	}
	if len(p.codes) < n {
		return nil, &InsufficientStockError{Available: len(p.codes), Requested: n}
	}

	drawn := make([]string, 0, n)
	remaining := append([]string(nil), p.codes...)
	for i := 0; i < n; i++ {
		j := rand.Intn(len(remaining))
		drawn = append(drawn, remaining[j])
		remaining = append(remaining[:j], remaining[j+1:]...)
	}

	p.codes = remaining
	return drawn, nil
}

// Codes returns a copy of the remaining codes, in order.
func (p *CodePool) Codes() []string {
	return append([]string(nil), p.codes...)
}

// MarshalJSON serializes the pool as a plain string array, matching the
// plan blob layout on the product row.
func (p CodePool) MarshalJSON() ([]byte, error) {
	if p.codes == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.codes)
}

// UnmarshalJSON accepts a plain string array, deduplicating on load.
func (p *CodePool) UnmarshalJSON(data []byte) error {
	var codes []string
	if err := json.Unmarshal(data, &codes); err != nil {
		return err
	}
	*p = NewCodePool(codes)
	return nil
}
