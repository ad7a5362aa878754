package pagination

import (
	apperrors "github.com/Knights-Who-Say-Node/reviews/pkg/errors"
)

const (
	DefaultPage  = 1
	DefaultCount = 5
	MaxCount     = 100
)

// Params is a one-based page request.
type Params struct {
	Page  int
	Count int
}

// DefaultParams returns page 1 with DefaultCount items.
func DefaultParams() Params {
	return Params{Page: DefaultPage, Count: DefaultCount}
}

// Validate rejects pages below 1 and counts outside 1..MaxCount.
func (p Params) Validate() error {
	if p.Page < 1 {
		return apperrors.InvalidInput("page must be at least 1")
	}
	if p.Count < 1 || p.Count > MaxCount {
		return apperrors.InvalidInputf("count must be between 1 and %d", MaxCount)
	}
	return nil
}

// Offset is the number of rows skipped before this page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Count
}

// ZeroBasedPage is the page index echoed back in listing responses.
func (p Params) ZeroBasedPage() int {
	return p.Page - 1
}
