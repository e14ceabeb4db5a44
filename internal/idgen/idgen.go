// Package idgen hands out entity identifiers.
package idgen

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Allocator returns strictly increasing, process-wide unique ids
type Allocator interface {
	Next() int64
}

// MaxIDSource reports the largest id already persisted
type MaxIDSource interface {
	MaxID(ctx context.Context) (int64, error)
}

// Sequence is an Allocator backed by one atomic counter
type Sequence struct {
	last atomic.Int64
}

// NewSequence creates a sequence whose first id is start+1
func NewSequence(start int64) *Sequence {
	s := &Sequence{}
	s.last.Store(start)
	return s
}

// Seed creates a sequence continuing after the persisted maximum id. It is
// meant to be called once at process start.
func Seed(ctx context.Context, src MaxIDSource) (*Sequence, error) {
	high, err := src.MaxID(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed id sequence: %w", err)
	}
	return NewSequence(high), nil
}

// Next returns the next id
func (s *Sequence) Next() int64 {
	return s.last.Add(1)
}
