// Package ledger tracks the tri-state results of test case checks.
//
// A TupleResult is created with one pending entry per test case of a tuple.
// Entries are resolved later, possibly by out-of-process checkers writing
// back concurrently. Each entry is an independent atomic cell: the set of
// entries is fixed at creation so writers never contend on a tuple-wide lock.
package ledger

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrUnknownCase is returned when a write names a test case that was not
// part of the tuple at creation time.
var ErrUnknownCase = errors.New("test case not part of tuple result")

// State is the tri-state outcome of one check
type State int

const (
	Pending State = iota
	Passed
	Failed
)

func (s State) String() string {
	switch s {
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Resolution is a resolved check outcome
type Resolution struct {
	Passed bool
	Signer string
	At     time.Time
}

// Entry is the exported view of one ledger cell. Result is nil while pending.
type Entry struct {
	CaseID    int64
	Result    *bool
	Signer    string
	UpdatedAt time.Time
}

type cell struct {
	res atomic.Pointer[Resolution]
}

func (c *cell) state() State {
	r := c.res.Load()
	switch {
	case r == nil:
		return Pending
	case r.Passed:
		return Passed
	default:
		return Failed
	}
}

// TupleResult is the ledger of one (submission, tuple) pair
type TupleResult struct {
	ID           int64
	SubmissionID int64
	TupleID      int64

	order []int64
	cells map[int64]*cell
}

// New seeds a pending entry for every test case id
func New(id, submissionID, tupleID int64, caseIDs []int64) *TupleResult {
	r := &TupleResult{
		ID:           id,
		SubmissionID: submissionID,
		TupleID:      tupleID,
		order:        append([]int64(nil), caseIDs...),
		cells:        make(map[int64]*cell, len(caseIDs)),
	}
	for _, cid := range caseIDs {
		r.cells[cid] = &cell{}
	}
	return r
}

// Restore rebuilds a tuple result from persisted entries
func Restore(id, submissionID, tupleID int64, entries []Entry) *TupleResult {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.CaseID
	}
	r := New(id, submissionID, tupleID, ids)
	for _, e := range entries {
		if e.Result == nil {
			continue
		}
		r.cells[e.CaseID].res.Store(&Resolution{Passed: *e.Result, Signer: e.Signer, At: e.UpdatedAt})
	}
	return r
}

// Set resolves one entry. Writes are last-write-wins; resolving the same
// case again with another signer simply replaces the previous resolution.
func (r *TupleResult) Set(caseID int64, passed bool, signer string) error {
	c, ok := r.cells[caseID]
	if !ok {
		return fmt.Errorf("tuple %d case %d: %w", r.TupleID, caseID, ErrUnknownCase)
	}
	c.res.Store(&Resolution{Passed: passed, Signer: signer, At: time.Now()})
	return nil
}

// State returns the current state of one entry
func (r *TupleResult) State(caseID int64) (State, bool) {
	c, ok := r.cells[caseID]
	if !ok {
		return Pending, false
	}
	return c.state(), true
}

// Resolution returns the resolution of an entry, nil while pending
func (r *TupleResult) Resolution(caseID int64) *Resolution {
	c, ok := r.cells[caseID]
	if !ok {
		return nil
	}
	return c.res.Load()
}

// HasPending is true iff any entry is still pending
func (r *TupleResult) HasPending() bool {
	for _, c := range r.cells {
		if c.res.Load() == nil {
			return true
		}
	}
	return false
}

// PendingCount returns the number of unresolved entries
func (r *TupleResult) PendingCount() int {
	n := 0
	for _, c := range r.cells {
		if c.res.Load() == nil {
			n++
		}
	}
	return n
}

// CaseIDs returns the test case ids in creation order
func (r *TupleResult) CaseIDs() []int64 {
	return append([]int64(nil), r.order...)
}

// Entries returns a snapshot of all entries in creation order
func (r *TupleResult) Entries() []Entry {
	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		e := Entry{CaseID: id}
		if res := r.cells[id].res.Load(); res != nil {
			passed := res.Passed
			e.Result = &passed
			e.Signer = res.Signer
			e.UpdatedAt = res.At
		}
		out = append(out, e)
	}
	return out
}

// AnyPending reports whether any of the tuple results has a pending entry
func AnyPending(results []*TupleResult) bool {
	for _, r := range results {
		if r.HasPending() {
			return true
		}
	}
	return false
}
