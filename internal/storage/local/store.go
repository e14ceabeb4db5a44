// Package local persists attempts as JSON files for single-user runs
// without a database.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/felixgeelhaar/stagegrade/internal/attempt"
	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/idgen"
	"github.com/felixgeelhaar/stagegrade/internal/ledger"
)

const (
	attemptsDir    = "attempts"
	submissionsDir = "submissions"
)

var (
	_ attempt.Store     = (*Store)(nil)
	_ attempt.Loader    = (*Store)(nil)
	_ idgen.MaxIDSource = (*Store)(nil)
)

// Store writes one JSON document per attempt and per submission
type Store struct {
	basePath string
	mu       sync.RWMutex
}

// submissionFile is the on-disk form of a submission
type submissionFile struct {
	ID            int64                    `json:"id"`
	AttemptID     int64                    `json:"attempt_id"`
	StageID       domain.StageID           `json:"stage_id"`
	Kind          domain.Kind              `json:"kind"`
	Sequence      int                      `json:"sequence"`
	Points        int                      `json:"points"`
	PendingChecks bool                     `json:"pending_checks"`
	InternalError bool                     `json:"internal_error,omitempty"`
	ManualResult  *int                     `json:"manual_result,omitempty"`
	Graded        bool                     `json:"graded"`
	Fields        []domain.SubmissionField `json:"fields,omitempty"`
	Ticked        []bool                   `json:"ticked,omitempty"`
	Code          string                   `json:"code,omitempty"`
	Feedback      []string                 `json:"feedback,omitempty"`
	Tuples        []tupleFile              `json:"tuples,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	UpdatedAt     time.Time                `json:"updated_at"`
}

type tupleFile struct {
	ID      int64       `json:"id"`
	TupleID int64       `json:"tuple_id"`
	Entries []entryFile `json:"entries"`
}

type entryFile struct {
	CaseID    int64      `json:"case_id"`
	Result    *bool      `json:"result"`
	Signer    string     `json:"signer,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// NewStore creates the store directories under basePath
func NewStore(basePath string) (*Store, error) {
	for _, dir := range []string{attemptsDir, submissionsDir} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	return &Store{basePath: basePath}, nil
}

// SaveAttempt writes the attempt snapshot
func (s *Store) SaveAttempt(_ context.Context, snap attempt.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(attemptsDir, snap.ID, snap)
}

// GetAttempt reads an attempt snapshot
func (s *Store) GetAttempt(_ context.Context, id int64) (attempt.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snap attempt.Snapshot
	if err := s.read(attemptsDir, id, &snap); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return attempt.Snapshot{}, domain.ErrAttemptNotFound
		}
		return attempt.Snapshot{}, err
	}
	return snap, nil
}

// SaveSubmission writes the submission with its ledgers
func (s *Store) SaveSubmission(_ context.Context, sub *domain.StageSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(submissionsDir, sub.ID, toFile(sub))
}

// GetSubmission reads a submission and restores its ledgers
func (s *Store) GetSubmission(_ context.Context, id int64) (*domain.StageSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := s.readSubmission(id)
	if err != nil {
		return nil, err
	}
	return fromFile(f), nil
}

// SetCheckResult resolves one ledger entry of a stored submission
func (s *Store) SetCheckResult(_ context.Context, r attempt.CheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.readSubmission(r.SubmissionID)
	if err != nil {
		return err
	}
	sub := fromFile(f)
	tr, ok := sub.TupleResult(r.TupleID)
	if !ok {
		return domain.ErrTupleNotFound
	}
	if err := tr.Set(r.CaseID, r.Passed, r.Signer); err != nil {
		return err
	}
	sub.PendingChecks = sub.HasPendingChecks()
	sub.UpdatedAt = time.Now()
	return s.write(submissionsDir, sub.ID, toFile(sub))
}

// PendingSubmissions lists the ids of submissions still waiting for checks
func (s *Store) PendingSubmissions(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, err := s.ids(submissionsDir)
	if err != nil {
		return nil, err
	}
	var pending []int64
	for _, id := range ids {
		f, err := s.readSubmission(id)
		if err != nil {
			return nil, err
		}
		if f.PendingChecks {
			pending = append(pending, id)
		}
	}
	return pending, nil
}

// MaxID returns the largest id used by any stored document
func (s *Store) MaxID(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var high int64
	attempts, err := s.ids(attemptsDir)
	if err != nil {
		return 0, err
	}
	subs, err := s.ids(submissionsDir)
	if err != nil {
		return 0, err
	}
	for _, id := range append(attempts, subs...) {
		high = max(high, id)
	}
	for _, id := range subs {
		f, err := s.readSubmission(id)
		if err != nil {
			return 0, err
		}
		for _, t := range f.Tuples {
			high = max(high, t.ID)
		}
	}
	return high, nil
}

func (s *Store) readSubmission(id int64) (submissionFile, error) {
	var f submissionFile
	if err := s.read(submissionsDir, id, &f); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, domain.ErrSubmissionNotFound
		}
		return f, err
	}
	return f, nil
}

func (s *Store) path(collection string, id int64) string {
	return filepath.Join(s.basePath, collection, strconv.FormatInt(id, 10)+".json")
}

// write replaces the document atomically via a temp file and rename
func (s *Store) write(collection string, id int64, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	path := s.path(collection, id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}

func (s *Store) read(collection string, id int64, v any) error {
	data, err := os.ReadFile(s.path(collection, id))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s/%d: %w", collection, id, err)
	}
	return nil
}

// ids lists the document ids of a collection in ascending order
func (s *Store) ids(collection string) ([]int64, error) {
	entries, err := os.ReadDir(filepath.Join(s.basePath, collection))
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	var ids []int64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		id, err := strconv.ParseInt(name[:len(name)-5], 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func toFile(sub *domain.StageSubmission) submissionFile {
	f := submissionFile{
		ID:            sub.ID,
		AttemptID:     sub.AttemptID,
		StageID:       sub.StageID,
		Kind:          sub.Kind,
		Sequence:      sub.Sequence,
		Points:        sub.Points,
		PendingChecks: sub.PendingChecks,
		InternalError: sub.InternalError,
		ManualResult:  sub.ManualResult,
		Graded:        sub.Graded,
		Fields:        sub.Fields,
		Ticked:        sub.Ticked,
		Code:          sub.Code,
		Feedback:      sub.Feedback,
		CreatedAt:     sub.CreatedAt,
		UpdatedAt:     sub.UpdatedAt,
	}
	for _, r := range sub.TupleResults {
		t := tupleFile{ID: r.ID, TupleID: r.TupleID}
		for _, e := range r.Entries() {
			ef := entryFile{CaseID: e.CaseID, Result: e.Result, Signer: e.Signer}
			if !e.UpdatedAt.IsZero() {
				at := e.UpdatedAt
				ef.UpdatedAt = &at
			}
			t.Entries = append(t.Entries, ef)
		}
		f.Tuples = append(f.Tuples, t)
	}
	return f
}

func fromFile(f submissionFile) *domain.StageSubmission {
	sub := &domain.StageSubmission{
		ID:            f.ID,
		AttemptID:     f.AttemptID,
		StageID:       f.StageID,
		Kind:          f.Kind,
		Sequence:      f.Sequence,
		Points:        f.Points,
		PendingChecks: f.PendingChecks,
		InternalError: f.InternalError,
		ManualResult:  f.ManualResult,
		Graded:        f.Graded,
		Fields:        f.Fields,
		Ticked:        f.Ticked,
		Code:          f.Code,
		Feedback:      f.Feedback,
		CreatedAt:     f.CreatedAt,
		UpdatedAt:     f.UpdatedAt,
	}
	for _, t := range f.Tuples {
		entries := make([]ledger.Entry, len(t.Entries))
		for i, e := range t.Entries {
			entries[i] = ledger.Entry{CaseID: e.CaseID, Result: e.Result, Signer: e.Signer}
			if e.UpdatedAt != nil {
				entries[i].UpdatedAt = *e.UpdatedAt
			}
		}
		sub.TupleResults = append(sub.TupleResults, ledger.Restore(t.ID, f.ID, t.TupleID, entries))
	}
	return sub
}
