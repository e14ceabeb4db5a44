package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sqlc-dev/pqtype"

	"github.com/felixgeelhaar/stagegrade/internal/attempt"
	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/idgen"
	"github.com/felixgeelhaar/stagegrade/internal/ledger"
	"github.com/felixgeelhaar/stagegrade/internal/storage"
)

// Ensure Store implements the persistence interfaces.
var (
	_ attempt.Store     = (*Store)(nil)
	_ attempt.Loader    = (*Store)(nil)
	_ idgen.MaxIDSource = (*Store)(nil)
)

// Store persists attempts and submissions backed by SQLite.
type Store struct {
	db *DB
}

// NewStore creates a new SQLite-backed store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// SaveAttempt upserts an attempt snapshot.
func (s *Store) SaveAttempt(ctx context.Context, snap attempt.Snapshot) error {
	resume, err := storage.EncodeResume(snap.Resume)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO attempts (id, exercise_id, current_stage, status,
			percent_scored, percent_complete, submission_count,
			created_at, updated_at, finished_at, resume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_stage=excluded.current_stage, status=excluded.status,
			percent_scored=excluded.percent_scored, percent_complete=excluded.percent_complete,
			submission_count=excluded.submission_count,
			updated_at=excluded.updated_at, finished_at=excluded.finished_at,
			resume=excluded.resume`,
		snap.ID, snap.ExerciseID, int64(snap.Current), string(snap.Status),
		snap.Progress.PercentScored, snap.Progress.PercentComplete, snap.SubmissionCount,
		snap.CreatedAt, snap.UpdatedAt, nullTime(snap.FinishedAt), resume,
	)
	if err != nil {
		return fmt.Errorf("upsert attempt: %w", err)
	}
	return nil
}

// GetAttempt retrieves an attempt snapshot by id.
func (s *Store) GetAttempt(ctx context.Context, id int64) (attempt.Snapshot, error) {
	var (
		snap     attempt.Snapshot
		current  int64
		status   string
		finished sql.NullTime
		resume   pqtype.NullRawMessage
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, exercise_id, current_stage, status,
			percent_scored, percent_complete, submission_count,
			created_at, updated_at, finished_at, resume
		FROM attempts WHERE id = ?`, id).Scan(
		&snap.ID, &snap.ExerciseID, &current, &status,
		&snap.Progress.PercentScored, &snap.Progress.PercentComplete, &snap.SubmissionCount,
		&snap.CreatedAt, &snap.UpdatedAt, &finished, &resume,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return attempt.Snapshot{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return attempt.Snapshot{}, fmt.Errorf("get attempt: %w", err)
	}
	snap.Current = domain.StageID(current)
	snap.Status = attempt.Status(status)
	if finished.Valid {
		t := finished.Time
		snap.FinishedAt = &t
	}
	if snap.Resume, err = storage.DecodeResume(resume); err != nil {
		return attempt.Snapshot{}, err
	}
	return snap, nil
}

// SaveSubmission upserts a submission together with its tuple ledgers.
func (s *Store) SaveSubmission(ctx context.Context, sub *domain.StageSubmission) error {
	ans, err := storage.EncodeAnswer(sub)
	if err != nil {
		return err
	}
	feedback, err := storage.EncodeFeedback(sub.Feedback)
	if err != nil {
		return err
	}
	var manual sql.NullInt64
	if sub.ManualResult != nil {
		manual = sql.NullInt64{Int64: int64(*sub.ManualResult), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO submissions (id, attempt_id, stage_id, kind, sequence,
			points, pending_checks, internal_error, graded, manual_result,
			answer, code, feedback, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			points=excluded.points, pending_checks=excluded.pending_checks,
			internal_error=excluded.internal_error, graded=excluded.graded,
			manual_result=excluded.manual_result, answer=excluded.answer,
			code=excluded.code, feedback=excluded.feedback,
			updated_at=excluded.updated_at`,
		sub.ID, sub.AttemptID, int64(sub.StageID), string(sub.Kind), sub.Sequence,
		sub.Points, sub.PendingChecks, sub.InternalError, sub.Graded, manual,
		ans, sub.Code, feedback, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert submission: %w", err)
	}

	for _, r := range sub.TupleResults {
		if err := saveTupleResult(ctx, tx, r); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit submission: %w", err)
	}
	return nil
}

func saveTupleResult(ctx context.Context, tx *sql.Tx, r *ledger.TupleResult) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tuple_results (id, submission_id, tuple_id) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		r.ID, r.SubmissionID, r.TupleID)
	if err != nil {
		return fmt.Errorf("insert tuple result %d: %w", r.ID, err)
	}
	for pos, e := range r.Entries() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO check_entries (tuple_result_id, case_id, position, result, signer, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(tuple_result_id, case_id) DO UPDATE SET
				result=excluded.result, signer=excluded.signer, updated_at=excluded.updated_at`,
			r.ID, e.CaseID, pos, nullBool(e.Result), e.Signer, nullTime(optionalTime(e.UpdatedAt)))
		if err != nil {
			return fmt.Errorf("upsert check entry %d/%d: %w", r.ID, e.CaseID, err)
		}
	}
	return nil
}

// GetSubmission retrieves a submission and rebuilds its ledgers.
func (s *Store) GetSubmission(ctx context.Context, id int64) (*domain.StageSubmission, error) {
	var (
		sub      domain.StageSubmission
		stageID  int64
		kind     string
		manual   sql.NullInt64
		ans      pqtype.NullRawMessage
		feedback pqtype.NullRawMessage
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, attempt_id, stage_id, kind, sequence,
			points, pending_checks, internal_error, graded, manual_result,
			answer, code, feedback, created_at, updated_at
		FROM submissions WHERE id = ?`, id).Scan(
		&sub.ID, &sub.AttemptID, &stageID, &kind, &sub.Sequence,
		&sub.Points, &sub.PendingChecks, &sub.InternalError, &sub.Graded, &manual,
		&ans, &sub.Code, &feedback, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	sub.StageID = domain.StageID(stageID)
	sub.Kind = domain.Kind(kind)
	if manual.Valid {
		m := int(manual.Int64)
		sub.ManualResult = &m
	}
	if err := storage.DecodeAnswer(ans, &sub); err != nil {
		return nil, err
	}
	if sub.Feedback, err = storage.DecodeFeedback(feedback); err != nil {
		return nil, err
	}

	results, err := s.tupleResults(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	sub.TupleResults = results
	return &sub, nil
}

func (s *Store) tupleResults(ctx context.Context, submissionID int64) ([]*ledger.TupleResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.tuple_id, e.case_id, e.result, e.signer, e.updated_at
		FROM tuple_results t
		JOIN check_entries e ON e.tuple_result_id = t.id
		WHERE t.submission_id = ?
		ORDER BY t.id, e.position`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("query tuple results: %w", err)
	}
	defer rows.Close()

	type group struct {
		id, tupleID int64
		entries     []ledger.Entry
	}
	var groups []*group
	for rows.Next() {
		var (
			id, tupleID int64
			e           ledger.Entry
			result      sql.NullBool
			updated     sql.NullTime
		)
		if err := rows.Scan(&id, &tupleID, &e.CaseID, &result, &e.Signer, &updated); err != nil {
			return nil, fmt.Errorf("scan check entry: %w", err)
		}
		if result.Valid {
			b := result.Bool
			e.Result = &b
		}
		if updated.Valid {
			e.UpdatedAt = updated.Time
		}
		if len(groups) == 0 || groups[len(groups)-1].id != id {
			groups = append(groups, &group{id: id, tupleID: tupleID})
		}
		g := groups[len(groups)-1]
		g.entries = append(g.entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate check entries: %w", err)
	}

	out := make([]*ledger.TupleResult, len(groups))
	for i, g := range groups {
		out[i] = ledger.Restore(g.id, submissionID, g.tupleID, g.entries)
	}
	return out, nil
}

// SetCheckResult resolves one persisted ledger entry and refreshes the
// submission's pending flag. Points are not recomputed here; that needs the
// authored stage and happens once the attempt is loaded again.
func (s *Store) SetCheckResult(ctx context.Context, r attempt.CheckResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE check_entries SET result = ?, signer = ?, updated_at = ?
		WHERE case_id = ? AND tuple_result_id = (
			SELECT id FROM tuple_results WHERE submission_id = ? AND tuple_id = ?)`,
		r.Passed, r.Signer, time.Now(), r.CaseID, r.SubmissionID, r.TupleID)
	if err != nil {
		return fmt.Errorf("update check entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missing(ctx, tx, r)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE submissions SET pending_checks = EXISTS (
			SELECT 1 FROM check_entries e
			JOIN tuple_results t ON t.id = e.tuple_result_id
			WHERE t.submission_id = ? AND e.result IS NULL),
			updated_at = ?
		WHERE id = ?`, r.SubmissionID, time.Now(), r.SubmissionID)
	if err != nil {
		return fmt.Errorf("refresh pending flag: %w", err)
	}
	return tx.Commit()
}

// missing names what an unmatched check result refers to
func (s *Store) missing(ctx context.Context, tx *sql.Tx, r attempt.CheckResult) error {
	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM submissions WHERE id = ?", r.SubmissionID).Scan(&n); err != nil {
		return fmt.Errorf("lookup submission: %w", err)
	}
	if n == 0 {
		return domain.ErrSubmissionNotFound
	}
	err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM tuple_results WHERE submission_id = ? AND tuple_id = ?",
		r.SubmissionID, r.TupleID).Scan(&n)
	if err != nil {
		return fmt.Errorf("lookup tuple result: %w", err)
	}
	if n == 0 {
		return domain.ErrTupleNotFound
	}
	return fmt.Errorf("tuple %d case %d: %w", r.TupleID, r.CaseID, ledger.ErrUnknownCase)
}

// PendingSubmissions lists the ids of submissions still waiting for checks.
func (s *Store) PendingSubmissions(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM submissions WHERE pending_checks = 1 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list pending submissions: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan submission id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MaxID returns the largest id used by any persisted entity.
func (s *Store) MaxID(ctx context.Context) (int64, error) {
	var high int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(
			(SELECT COALESCE(MAX(id), 0) FROM attempts),
			(SELECT COALESCE(MAX(id), 0) FROM submissions),
			(SELECT COALESCE(MAX(id), 0) FROM tuple_results))`).Scan(&high)
	if err != nil {
		return 0, fmt.Errorf("query max id: %w", err)
	}
	return high, nil
}

// nullTime converts a *time.Time to sql.NullTime
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
