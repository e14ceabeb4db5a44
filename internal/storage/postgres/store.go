// Package postgres persists attempts, submissions and check ledgers in
// PostgreSQL for deployments with more than one grading daemon.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sqlc-dev/pqtype"

	"github.com/felixgeelhaar/stagegrade/internal/attempt"
	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/idgen"
	"github.com/felixgeelhaar/stagegrade/internal/ledger"
	"github.com/felixgeelhaar/stagegrade/internal/storage"
)

//go:embed schema.sql
var schema string

var (
	_ attempt.Store     = (*Store)(nil)
	_ attempt.Loader    = (*Store)(nil)
	_ idgen.MaxIDSource = (*Store)(nil)
)

// Store implements attempt persistence using PostgreSQL
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool and checks the database is reachable
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// NewStore creates a new PostgreSQL store
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates missing tables
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveAttempt upserts an attempt snapshot
func (s *Store) SaveAttempt(ctx context.Context, snap attempt.Snapshot) error {
	resume, err := storage.EncodeResume(snap.Resume)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO attempts (id, exercise_id, current_stage, status,
			percent_scored, percent_complete, submission_count,
			created_at, updated_at, finished_at, resume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			current_stage = EXCLUDED.current_stage, status = EXCLUDED.status,
			percent_scored = EXCLUDED.percent_scored, percent_complete = EXCLUDED.percent_complete,
			submission_count = EXCLUDED.submission_count,
			updated_at = EXCLUDED.updated_at, finished_at = EXCLUDED.finished_at,
			resume = EXCLUDED.resume
	`
	_, err = s.pool.Exec(ctx, query,
		snap.ID, snap.ExerciseID, int64(snap.Current), string(snap.Status),
		snap.Progress.PercentScored, snap.Progress.PercentComplete, snap.SubmissionCount,
		snap.CreatedAt, snap.UpdatedAt, snap.FinishedAt, resume,
	)
	if err != nil {
		return fmt.Errorf("upsert attempt: %w", err)
	}
	return nil
}

// GetAttempt retrieves an attempt snapshot by id
func (s *Store) GetAttempt(ctx context.Context, id int64) (attempt.Snapshot, error) {
	query := `
		SELECT id, exercise_id, current_stage, status,
			percent_scored, percent_complete, submission_count,
			created_at, updated_at, finished_at, resume
		FROM attempts WHERE id = $1
	`
	var (
		snap    attempt.Snapshot
		current int64
		status  string
		resume  pqtype.NullRawMessage
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&snap.ID, &snap.ExerciseID, &current, &status,
		&snap.Progress.PercentScored, &snap.Progress.PercentComplete, &snap.SubmissionCount,
		&snap.CreatedAt, &snap.UpdatedAt, &snap.FinishedAt, &resume,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return attempt.Snapshot{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return attempt.Snapshot{}, fmt.Errorf("get attempt: %w", err)
	}
	snap.Current = domain.StageID(current)
	snap.Status = attempt.Status(status)
	if snap.Resume, err = storage.DecodeResume(resume); err != nil {
		return attempt.Snapshot{}, err
	}
	return snap, nil
}

// SaveSubmission upserts a submission and its ledger entries in one
// transaction
func (s *Store) SaveSubmission(ctx context.Context, sub *domain.StageSubmission) error {
	ans, err := storage.EncodeAnswer(sub)
	if err != nil {
		return err
	}
	feedback, err := storage.EncodeFeedback(sub.Feedback)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO submissions (id, attempt_id, stage_id, kind, sequence,
			points, pending_checks, internal_error, graded, manual_result,
			answer, code, feedback, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			points = EXCLUDED.points, pending_checks = EXCLUDED.pending_checks,
			internal_error = EXCLUDED.internal_error, graded = EXCLUDED.graded,
			manual_result = EXCLUDED.manual_result, answer = EXCLUDED.answer,
			code = EXCLUDED.code, feedback = EXCLUDED.feedback,
			updated_at = EXCLUDED.updated_at
	`
	_, err = tx.Exec(ctx, query,
		sub.ID, sub.AttemptID, int64(sub.StageID), string(sub.Kind), sub.Sequence,
		sub.Points, sub.PendingChecks, sub.InternalError, sub.Graded, sub.ManualResult,
		ans, sub.Code, feedback, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert submission: %w", err)
	}

	batch := &pgx.Batch{}
	for _, r := range sub.TupleResults {
		batch.Queue(`INSERT INTO tuple_results (id, submission_id, tuple_id) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING`, r.ID, r.SubmissionID, r.TupleID)
		for pos, e := range r.Entries() {
			var updated *time.Time
			if !e.UpdatedAt.IsZero() {
				t := e.UpdatedAt
				updated = &t
			}
			batch.Queue(`INSERT INTO check_entries (tuple_result_id, case_id, position, result, signer, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (tuple_result_id, case_id) DO UPDATE SET
					result = EXCLUDED.result, signer = EXCLUDED.signer, updated_at = EXCLUDED.updated_at`,
				r.ID, e.CaseID, pos, e.Result, e.Signer, updated)
		}
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert ledger: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit submission: %w", err)
	}
	return nil
}

// GetSubmission retrieves a submission and rebuilds its ledgers
func (s *Store) GetSubmission(ctx context.Context, id int64) (*domain.StageSubmission, error) {
	query := `
		SELECT id, attempt_id, stage_id, kind, sequence,
			points, pending_checks, internal_error, graded, manual_result,
			answer, code, feedback, created_at, updated_at
		FROM submissions WHERE id = $1
	`
	var (
		sub      domain.StageSubmission
		stageID  int64
		kind     string
		ans      pqtype.NullRawMessage
		feedback pqtype.NullRawMessage
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&sub.ID, &sub.AttemptID, &stageID, &kind, &sub.Sequence,
		&sub.Points, &sub.PendingChecks, &sub.InternalError, &sub.Graded, &sub.ManualResult,
		&ans, &sub.Code, &feedback, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	sub.StageID = domain.StageID(stageID)
	sub.Kind = domain.Kind(kind)
	if err := storage.DecodeAnswer(ans, &sub); err != nil {
		return nil, err
	}
	if sub.Feedback, err = storage.DecodeFeedback(feedback); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.tuple_id, e.case_id, e.result, e.signer, e.updated_at
		FROM tuple_results t
		JOIN check_entries e ON e.tuple_result_id = t.id
		WHERE t.submission_id = $1
		ORDER BY t.id, e.position`, id)
	if err != nil {
		return nil, fmt.Errorf("query tuple results: %w", err)
	}
	defer rows.Close()

	var (
		lastID, lastTuple int64
		entries           []ledger.Entry
	)
	flush := func() {
		if entries != nil {
			sub.TupleResults = append(sub.TupleResults, ledger.Restore(lastID, sub.ID, lastTuple, entries))
		}
		entries = nil
	}
	for rows.Next() {
		var (
			trID, tupleID int64
			e             ledger.Entry
			updated       *time.Time
		)
		if err := rows.Scan(&trID, &tupleID, &e.CaseID, &e.Result, &e.Signer, &updated); err != nil {
			return nil, fmt.Errorf("scan check entry: %w", err)
		}
		if updated != nil {
			e.UpdatedAt = *updated
		}
		if trID != lastID {
			flush()
			lastID, lastTuple = trID, tupleID
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate check entries: %w", err)
	}
	flush()
	return &sub, nil
}

// SetCheckResult resolves one ledger entry and refreshes the pending flag
func (s *Store) SetCheckResult(ctx context.Context, r attempt.CheckResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE check_entries e SET result = $1, signer = $2, updated_at = now()
		FROM tuple_results t
		WHERE e.tuple_result_id = t.id AND t.submission_id = $3 AND t.tuple_id = $4 AND e.case_id = $5`,
		r.Passed, r.Signer, r.SubmissionID, r.TupleID, r.CaseID)
	if err != nil {
		return fmt.Errorf("update check entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return missing(ctx, tx, r)
	}

	_, err = tx.Exec(ctx, `
		UPDATE submissions SET pending_checks = EXISTS (
			SELECT 1 FROM check_entries e
			JOIN tuple_results t ON t.id = e.tuple_result_id
			WHERE t.submission_id = $1 AND e.result IS NULL),
			updated_at = now()
		WHERE id = $1`, r.SubmissionID)
	if err != nil {
		return fmt.Errorf("refresh pending flag: %w", err)
	}
	return tx.Commit(ctx)
}

func missing(ctx context.Context, tx pgx.Tx, r attempt.CheckResult) error {
	var subExists, tupleExists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM submissions WHERE id = $1),
			EXISTS (SELECT 1 FROM tuple_results WHERE submission_id = $1 AND tuple_id = $2)`,
		r.SubmissionID, r.TupleID).Scan(&subExists, &tupleExists)
	if err != nil {
		return fmt.Errorf("lookup check target: %w", err)
	}
	switch {
	case !subExists:
		return domain.ErrSubmissionNotFound
	case !tupleExists:
		return domain.ErrTupleNotFound
	default:
		return fmt.Errorf("tuple %d case %d: %w", r.TupleID, r.CaseID, ledger.ErrUnknownCase)
	}
}

// PendingSubmissions lists the ids of submissions still waiting for checks
func (s *Store) PendingSubmissions(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, "SELECT id FROM submissions WHERE pending_checks ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list pending submissions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan submission ids: %w", err)
	}
	return ids, nil
}

// MaxID returns the largest id used by any persisted entity
func (s *Store) MaxID(ctx context.Context) (int64, error) {
	var high int64
	err := s.pool.QueryRow(ctx, `
		SELECT GREATEST(
			(SELECT COALESCE(MAX(id), 0) FROM attempts),
			(SELECT COALESCE(MAX(id), 0) FROM submissions),
			(SELECT COALESCE(MAX(id), 0) FROM tuple_results))`).Scan(&high)
	if err != nil {
		return 0, fmt.Errorf("query max id: %w", err)
	}
	return high, nil
}
