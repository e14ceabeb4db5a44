package queue

import (
	"context"
	"errors"
	"log/slog"

	"github.com/felixgeelhaar/stagegrade/internal/attempt"
	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/ledger"
)

// CheckRecorder stores a resolved ledger entry
type CheckRecorder interface {
	RecordCheckResult(ctx context.Context, r attempt.CheckResult) error
}

// RecordResults returns a ResultHandler writing verdicts into rec. Results
// of failed checker runs carry no verdict and leave the entry pending; they
// are logged for an operator to resolve. Results naming unknown submissions
// or cases are dropped, since redelivery cannot fix them.
func RecordResults(rec CheckRecorder, observe func(passed bool)) ResultHandler {
	return func(ctx context.Context, r *CheckResult) error {
		if r.Failed() {
			slog.Warn("checker could not run test case",
				"submission_id", r.SubmissionID,
				"tuple_id", r.TupleID,
				"case_id", r.CaseID,
				"signer", r.Signer,
				"error", r.Error,
			)
			return nil
		}
		if observe != nil {
			observe(r.Passed)
		}
		err := rec.RecordCheckResult(ctx, attempt.CheckResult{
			SubmissionID: r.SubmissionID,
			TupleID:      r.TupleID,
			CaseID:       r.CaseID,
			Passed:       r.Passed,
			Signer:       r.Signer,
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrSubmissionNotFound),
			errors.Is(err, domain.ErrTupleNotFound),
			errors.Is(err, ledger.ErrUnknownCase):
			slog.Warn("dropping check result", "submission_id", r.SubmissionID, "case_id", r.CaseID, "error", err)
			return nil
		default:
			return err
		}
	}
}
