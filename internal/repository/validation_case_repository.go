package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arelec/be-report-validation/internal/platform/database"
	"github.com/arelec/be-report-validation/internal/platform/errors"
	"github.com/arelec/be-report-validation/internal/workflow"
)

// ValidationCaseRepository manages validation case rows. Every status change
// goes through ApplyTransition, which pairs a compare-and-swap update with
// its audit entry in a single transaction.
type ValidationCaseRepository struct {
	db *database.DB
}

// NewValidationCaseRepository creates a new ValidationCaseRepository.
func NewValidationCaseRepository(db *database.DB) *ValidationCaseRepository {
	return &ValidationCaseRepository{db: db}
}

const caseSelectColumns = `
	id, report_id, report_type, config_id, validator_id,
	step, status, submitted_at, decided_at, expires_at,
	comments, electronic_signature, snapshot_before,
	priority, reminders_sent, created_at, updated_at
`

// CreateDraft inserts a new draft case together with its CREATED audit entry
// in one transaction.
func (r *ValidationCaseRepository) CreateDraft(ctx context.Context, c *workflow.ValidationCase, entry *workflow.AuditEntry) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO validation_cases
			    (report_id, report_type, config_id, validator_id,
			     step, status, snapshot_before, priority)
			VALUES ($1, $2, $3, $4,
			        $5, $6, $7, $8)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, query,
			c.ReportID,
			c.ReportType,
			c.ConfigID,
			c.ValidatorID,
			c.Step,
			c.Status,
			c.SnapshotBefore,
			c.Priority,
		).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create validation case")
		}

		entry.CaseID = &c.ID
		return appendAuditTx(ctx, tx, entry)
	})
}

// GetByID retrieves a case by primary key.
func (r *ValidationCaseRepository) GetByID(ctx context.Context, id workflow.CaseID) (*workflow.ValidationCase, error) {
	query := `SELECT ` + caseSelectColumns + ` FROM validation_cases WHERE id = $1`

	c, err := r.scanCase(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("validation_case", id)
	}
	return c, err
}

// GetActiveByReportID returns the non-terminal case for a report, or nil when
// none exists. At most one such case exists at a time.
func (r *ValidationCaseRepository) GetActiveByReportID(ctx context.Context, reportID workflow.ReportID) (*workflow.ValidationCase, error) {
	query := `
		SELECT ` + caseSelectColumns + `
		FROM validation_cases
		WHERE report_id = $1
		  AND status IN ('draft', 'submitted', 'in_review')
		ORDER BY created_at DESC
		LIMIT 1
	`

	c, err := r.scanCase(r.db.QueryRow(ctx, query, reportID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ApplyTransition persists a transitioned case with a compare-and-swap on the
// pre-transition status, appending the audit entry in the same transaction.
// When another caller already moved the case, no row matches and the caller
// receives a refused-transition conflict; nothing is partially applied.
func (r *ValidationCaseRepository) ApplyTransition(ctx context.Context, c *workflow.ValidationCase, expected workflow.CaseStatus, entry *workflow.AuditEntry) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE validation_cases
			SET status               = $3,
			    validator_id         = $4,
			    step                 = $5,
			    submitted_at         = $6,
			    decided_at           = $7,
			    expires_at           = $8,
			    comments             = $9,
			    electronic_signature = $10,
			    priority             = $11,
			    reminders_sent       = $12,
			    updated_at           = NOW()
			WHERE id = $1 AND status = $2
			RETURNING updated_at
		`

		err := tx.QueryRow(ctx, query,
			c.ID,
			expected,
			c.Status,
			c.ValidatorID,
			c.Step,
			c.SubmittedAt,
			c.DecidedAt,
			c.ExpiresAt,
			c.Comments,
			c.ElectronicSignature,
			c.Priority,
			c.RemindersSent,
		).Scan(&c.UpdatedAt)
		if err == pgx.ErrNoRows {
			return errors.Newf(errors.ErrCodeConflict,
				"transition refused for case %d: status changed concurrently (expected %s)", c.ID, expected)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to apply case transition")
		}

		entry.CaseID = &c.ID
		return appendAuditTx(ctx, tx, entry)
	})
}

// ListPending returns non-terminal cases awaiting a decision, optionally
// filtered to one validator, oldest submission first.
func (r *ValidationCaseRepository) ListPending(ctx context.Context, validatorID *workflow.UserID) ([]*workflow.ValidationCase, error) {
	query := `
		SELECT ` + caseSelectColumns + `
		FROM validation_cases
		WHERE status IN ('submitted', 'in_review')
		  AND ($1::bigint IS NULL OR validator_id = $1)
		ORDER BY submitted_at ASC NULLS LAST, id ASC
	`

	rows, err := r.db.Query(ctx, query, validatorID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending cases")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListOverdue returns pending cases whose deadline has passed as of now.
// These are computed as overdue; they transition to EXPIRED only via the sweep.
func (r *ValidationCaseRepository) ListOverdue(ctx context.Context, now time.Time) ([]*workflow.ValidationCase, error) {
	query := `
		SELECT ` + caseSelectColumns + `
		FROM validation_cases
		WHERE status IN ('submitted', 'in_review')
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
		ORDER BY expires_at ASC
	`

	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list overdue cases")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// FindExpirable returns the ids of pending cases past their deadline, for the
// periodic sweep to expire one by one.
func (r *ValidationCaseRepository) FindExpirable(ctx context.Context, now time.Time) ([]workflow.CaseID, error) {
	query := `
		SELECT id
		FROM validation_cases
		WHERE status IN ('submitted', 'in_review')
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
		ORDER BY expires_at ASC
	`

	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to find expirable cases")
	}
	defer rows.Close()

	var ids []workflow.CaseID
	for rows.Next() {
		var id workflow.CaseID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan case id")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ListRemindable returns pending cases eligible for an automatic reminder:
// deadline not yet passed and no reminder within the given interval.
func (r *ValidationCaseRepository) ListRemindable(ctx context.Context, now time.Time, interval time.Duration) ([]*workflow.ValidationCase, error) {
	query := `
		SELECT ` + caseSelectColumns + `
		FROM validation_cases c
		WHERE c.status IN ('submitted', 'in_review')
		  AND c.expires_at IS NOT NULL
		  AND c.expires_at > $1
		  AND c.updated_at < $2
		  AND EXISTS (
		      SELECT 1 FROM workflow_configs w
		      WHERE w.id = c.config_id AND w.auto_reminder = TRUE
		  )
		ORDER BY c.expires_at ASC
	`

	rows, err := r.db.Query(ctx, query, now, now.Add(-interval))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list remindable cases")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// Stats aggregates case counts and the mean decision delay, optionally
// restricted to cases created under one configuration.
func (r *ValidationCaseRepository) Stats(ctx context.Context, configID *workflow.ConfigID) (*workflow.Stats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'approved'),
		       COUNT(*) FILTER (WHERE status = 'rejected'),
		       COUNT(*) FILTER (WHERE status = 'expired'),
		       COUNT(*) FILTER (WHERE status IN ('submitted', 'in_review')),
		       COALESCE(AVG(EXTRACT(EPOCH FROM (decided_at - submitted_at)) / 3600.0)
		                FILTER (WHERE decided_at IS NOT NULL AND submitted_at IS NOT NULL), 0)
		FROM validation_cases
		WHERE ($1::bigint IS NULL OR config_id = $1)
	`

	stats := &workflow.Stats{}
	err := r.db.QueryRow(ctx, query, configID).Scan(
		&stats.Total,
		&stats.Approved,
		&stats.Rejected,
		&stats.Expired,
		&stats.Pending,
		&stats.MeanDecisionHours,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to aggregate workflow stats")
	}
	return stats, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *ValidationCaseRepository) scanRows(rows pgx.Rows) ([]*workflow.ValidationCase, error) {
	var cases []*workflow.ValidationCase
	for rows.Next() {
		c, err := r.scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, nil
}

func (r *ValidationCaseRepository) scanCase(row rowScanner) (*workflow.ValidationCase, error) {
	c := &workflow.ValidationCase{}
	err := row.Scan(
		&c.ID,
		&c.ReportID,
		&c.ReportType,
		&c.ConfigID,
		&c.ValidatorID,
		&c.Step,
		&c.Status,
		&c.SubmittedAt,
		&c.DecidedAt,
		&c.ExpiresAt,
		&c.Comments,
		&c.ElectronicSignature,
		&c.SnapshotBefore,
		&c.Priority,
		&c.RemindersSent,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// appendAuditTx shares the audit insert between case transactions and the
// standalone AuditRepository.
func appendAuditTx(ctx context.Context, tx pgx.Tx, entry *workflow.AuditEntry) error {
	err := tx.QueryRow(ctx, auditInsertQuery,
		entry.ReportID,
		entry.CaseID,
		entry.ActorID,
		entry.Action,
		entry.Details,
		entry.DataBefore,
		entry.DataAfter,
	).Scan(&entry.ID, &entry.Timestamp)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}
