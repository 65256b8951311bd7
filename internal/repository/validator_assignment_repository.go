package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/arelec/be-report-validation/internal/platform/database"
	"github.com/arelec/be-report-validation/internal/platform/errors"
	"github.com/arelec/be-report-validation/internal/workflow"
)

// ValidatorAssignmentRepository handles designated-validator records.
type ValidatorAssignmentRepository struct {
	db *database.DB
}

// NewValidatorAssignmentRepository creates a new ValidatorAssignmentRepository.
func NewValidatorAssignmentRepository(db *database.DB) *ValidatorAssignmentRepository {
	return &ValidatorAssignmentRepository{db: db}
}

// Create inserts a new validator assignment.
func (r *ValidatorAssignmentRepository) Create(ctx context.Context, a *workflow.ValidatorAssignment) error {
	query := `
		INSERT INTO validator_assignments
		    (operator_id, validator_id, report_type,
		     validation_level, can_validate_urgent, deadline_override_hours, active)
		VALUES ($1, $2, $3,
		        $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		a.OperatorID,
		a.ValidatorID,
		a.ReportType,
		a.ValidationLevel,
		a.CanValidateUrgent,
		a.DeadlineOverrideHours,
		a.Active,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

// ListEligible returns the active assignments for an operator and report
// type, ascending by validation level. Assignments sharing a level keep
// insertion order (id ascending) — a known simplification, no tie-break or
// load balancing across equal levels.
func (r *ValidatorAssignmentRepository) ListEligible(ctx context.Context, operatorID workflow.OperatorID, reportType workflow.ReportType) ([]*workflow.ValidatorAssignment, error) {
	query := `
		SELECT id, operator_id, validator_id, report_type,
		       validation_level, can_validate_urgent, deadline_override_hours, active,
		       created_at, updated_at
		FROM validator_assignments
		WHERE operator_id = $1
		  AND report_type = $2
		  AND active = TRUE
		ORDER BY validation_level ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, operatorID, reportType)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list eligible validators")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// List returns assignments filtered by optional operator and report type.
func (r *ValidatorAssignmentRepository) List(ctx context.Context, operatorID *workflow.OperatorID, reportType *workflow.ReportType) ([]*workflow.ValidatorAssignment, error) {
	query := `
		SELECT id, operator_id, validator_id, report_type,
		       validation_level, can_validate_urgent, deadline_override_hours, active,
		       created_at, updated_at
		FROM validator_assignments
		WHERE ($1::bigint IS NULL OR operator_id = $1)
		  AND ($2::text IS NULL OR report_type = $2)
		ORDER BY operator_id ASC, report_type ASC, validation_level ASC
	`

	rows, err := r.db.Query(ctx, query, operatorID, reportType)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list validator assignments")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// Deactivate soft-deletes an assignment.
func (r *ValidatorAssignmentRepository) Deactivate(ctx context.Context, id workflow.AssignmentID) error {
	query := `
		UPDATE validator_assignments
		SET active = FALSE, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID workflow.AssignmentID
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("validator_assignment", id)
	}
	return err
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *ValidatorAssignmentRepository) scanRows(rows pgx.Rows) ([]*workflow.ValidatorAssignment, error) {
	var assignments []*workflow.ValidatorAssignment
	for rows.Next() {
		a := &workflow.ValidatorAssignment{}
		err := rows.Scan(
			&a.ID,
			&a.OperatorID,
			&a.ValidatorID,
			&a.ReportType,
			&a.ValidationLevel,
			&a.CanValidateUrgent,
			&a.DeadlineOverrideHours,
			&a.Active,
			&a.CreatedAt,
			&a.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan validator assignment")
		}
		assignments = append(assignments, a)
	}
	return assignments, nil
}
