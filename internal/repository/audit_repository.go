package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/arelec/be-report-validation/internal/platform/database"
	"github.com/arelec/be-report-validation/internal/platform/errors"
	"github.com/arelec/be-report-validation/internal/workflow"
)

// AuditRepository appends and reads the immutable validation ledger. The
// table carries a delete-prevention trigger, so append is the only mutation
// exposed here.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

const auditInsertQuery = `
	INSERT INTO validation_audit_log
	    (report_id, case_id, actor_id, action, details, data_before, data_after)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id, timestamp
`

// Append inserts one audit entry on its own connection. Transitions use
// AppendTx instead so the entry commits atomically with the status change.
func (r *AuditRepository) Append(ctx context.Context, entry *workflow.AuditEntry) error {
	err := r.db.QueryRow(ctx, auditInsertQuery,
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

// AppendTx inserts one audit entry inside an open transaction.
func (r *AuditRepository) AppendTx(ctx context.Context, tx pgx.Tx, entry *workflow.AuditEntry) error {
	return appendAuditTx(ctx, tx, entry)
}

// HistoryForReport returns the full ledger for a report. Descending order is
// the display default; ascending replay reconstructs the transition sequence
// for audit purposes.
func (r *AuditRepository) HistoryForReport(ctx context.Context, reportID workflow.ReportID, ascending bool) ([]*workflow.AuditEntry, error) {
	query := `
		SELECT id, report_id, case_id, actor_id, action, details,
		       timestamp, data_before, data_after
		FROM validation_audit_log
		WHERE report_id = $1
		ORDER BY timestamp DESC, id DESC
	`
	if ascending {
		query = `
		SELECT id, report_id, case_id, actor_id, action, details,
		       timestamp, data_before, data_after
		FROM validation_audit_log
		WHERE report_id = $1
		ORDER BY timestamp ASC, id ASC
	`
	}

	rows, err := r.db.Query(ctx, query, reportID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit history")
	}
	defer rows.Close()

	var entries []*workflow.AuditEntry
	for rows.Next() {
		entry := &workflow.AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.ReportID,
			&entry.CaseID,
			&entry.ActorID,
			&entry.Action,
			&entry.Details,
			&entry.Timestamp,
			&entry.DataBefore,
			&entry.DataAfter,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
