package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/arelec/be-report-validation/internal/platform/database"
	"github.com/arelec/be-report-validation/internal/platform/errors"
	"github.com/arelec/be-report-validation/internal/workflow"
)

// WorkflowConfigRepository handles CRUD for workflow_configs. One config per
// report type; configs referenced by cases are only ever soft-deleted.
type WorkflowConfigRepository struct {
	db *database.DB
}

// NewWorkflowConfigRepository creates a new WorkflowConfigRepository.
func NewWorkflowConfigRepository(db *database.DB) *WorkflowConfigRepository {
	return &WorkflowConfigRepository{db: db}
}

// Create inserts a new workflow configuration. The unique index on
// report_type enforces the one-config-per-type invariant.
func (r *WorkflowConfigRepository) Create(ctx context.Context, cfg *workflow.WorkflowConfig) error {
	stepsJSON, err := json.Marshal(cfg.StepDefinitions)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal step definitions")
	}

	query := `
		INSERT INTO workflow_configs
		    (report_type, name, description, step_definitions,
		     deadline_hours, required_validators, auto_reminder, active)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		cfg.ReportType,
		cfg.Name,
		cfg.Description,
		stepsJSON,
		cfg.DeadlineHours,
		cfg.RequiredValidators,
		cfg.AutoReminder,
		cfg.Active,
	).Scan(&cfg.ID, &cfg.CreatedAt, &cfg.UpdatedAt)
}

// GetByType returns the active configuration for a report type.
func (r *WorkflowConfigRepository) GetByType(ctx context.Context, reportType workflow.ReportType) (*workflow.WorkflowConfig, error) {
	query := `
		SELECT id, report_type, name, description, step_definitions,
		       deadline_hours, required_validators, auto_reminder, active,
		       created_at, updated_at
		FROM workflow_configs
		WHERE report_type = $1 AND active = TRUE
	`

	cfg, err := r.scanConfig(r.db.QueryRow(ctx, query, reportType))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("workflow_config", reportType)
	}
	return cfg, err
}

// GetByID retrieves a configuration by primary key, active or not.
func (r *WorkflowConfigRepository) GetByID(ctx context.Context, id workflow.ConfigID) (*workflow.WorkflowConfig, error) {
	query := `
		SELECT id, report_type, name, description, step_definitions,
		       deadline_hours, required_validators, auto_reminder, active,
		       created_at, updated_at
		FROM workflow_configs
		WHERE id = $1
	`

	cfg, err := r.scanConfig(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("workflow_config", id)
	}
	return cfg, err
}

// List returns all configurations, optionally restricted to active ones.
func (r *WorkflowConfigRepository) List(ctx context.Context, activeOnly bool) ([]*workflow.WorkflowConfig, error) {
	query := `
		SELECT id, report_type, name, description, step_definitions,
		       deadline_hours, required_validators, auto_reminder, active,
		       created_at, updated_at
		FROM workflow_configs
	`
	if activeOnly {
		query += " WHERE active = TRUE"
	}
	query += " ORDER BY report_type ASC"

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflow configs")
	}
	defer rows.Close()

	var configs []*workflow.WorkflowConfig
	for rows.Next() {
		cfg, err := r.scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// Update persists changes to an existing configuration. Existing cases keep
// their already-computed deadlines; edits apply to future submissions only.
func (r *WorkflowConfigRepository) Update(ctx context.Context, cfg *workflow.WorkflowConfig) error {
	stepsJSON, err := json.Marshal(cfg.StepDefinitions)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal step definitions")
	}

	query := `
		UPDATE workflow_configs
		SET name                = $2,
		    description         = $3,
		    step_definitions    = $4,
		    deadline_hours      = $5,
		    required_validators = $6,
		    auto_reminder       = $7,
		    updated_at          = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		cfg.ID,
		cfg.Name,
		cfg.Description,
		stepsJSON,
		cfg.DeadlineHours,
		cfg.RequiredValidators,
		cfg.AutoReminder,
	).Scan(&cfg.UpdatedAt)

	if err == pgx.ErrNoRows {
		return errors.NotFound("workflow_config", cfg.ID)
	}
	return err
}

// Deactivate soft-deletes a configuration. Cases that reference it keep
// resolving through GetByID.
func (r *WorkflowConfigRepository) Deactivate(ctx context.Context, id workflow.ConfigID) error {
	query := `
		UPDATE workflow_configs
		SET active = FALSE, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID workflow.ConfigID
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("workflow_config", id)
	}
	return err
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowConfigRepository) scanConfig(row rowScanner) (*workflow.WorkflowConfig, error) {
	cfg := &workflow.WorkflowConfig{}
	var stepsJSON []byte

	err := row.Scan(
		&cfg.ID,
		&cfg.ReportType,
		&cfg.Name,
		&cfg.Description,
		&stepsJSON,
		&cfg.DeadlineHours,
		&cfg.RequiredValidators,
		&cfg.AutoReminder,
		&cfg.Active,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &cfg.StepDefinitions); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal step definitions")
		}
	}
	return cfg, nil
}
