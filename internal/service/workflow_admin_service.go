package service

import (
	"context"

	"github.com/arelec/be-report-validation/internal/platform/errors"
	"github.com/arelec/be-report-validation/internal/platform/logger"
	"github.com/arelec/be-report-validation/internal/workflow"
)

// WorkflowAdminService manages workflow configurations and validator
// assignments, and serves the reporting statistics.
type WorkflowAdminService struct {
	configs     ConfigStore
	assignments AssignmentStore
	cases       CaseStore
	log         *logger.Logger
}

// NewWorkflowAdminService creates a new WorkflowAdminService.
func NewWorkflowAdminService(configs ConfigStore, assignments AssignmentStore, cases CaseStore, log *logger.Logger) *WorkflowAdminService {
	return &WorkflowAdminService{
		configs:     configs,
		assignments: assignments,
		cases:       cases,
		log:         log,
	}
}

// ── Workflow configurations ───────────────────────────────────────────────────

// CreateConfig validates and inserts a workflow configuration.
func (s *WorkflowAdminService) CreateConfig(ctx context.Context, cfg *workflow.WorkflowConfig) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}
	cfg.Active = true
	return s.configs.Create(ctx, cfg)
}

// UpdateConfig validates and persists changes to an existing configuration.
// Cases already submitted keep their captured deadlines.
func (s *WorkflowAdminService) UpdateConfig(ctx context.Context, cfg *workflow.WorkflowConfig) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}
	return s.configs.Update(ctx, cfg)
}

// GetConfig returns the active configuration for a report type.
func (s *WorkflowAdminService) GetConfig(ctx context.Context, reportType workflow.ReportType) (*workflow.WorkflowConfig, error) {
	return s.configs.GetByType(ctx, reportType)
}

// ListConfigs returns all configurations.
func (s *WorkflowAdminService) ListConfigs(ctx context.Context, activeOnly bool) ([]*workflow.WorkflowConfig, error) {
	return s.configs.List(ctx, activeOnly)
}

// DeactivateConfig soft-deletes a configuration; cases referencing it remain
// readable through their captured config id.
func (s *WorkflowAdminService) DeactivateConfig(ctx context.Context, id workflow.ConfigID) error {
	return s.configs.Deactivate(ctx, id)
}

// defaultConfig describes one seeded per-type configuration.
type defaultConfig struct {
	reportType    workflow.ReportType
	name          string
	description   string
	deadlineHours int
	validators    int
}

// defaultConfigs carries the regulator's standard per-type deadlines.
var defaultConfigs = []defaultConfig{
	{workflow.ReportProduction, "Production Validation", "Workflow for electricity production reports", 48, 1},
	{workflow.ReportTransport, "Transport Validation", "Workflow for electricity transport reports", 72, 1},
	{workflow.ReportDistribution, "Distribution Validation", "Workflow for electricity distribution reports", 72, 1},
	{workflow.ReportMaintenance, "Maintenance Validation", "Workflow for maintenance reports", 24, 1},
	{workflow.ReportIncident, "Incident Validation", "Workflow for incident reports", 12, 1},
	{workflow.ReportFinancial, "Financial Validation", "Workflow for financial reports", 120, 2},
	{workflow.ReportTechnical, "Technical Validation", "Workflow for technical reports", 96, 1},
	{workflow.ReportEnvironmental, "Environmental Validation", "Workflow for environmental reports", 168, 1},
}

// SeedDefaultConfigs creates the standard configuration for every report type
// that does not have one yet. Idempotent; returns how many were created.
func (s *WorkflowAdminService) SeedDefaultConfigs(ctx context.Context) (int, error) {
	created := 0
	for _, def := range defaultConfigs {
		_, err := s.configs.GetByType(ctx, def.reportType)
		if err == nil {
			continue
		}
		if !errors.IsCode(err, errors.ErrCodeNotFound) {
			return created, err
		}

		desc := def.description
		cfg := &workflow.WorkflowConfig{
			ReportType:         def.reportType,
			Name:               def.name,
			Description:        &desc,
			DeadlineHours:      def.deadlineHours,
			RequiredValidators: def.validators,
			AutoReminder:       true,
			Active:             true,
		}
		if err := s.configs.Create(ctx, cfg); err != nil {
			return created, err
		}
		created++
		s.log.Info().Str("report_type", string(def.reportType)).Msg("Default workflow config created")
	}
	return created, nil
}

// ── Validator assignments ─────────────────────────────────────────────────────

// CreateAssignment validates and inserts a designated-validator record.
func (s *WorkflowAdminService) CreateAssignment(ctx context.Context, a *workflow.ValidatorAssignment) error {
	if a.OperatorID <= 0 {
		return errors.InvalidInput("operator_id", "must be positive")
	}
	if a.ValidatorID <= 0 {
		return errors.InvalidInput("validator_id", "must be positive")
	}
	if a.ValidationLevel <= 0 {
		return errors.InvalidInput("validation_level", "must be positive")
	}
	if a.DeadlineOverrideHours != nil && *a.DeadlineOverrideHours <= 0 {
		return errors.InvalidInput("deadline_override_hours", "must be positive when set")
	}
	a.Active = true
	return s.assignments.Create(ctx, a)
}

// ListAssignments returns assignments filtered by optional operator and type.
func (s *WorkflowAdminService) ListAssignments(ctx context.Context, operatorID *workflow.OperatorID, reportType *workflow.ReportType) ([]*workflow.ValidatorAssignment, error) {
	return s.assignments.List(ctx, operatorID, reportType)
}

// DeactivateAssignment soft-deletes an assignment.
func (s *WorkflowAdminService) DeactivateAssignment(ctx context.Context, id workflow.AssignmentID) error {
	return s.assignments.Deactivate(ctx, id)
}

// ── Statistics ────────────────────────────────────────────────────────────────

// Stats aggregates validation outcomes, optionally for one configuration.
func (s *WorkflowAdminService) Stats(ctx context.Context, configID *workflow.ConfigID) (*workflow.Stats, error) {
	stats, err := s.cases.Stats(ctx, configID)
	if err != nil {
		return nil, err
	}
	if stats.Total > 0 {
		stats.ApprovalRate = float64(stats.Approved) / float64(stats.Total) * 100
	}
	return stats, nil
}

// ── validation ────────────────────────────────────────────────────────────────

func validateConfig(cfg *workflow.WorkflowConfig) error {
	if _, err := workflow.ParseReportType(string(cfg.ReportType)); err != nil {
		return err
	}
	if cfg.Name == "" {
		return errors.InvalidInput("name", "is required")
	}
	if cfg.DeadlineHours <= 0 {
		return errors.InvalidInput("deadline_hours", "must be positive")
	}
	if cfg.RequiredValidators <= 0 {
		return errors.InvalidInput("required_validators", "must be positive")
	}
	return nil
}
