package service

import (
	"context"
	"time"

	"github.com/arelec/be-report-validation/internal/workflow"
)

// Store interfaces are satisfied by the postgres repositories and by the
// in-memory implementations used in tests.

// ConfigStore persists workflow configurations.
type ConfigStore interface {
	Create(ctx context.Context, cfg *workflow.WorkflowConfig) error
	GetByType(ctx context.Context, reportType workflow.ReportType) (*workflow.WorkflowConfig, error)
	GetByID(ctx context.Context, id workflow.ConfigID) (*workflow.WorkflowConfig, error)
	List(ctx context.Context, activeOnly bool) ([]*workflow.WorkflowConfig, error)
	Update(ctx context.Context, cfg *workflow.WorkflowConfig) error
	Deactivate(ctx context.Context, id workflow.ConfigID) error
}

// AssignmentStore persists designated-validator records.
type AssignmentStore interface {
	Create(ctx context.Context, a *workflow.ValidatorAssignment) error
	ListEligible(ctx context.Context, operatorID workflow.OperatorID, reportType workflow.ReportType) ([]*workflow.ValidatorAssignment, error)
	List(ctx context.Context, operatorID *workflow.OperatorID, reportType *workflow.ReportType) ([]*workflow.ValidatorAssignment, error)
	Deactivate(ctx context.Context, id workflow.AssignmentID) error
}

// CaseStore persists validation cases. ApplyTransition must commit the status
// change and its audit entry as one atomic unit, refusing with a conflict
// when the stored status no longer matches expected.
type CaseStore interface {
	CreateDraft(ctx context.Context, c *workflow.ValidationCase, entry *workflow.AuditEntry) error
	GetByID(ctx context.Context, id workflow.CaseID) (*workflow.ValidationCase, error)
	GetActiveByReportID(ctx context.Context, reportID workflow.ReportID) (*workflow.ValidationCase, error)
	ApplyTransition(ctx context.Context, c *workflow.ValidationCase, expected workflow.CaseStatus, entry *workflow.AuditEntry) error
	ListPending(ctx context.Context, validatorID *workflow.UserID) ([]*workflow.ValidationCase, error)
	ListOverdue(ctx context.Context, now time.Time) ([]*workflow.ValidationCase, error)
	FindExpirable(ctx context.Context, now time.Time) ([]workflow.CaseID, error)
	ListRemindable(ctx context.Context, now time.Time, interval time.Duration) ([]*workflow.ValidationCase, error)
	Stats(ctx context.Context, configID *workflow.ConfigID) (*workflow.Stats, error)
}

// AuditStore appends and reads the immutable ledger. Entries written through
// CaseStore.ApplyTransition land in the same ledger.
type AuditStore interface {
	Append(ctx context.Context, entry *workflow.AuditEntry) error
	HistoryForReport(ctx context.Context, reportID workflow.ReportID, ascending bool) ([]*workflow.AuditEntry, error)
}

// IdentityClient resolves principal attributes from the identity service.
// Lookups of externally-owned ids may not resolve; callers treat a false
// answer and a missing user identically.
type IdentityClient interface {
	IsAdministrator(ctx context.Context, userID workflow.UserID) (bool, error)
}

// Notifier publishes notification decisions. Delivery is external; publish
// failures are logged by implementations and never propagate to callers.
type Notifier interface {
	PublishValidationEvent(ctx context.Context, eventType string, c *workflow.ValidationCase, actorID workflow.UserID)
}
