package workflow

import (
	"fmt"
	"time"

	"github.com/arelec/be-report-validation/internal/platform/errors"
)

// ── Identifier newtypes ───────────────────────────────────────────────────────
//
// Reports, operators and users are owned by external systems; these wrappers
// keep the untyped foreign ids from being mixed up. Lookups against them may
// not resolve — referential integrity is not assumed.

type ReportID int64

type CaseID int64

type ConfigID int64

type AssignmentID int64

type OperatorID int64

type UserID int64

// ── Report types ──────────────────────────────────────────────────────────────

// ReportType classifies a regulatory report. Exactly one workflow
// configuration exists per type.
type ReportType string

const (
	ReportProduction    ReportType = "production"
	ReportTransport     ReportType = "transport"
	ReportDistribution  ReportType = "distribution"
	ReportMaintenance   ReportType = "maintenance"
	ReportIncident      ReportType = "incident"
	ReportFinancial     ReportType = "financial"
	ReportTechnical     ReportType = "technical"
	ReportEnvironmental ReportType = "environmental"
)

// ReportTypes lists all known report types in display order.
var ReportTypes = []ReportType{
	ReportProduction,
	ReportTransport,
	ReportDistribution,
	ReportMaintenance,
	ReportIncident,
	ReportFinancial,
	ReportTechnical,
	ReportEnvironmental,
}

// ParseReportType validates a wire value against the known set.
func ParseReportType(s string) (ReportType, error) {
	rt := ReportType(s)
	for _, known := range ReportTypes {
		if rt == known {
			return rt, nil
		}
	}
	return "", errors.InvalidInput("report_type", fmt.Sprintf("unknown report type %q", s))
}

// ── Case status ───────────────────────────────────────────────────────────────

// CaseStatus is the state of a validation case.
type CaseStatus string

const (
	StatusDraft     CaseStatus = "draft"
	StatusSubmitted CaseStatus = "submitted"
	StatusInReview  CaseStatus = "in_review"
	StatusApproved  CaseStatus = "approved"
	StatusRejected  CaseStatus = "rejected"
	StatusExpired   CaseStatus = "expired"
)

// IsTerminal reports whether no further normal transitions are permitted.
func (s CaseStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// IsPending reports whether the case is awaiting a validator decision.
func (s CaseStatus) IsPending() bool {
	return s == StatusSubmitted || s == StatusInReview
}

// ── Audit actions ─────────────────────────────────────────────────────────────

// ActionKind classifies an audit ledger entry.
type ActionKind string

const (
	ActionCreated   ActionKind = "created"
	ActionSubmitted ActionKind = "submitted"
	ActionValidated ActionKind = "validated"
	ActionRejected  ActionKind = "rejected"
	ActionModified  ActionKind = "modified"
	ActionExpired   ActionKind = "expired"
	ActionReminded  ActionKind = "reminded"
)

// ── Priorities ────────────────────────────────────────────────────────────────

const (
	PriorityNormal   = 1
	PriorityUrgent   = 2
	PriorityCritical = 3
)

// ── Entities ──────────────────────────────────────────────────────────────────

// StepDefinition is one entry in a configuration's ordered step sequence.
// The engine stores and displays these; it does not interpret them.
type StepDefinition struct {
	Step        int    `json:"step"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// WorkflowConfig is the per report-type validation configuration.
// Treated as immutable per case: deadlines are captured at submission time
// and never recomputed when an administrator edits the config.
type WorkflowConfig struct {
	ID                 ConfigID
	ReportType         ReportType
	Name               string
	Description        *string
	StepDefinitions    []StepDefinition
	DeadlineHours      int // validation deadline, default 72
	RequiredValidators int
	AutoReminder       bool
	Active             bool // soft-delete flag; configs referenced by cases are never hard-deleted
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DeadlineExpired reports whether the configured deadline has lapsed for a
// submission time. A nil submittedAt always returns false.
func (c *WorkflowConfig) DeadlineExpired(submittedAt *time.Time, now time.Time) bool {
	if submittedAt == nil {
		return false
	}
	return now.After(submittedAt.Add(time.Duration(c.DeadlineHours) * time.Hour))
}

// ValidatorAssignment designates an eligible validator for one operator and
// report type. Multiple assignments per (operator, type) express multi-level
// chains; selection is by ascending ValidationLevel.
type ValidatorAssignment struct {
	ID                    AssignmentID
	OperatorID            OperatorID
	ValidatorID           UserID
	ReportType            ReportType
	ValidationLevel       int
	CanValidateUrgent     bool
	DeadlineOverrideHours *int // overrides the config deadline when present
	Active                bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// DeadlineHoursFor resolves the effective deadline: the assignment override
// when present, otherwise the config default.
func (a *ValidatorAssignment) DeadlineHoursFor(cfg *WorkflowConfig) int {
	if a != nil && a.DeadlineOverrideHours != nil && *a.DeadlineOverrideHours > 0 {
		return *a.DeadlineOverrideHours
	}
	return cfg.DeadlineHours
}

// ValidationCase is one validation lifecycle instance for a report. A report
// may accumulate terminal cases historically, but at most one case is
// non-terminal at a time.
type ValidationCase struct {
	ID                  CaseID
	ReportID            ReportID
	ReportType          ReportType
	ConfigID            ConfigID
	ValidatorID         *UserID
	Step                string
	Status              CaseStatus
	SubmittedAt         *time.Time
	DecidedAt           *time.Time
	ExpiresAt           *time.Time
	Comments            *string
	ElectronicSignature *string
	SnapshotBefore      *string // serialized report data captured at submission
	Priority            int
	RemindersSent       int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsOverdue reports whether the case is logically past its deadline. This is
// a pure computation; the case only becomes EXPIRED through the sweep or an
// explicit Expire call.
func (c *ValidationCase) IsOverdue(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return now.After(*c.ExpiresAt)
}

// RemainingTime renders the time left before expiry for display, or "expired"
// once the deadline has passed. Returns "" when no deadline is set.
func (c *ValidationCase) RemainingTime(now time.Time) string {
	if c.ExpiresAt == nil {
		return ""
	}
	delta := c.ExpiresAt.Sub(now)
	if delta <= 0 {
		return "expired"
	}
	days := int(delta.Hours()) / 24
	hours := int(delta.Hours()) % 24
	if days > 0 {
		return fmt.Sprintf("%dd %dh", days, hours)
	}
	return fmt.Sprintf("%dh", hours)
}

// AuditEntry is one immutable record in the append-only validation ledger.
type AuditEntry struct {
	ID         int64
	ReportID   ReportID
	CaseID     *CaseID // nil for pre-case actions
	ActorID    UserID
	Action     ActionKind
	Details    *string
	Timestamp  time.Time
	DataBefore *string
	DataAfter  *string
}

// Stats aggregates validation outcomes for reporting dashboards.
type Stats struct {
	Total             int64   `json:"total"`
	Approved          int64   `json:"approved"`
	Rejected          int64   `json:"rejected"`
	Expired           int64   `json:"expired"`
	Pending           int64   `json:"pending"`
	MeanDecisionHours float64 `json:"mean_decision_hours"`
	ApprovalRate      float64 `json:"approval_rate"`
}

// ── Clock ─────────────────────────────────────────────────────────────────────

// Clock abstracts the current time so expiry logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall-clock implementation used in production.
func SystemClock() Clock { return systemClock{} }
