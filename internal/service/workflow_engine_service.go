package service

import (
	"context"
	"fmt"
	"time"

	"github.com/arelec/be-report-validation/internal/platform/errors"
	"github.com/arelec/be-report-validation/internal/platform/logger"
	"github.com/arelec/be-report-validation/internal/platform/metrics"
	"github.com/arelec/be-report-validation/internal/workflow"
)

// SystemActorID attributes sweep-driven audit entries (expiry, automatic
// reminders) that no human principal performed.
const SystemActorID workflow.UserID = 0

// Notification event types published on workflow transitions.
const (
	EventSubmitted        = "report_submitted"
	EventApproved         = "report_approved"
	EventRejected         = "report_rejected"
	EventChangesRequested = "report_changes_requested"
	EventExpired          = "report_expired"
	EventReminder         = "report_reminder"
)

// DecideAction selects the decision applied by Decide.
type DecideAction string

const (
	DecideApprove        DecideAction = "approve"
	DecideReject         DecideAction = "reject"
	DecideRequestChanges DecideAction = "request_changes"
)

// WorkflowEngineService orchestrates the validation state machine: permission
// checks, validator selection, deadline computation and the audit trail.
type WorkflowEngineService struct {
	configs     ConfigStore
	assignments AssignmentStore
	cases       CaseStore
	audit       AuditStore
	identity    IdentityClient
	notifier    Notifier
	clock       workflow.Clock
	metrics     *metrics.Metrics
	log         *logger.Logger
}

// NewWorkflowEngineService creates a new WorkflowEngineService.
func NewWorkflowEngineService(
	configs ConfigStore,
	assignments AssignmentStore,
	cases CaseStore,
	audit AuditStore,
	identity IdentityClient,
	notifier Notifier,
	clock workflow.Clock,
	m *metrics.Metrics,
	log *logger.Logger,
) *WorkflowEngineService {
	return &WorkflowEngineService{
		configs:     configs,
		assignments: assignments,
		cases:       cases,
		audit:       audit,
		identity:    identity,
		notifier:    notifier,
		clock:       clock,
		metrics:     m,
		log:         log,
	}
}

// SubmitRequest carries everything the external reporting module supplies on
// submission. OperatorID identifies the reporting operator so the engine can
// resolve designated validators.
type SubmitRequest struct {
	ReportID    workflow.ReportID
	ReportType  workflow.ReportType
	OperatorID  workflow.OperatorID
	SubmitterID workflow.UserID
	Comments    string
	Priority    int
	Snapshot    *string // serialized report data at submission time
}

// SubmitForValidation creates or reuses a draft case for the report and moves
// it to SUBMITTED: deadline computed from the config (or assignment
// override), validator selected by ascending level, audit entry appended
// atomically with the transition.
func (s *WorkflowEngineService) SubmitForValidation(ctx context.Context, req SubmitRequest) (*workflow.ValidationCase, error) {
	if req.Priority == 0 {
		req.Priority = workflow.PriorityNormal
	}
	if req.Priority < workflow.PriorityNormal || req.Priority > workflow.PriorityCritical {
		return nil, errors.InvalidInput("priority", "must be 1 (normal), 2 (urgent) or 3 (critical)")
	}

	// One active case per report: anything pending blocks a new submission.
	existing, err := s.cases.GetActiveByReportID(ctx, req.ReportID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status != workflow.StatusDraft {
		s.metrics.IncrementTransition(string(workflow.ActSubmit), "refused")
		return nil, errors.Newf(errors.ErrCodeConflict,
			"report %d already has an active validation case (status %s)", req.ReportID, existing.Status)
	}

	cfg, err := s.configs.GetByType(ctx, req.ReportType)
	if err != nil {
		// ConfigMissing: submission cannot proceed without a workflow config.
		return nil, err
	}

	c := existing
	if c == nil {
		c = &workflow.ValidationCase{
			ReportID:       req.ReportID,
			ReportType:     req.ReportType,
			ConfigID:       cfg.ID,
			Step:           "initial_validation",
			Status:         workflow.StatusDraft,
			SnapshotBefore: req.Snapshot,
			Priority:       req.Priority,
		}
		created := &workflow.AuditEntry{
			ReportID: req.ReportID,
			ActorID:  req.SubmitterID,
			Action:   workflow.ActionCreated,
			Details:  strPtr(fmt.Sprintf("Validation case created for %s report %d", req.ReportType, req.ReportID)),
		}
		if err := s.cases.CreateDraft(ctx, c, created); err != nil {
			return nil, err
		}
	}
	c.Priority = req.Priority

	// First-available selection: lowest validation level wins; equal levels
	// fall back to insertion order. No load balancing.
	assignment, err := s.selectValidator(ctx, req.OperatorID, req.ReportType)
	if err != nil {
		return nil, err
	}
	if assignment != nil {
		c.ValidatorID = &assignment.ValidatorID
	}

	prior := c.Status
	if err := c.ApplySubmit(req.SubmitterID, s.clock.Now(), assignment.DeadlineHoursFor(cfg)); err != nil {
		s.metrics.IncrementTransition(string(workflow.ActSubmit), "refused")
		return nil, err
	}

	entry := &workflow.AuditEntry{
		ReportID: c.ReportID,
		ActorID:  req.SubmitterID,
		Action:   workflow.ActionSubmitted,
		Details:  strPtr(fmt.Sprintf("Report submitted for validation - type: %s", c.ReportType)),
	}
	if err := s.cases.ApplyTransition(ctx, c, prior, entry); err != nil {
		s.metrics.IncrementTransition(string(workflow.ActSubmit), transitionOutcome(err))
		return nil, err
	}
	s.metrics.IncrementTransition(string(workflow.ActSubmit), "applied")

	if req.Comments != "" {
		s.appendAudit(ctx, &workflow.AuditEntry{
			ReportID: c.ReportID,
			CaseID:   &c.ID,
			ActorID:  req.SubmitterID,
			Action:   workflow.ActionModified,
			Details:  strPtr("Submission comments: " + req.Comments),
		})
	}

	s.log.Info().
		Int64("report_id", int64(c.ReportID)).
		Int64("case_id", int64(c.ID)).
		Str("report_type", string(c.ReportType)).
		Time("expires_at", *c.ExpiresAt).
		Msg("Report submitted for validation")

	s.notify(ctx, EventSubmitted, c, req.SubmitterID)
	return c, nil
}

// Decide applies a validator decision to a case. The actor must be an
// administrator or the case's assigned validator.
func (s *WorkflowEngineService) Decide(ctx context.Context, caseID workflow.CaseID, actorID workflow.UserID, action DecideAction, comments, signature string) (*workflow.ValidationCase, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeDecision(ctx, c, actorID); err != nil {
		return nil, err
	}

	prior := c.Status
	now := s.clock.Now()
	var entry *workflow.AuditEntry
	var event string

	switch action {
	case DecideApprove:
		if err := c.ApplyApprove(actorID, optStr(comments), optStr(signature), now); err != nil {
			s.metrics.IncrementTransition(string(workflow.ActApprove), "refused")
			return nil, err
		}
		entry = &workflow.AuditEntry{
			ReportID: c.ReportID,
			ActorID:  actorID,
			Action:   workflow.ActionValidated,
			Details:  strPtr("Report approved" + commentSuffix(comments)),
		}
		event = EventApproved

	case DecideReject:
		if err := c.ApplyReject(actorID, comments, now); err != nil {
			s.metrics.IncrementTransition(string(workflow.ActReject), "refused")
			return nil, err
		}
		entry = &workflow.AuditEntry{
			ReportID: c.ReportID,
			ActorID:  actorID,
			Action:   workflow.ActionRejected,
			Details:  strPtr("Report rejected - reason: " + comments),
		}
		event = EventRejected

	case DecideRequestChanges:
		if err := c.ApplyRequestChanges(actorID, comments); err != nil {
			s.metrics.IncrementTransition(string(workflow.ActRequestChanges), "refused")
			return nil, err
		}
		entry = &workflow.AuditEntry{
			ReportID: c.ReportID,
			ActorID:  actorID,
			Action:   workflow.ActionModified,
			Details:  strPtr("Changes requested" + commentSuffix(comments)),
		}
		event = EventChangesRequested

	default:
		return nil, errors.InvalidInput("action", fmt.Sprintf("unknown decision action %q", action))
	}

	if err := s.cases.ApplyTransition(ctx, c, prior, entry); err != nil {
		s.metrics.IncrementTransition(string(action), transitionOutcome(err))
		return nil, err
	}
	s.metrics.IncrementTransition(string(action), "applied")

	s.log.Info().
		Int64("case_id", int64(c.ID)).
		Int64("actor_id", int64(actorID)).
		Str("action", string(action)).
		Str("status", string(c.Status)).
		Msg("Validation decision applied")

	s.notify(ctx, event, c, actorID)
	return c, nil
}

// StartReview marks a submitted case as actively under review by its
// validator. Permission rules match Decide.
func (s *WorkflowEngineService) StartReview(ctx context.Context, caseID workflow.CaseID, actorID workflow.UserID) (*workflow.ValidationCase, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeDecision(ctx, c, actorID); err != nil {
		return nil, err
	}

	prior := c.Status
	if err := c.ApplyStartReview(actorID); err != nil {
		s.metrics.IncrementTransition(string(workflow.ActStartReview), "refused")
		return nil, err
	}

	entry := &workflow.AuditEntry{
		ReportID: c.ReportID,
		ActorID:  actorID,
		Action:   workflow.ActionModified,
		Details:  strPtr("Review started"),
	}
	if err := s.cases.ApplyTransition(ctx, c, prior, entry); err != nil {
		s.metrics.IncrementTransition(string(workflow.ActStartReview), transitionOutcome(err))
		return nil, err
	}
	s.metrics.IncrementTransition(string(workflow.ActStartReview), "applied")
	return c, nil
}

// Remind records a manual reminder on a pending case. Administrator only.
func (s *WorkflowEngineService) Remind(ctx context.Context, caseID workflow.CaseID, actorID workflow.UserID) (*workflow.ValidationCase, error) {
	admin, err := s.identity.IsAdministrator(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !admin {
		return nil, errors.Forbidden("only administrators may send reminders")
	}
	return s.remind(ctx, caseID, actorID)
}

func (s *WorkflowEngineService) remind(ctx context.Context, caseID workflow.CaseID, actorID workflow.UserID) (*workflow.ValidationCase, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}

	prior := c.Status
	if err := c.ApplyRemind(actorID); err != nil {
		s.metrics.IncrementTransition(string(workflow.ActRemind), "refused")
		return nil, err
	}

	entry := &workflow.AuditEntry{
		ReportID: c.ReportID,
		ActorID:  actorID,
		Action:   workflow.ActionReminded,
		Details:  strPtr(fmt.Sprintf("Reminder #%d sent", c.RemindersSent)),
	}
	if err := s.cases.ApplyTransition(ctx, c, prior, entry); err != nil {
		s.metrics.IncrementTransition(string(workflow.ActRemind), transitionOutcome(err))
		return nil, err
	}
	s.metrics.IncrementTransition(string(workflow.ActRemind), "applied")
	s.metrics.IncrementReminders()

	s.notify(ctx, EventReminder, c, actorID)
	return c, nil
}

// Expire formally transitions one overdue case to EXPIRED. Invoked by the
// sweep; a case that lost a concurrent decision race is skipped via the
// compare-and-swap refusal.
func (s *WorkflowEngineService) Expire(ctx context.Context, caseID workflow.CaseID) (*workflow.ValidationCase, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}

	prior := c.Status
	if err := c.ApplyExpire(s.clock.Now()); err != nil {
		s.metrics.IncrementTransition(string(workflow.ActExpire), "refused")
		return nil, err
	}

	entry := &workflow.AuditEntry{
		ReportID: c.ReportID,
		ActorID:  SystemActorID,
		Action:   workflow.ActionExpired,
		Details:  strPtr("Validation deadline passed; case expired automatically"),
	}
	if err := s.cases.ApplyTransition(ctx, c, prior, entry); err != nil {
		s.metrics.IncrementTransition(string(workflow.ActExpire), transitionOutcome(err))
		return nil, err
	}
	s.metrics.IncrementTransition(string(workflow.ActExpire), "applied")
	s.metrics.IncrementExpirations()

	s.notify(ctx, EventExpired, c, SystemActorID)
	return c, nil
}

// FindExpirable returns ids of pending cases past their deadline as of now.
func (s *WorkflowEngineService) FindExpirable(ctx context.Context) ([]workflow.CaseID, error) {
	return s.cases.FindExpirable(ctx, s.clock.Now())
}

// SweepExpired expires every currently overdue case, returning the number
// transitioned. Lost races are logged and skipped, not treated as failures.
func (s *WorkflowEngineService) SweepExpired(ctx context.Context) (int, error) {
	ids, err := s.FindExpirable(ctx)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		if _, err := s.Expire(ctx, id); err != nil {
			if errors.IsCode(err, errors.ErrCodeConflict) {
				s.log.Debug().Int64("case_id", int64(id)).Msg("Case decided before sweep reached it")
				continue
			}
			return expired, err
		}
		expired++
	}

	if expired > 0 {
		s.log.Info().Int("count", expired).Msg("Expired overdue validation cases")
	}
	return expired, nil
}

// SendAutoReminders records a system reminder on every pending case whose
// config has auto-reminders enabled and that has been idle for interval.
func (s *WorkflowEngineService) SendAutoReminders(ctx context.Context, interval time.Duration) (int, error) {
	cases, err := s.cases.ListRemindable(ctx, s.clock.Now(), interval)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, c := range cases {
		if _, err := s.remind(ctx, c.ID, SystemActorID); err != nil {
			if errors.IsCode(err, errors.ErrCodeConflict) {
				continue
			}
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// ListPending returns non-terminal cases awaiting a decision, oldest first,
// optionally filtered to one validator.
func (s *WorkflowEngineService) ListPending(ctx context.Context, validatorID *workflow.UserID) ([]*workflow.ValidationCase, error) {
	return s.cases.ListPending(ctx, validatorID)
}

// ListExpired returns pending cases computed as overdue right now. They may
// not have formally transitioned to EXPIRED yet; that happens in the sweep.
func (s *WorkflowEngineService) ListExpired(ctx context.Context) ([]*workflow.ValidationCase, error) {
	return s.cases.ListOverdue(ctx, s.clock.Now())
}

// GetCase retrieves one case by id.
func (s *WorkflowEngineService) GetCase(ctx context.Context, id workflow.CaseID) (*workflow.ValidationCase, error) {
	return s.cases.GetByID(ctx, id)
}

// History returns the audit ledger for a report, newest first by default.
func (s *WorkflowEngineService) History(ctx context.Context, reportID workflow.ReportID, ascending bool) ([]*workflow.AuditEntry, error) {
	return s.audit.HistoryForReport(ctx, reportID, ascending)
}

// Now exposes the engine clock so collaborating layers render remaining time
// consistently with expiry decisions.
func (s *WorkflowEngineService) Now() workflow.Clock {
	return s.clock
}

// ── internal helpers ──────────────────────────────────────────────────────────

// authorizeDecision allows administrators and the case's assigned validator.
func (s *WorkflowEngineService) authorizeDecision(ctx context.Context, c *workflow.ValidationCase, actorID workflow.UserID) error {
	if c.ValidatorID != nil && *c.ValidatorID == actorID {
		return nil
	}
	admin, err := s.identity.IsAdministrator(ctx, actorID)
	if err != nil {
		return err
	}
	if !admin {
		return errors.Forbidden("actor is not the assigned validator or an administrator")
	}
	return nil
}

// selectValidator returns the first eligible assignment or nil when none.
func (s *WorkflowEngineService) selectValidator(ctx context.Context, operatorID workflow.OperatorID, reportType workflow.ReportType) (*workflow.ValidatorAssignment, error) {
	eligible, err := s.assignments.ListEligible(ctx, operatorID, reportType)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		s.log.Warn().
			Int64("operator_id", int64(operatorID)).
			Str("report_type", string(reportType)).
			Msg("No designated validator; case submitted unassigned")
		return nil, nil
	}
	return eligible[0], nil
}

// appendAudit writes a non-transition ledger entry and logs on failure.
func (s *WorkflowEngineService) appendAudit(ctx context.Context, entry *workflow.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Int64("report_id", int64(entry.ReportID)).
			Str("action", string(entry.Action)).
			Msg("Failed to write audit entry")
	}
}

func (s *WorkflowEngineService) notify(ctx context.Context, eventType string, c *workflow.ValidationCase, actorID workflow.UserID) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishValidationEvent(ctx, eventType, c, actorID)
}

func transitionOutcome(err error) string {
	if errors.IsCode(err, errors.ErrCodeConflict) {
		return "refused"
	}
	return "error"
}

func commentSuffix(comments string) string {
	if comments == "" {
		return ""
	}
	return " - comments: " + comments
}

func strPtr(s string) *string { return &s }

func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
