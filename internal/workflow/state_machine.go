package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/arelec/be-report-validation/internal/platform/errors"
)

// Action is a state machine event applied to a validation case.
type Action string

const (
	ActSubmit         Action = "submit"
	ActStartReview    Action = "start_review"
	ActApprove        Action = "approve"
	ActReject         Action = "reject"
	ActRequestChanges Action = "request_changes"
	ActExpire         Action = "expire"
	ActRemind         Action = "remind"
)

// transitions is the single source of truth for which actions are permitted
// from which status. Guard conditions beyond the status check (required
// comment, deadline reached) live in the Apply* methods below.
var transitions = map[Action][]CaseStatus{
	ActSubmit:         {StatusDraft},
	ActStartReview:    {StatusSubmitted},
	ActApprove:        {StatusSubmitted, StatusInReview},
	ActReject:         {StatusSubmitted, StatusInReview},
	ActRequestChanges: {StatusSubmitted, StatusInReview},
	ActExpire:         {StatusSubmitted, StatusInReview},
	ActRemind:         {StatusSubmitted, StatusInReview},
}

// CanApply reports whether the action is permitted from the given status.
func CanApply(action Action, from CaseStatus) bool {
	for _, s := range transitions[action] {
		if s == from {
			return true
		}
	}
	return false
}

// refused builds the structured refusal result returned when a guard fails.
// Callers branch on errors.ErrCodeConflict rather than on control flow.
func refused(action Action, c *ValidationCase, reason string) error {
	return errors.Newf(errors.ErrCodeConflict,
		"transition %s refused for case %d (status %s): %s", action, c.ID, c.Status, reason)
}

func (c *ValidationCase) guard(action Action) error {
	if CanApply(action, c.Status) {
		return nil
	}
	allowed := make([]string, 0, len(transitions[action]))
	for _, s := range transitions[action] {
		allowed = append(allowed, string(s))
	}
	return refused(action, c, fmt.Sprintf("requires status %s", strings.Join(allowed, " or ")))
}

// ApplySubmit moves a draft case to SUBMITTED, stamping the submission time
// and recomputing the expiry deadline from the effective deadline hours.
// Re-submission after request-changes always recomputes both fields.
func (c *ValidationCase) ApplySubmit(actorID UserID, now time.Time, deadlineHours int) error {
	if err := c.guard(ActSubmit); err != nil {
		return err
	}
	if deadlineHours <= 0 {
		return refused(ActSubmit, c, "deadline hours must be positive")
	}

	c.Status = StatusSubmitted
	submitted := now
	expires := now.Add(time.Duration(deadlineHours) * time.Hour)
	c.SubmittedAt = &submitted
	c.ExpiresAt = &expires
	c.DecidedAt = nil
	return nil
}

// ApplyStartReview marks a submitted case as being actively reviewed.
func (c *ValidationCase) ApplyStartReview(actorID UserID) error {
	if err := c.guard(ActStartReview); err != nil {
		return err
	}
	c.Status = StatusInReview
	return nil
}

// ApplyApprove moves a pending case to the APPROVED terminal state.
func (c *ValidationCase) ApplyApprove(actorID UserID, comments, signature *string, now time.Time) error {
	if err := c.guard(ActApprove); err != nil {
		return err
	}

	c.Status = StatusApproved
	c.ValidatorID = &actorID
	decided := now
	c.DecidedAt = &decided
	c.Comments = comments
	c.ElectronicSignature = signature
	return nil
}

// ApplyReject moves a pending case to the REJECTED terminal state. A
// non-empty rejection comment is required.
func (c *ValidationCase) ApplyReject(actorID UserID, comments string, now time.Time) error {
	if err := c.guard(ActReject); err != nil {
		return err
	}
	if strings.TrimSpace(comments) == "" {
		return refused(ActReject, c, "rejection comments are required")
	}

	c.Status = StatusRejected
	c.ValidatorID = &actorID
	decided := now
	c.DecidedAt = &decided
	c.Comments = &comments
	return nil
}

// ApplyRequestChanges loops a pending case back to DRAFT. SubmittedAt,
// ExpiresAt and ValidatorID are left untouched; the next ApplySubmit
// recomputes the timestamps.
func (c *ValidationCase) ApplyRequestChanges(actorID UserID, comments string) error {
	if err := c.guard(ActRequestChanges); err != nil {
		return err
	}

	c.Status = StatusDraft
	return nil
}

// ApplyExpire moves an overdue pending case to the EXPIRED terminal state.
// Only the sweep (or an explicit expire call) performs this transition.
func (c *ValidationCase) ApplyExpire(now time.Time) error {
	if err := c.guard(ActExpire); err != nil {
		return err
	}
	if c.ExpiresAt == nil {
		return refused(ActExpire, c, "no expiry deadline set")
	}
	if !now.After(*c.ExpiresAt) {
		return refused(ActExpire, c, "deadline has not passed")
	}

	c.Status = StatusExpired
	return nil
}

// ApplyRemind increments the reminder counter without changing status.
func (c *ValidationCase) ApplyRemind(actorID UserID) error {
	if err := c.guard(ActRemind); err != nil {
		return err
	}
	c.RemindersSent++
	return nil
}
