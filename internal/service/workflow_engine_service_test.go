package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/arelec/be-report-validation/internal/platform/errors"
	"github.com/arelec/be-report-validation/internal/platform/logger"
	"github.com/arelec/be-report-validation/internal/repository"
	"github.com/arelec/be-report-validation/internal/workflow"
)

// fakeClock makes deadline arithmetic deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingNotifier captures published events in order.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) PublishValidationEvent(_ context.Context, eventType string, _ *workflow.ValidationCase, _ workflow.UserID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventType)
}

func (n *recordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

const (
	operatorID  workflow.OperatorID = 7
	submitterID workflow.UserID     = 10
	validatorID workflow.UserID     = 20
	adminID     workflow.UserID     = 99
	strangerID  workflow.UserID     = 55
)

type EngineSuite struct {
	suite.Suite
	ctx      context.Context
	clock    *fakeClock
	store    *repository.InMemory
	notifier *recordingNotifier
	engine   *WorkflowEngineService
	admin    *WorkflowAdminService
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s.store = repository.NewInMemory(s.clock)
	s.notifier = &recordingNotifier{}
	log := logger.NewNop()

	identity := &staticIdentity{admins: map[workflow.UserID]bool{adminID: true}}
	s.engine = NewWorkflowEngineService(
		s.store.Configs(), s.store.Assignments(), s.store.Cases(), s.store.Audit(),
		identity, s.notifier, s.clock, nil, log,
	)
	s.admin = NewWorkflowAdminService(s.store.Configs(), s.store.Assignments(), s.store.Cases(), log)
}

type staticIdentity struct {
	admins map[workflow.UserID]bool
}

func (c *staticIdentity) IsAdministrator(_ context.Context, id workflow.UserID) (bool, error) {
	return c.admins[id], nil
}

// seedWorkflow installs a production config (72h deadline, auto-reminders on)
// and one designated validator for the test operator.
func (s *EngineSuite) seedWorkflow() {
	s.Require().NoError(s.admin.CreateConfig(s.ctx, &workflow.WorkflowConfig{
		ReportType:         workflow.ReportProduction,
		Name:               "Production validation",
		DeadlineHours:      72,
		RequiredValidators: 1,
		AutoReminder:       true,
		Active:             true,
	}))
	s.Require().NoError(s.admin.CreateAssignment(s.ctx, &workflow.ValidatorAssignment{
		OperatorID:      operatorID,
		ValidatorID:     validatorID,
		ReportType:      workflow.ReportProduction,
		ValidationLevel: 1,
		Active:          true,
	}))
}

func (s *EngineSuite) submit(reportID workflow.ReportID) *workflow.ValidationCase {
	c, err := s.engine.SubmitForValidation(s.ctx, SubmitRequest{
		ReportID:    reportID,
		ReportType:  workflow.ReportProduction,
		OperatorID:  operatorID,
		SubmitterID: submitterID,
	})
	s.Require().NoError(err)
	return c
}

func (s *EngineSuite) TestSubmitForValidation() {
	s.Run("happy path assigns validator and deadline", func() {
		s.SetupTest()
		s.seedWorkflow()

		c := s.submit(100)

		s.Equal(workflow.StatusSubmitted, c.Status)
		s.Require().NotNil(c.ValidatorID)
		s.Equal(validatorID, *c.ValidatorID)
		s.Require().NotNil(c.ExpiresAt)
		s.Equal(s.clock.Now().Add(72*time.Hour), *c.ExpiresAt)

		history, err := s.engine.History(s.ctx, 100, true)
		s.Require().NoError(err)
		s.Require().Len(history, 2)
		s.Equal(workflow.ActionCreated, history[0].Action)
		s.Equal(workflow.ActionSubmitted, history[1].Action)

		s.Equal([]string{EventSubmitted}, s.notifier.Events())
	})

	s.Run("missing config refuses submission", func() {
		s.SetupTest()

		_, err := s.engine.SubmitForValidation(s.ctx, SubmitRequest{
			ReportID:    101,
			ReportType:  workflow.ReportTransport,
			OperatorID:  operatorID,
			SubmitterID: submitterID,
		})
		s.Require().Error(err)
		s.True(errors.IsCode(err, errors.ErrCodeNotFound))
	})

	s.Run("second submission for same report conflicts", func() {
		s.SetupTest()
		s.seedWorkflow()
		s.submit(102)

		_, err := s.engine.SubmitForValidation(s.ctx, SubmitRequest{
			ReportID:    102,
			ReportType:  workflow.ReportProduction,
			OperatorID:  operatorID,
			SubmitterID: submitterID,
		})
		s.Require().Error(err)
		s.True(errors.IsCode(err, errors.ErrCodeConflict))
	})

	s.Run("no eligible validator leaves case unassigned", func() {
		s.SetupTest()
		s.Require().NoError(s.admin.CreateConfig(s.ctx, &workflow.WorkflowConfig{
			ReportType:         workflow.ReportProduction,
			Name:               "Production validation",
			DeadlineHours:      72,
			RequiredValidators: 1,
			Active:        true,
		}))

		c := s.submit(103)
		s.Nil(c.ValidatorID)
		s.Equal(workflow.StatusSubmitted, c.Status)
	})

	s.Run("assignment deadline override wins", func() {
		s.SetupTest()
		s.seedWorkflow()
		override := 24
		s.Require().NoError(s.admin.CreateAssignment(s.ctx, &workflow.ValidatorAssignment{
			OperatorID:            8,
			ValidatorID:           validatorID,
			ReportType:            workflow.ReportProduction,
			ValidationLevel:       1,
			DeadlineOverrideHours: &override,
			Active:                true,
		}))

		c, err := s.engine.SubmitForValidation(s.ctx, SubmitRequest{
			ReportID:    104,
			ReportType:  workflow.ReportProduction,
			OperatorID:  8,
			SubmitterID: submitterID,
		})
		s.Require().NoError(err)
		s.Equal(s.clock.Now().Add(24*time.Hour), *c.ExpiresAt)
	})

	s.Run("lowest validation level selected", func() {
		s.SetupTest()
		s.seedWorkflow()
		s.Require().NoError(s.admin.CreateAssignment(s.ctx, &workflow.ValidatorAssignment{
			OperatorID:      operatorID,
			ValidatorID:     31,
			ReportType:      workflow.ReportProduction,
			ValidationLevel: 2,
			Active:          true,
		}))

		c := s.submit(105)
		s.Equal(validatorID, *c.ValidatorID)
	})

	s.Run("invalid priority rejected", func() {
		s.SetupTest()
		s.seedWorkflow()

		_, err := s.engine.SubmitForValidation(s.ctx, SubmitRequest{
			ReportID:    106,
			ReportType:  workflow.ReportProduction,
			OperatorID:  operatorID,
			SubmitterID: submitterID,
			Priority:    7,
		})
		s.Require().Error(err)
		s.True(errors.IsCode(err, errors.ErrCodeInvalidInput))
	})
}

func (s *EngineSuite) TestDecide() {
	s.Run("assigned validator approves", func() {
		s.SetupTest()
		s.seedWorkflow()
		c := s.submit(200)

		decided, err := s.engine.Decide(s.ctx, c.ID, validatorID, DecideApprove, "looks correct", "sig:200")
		s.Require().NoError(err)
		s.Equal(workflow.StatusApproved, decided.Status)
		s.Require().NotNil(decided.DecidedAt)
		s.Equal(s.clock.Now(), *decided.DecidedAt)
		s.Require().NotNil(decided.ElectronicSignature)
		s.Equal("sig:200", *decided.ElectronicSignature)

		s.Equal([]string{EventSubmitted, EventApproved}, s.notifier.Events())
	})

	s.Run("admin may decide without assignment", func() {
		s.SetupTest()
		s.seedWorkflow()
		c := s.submit(201)

		decided, err := s.engine.Decide(s.ctx, c.ID, adminID, DecideReject, "wrong reporting period", "")
		s.Require().NoError(err)
		s.Equal(workflow.StatusRejected, decided.Status)
	})

	s.Run("stranger is forbidden", func() {
		s.SetupTest()
		s.seedWorkflow()
		c := s.submit(202)

		_, err := s.engine.Decide(s.ctx, c.ID, strangerID, DecideApprove, "", "")
		s.Require().Error(err)
		s.True(errors.IsCode(err, errors.ErrCodeForbidden))

		got, err := s.engine.GetCase(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(workflow.StatusSubmitted, got.Status)
	})

	s.Run("reject without comments refused", func() {
		s.SetupTest()
		s.seedWorkflow()
		c := s.submit(203)

		_, err := s.engine.Decide(s.ctx, c.ID, validatorID, DecideReject, "", "")
		s.Require().Error(err)
		s.True(errors.IsCode(err, errors.ErrCodeConflict))
	})

	s.Run("request changes loops back to draft and allows resubmission", func() {
		s.SetupTest()
		s.seedWorkflow()
		c := s.submit(204)

		back, err := s.engine.Decide(s.ctx, c.ID, validatorID, DecideRequestChanges, "update annex B", "")
		s.Require().NoError(err)
		s.Equal(workflow.StatusDraft, back.Status)

		s.clock.Advance(6 * time.Hour)
		resubmitted := s.submit(204)
		s.Equal(back.ID, resubmitted.ID)
		s.Equal(workflow.StatusSubmitted, resubmitted.Status)
		s.Equal(s.clock.Now().Add(72*time.Hour), *resubmitted.ExpiresAt)
	})

	s.Run("decided case refuses a second decision", func() {
		s.SetupTest()
		s.seedWorkflow()
		c := s.submit(205)

		_, err := s.engine.Decide(s.ctx, c.ID, validatorID, DecideApprove, "", "")
		s.Require().NoError(err)

		_, err = s.engine.Decide(s.ctx, c.ID, adminID, DecideReject, "too late", "")
		s.Require().Error(err)
		s.True(errors.IsCode(err, errors.ErrCodeConflict))
	})

	s.Run("concurrent decisions let exactly one through", func() {
		s.SetupTest()
		s.seedWorkflow()
		c := s.submit(206)

		const attempts = 8
		errs := make([]error, attempts)
		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = s.engine.Decide(s.ctx, c.ID, validatorID, DecideApprove, "", "")
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			} else {
				s.True(errors.IsCode(err, errors.ErrCodeConflict))
			}
		}
		s.Equal(1, succeeded)

		got, err := s.engine.GetCase(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(workflow.StatusApproved, got.Status)
	})
}

func (s *EngineSuite) TestStartReview() {
	s.SetupTest()
	s.seedWorkflow()
	c := s.submit(300)

	reviewed, err := s.engine.StartReview(s.ctx, c.ID, validatorID)
	s.Require().NoError(err)
	s.Equal(workflow.StatusInReview, reviewed.Status)

	// Approval still possible from in_review.
	decided, err := s.engine.Decide(s.ctx, c.ID, validatorID, DecideApprove, "", "")
	s.Require().NoError(err)
	s.Equal(workflow.StatusApproved, decided.Status)
}

func (s *EngineSuite) TestExpirySweep() {
	s.Run("sweep expires only overdue cases", func() {
		s.SetupTest()
		s.seedWorkflow()
		early := s.submit(400)

		s.clock.Advance(48 * time.Hour)
		late := s.submit(401)

		// early is 73h old, late only 25h.
		s.clock.Advance(25 * time.Hour)

		expired, err := s.engine.SweepExpired(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, expired)

		gotEarly, err := s.engine.GetCase(s.ctx, early.ID)
		s.Require().NoError(err)
		s.Equal(workflow.StatusExpired, gotEarly.Status)

		gotLate, err := s.engine.GetCase(s.ctx, late.ID)
		s.Require().NoError(err)
		s.Equal(workflow.StatusSubmitted, gotLate.Status)

		history, err := s.engine.History(s.ctx, 400, true)
		s.Require().NoError(err)
		last := history[len(history)-1]
		s.Equal(workflow.ActionExpired, last.Action)
		s.Equal(SystemActorID, last.ActorID)
	})

	s.Run("overdue case remains decidable until swept", func() {
		s.SetupTest()
		s.seedWorkflow()
		c := s.submit(402)
		s.clock.Advance(80 * time.Hour)

		listed, err := s.engine.ListExpired(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(listed, 1)
		s.Equal(workflow.StatusSubmitted, listed[0].Status)

		decided, err := s.engine.Decide(s.ctx, c.ID, validatorID, DecideApprove, "late but valid", "")
		s.Require().NoError(err)
		s.Equal(workflow.StatusApproved, decided.Status)

		expired, err := s.engine.SweepExpired(s.ctx)
		s.Require().NoError(err)
		s.Equal(0, expired)
	})

	s.Run("sweep is idempotent", func() {
		s.SetupTest()
		s.seedWorkflow()
		s.submit(403)
		s.clock.Advance(100 * time.Hour)

		first, err := s.engine.SweepExpired(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, first)

		second, err := s.engine.SweepExpired(s.ctx)
		s.Require().NoError(err)
		s.Equal(0, second)
	})
}

func (s *EngineSuite) TestReminders() {
	s.Run("manual reminder requires admin", func() {
		s.SetupTest()
		s.seedWorkflow()
		c := s.submit(500)

		_, err := s.engine.Remind(s.ctx, c.ID, validatorID)
		s.Require().Error(err)
		s.True(errors.IsCode(err, errors.ErrCodeForbidden))

		reminded, err := s.engine.Remind(s.ctx, c.ID, adminID)
		s.Require().NoError(err)
		s.Equal(1, reminded.RemindersSent)
		s.Equal(workflow.StatusSubmitted, reminded.Status)
	})

	s.Run("auto reminders target idle pending cases", func() {
		s.SetupTest()
		s.seedWorkflow()
		c := s.submit(501)

		// Not idle long enough yet.
		sent, err := s.engine.SendAutoReminders(s.ctx, 24*time.Hour)
		s.Require().NoError(err)
		s.Equal(0, sent)

		s.clock.Advance(25 * time.Hour)
		sent, err = s.engine.SendAutoReminders(s.ctx, 24*time.Hour)
		s.Require().NoError(err)
		s.Equal(1, sent)

		got, err := s.engine.GetCase(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(1, got.RemindersSent)

		history, err := s.engine.History(s.ctx, 501, true)
		s.Require().NoError(err)
		last := history[len(history)-1]
		s.Equal(workflow.ActionReminded, last.Action)
		s.Equal(SystemActorID, last.ActorID)
	})
}

func (s *EngineSuite) TestListPending() {
	s.SetupTest()
	s.seedWorkflow()
	first := s.submit(600)
	s.clock.Advance(time.Hour)
	second := s.submit(601)

	pending, err := s.engine.ListPending(s.ctx, nil)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal(first.ID, pending[0].ID)
	s.Equal(second.ID, pending[1].ID)

	other := workflow.UserID(777)
	filtered, err := s.engine.ListPending(s.ctx, &other)
	s.Require().NoError(err)
	s.Empty(filtered)
}

func (s *EngineSuite) TestHistoryOrdering() {
	s.SetupTest()
	s.seedWorkflow()
	c := s.submit(700)
	s.clock.Advance(time.Hour)
	_, err := s.engine.Decide(s.ctx, c.ID, validatorID, DecideApprove, "", "")
	s.Require().NoError(err)

	desc, err := s.engine.History(s.ctx, 700, false)
	s.Require().NoError(err)
	s.Require().Len(desc, 3)
	s.Equal(workflow.ActionValidated, desc[0].Action)
	s.Equal(workflow.ActionCreated, desc[2].Action)
}
