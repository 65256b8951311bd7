package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arelec/be-report-validation/internal/platform/errors"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func draftCase() *ValidationCase {
	return &ValidationCase{
		ID:         1,
		ReportID:   100,
		ReportType: ReportProduction,
		ConfigID:   1,
		Status:     StatusDraft,
		Priority:   PriorityNormal,
	}
}

func submittedCase() *ValidationCase {
	c := draftCase()
	if err := c.ApplySubmit(10, testNow, 72); err != nil {
		panic(err)
	}
	return c
}

func TestCanApply(t *testing.T) {
	tests := []struct {
		action Action
		from   CaseStatus
		want   bool
	}{
		{ActSubmit, StatusDraft, true},
		{ActSubmit, StatusSubmitted, false},
		{ActSubmit, StatusApproved, false},
		{ActStartReview, StatusSubmitted, true},
		{ActStartReview, StatusInReview, false},
		{ActApprove, StatusSubmitted, true},
		{ActApprove, StatusInReview, true},
		{ActApprove, StatusDraft, false},
		{ActApprove, StatusRejected, false},
		{ActReject, StatusInReview, true},
		{ActReject, StatusExpired, false},
		{ActRequestChanges, StatusSubmitted, true},
		{ActRequestChanges, StatusDraft, false},
		{ActExpire, StatusSubmitted, true},
		{ActExpire, StatusApproved, false},
		{ActRemind, StatusInReview, true},
		{ActRemind, StatusExpired, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanApply(tt.action, tt.from),
			"CanApply(%s, %s)", tt.action, tt.from)
	}
}

func TestApplySubmit(t *testing.T) {
	t.Run("stamps submission and expiry", func(t *testing.T) {
		c := draftCase()
		require.NoError(t, c.ApplySubmit(10, testNow, 72))

		assert.Equal(t, StatusSubmitted, c.Status)
		require.NotNil(t, c.SubmittedAt)
		require.NotNil(t, c.ExpiresAt)
		assert.Equal(t, testNow, *c.SubmittedAt)
		assert.Equal(t, testNow.Add(72*time.Hour), *c.ExpiresAt)
		assert.Nil(t, c.DecidedAt)
	})

	t.Run("refused from non-draft status", func(t *testing.T) {
		c := submittedCase()
		err := c.ApplySubmit(10, testNow, 72)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))
	})

	t.Run("refused for non-positive deadline", func(t *testing.T) {
		c := draftCase()
		err := c.ApplySubmit(10, testNow, 0)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))
		assert.Equal(t, StatusDraft, c.Status)
	})

	t.Run("resubmission recomputes deadline", func(t *testing.T) {
		c := submittedCase()
		require.NoError(t, c.ApplyRequestChanges(20, "fix totals"))
		require.Equal(t, StatusDraft, c.Status)

		later := testNow.Add(24 * time.Hour)
		require.NoError(t, c.ApplySubmit(10, later, 48))
		assert.Equal(t, later, *c.SubmittedAt)
		assert.Equal(t, later.Add(48*time.Hour), *c.ExpiresAt)
	})
}

func TestApplyApprove(t *testing.T) {
	t.Run("from submitted", func(t *testing.T) {
		c := submittedCase()
		comments := "all good"
		sig := "hash:abc"
		require.NoError(t, c.ApplyApprove(20, &comments, &sig, testNow))

		assert.Equal(t, StatusApproved, c.Status)
		require.NotNil(t, c.ValidatorID)
		assert.Equal(t, UserID(20), *c.ValidatorID)
		require.NotNil(t, c.DecidedAt)
		assert.Equal(t, testNow, *c.DecidedAt)
		require.NotNil(t, c.ElectronicSignature)
		assert.Equal(t, sig, *c.ElectronicSignature)
	})

	t.Run("from in_review", func(t *testing.T) {
		c := submittedCase()
		require.NoError(t, c.ApplyStartReview(20))
		require.NoError(t, c.ApplyApprove(20, nil, nil, testNow))
		assert.Equal(t, StatusApproved, c.Status)
	})

	t.Run("terminal states refuse further transitions", func(t *testing.T) {
		c := submittedCase()
		require.NoError(t, c.ApplyApprove(20, nil, nil, testNow))

		for _, apply := range []func() error{
			func() error { return c.ApplyApprove(20, nil, nil, testNow) },
			func() error { return c.ApplyReject(20, "nope", testNow) },
			func() error { return c.ApplyRequestChanges(20, "") },
			func() error { return c.ApplyExpire(testNow.Add(100 * time.Hour)) },
			func() error { return c.ApplyRemind(20) },
		} {
			err := apply()
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))
		}
		assert.Equal(t, StatusApproved, c.Status)
	})
}

func TestApplyReject(t *testing.T) {
	t.Run("requires comments", func(t *testing.T) {
		c := submittedCase()
		err := c.ApplyReject(20, "   ", testNow)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))
		assert.Equal(t, StatusSubmitted, c.Status)
	})

	t.Run("records decision", func(t *testing.T) {
		c := submittedCase()
		require.NoError(t, c.ApplyReject(20, "missing annexes", testNow))
		assert.Equal(t, StatusRejected, c.Status)
		require.NotNil(t, c.Comments)
		assert.Equal(t, "missing annexes", *c.Comments)
		require.NotNil(t, c.DecidedAt)
	})
}

func TestApplyRequestChanges(t *testing.T) {
	c := submittedCase()
	submittedAt := *c.SubmittedAt
	expiresAt := *c.ExpiresAt

	require.NoError(t, c.ApplyRequestChanges(20, "wrong period"))

	assert.Equal(t, StatusDraft, c.Status)
	// Timestamps survive the loop back; resubmission recomputes them.
	assert.Equal(t, submittedAt, *c.SubmittedAt)
	assert.Equal(t, expiresAt, *c.ExpiresAt)
}

func TestApplyExpire(t *testing.T) {
	t.Run("refused before deadline", func(t *testing.T) {
		c := submittedCase()
		err := c.ApplyExpire(testNow.Add(time.Hour))
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))
		assert.Equal(t, StatusSubmitted, c.Status)
	})

	t.Run("refused without deadline", func(t *testing.T) {
		c := submittedCase()
		c.ExpiresAt = nil
		err := c.ApplyExpire(testNow.Add(200 * time.Hour))
		require.Error(t, err)
	})

	t.Run("expires past deadline", func(t *testing.T) {
		c := submittedCase()
		require.NoError(t, c.ApplyExpire(testNow.Add(73*time.Hour)))
		assert.Equal(t, StatusExpired, c.Status)
		assert.Nil(t, c.DecidedAt)
	})
}

func TestApplyRemind(t *testing.T) {
	c := submittedCase()
	require.NoError(t, c.ApplyRemind(20))
	require.NoError(t, c.ApplyRemind(20))
	assert.Equal(t, 2, c.RemindersSent)
	assert.Equal(t, StatusSubmitted, c.Status)
}

func TestDeadlineExpired(t *testing.T) {
	cfg := &WorkflowConfig{DeadlineHours: 48}

	assert.False(t, cfg.DeadlineExpired(nil, testNow))

	submitted := testNow
	assert.False(t, cfg.DeadlineExpired(&submitted, testNow.Add(48*time.Hour)))
	assert.True(t, cfg.DeadlineExpired(&submitted, testNow.Add(49*time.Hour)))
}

func TestRemainingTime(t *testing.T) {
	c := submittedCase() // 72h deadline

	assert.Equal(t, "3d 0h", c.RemainingTime(testNow))
	assert.Equal(t, "2d 4h", c.RemainingTime(testNow.Add(20*time.Hour)))
	assert.Equal(t, "5h", c.RemainingTime(testNow.Add(67*time.Hour)))
	assert.Equal(t, "expired", c.RemainingTime(testNow.Add(73*time.Hour)))

	c.ExpiresAt = nil
	assert.Equal(t, "", c.RemainingTime(testNow))
}

func TestIsOverdue(t *testing.T) {
	c := submittedCase()
	assert.False(t, c.IsOverdue(testNow.Add(71*time.Hour)))
	assert.False(t, c.IsOverdue(testNow.Add(72*time.Hour)))
	assert.True(t, c.IsOverdue(testNow.Add(72*time.Hour+time.Second)))

	c.ExpiresAt = nil
	assert.False(t, c.IsOverdue(testNow.Add(1000*time.Hour)))
}
