package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arelec/be-report-validation/internal/platform/errors"
	"github.com/arelec/be-report-validation/internal/workflow"
)

// InMemory backs the service store interfaces without a database, for tests
// and local development. The four store views share one core so a case
// transition and its audit entry land atomically under a single lock — the
// same contract the postgres repositories honor with a transaction.
type InMemory struct {
	mu sync.Mutex

	clock workflow.Clock

	configs     map[workflow.ConfigID]workflow.WorkflowConfig
	assignments map[workflow.AssignmentID]workflow.ValidatorAssignment
	cases       map[workflow.CaseID]workflow.ValidationCase
	audit       []workflow.AuditEntry

	nextConfigID     workflow.ConfigID
	nextAssignmentID workflow.AssignmentID
	nextCaseID       workflow.CaseID
	nextAuditID      int64
}

// NewInMemory constructs an empty in-memory store.
func NewInMemory(clock workflow.Clock) *InMemory {
	return &InMemory{
		clock:            clock,
		configs:          make(map[workflow.ConfigID]workflow.WorkflowConfig),
		assignments:      make(map[workflow.AssignmentID]workflow.ValidatorAssignment),
		cases:            make(map[workflow.CaseID]workflow.ValidationCase),
		nextConfigID:     1,
		nextAssignmentID: 1,
		nextCaseID:       1,
		nextAuditID:      1,
	}
}

// Configs returns the ConfigStore view.
func (m *InMemory) Configs() *InMemoryConfigs { return &InMemoryConfigs{m} }

// Assignments returns the AssignmentStore view.
func (m *InMemory) Assignments() *InMemoryAssignments { return &InMemoryAssignments{m} }

// Cases returns the CaseStore view.
func (m *InMemory) Cases() *InMemoryCases { return &InMemoryCases{m} }

// Audit returns the AuditStore view.
func (m *InMemory) Audit() *InMemoryAudit { return &InMemoryAudit{m} }

func (m *InMemory) appendLocked(entry *workflow.AuditEntry) {
	entry.ID = m.nextAuditID
	m.nextAuditID++
	entry.Timestamp = m.clock.Now()
	m.audit = append(m.audit, *entry)
}

// ── ConfigStore ───────────────────────────────────────────────────────────────

type InMemoryConfigs struct{ core *InMemory }

func (s *InMemoryConfigs) Create(ctx context.Context, cfg *workflow.WorkflowConfig) error {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.configs {
		if existing.ReportType == cfg.ReportType && existing.Active {
			return errors.Newf(errors.ErrCodeConflict, "config already exists for report type %s", cfg.ReportType)
		}
	}

	now := m.clock.Now()
	cfg.ID = m.nextConfigID
	m.nextConfigID++
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	m.configs[cfg.ID] = *cfg
	return nil
}

func (s *InMemoryConfigs) GetByType(ctx context.Context, reportType workflow.ReportType) (*workflow.WorkflowConfig, error) {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cfg := range m.configs {
		if cfg.ReportType == reportType && cfg.Active {
			out := cfg
			return &out, nil
		}
	}
	return nil, errors.NotFound("workflow_config", reportType)
}

func (s *InMemoryConfigs) GetByID(ctx context.Context, id workflow.ConfigID) (*workflow.WorkflowConfig, error) {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg, ok := m.configs[id]; ok {
		out := cfg
		return &out, nil
	}
	return nil, errors.NotFound("workflow_config", id)
}

func (s *InMemoryConfigs) List(ctx context.Context, activeOnly bool) ([]*workflow.WorkflowConfig, error) {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*workflow.WorkflowConfig
	for _, cfg := range m.configs {
		if activeOnly && !cfg.Active {
			continue
		}
		c := cfg
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReportType < out[j].ReportType })
	return out, nil
}

func (s *InMemoryConfigs) Update(ctx context.Context, cfg *workflow.WorkflowConfig) error {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.configs[cfg.ID]; !ok {
		return errors.NotFound("workflow_config", cfg.ID)
	}
	cfg.UpdatedAt = m.clock.Now()
	m.configs[cfg.ID] = *cfg
	return nil
}

func (s *InMemoryConfigs) Deactivate(ctx context.Context, id workflow.ConfigID) error {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[id]
	if !ok {
		return errors.NotFound("workflow_config", id)
	}
	cfg.Active = false
	cfg.UpdatedAt = m.clock.Now()
	m.configs[id] = cfg
	return nil
}

// ── AssignmentStore ───────────────────────────────────────────────────────────

type InMemoryAssignments struct{ core *InMemory }

func (s *InMemoryAssignments) Create(ctx context.Context, a *workflow.ValidatorAssignment) error {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	a.ID = m.nextAssignmentID
	m.nextAssignmentID++
	a.CreatedAt = now
	a.UpdatedAt = now
	m.assignments[a.ID] = *a
	return nil
}

func (s *InMemoryAssignments) ListEligible(ctx context.Context, operatorID workflow.OperatorID, reportType workflow.ReportType) ([]*workflow.ValidatorAssignment, error) {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*workflow.ValidatorAssignment
	for _, a := range m.assignments {
		if a.OperatorID == operatorID && a.ReportType == reportType && a.Active {
			c := a
			out = append(out, &c)
		}
	}
	// Ascending level; equal levels keep insertion (id) order.
	sort.Slice(out, func(i, j int) bool {
		if out[i].ValidationLevel != out[j].ValidationLevel {
			return out[i].ValidationLevel < out[j].ValidationLevel
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryAssignments) List(ctx context.Context, operatorID *workflow.OperatorID, reportType *workflow.ReportType) ([]*workflow.ValidatorAssignment, error) {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*workflow.ValidatorAssignment
	for _, a := range m.assignments {
		if operatorID != nil && a.OperatorID != *operatorID {
			continue
		}
		if reportType != nil && a.ReportType != *reportType {
			continue
		}
		c := a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryAssignments) Deactivate(ctx context.Context, id workflow.AssignmentID) error {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[id]
	if !ok {
		return errors.NotFound("validator_assignment", id)
	}
	a.Active = false
	a.UpdatedAt = m.clock.Now()
	m.assignments[id] = a
	return nil
}

// ── CaseStore ─────────────────────────────────────────────────────────────────

type InMemoryCases struct{ core *InMemory }

func (s *InMemoryCases) CreateDraft(ctx context.Context, c *workflow.ValidationCase, entry *workflow.AuditEntry) error {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	c.ID = m.nextCaseID
	m.nextCaseID++
	c.CreatedAt = now
	c.UpdatedAt = now
	m.cases[c.ID] = *c

	entry.CaseID = &c.ID
	m.appendLocked(entry)
	return nil
}

func (s *InMemoryCases) GetByID(ctx context.Context, id workflow.CaseID) (*workflow.ValidationCase, error) {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.cases[id]; ok {
		out := c
		return &out, nil
	}
	return nil, errors.NotFound("validation_case", id)
}

func (s *InMemoryCases) GetActiveByReportID(ctx context.Context, reportID workflow.ReportID) (*workflow.ValidationCase, error) {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *workflow.ValidationCase
	for _, c := range m.cases {
		if c.ReportID != reportID || c.Status.IsTerminal() {
			continue
		}
		cc := c
		if latest == nil || cc.ID > latest.ID {
			latest = &cc
		}
	}
	return latest, nil
}

func (s *InMemoryCases) ApplyTransition(ctx context.Context, c *workflow.ValidationCase, expected workflow.CaseStatus, entry *workflow.AuditEntry) error {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.cases[c.ID]
	if !ok {
		return errors.NotFound("validation_case", c.ID)
	}
	if stored.Status != expected {
		return errors.Newf(errors.ErrCodeConflict,
			"transition refused for case %d: status changed concurrently (expected %s)", c.ID, expected)
	}

	c.UpdatedAt = m.clock.Now()
	m.cases[c.ID] = *c

	entry.CaseID = &c.ID
	m.appendLocked(entry)
	return nil
}

func (s *InMemoryCases) ListPending(ctx context.Context, validatorID *workflow.UserID) ([]*workflow.ValidationCase, error) {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*workflow.ValidationCase
	for _, c := range m.cases {
		if !c.Status.IsPending() {
			continue
		}
		if validatorID != nil && (c.ValidatorID == nil || *c.ValidatorID != *validatorID) {
			continue
		}
		cc := c
		out = append(out, &cc)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].SubmittedAt, out[j].SubmittedAt
		if si == nil || sj == nil {
			return sj == nil && si != nil
		}
		if !si.Equal(*sj) {
			return si.Before(*sj)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryCases) ListOverdue(ctx context.Context, now time.Time) ([]*workflow.ValidationCase, error) {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listOverdueLocked(now), nil
}

func (m *InMemory) listOverdueLocked(now time.Time) []*workflow.ValidationCase {
	var out []*workflow.ValidationCase
	for _, c := range m.cases {
		if c.Status.IsPending() && c.ExpiresAt != nil && c.ExpiresAt.Before(now) {
			cc := c
			out = append(out, &cc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return out
}

func (s *InMemoryCases) FindExpirable(ctx context.Context, now time.Time) ([]workflow.CaseID, error) {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()

	overdue := m.listOverdueLocked(now)
	ids := make([]workflow.CaseID, 0, len(overdue))
	for _, c := range overdue {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (s *InMemoryCases) ListRemindable(ctx context.Context, now time.Time, interval time.Duration) ([]*workflow.ValidationCase, error) {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*workflow.ValidationCase
	for _, c := range m.cases {
		if !c.Status.IsPending() || c.ExpiresAt == nil || !c.ExpiresAt.After(now) {
			continue
		}
		if !c.UpdatedAt.Before(now.Add(-interval)) {
			continue
		}
		cfg, ok := m.configs[c.ConfigID]
		if !ok || !cfg.AutoReminder {
			continue
		}
		cc := c
		out = append(out, &cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return out, nil
}

func (s *InMemoryCases) Stats(ctx context.Context, configID *workflow.ConfigID) (*workflow.Stats, error) {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &workflow.Stats{}
	var delaySum float64
	var decided int64
	for _, c := range m.cases {
		if configID != nil && c.ConfigID != *configID {
			continue
		}
		stats.Total++
		switch c.Status {
		case workflow.StatusApproved:
			stats.Approved++
		case workflow.StatusRejected:
			stats.Rejected++
		case workflow.StatusExpired:
			stats.Expired++
		case workflow.StatusSubmitted, workflow.StatusInReview:
			stats.Pending++
		}
		if c.DecidedAt != nil && c.SubmittedAt != nil {
			delaySum += c.DecidedAt.Sub(*c.SubmittedAt).Hours()
			decided++
		}
	}
	if decided > 0 {
		stats.MeanDecisionHours = delaySum / float64(decided)
	}
	return stats, nil
}

// ── AuditStore ────────────────────────────────────────────────────────────────

type InMemoryAudit struct{ core *InMemory }

func (s *InMemoryAudit) Append(ctx context.Context, entry *workflow.AuditEntry) error {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(entry)
	return nil
}

func (s *InMemoryAudit) HistoryForReport(ctx context.Context, reportID workflow.ReportID, ascending bool) ([]*workflow.AuditEntry, error) {
	m := s.core
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*workflow.AuditEntry
	for i := range m.audit {
		if m.audit[i].ReportID == reportID {
			e := m.audit[i]
			out = append(out, &e)
		}
	}
	// The ledger slice is already in insertion (ascending timestamp) order.
	if !ascending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}
