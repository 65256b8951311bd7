package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arelec/be-report-validation/internal/platform/errors"
	"github.com/arelec/be-report-validation/internal/platform/logger"
	"github.com/arelec/be-report-validation/internal/service"
	"github.com/arelec/be-report-validation/internal/workflow"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	engine *service.WorkflowEngineService
	admin  *service.WorkflowAdminService
	log    *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(engine *service.WorkflowEngineService, admin *service.WorkflowAdminService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		engine: engine,
		admin:  admin,
		log:    log,
	}
}

// Routes mounts all validation endpoints under the given router.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Route("/api/v1/validations", func(r chi.Router) {
		r.Post("/submit", h.SubmitForValidation)
		r.Post("/decide", h.Decide)
		r.Post("/start-review", h.StartReview)
		r.Post("/remind", h.Remind)
		r.Get("/pending", h.ListPending)
		r.Get("/expired", h.ListExpired)
		r.Get("/stats", h.Stats)
		r.Get("/{caseID}", h.GetCase)
		r.Get("/reports/{reportID}/history", h.History)
	})
	r.Route("/api/v1/workflows", func(r chi.Router) {
		r.Post("/", h.CreateConfig)
		r.Get("/", h.ListConfigs)
		r.Get("/{reportType}", h.GetConfig)
		r.Put("/{configID}", h.UpdateConfig)
		r.Delete("/{configID}", h.DeactivateConfig)
		r.Post("/seed-defaults", h.SeedDefaults)
	})
	r.Route("/api/v1/validators", func(r chi.Router) {
		r.Post("/", h.CreateAssignment)
		r.Get("/", h.ListAssignments)
		r.Delete("/{assignmentID}", h.DeactivateAssignment)
	})
}

// ── Validation case endpoints ─────────────────────────────────────────────────

type submitRequest struct {
	ReportID    int64   `json:"report_id"`
	ReportType  string  `json:"report_type"`
	OperatorID  int64   `json:"operator_id"`
	SubmitterID int64   `json:"submitter_id"`
	Comments    string  `json:"comments,omitempty"`
	Priority    int     `json:"priority,omitempty"`
	Snapshot    *string `json:"snapshot,omitempty"`
}

// SubmitForValidation handles report submission HTTP requests
func (h *HTTPHandler) SubmitForValidation(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	reportType, err := workflow.ParseReportType(req.ReportType)
	if err != nil {
		h.writeError(w, err)
		return
	}

	c, err := h.engine.SubmitForValidation(r.Context(), service.SubmitRequest{
		ReportID:    workflow.ReportID(req.ReportID),
		ReportType:  reportType,
		OperatorID:  workflow.OperatorID(req.OperatorID),
		SubmitterID: workflow.UserID(req.SubmitterID),
		Comments:    req.Comments,
		Priority:    req.Priority,
		Snapshot:    req.Snapshot,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, h.caseResponse(c))
}

type decideRequest struct {
	CaseID    int64  `json:"case_id"`
	ActorID   int64  `json:"actor_id"`
	Action    string `json:"action"` // approve, reject, request_changes
	Comments  string `json:"comments,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// Decide handles validator decision HTTP requests
func (h *HTTPHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	action := service.DecideAction(req.Action)
	switch action {
	case service.DecideApprove, service.DecideReject, service.DecideRequestChanges:
	default:
		h.writeError(w, errors.InvalidInput("action", "must be approve, reject or request_changes"))
		return
	}

	c, err := h.engine.Decide(r.Context(), workflow.CaseID(req.CaseID), workflow.UserID(req.ActorID), action, req.Comments, req.Signature)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.caseResponse(c))
}

type caseActorRequest struct {
	CaseID  int64 `json:"case_id"`
	ActorID int64 `json:"actor_id"`
}

// StartReview handles start review HTTP requests
func (h *HTTPHandler) StartReview(w http.ResponseWriter, r *http.Request) {
	var req caseActorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	c, err := h.engine.StartReview(r.Context(), workflow.CaseID(req.CaseID), workflow.UserID(req.ActorID))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.caseResponse(c))
}

// Remind handles manual reminder HTTP requests
func (h *HTTPHandler) Remind(w http.ResponseWriter, r *http.Request) {
	var req caseActorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	c, err := h.engine.Remind(r.Context(), workflow.CaseID(req.CaseID), workflow.UserID(req.ActorID))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.caseResponse(c))
}

// ListPending handles pending case list HTTP requests
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	var validatorID *workflow.UserID
	if raw := r.URL.Query().Get("validator_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, errors.InvalidInput("validator_id", "must be an integer"))
			return
		}
		v := workflow.UserID(id)
		validatorID = &v
	}

	cases, err := h.engine.ListPending(r.Context(), validatorID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.caseListResponse(cases))
}

// ListExpired handles expired case list HTTP requests
func (h *HTTPHandler) ListExpired(w http.ResponseWriter, r *http.Request) {
	cases, err := h.engine.ListExpired(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.caseListResponse(cases))
}

// GetCase handles single case HTTP requests
func (h *HTTPHandler) GetCase(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "caseID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	c, err := h.engine.GetCase(r.Context(), workflow.CaseID(id))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.caseResponse(c))
}

// History handles report audit history HTTP requests
func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "reportID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	ascending := r.URL.Query().Get("order") == "asc"

	entries, err := h.engine.History(r.Context(), workflow.ReportID(id), ascending)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditResponse(e))
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"report_id": id,
		"entries":   out,
		"total":     len(out),
	})
}

// Stats handles validation statistics HTTP requests
func (h *HTTPHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var configID *workflow.ConfigID
	if raw := r.URL.Query().Get("config_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, errors.InvalidInput("config_id", "must be an integer"))
			return
		}
		v := workflow.ConfigID(id)
		configID = &v
	}

	stats, err := h.admin.Stats(r.Context(), configID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// ── Workflow config endpoints ─────────────────────────────────────────────────

type configRequest struct {
	ReportType         string                    `json:"report_type"`
	Name               string                    `json:"name"`
	Description        *string                   `json:"description,omitempty"`
	StepDefinitions    []workflow.StepDefinition `json:"step_definitions,omitempty"`
	DeadlineHours      int                       `json:"deadline_hours"`
	RequiredValidators int                       `json:"required_validators"`
	AutoReminder       bool                      `json:"auto_reminder"`
}

// CreateConfig handles workflow config creation HTTP requests
func (h *HTTPHandler) CreateConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	reportType, err := workflow.ParseReportType(req.ReportType)
	if err != nil {
		h.writeError(w, err)
		return
	}

	cfg := &workflow.WorkflowConfig{
		ReportType:         reportType,
		Name:               req.Name,
		Description:        req.Description,
		StepDefinitions:    req.StepDefinitions,
		DeadlineHours:      req.DeadlineHours,
		RequiredValidators: req.RequiredValidators,
		AutoReminder:       req.AutoReminder,
		Active:             true,
	}
	if err := h.admin.CreateConfig(r.Context(), cfg); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, configResponseOf(cfg))
}

// UpdateConfig handles workflow config update HTTP requests
func (h *HTTPHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "configID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	reportType, err := workflow.ParseReportType(req.ReportType)
	if err != nil {
		h.writeError(w, err)
		return
	}

	cfg := &workflow.WorkflowConfig{
		ID:                 workflow.ConfigID(id),
		ReportType:         reportType,
		Name:               req.Name,
		Description:        req.Description,
		StepDefinitions:    req.StepDefinitions,
		DeadlineHours:      req.DeadlineHours,
		RequiredValidators: req.RequiredValidators,
		AutoReminder:       req.AutoReminder,
		Active:             true,
	}
	if err := h.admin.UpdateConfig(r.Context(), cfg); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, configResponseOf(cfg))
}

// GetConfig handles workflow config lookup HTTP requests
func (h *HTTPHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	reportType, err := workflow.ParseReportType(chi.URLParam(r, "reportType"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	cfg, err := h.admin.GetConfig(r.Context(), reportType)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, configResponseOf(cfg))
}

// ListConfigs handles workflow config list HTTP requests
func (h *HTTPHandler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("include_inactive") != "true"

	configs, err := h.admin.ListConfigs(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]configResponse, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, configResponseOf(cfg))
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"workflows": out,
		"total":     len(out),
	})
}

// DeactivateConfig handles workflow config deactivation HTTP requests
func (h *HTTPHandler) DeactivateConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "configID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.admin.DeactivateConfig(r.Context(), workflow.ConfigID(id)); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SeedDefaults handles default config seeding HTTP requests
func (h *HTTPHandler) SeedDefaults(w http.ResponseWriter, r *http.Request) {
	created, err := h.admin.SeedDefaultConfigs(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]int{"created": created})
}

// ── Validator assignment endpoints ────────────────────────────────────────────

type assignmentRequest struct {
	OperatorID            int64  `json:"operator_id"`
	ValidatorID           int64  `json:"validator_id"`
	ReportType            string `json:"report_type"`
	ValidationLevel       int    `json:"validation_level"`
	CanValidateUrgent     bool   `json:"can_validate_urgent"`
	DeadlineOverrideHours *int   `json:"deadline_override_hours,omitempty"`
}

// CreateAssignment handles validator assignment creation HTTP requests
func (h *HTTPHandler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	reportType, err := workflow.ParseReportType(req.ReportType)
	if err != nil {
		h.writeError(w, err)
		return
	}

	a := &workflow.ValidatorAssignment{
		OperatorID:            workflow.OperatorID(req.OperatorID),
		ValidatorID:           workflow.UserID(req.ValidatorID),
		ReportType:            reportType,
		ValidationLevel:       req.ValidationLevel,
		CanValidateUrgent:     req.CanValidateUrgent,
		DeadlineOverrideHours: req.DeadlineOverrideHours,
		Active:                true,
	}
	if err := h.admin.CreateAssignment(r.Context(), a); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, assignmentResponseOf(a))
}

// ListAssignments handles validator assignment list HTTP requests
func (h *HTTPHandler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	var operatorID *workflow.OperatorID
	if raw := r.URL.Query().Get("operator_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, errors.InvalidInput("operator_id", "must be an integer"))
			return
		}
		v := workflow.OperatorID(id)
		operatorID = &v
	}

	var reportType *workflow.ReportType
	if raw := r.URL.Query().Get("report_type"); raw != "" {
		rt, err := workflow.ParseReportType(raw)
		if err != nil {
			h.writeError(w, err)
			return
		}
		reportType = &rt
	}

	assignments, err := h.admin.ListAssignments(r.Context(), operatorID, reportType)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]assignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, assignmentResponseOf(a))
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"validators": out,
		"total":      len(out),
	})
}

// DeactivateAssignment handles validator assignment deactivation HTTP requests
func (h *HTTPHandler) DeactivateAssignment(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "assignmentID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.admin.DeactivateAssignment(r.Context(), workflow.AssignmentID(id)); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ── Response shapes ───────────────────────────────────────────────────────────

type caseResponse struct {
	ID            int64      `json:"id"`
	ReportID      int64      `json:"report_id"`
	ReportType    string     `json:"report_type"`
	ConfigID      int64      `json:"config_id"`
	ValidatorID   *int64     `json:"validator_id,omitempty"`
	Step          string     `json:"step,omitempty"`
	Status        string     `json:"status"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Comments      *string    `json:"comments,omitempty"`
	Priority      int        `json:"priority"`
	RemindersSent int        `json:"reminders_sent"`
	RemainingTime string     `json:"remaining_time,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (h *HTTPHandler) caseResponse(c *workflow.ValidationCase) caseResponse {
	resp := caseResponse{
		ID:            int64(c.ID),
		ReportID:      int64(c.ReportID),
		ReportType:    string(c.ReportType),
		ConfigID:      int64(c.ConfigID),
		Step:          c.Step,
		Status:        string(c.Status),
		SubmittedAt:   c.SubmittedAt,
		DecidedAt:     c.DecidedAt,
		ExpiresAt:     c.ExpiresAt,
		Comments:      c.Comments,
		Priority:      c.Priority,
		RemindersSent: c.RemindersSent,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
	if c.ValidatorID != nil {
		v := int64(*c.ValidatorID)
		resp.ValidatorID = &v
	}
	if c.Status.IsPending() {
		resp.RemainingTime = c.RemainingTime(h.engine.Now().Now())
	}
	return resp
}

func (h *HTTPHandler) caseListResponse(cases []*workflow.ValidationCase) map[string]interface{} {
	out := make([]caseResponse, 0, len(cases))
	for _, c := range cases {
		out = append(out, h.caseResponse(c))
	}
	return map[string]interface{}{
		"cases": out,
		"total": len(out),
	}
}

type auditEntryResponse struct {
	ID        int64     `json:"id"`
	ReportID  int64     `json:"report_id"`
	CaseID    *int64    `json:"case_id,omitempty"`
	ActorID   int64     `json:"actor_id"`
	Action    string    `json:"action"`
	Details   *string   `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func auditResponse(e *workflow.AuditEntry) auditEntryResponse {
	resp := auditEntryResponse{
		ID:        e.ID,
		ReportID:  int64(e.ReportID),
		ActorID:   int64(e.ActorID),
		Action:    string(e.Action),
		Details:   e.Details,
		Timestamp: e.Timestamp,
	}
	if e.CaseID != nil {
		v := int64(*e.CaseID)
		resp.CaseID = &v
	}
	return resp
}

type configResponse struct {
	ID                 int64                     `json:"id"`
	ReportType         string                    `json:"report_type"`
	Name               string                    `json:"name"`
	Description        *string                   `json:"description,omitempty"`
	StepDefinitions    []workflow.StepDefinition `json:"step_definitions,omitempty"`
	DeadlineHours      int                       `json:"deadline_hours"`
	RequiredValidators int                       `json:"required_validators"`
	AutoReminder       bool                      `json:"auto_reminder"`
	Active             bool                      `json:"active"`
	CreatedAt          time.Time                 `json:"created_at"`
	UpdatedAt          time.Time                 `json:"updated_at"`
}

func configResponseOf(cfg *workflow.WorkflowConfig) configResponse {
	return configResponse{
		ID:                 int64(cfg.ID),
		ReportType:         string(cfg.ReportType),
		Name:               cfg.Name,
		Description:        cfg.Description,
		StepDefinitions:    cfg.StepDefinitions,
		DeadlineHours:      cfg.DeadlineHours,
		RequiredValidators: cfg.RequiredValidators,
		AutoReminder:       cfg.AutoReminder,
		Active:             cfg.Active,
		CreatedAt:          cfg.CreatedAt,
		UpdatedAt:          cfg.UpdatedAt,
	}
}

type assignmentResponse struct {
	ID                    int64     `json:"id"`
	OperatorID            int64     `json:"operator_id"`
	ValidatorID           int64     `json:"validator_id"`
	ReportType            string    `json:"report_type"`
	ValidationLevel       int       `json:"validation_level"`
	CanValidateUrgent     bool      `json:"can_validate_urgent"`
	DeadlineOverrideHours *int      `json:"deadline_override_hours,omitempty"`
	Active                bool      `json:"active"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func assignmentResponseOf(a *workflow.ValidatorAssignment) assignmentResponse {
	return assignmentResponse{
		ID:                    int64(a.ID),
		OperatorID:            int64(a.OperatorID),
		ValidatorID:           int64(a.ValidatorID),
		ReportType:            string(a.ReportType),
		ValidationLevel:       a.ValidationLevel,
		CanValidateUrgent:     a.CanValidateUrgent,
		DeadlineOverrideHours: a.DeadlineOverrideHours,
		Active:                a.Active,
		CreatedAt:             a.CreatedAt,
		UpdatedAt:             a.UpdatedAt,
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func pathInt64(r *http.Request, key string) (int64, error) {
	raw := chi.URLParam(r, key)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.InvalidInput(key, "must be a positive integer")
	}
	return id, nil
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}
	h.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(errors.CodeOf(err)),
	})
}
