package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"github.com/arelec/be-report-validation/internal/platform/logger"
	"github.com/arelec/be-report-validation/internal/repository"
	"github.com/arelec/be-report-validation/internal/service"
	"github.com/arelec/be-report-validation/internal/workflow"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

type allowAllIdentity struct{}

func (allowAllIdentity) IsAdministrator(context.Context, workflow.UserID) (bool, error) {
	return true, nil
}

type HandlerSuite struct {
	suite.Suite
	router chi.Router
	admin  *service.WorkflowAdminService
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	clock := &fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := repository.NewInMemory(clock)
	log := logger.NewNop()

	engine := service.NewWorkflowEngineService(
		store.Configs(), store.Assignments(), store.Cases(), store.Audit(),
		allowAllIdentity{}, nil, clock, nil, log,
	)
	s.admin = service.NewWorkflowAdminService(store.Configs(), store.Assignments(), store.Cases(), log)

	h := NewHTTPHandler(engine, s.admin, log)
	s.router = chi.NewRouter()
	h.Routes(s.router)
}

func (s *HandlerSuite) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) decode(rec *httptest.ResponseRecorder, out interface{}) {
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(out))
}

func (s *HandlerSuite) seed() {
	rec := s.do(http.MethodPost, "/api/v1/workflows/seed-defaults", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/validators/", map[string]interface{}{
		"operator_id":      7,
		"validator_id":     20,
		"report_type":      "production",
		"validation_level": 1,
	})
	s.Require().Equal(http.StatusCreated, rec.Code)
}

func (s *HandlerSuite) submit(reportID int64) map[string]interface{} {
	rec := s.do(http.MethodPost, "/api/v1/validations/submit", map[string]interface{}{
		"report_id":    reportID,
		"report_type":  "production",
		"operator_id":  7,
		"submitter_id": 10,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var body map[string]interface{}
	s.decode(rec, &body)
	return body
}

func (s *HandlerSuite) TestSubmitAndGet() {
	s.seed()
	created := s.submit(100)

	s.Equal("submitted", created["status"])
	s.Equal(float64(20), created["validator_id"])
	s.NotEmpty(created["expires_at"])
	s.NotEmpty(created["remaining_time"])

	caseID := int64(created["id"].(float64))
	rec := s.do(http.MethodGet, "/api/v1/validations/"+itoa(caseID), nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var got map[string]interface{}
	s.decode(rec, &got)
	s.Equal(created["id"], got["id"])
}

func (s *HandlerSuite) TestSubmitValidation() {
	s.Run("unknown report type", func() {
		rec := s.do(http.MethodPost, "/api/v1/validations/submit", map[string]interface{}{
			"report_id":    1,
			"report_type":  "astrology",
			"operator_id":  7,
			"submitter_id": 10,
		})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("missing config maps to 404", func() {
		rec := s.do(http.MethodPost, "/api/v1/validations/submit", map[string]interface{}{
			"report_id":    1,
			"report_type":  "production",
			"operator_id":  7,
			"submitter_id": 10,
		})
		s.Equal(http.StatusNotFound, rec.Code)

		var body map[string]string
		s.decode(rec, &body)
		s.Equal("NOT_FOUND", body["code"])
	})

	s.Run("duplicate submission maps to 409", func() {
		s.seed()
		s.submit(2)

		rec := s.do(http.MethodPost, "/api/v1/validations/submit", map[string]interface{}{
			"report_id":    2,
			"report_type":  "production",
			"operator_id":  7,
			"submitter_id": 10,
		})
		s.Equal(http.StatusConflict, rec.Code)
	})
}

func (s *HandlerSuite) TestDecide() {
	s.seed()
	created := s.submit(200)
	caseID := int64(created["id"].(float64))

	s.Run("invalid action rejected", func() {
		rec := s.do(http.MethodPost, "/api/v1/validations/decide", map[string]interface{}{
			"case_id":  caseID,
			"actor_id": 20,
			"action":   "escalate",
		})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("approve", func() {
		rec := s.do(http.MethodPost, "/api/v1/validations/decide", map[string]interface{}{
			"case_id":   caseID,
			"actor_id":  20,
			"action":    "approve",
			"comments":  "conforming",
			"signature": "sig:200",
		})
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

		var body map[string]interface{}
		s.decode(rec, &body)
		s.Equal("approved", body["status"])
		s.NotEmpty(body["decided_at"])
	})

	s.Run("second decision conflicts", func() {
		rec := s.do(http.MethodPost, "/api/v1/validations/decide", map[string]interface{}{
			"case_id":  caseID,
			"actor_id": 20,
			"action":   "reject",
			"comments": "too late",
		})
		s.Equal(http.StatusConflict, rec.Code)
	})
}

func (s *HandlerSuite) TestPendingAndHistory() {
	s.seed()
	s.submit(300)
	s.submit(301)

	rec := s.do(http.MethodGet, "/api/v1/validations/pending", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var pending struct {
		Cases []map[string]interface{} `json:"cases"`
		Total int                      `json:"total"`
	}
	s.decode(rec, &pending)
	s.Equal(2, pending.Total)

	rec = s.do(http.MethodGet, "/api/v1/validations/pending?validator_id=999", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.decode(rec, &pending)
	s.Equal(0, pending.Total)

	rec = s.do(http.MethodGet, "/api/v1/validations/reports/300/history?order=asc", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var history struct {
		Entries []map[string]interface{} `json:"entries"`
		Total   int                      `json:"total"`
	}
	s.decode(rec, &history)
	s.Require().Equal(2, history.Total)
	s.Equal("created", history.Entries[0]["action"])
	s.Equal("submitted", history.Entries[1]["action"])
}

func (s *HandlerSuite) TestWorkflowAdmin() {
	s.Run("create and fetch config", func() {
		rec := s.do(http.MethodPost, "/api/v1/workflows/", map[string]interface{}{
			"report_type":         "incident",
			"name":                "Incident validation",
			"deadline_hours":      12,
			"required_validators": 1,
			"auto_reminder":       true,
		})
		s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

		rec = s.do(http.MethodGet, "/api/v1/workflows/incident", nil)
		s.Require().Equal(http.StatusOK, rec.Code)

		var cfg map[string]interface{}
		s.decode(rec, &cfg)
		s.Equal(float64(12), cfg["deadline_hours"])
	})

	s.Run("invalid config rejected", func() {
		rec := s.do(http.MethodPost, "/api/v1/workflows/", map[string]interface{}{
			"report_type":         "transport",
			"name":                "",
			"deadline_hours":      72,
			"required_validators": 1,
		})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("deactivate config", func() {
		var cfg map[string]interface{}
		rec := s.do(http.MethodGet, "/api/v1/workflows/incident", nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.decode(rec, &cfg)

		id := int64(cfg["id"].(float64))
		rec = s.do(http.MethodDelete, "/api/v1/workflows/"+itoa(id), nil)
		s.Equal(http.StatusNoContent, rec.Code)

		rec = s.do(http.MethodGet, "/api/v1/workflows/incident", nil)
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *HandlerSuite) TestStats() {
	s.seed()
	s.submit(400)

	rec := s.do(http.MethodGet, "/api/v1/validations/stats", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var stats workflow.Stats
	s.decode(rec, &stats)
	s.Equal(int64(1), stats.Total)
	s.Equal(int64(1), stats.Pending)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
