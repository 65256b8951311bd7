package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/arelec/be-report-validation/internal/workflow"
)

// NotificationPublisher publishes validation workflow events to NATS for
// consumption by the notification service. Only the decision to notify lives
// here; delivery (email/SMS) is entirely external.
//
// Subject convention: notifications.reports.<event_type>
// Event types: report_submitted, report_approved, report_rejected,
//              report_changes_requested, report_expired, report_reminder
//
// All publish operations are non-fatal — errors are logged but never
// propagated, so notification failures never interrupt workflow operations.
type NotificationPublisher struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// ValidationEvent is the JSON schema published to NATS. EventID lets
// downstream consumers deduplicate redelivered events.
type ValidationEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	ReportID    int64     `json:"report_id"`
	CaseID      int64     `json:"case_id"`
	ReportType  string    `json:"report_type"`
	Status      string    `json:"status"`
	ActorID     int64     `json:"actor_id"`
	ValidatorID *int64    `json:"validator_id,omitempty"`
	Priority    int       `json:"priority"`
	ExpiresAt   *string   `json:"expires_at,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewNotificationPublisher connects to NATS and returns a publisher. An empty
// URL returns a publisher that silently drops all events.
func NewNotificationPublisher(url string, log zerolog.Logger) (*NotificationPublisher, error) {
	if url == "" {
		return &NotificationPublisher{log: log}, nil
	}
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NotificationPublisher{nc: nc, log: log}, nil
}

// Close drains the underlying connection.
func (p *NotificationPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

// PublishValidationEvent publishes one workflow event.
// Subject: notifications.reports.<eventType>
func (p *NotificationPublisher) PublishValidationEvent(ctx context.Context, eventType string, c *workflow.ValidationCase, actorID workflow.UserID) {
	if p.nc == nil {
		return
	}

	event := &ValidationEvent{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		ReportID:   int64(c.ReportID),
		CaseID:     int64(c.ID),
		ReportType: string(c.ReportType),
		Status:     string(c.Status),
		ActorID:    int64(actorID),
		Priority:   c.Priority,
		OccurredAt: time.Now().UTC(),
	}
	if c.ValidatorID != nil {
		v := int64(*c.ValidatorID)
		event.ValidatorID = &v
	}
	if c.ExpiresAt != nil {
		e := c.ExpiresAt.Format(time.RFC3339)
		event.ExpiresAt = &e
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.reports.%s", eventType)
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Int64("case_id", int64(c.ID)).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Int64("case_id", int64(c.ID)).
		Msg("notification: event published")
}
