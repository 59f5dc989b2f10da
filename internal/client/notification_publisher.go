package client

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-pr-approvals/internal/logger"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "procurement.pr"

// Publisher is the subset of *nats.Conn the notification publisher needs.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// NotificationPublisher publishes purchase request lifecycle events to NATS
// for consumption by the notifications service.
//
// Subject convention: <prefix>.<event_type>, e.g. procurement.pr.pr_submitted.
//
// Publishing is non-fatal: errors are logged and never returned, so a broken
// bus never interrupts an approval.
type NotificationPublisher struct {
	conn   Publisher
	prefix string
	log    *logger.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	BranchCode   string                 `json:"branch_code"`
	ActorCode    string                 `json:"actor_code"`
	Recipients   []string               `json:"recipients"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	IsActionable bool                   `json:"is_actionable,omitempty"`
	Severity     string                 `json:"severity,omitempty"`
	Category     string                 `json:"category,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher. conn may be nil, in which
// case every publish is a no-op.
func NewNotificationPublisher(conn Publisher, prefix string, log *logger.Logger) *NotificationPublisher {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NotificationPublisher{conn: conn, prefix: prefix, log: log.Component("notifications")}
}

// Connect dials NATS with reconnect settings suited to a long-running service.
func Connect(url, name string, log *logger.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
}

// Subject returns the subject an event type is published on.
func (p *NotificationPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

// PublishPurchaseRequestEvent publishes one lifecycle event. Events without
// recipients are still published so auditing consumers see every transition.
func (p *NotificationPublisher) PublishPurchaseRequestEvent(ctx context.Context, eventType, prID, branchCode, actorCode string, recipients []string, payload map[string]interface{}) {
	if p == nil || p.conn == nil {
		return
	}
	if err := ctx.Err(); err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: context done before publish")
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		BranchCode:   branchCode,
		ActorCode:    actorCode,
		Recipients:   recipients,
		ResourceType: "purchase_request",
		ResourceID:   prID,
		IsActionable: len(recipients) > 0,
		Severity:     "info",
		Category:     "pr_approval",
		OccurredAt:   time.Now().UTC(),
		Payload:      payload,
	}
	if event.Recipients == nil {
		event.Recipients = []string{}
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := p.Subject(eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("pr_id", prID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("pr_id", prID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
