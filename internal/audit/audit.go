// Package audit records authentication outcomes: a Prometheus counter per
// event and an asynchronous copy to a Publisher (Kafka or the log).
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/worker"
)

type EventType string

const (
	EventRegistered         EventType = "user.registered"
	EventVerificationSent   EventType = "user.verification_sent"
	EventEmailVerified      EventType = "user.email_verified"
	EventLogin              EventType = "auth.login"
	EventTwoFactorChallenge EventType = "auth.two_factor_challenge"
	EventTwoFactorConfirmed EventType = "auth.two_factor_confirmed"
	EventTokenRefreshed     EventType = "auth.token_refreshed"
	EventLogout             EventType = "auth.logout"
	EventOAuth2Login        EventType = "auth.oauth2_login"
	EventAccountDisabled    EventType = "user.disabled"
	EventAccountEnabled     EventType = "user.enabled"
	EventRolesChanged       EventType = "user.roles_changed"
	EventTwoFactorToggled   EventType = "user.two_factor_toggled"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is one auditable fact.
type Event struct {
	Type       EventType `json:"type"`
	Outcome    Outcome   `json:"outcome"`
	UserID     uint      `json:"user_id,omitempty"`
	Email      string    `json:"email,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Recorder accepts events without blocking the caller.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// Publisher delivers events to an external sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

const publishTimeout = 5 * time.Second

// Dispatcher is the production Recorder.
type Dispatcher struct {
	publisher Publisher
	pool      *worker.Pool
	events    *prometheus.CounterVec
	logger    *slog.Logger
}

// NewDispatcher registers the auth_events_total counter on reg.
func NewDispatcher(publisher Publisher, pool *worker.Pool, reg prometheus.Registerer, logger *slog.Logger) (*Dispatcher, error) {
	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_events_total",
			Help: "Authentication events by type and outcome.",
		},
		[]string{"event", "outcome"},
	)
	if err := reg.Register(events); err != nil {
		return nil, err
	}
	return &Dispatcher{
		publisher: publisher,
		pool:      pool,
		events:    events,
		logger:    logger,
	}, nil
}

func (d *Dispatcher) Record(_ context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	d.events.WithLabelValues(string(event.Type), string(event.Outcome)).Inc()

	accepted := d.pool.SubmitWithTimeout(publishTimeout, func(ctx context.Context) {
		if err := d.publisher.Publish(ctx, event); err != nil {
			d.logger.Error("❌ [Audit] Failed to publish event",
				"event", event.Type,
				"user_id", event.UserID,
				"error", err,
			)
		}
	})
	if !accepted {
		d.logger.Warn("⚠️ [Audit] Dropping event during shutdown", "event", event.Type)
	}
}

type discard struct{}

func (discard) Record(context.Context, Event) {}

// Discard is a Recorder that drops everything.
var Discard Recorder = discard{}
