// Package notify listens for "trip updated" notifications from the
// ingestion pipeline and turns them into cache invalidations and view
// refreshes.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

type Invalidator interface {
	InvalidateTrip(ctx context.Context, tripID string) error
}

type Trigger interface {
	Trigger(tripID string)
}

type Metrics interface {
	NotificationReceived()
	NATSSetConnected(connected bool)
}

// Connect dials NATS and reports connection state to m, which may be nil.
func Connect(url string, m Metrics, logger *slog.Logger) (*nats.Conn, error) {
	logger = logger.With("component", "nats")
	nc, err := nats.Connect(url,
		nats.Name("delayboard"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return nc, nil
}

// Message is the optional body of a notification. When TripID is empty the
// last subject token is used.
type Message struct {
	TripID string `json:"trip_id"`
}

type Subscriber struct {
	nc          *nats.Conn
	subject     string
	invalidator Invalidator
	trigger     Trigger
	metrics     Metrics
	logger      *slog.Logger

	sub *nats.Subscription
}

// NewSubscriber wires notifications on subject to inv and trig. Either may
// be nil.
func NewSubscriber(nc *nats.Conn, subject string, inv Invalidator, trig Trigger, m Metrics, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		nc:          nc,
		subject:     subject,
		invalidator: inv,
		trigger:     trig,
		metrics:     m,
		logger:      logger.With("component", "notify"),
	}
}

func (s *Subscriber) Start() error {
	sub, err := s.nc.Subscribe(s.subject, s.handle)
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("subscribed to trip notifications", "subject", s.subject)
	return nil
}

func (s *Subscriber) Close() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Debug("unsubscribe failed", "error", err)
		}
	}
	if s.nc != nil {
		s.nc.Drain()
	}
}

func (s *Subscriber) handle(msg *nats.Msg) {
	if s.metrics != nil {
		s.metrics.NotificationReceived()
	}

	tripID := TripID(msg.Subject, msg.Data)
	if tripID == "" {
		s.logger.Debug("ignoring notification without trip id", "subject", msg.Subject)
		return
	}

	if s.invalidator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.invalidator.InvalidateTrip(ctx, tripID)
		cancel()
		if err != nil {
			s.logger.Warn("failed to invalidate trip cache", "trip_id", tripID, "error", err)
		}
	}
	if s.trigger != nil {
		s.trigger.Trigger(tripID)
	}
	s.logger.Debug("trip update notification", "trip_id", tripID)
}

// TripID extracts the updated trip from a notification.
func TripID(subject string, data []byte) string {
	if len(data) > 0 {
		var m Message
		if err := json.Unmarshal(data, &m); err == nil && m.TripID != "" {
			return m.TripID
		}
	}
	i := strings.LastIndexByte(subject, '.')
	if i < 0 || i == len(subject)-1 {
		return ""
	}
	return subject[i+1:]
}
