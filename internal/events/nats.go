// internal/events/nats.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSConfig configures the outbound lifecycle stream.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Timeout       time.Duration
}

// DialNATS connects with unlimited reconnects and logs connection changes.
func DialNATS(cfg NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	log := logger.Named("nats")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("solver-engine"),
		nats.Timeout(timeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	log.Info("Connected to NATS", zap.String("url", conn.ConnectedUrl()))
	return conn, nil
}

// MessagePublisher is the subset of *nats.Conn the sink needs.
type MessagePublisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink forwards bus events to NATS as JSON, one subject per event type:
// <prefix>.transfer.created, <prefix>.solver.stopped, ...
type NATSSink struct {
	conn   MessagePublisher
	prefix string
	logger *zap.Logger
}

func NewNATSSink(conn MessagePublisher, prefix string, logger *zap.Logger) *NATSSink {
	return &NATSSink{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger.Named("nats_sink"),
	}
}

// Attach subscribes the sink to every event on bus.
func (s *NATSSink) Attach(bus *Bus) Subscription {
	return bus.SubscribeAll(s)
}

func (s *NATSSink) Subject(eventType EventType) string {
	if s.prefix == "" {
		return string(eventType)
	}
	return s.prefix + "." + string(eventType)
}

func (s *NATSSink) Handle(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event.Type(), err)
	}

	subject := s.Subject(event.Type())
	if err := s.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	s.logger.Debug("Event forwarded", zap.String("subject", subject))
	return nil
}
