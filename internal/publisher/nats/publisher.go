// Package nats implements a NATS JetStream publisher.
package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

type jetStreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Config controls the NATS connection.
type Config struct {
	URL      string
	Username string
	Password string
	// Stream, when set, is created or updated to capture Subjects.
	Stream   string
	Subjects []string
}

// Publisher publishes JSON payloads to JetStream subjects.
type Publisher struct {
	js   jetStreamPublisher
	conn *nats.Conn
}

// Connect dials NATS, creates a JetStream context and ensures the stream.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats.url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("Disconnected from NATS", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("server", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	if cfg.Stream != "" {
		if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     cfg.Stream,
			Subjects: cfg.Subjects,
		}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
		}
	}
	logger.Info("Connected to NATS", zap.String("server", conn.ConnectedUrl()))
	return &Publisher{js: js, conn: conn}, nil
}

// NewWithJetStream wraps an existing JetStream publisher (primarily for testing).
func NewWithJetStream(js jetStreamPublisher) *Publisher {
	return &Publisher{js: js}
}

// Publish marshals payload to JSON and publishes it on subject topic. The
// returned ID is "<stream>:<sequence>".
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.js == nil {
		return "", fmt.Errorf("nats publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	ack, err := p.js.Publish(ctx, topic, data)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", topic, err)
	}
	return fmt.Sprintf("%s:%d", ack.Stream, ack.Sequence), nil
}

// Close drains the connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
