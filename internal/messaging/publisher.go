// Package messaging forwards events to the downstream workflow engine over
// NATS. The gateway only publishes; subscriptions belong to the workflow
// side.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the forwarding seam the dispatch router depends on.
type Publisher interface {
	PublishJSON(ctx context.Context, subject string, data interface{}) error
	Close() error
}

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "cartops-gateway",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSPublisher implements Publisher over a core NATS connection.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(cfg Config) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) PublishJSON(ctx context.Context, subject string, data interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	bytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.Publish(subject, bytes)
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

func (p *NATSPublisher) IsConnected() bool {
	return p.conn.IsConnected()
}

// NoOpPublisher discards messages, for development setups without NATS.
type NoOpPublisher struct{}

func (NoOpPublisher) PublishJSON(ctx context.Context, subject string, data interface{}) error {
	return nil
}

func (NoOpPublisher) Close() error { return nil }
