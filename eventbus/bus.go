// Package eventbus provides the cross-subsystem publish/subscribe fan-out
// backing HTTP/WS subscribers: bond/emotion updates, rare events, task
// updates and mission/swarm status flow through one embedded NATS server
// rather than a bespoke in-process broker per subsystem. A session's own
// event stream is not published here; it stays in the session service's
// replay buffer.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	nc "github.com/nats-io/nats.go"
)

// Config configures the embedded server and the bus's own client connection.
type Config struct {
	Port     int // 0 lets the OS assign an ephemeral port
	ClientID string
}

// Bus wraps an embedded NATS server plus one client connection used by the
// process's own publishers (the rare-event callback wired in cmd/dered
// and the HTTP handlers) and subscribers (the HTTP/WS facade). Grounded on
// ODSapper-CLIAIRMONITOR's cmd/cliairmonitor/main.go embedded-server
// bring-up (server.NewServer + go Start() + ReadyForConnections) and
// internal/nats/client.go's wrapper shape (Publish/PublishJSON/Subscribe/
// QueueSubscribe, reconnect options).
type Bus struct {
	server *server.Server
	conn   *nc.Conn
}

// Start launches the embedded NATS server and connects the bus's own
// client to it.
func Start(cfg Config) (*Bus, error) {
	opts := &server.Options{
		Port:     cfg.Port,
		HTTPPort: -1,
		NoLog:    true,
		NoSigs:   true,
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("eventbus: create embedded server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("eventbus: embedded server not ready within 5s")
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "dered"
	}
	conn, err := nc.Connect(srv.ClientURL(),
		nc.Name(clientID),
		nc.ReconnectWait(2*time.Second),
		nc.MaxReconnects(-1),
	)
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("eventbus: connect client: %w", err)
	}

	return &Bus{server: srv, conn: conn}, nil
}

// Publish sends a raw payload to subject.
func (b *Bus) Publish(subject string, data []byte) error {
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("eventbus: publish to %s: %w", subject, err)
	}
	return nil
}

// PublishJSON marshals v and publishes it to subject.
func (b *Bus) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("eventbus: marshal payload for %s: %w", subject, err)
	}
	return b.Publish(subject, data)
}

// Subscribe creates an asynchronous subscription delivering every message
// on subject to handler.
func (b *Bus) Subscribe(subject string, handler func(*nc.Msg)) (*nc.Subscription, error) {
	sub, err := b.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("eventbus: subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// QueueSubscribe creates a load-balanced subscription within queue, so a
// message on subject is delivered to exactly one member.
func (b *Bus) QueueSubscribe(subject, queue string, handler func(*nc.Msg)) (*nc.Subscription, error) {
	sub, err := b.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return nil, fmt.Errorf("eventbus: queue-subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// ClientURL returns the embedded server's connection URL, for anything
// that wants its own separate connection (a test, or a future out-of-
// process agent).
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Close drains and closes the client connection and shuts the embedded
// server down.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Drain()
	}
	if b.server != nil {
		b.server.Shutdown()
	}
}
