package busgw

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Config configures the NATS-backed bus connection.
type Config struct {
	URL             string
	ConnectTimeout  time.Duration
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
}

// DefaultConfig returns sensible defaults for a conferencing deployment.
func DefaultConfig() Config {
	return Config{
		URL:             "nats://localhost:4222",
		ConnectTimeout:  5 * time.Second,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectJitter: 500 * time.Millisecond,
	}
}

// natsGateway implements Gateway over core NATS publish/subscribe. The bus
// carries presence/state events, not durable records, so plain pub/sub is
// used in place of JetStream: a missed event means a session stays
// slightly stale until the next poll or explicit stop, never a billing gap.
type natsGateway struct {
	conn   *nats.Conn
	logger *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSGateway dials the bus and returns a ready Gateway.
func NewNATSGateway(cfg Config, logger *slog.Logger) (Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.Name("sfucore"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("[BusGateway] disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("[BusGateway] reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("[BusGateway] async error", "error", err, "subject", sub.Subject)
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("busgw: connect %s: %w", cfg.URL, err)
	}

	logger.Info("[BusGateway] connected", "url", cfg.URL)
	return &natsGateway{conn: conn, logger: logger}, nil
}

func (g *natsGateway) Publish(ctx context.Context, meetingID string, evtType EventType, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("busgw: marshal payload: %w", err)
	}

	evt := Event{Type: evtType, MeetingID: meetingID, Time: time.Now(), Payload: raw}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("busgw: marshal event: %w", err)
	}

	if err := g.conn.Publish(evt.Subject(), data); err != nil {
		return fmt.Errorf("busgw: publish %s: %w", evt.Subject(), err)
	}
	return nil
}

func (g *natsGateway) Subscribe(meetingID string, pattern EventType) *Subscription {
	subject := "sfu.meetings." + meetingID + "."
	if pattern == "" {
		subject += ">"
	} else {
		subject += string(pattern)
	}

	ch := make(chan Event, 64)
	sub, err := g.conn.Subscribe(subject, func(msg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			g.logger.Warn("[BusGateway] dropped malformed message", "subject", msg.Subject, "error", err)
			return
		}
		select {
		case ch <- evt:
		default:
			g.logger.Warn("[BusGateway] dropped event, subscriber not draining", "subject", msg.Subject)
		}
	})
	if err != nil {
		g.logger.Error("[BusGateway] subscribe failed", "subject", subject, "error", err)
		close(ch)
		return &Subscription{events: ch, cancel: func() {}}
	}

	g.mu.Lock()
	g.subs = append(g.subs, sub)
	g.mu.Unlock()

	return &Subscription{
		events: ch,
		cancel: func() {
			_ = sub.Unsubscribe()
			close(ch)
		},
	}
}

func (g *natsGateway) Close() error {
	g.mu.Lock()
	for _, sub := range g.subs {
		_ = sub.Unsubscribe()
	}
	g.subs = nil
	g.mu.Unlock()

	g.conn.Close()
	return nil
}
