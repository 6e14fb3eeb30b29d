package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/your-org/crowdcount/internal/config"
)

// Bus carries count snapshots out and control commands in over core NATS.
// Nothing is persisted; subscribers that are offline miss messages.
type Bus struct {
	nc             *nats.Conn
	countsSubject  string
	controlSubject string
}

func NewBus(cfg config.NATSConfig) (*Bus, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("crowdcount"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &Bus{
		nc:             nc,
		countsSubject:  cfg.CountsSubject,
		controlSubject: cfg.ControlSubject,
	}, nil
}

// PublishCounts publishes a JSON snapshot. The client buffers the write, so
// this does not wait on the network.
func (b *Bus) PublishCounts(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal counts: %w", err)
	}
	if err := b.nc.Publish(b.countsSubject, payload); err != nil {
		return fmt.Errorf("publish counts: %w", err)
	}
	return nil
}

// SubscribeControl dispatches commands on the control subject to h. Requests
// that carry a reply subject get h's reply as JSON.
func (b *Bus) SubscribeControl(ctx context.Context, h Handler) (*nats.Subscription, error) {
	sub, err := b.nc.Subscribe(b.controlSubject, func(msg *nats.Msg) {
		reply := handleControl(ctx, msg.Data, h)
		if msg.Reply == "" {
			return
		}
		payload, err := json.Marshal(reply)
		if err != nil {
			slog.Error("marshal control reply", "error", err)
			return
		}
		if err := msg.Respond(payload); err != nil {
			slog.Warn("respond to control command", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", b.controlSubject, err)
	}
	slog.Info("listening for control commands", "subject", b.controlSubject)
	return sub, nil
}

func (b *Bus) Ping() error {
	if !b.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

// Close flushes pending publishes and closes the connection.
func (b *Bus) Close() {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
	}
}
