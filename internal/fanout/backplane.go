package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Backplane moves envelopes between publishers and the appliers of every
// process. Delivery is best effort.
type Backplane interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(a Applier) error
	Close() error
}

// Local delivers synchronously to appliers in this process, in publish order.
type Local struct {
	mu       sync.RWMutex
	appliers []Applier
}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Publish(_ context.Context, env Envelope) error {
	l.mu.RLock()
	appliers := l.appliers
	l.mu.RUnlock()
	for _, a := range appliers {
		a.Apply(env)
	}
	return nil
}

func (l *Local) Subscribe(a Applier) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appliers = append(l.appliers, a)
	return nil
}

func (l *Local) Close() error {
	return nil
}

// NATS publishes envelopes on one subject that every process subscribes to,
// so an event reaches sockets held anywhere.
type NATS struct {
	nc      *nats.Conn
	subject string
	log     *slog.Logger
}

func DialNATS(url, subject, name string, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return NewNATS(nc, subject, logger), nil
}

func NewNATS(nc *nats.Conn, subject string, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{nc: nc, subject: subject, log: logger}
}

func (n *NATS) Publish(_ context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return n.nc.Publish(n.subject, data)
}

func (n *NATS) Subscribe(a Applier) error {
	_, err := n.nc.Subscribe(n.subject, func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			n.log.Warn("invalid fanout envelope", "error", err)
			return
		}
		a.Apply(env)
	})
	return err
}

func (n *NATS) Close() error {
	return n.nc.Drain()
}
