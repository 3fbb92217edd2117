// Package workerbus carries the {status, result|error} messages a
// per-vendor sync worker reports to its supervisor. The in-process channel bus is the default; a
// NATS-backed bus is used when NATS_URL is configured, letting an
// external supervisor observe worker lifecycle without sharing process
// memory.
package workerbus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Status is one lifecycle update from a sync worker.
type Status struct {
	Vendor    string `json:"vendor"`
	Phase     string `json:"phase"` // started|metadata|prices|publishing|done|failed
	Countries int    `json:"countries,omitempty"`
	Services  int    `json:"services,omitempty"`
	Prices    int    `json:"prices,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Bus publishes worker status updates and lets the supervisor consume
// them. Publish must never block the worker for long; implementations
// are expected to be effectively non-blocking or buffered.
type Bus interface {
	Publish(status Status)
	Subscribe() (<-chan Status, func())
	Close() error
}

// ChanBus is the default in-process implementation: a fanned-out set
// of buffered channels, one per subscriber.
type ChanBus struct {
	subs []chan Status
}

func NewChanBus() *ChanBus {
	return &ChanBus{}
}

func (b *ChanBus) Publish(status Status) {
	for _, ch := range b.subs {
		select {
		case ch <- status:
		default:
			// Slow subscriber: drop rather than block the worker, matching
			// the supervised-subprocess model where the worker's own
			// progress must never stall on an observer.
		}
	}
}

func (b *ChanBus) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 64)
	b.subs = append(b.subs, ch)
	return ch, func() {}
}

func (b *ChanBus) Close() error {
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	return nil
}

// NATSBus publishes worker status to a NATS subject, so an external
// supervisor (or the runbook viewer, out of scope for this core) can
// observe sync progress without an in-process subscription.
type NATSBus struct {
	conn    *nats.Conn
	subject string
}

const subject = "provider-core.sync.status"

func NewNATSBus(url string) (*NATSBus, error) {
	conn, err := nats.Connect(url, nats.Name("provider-core"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSBus{conn: conn, subject: subject}, nil
}

func (b *NATSBus) Publish(status Status) {
	payload, err := json.Marshal(status)
	if err != nil {
		return
	}
	_ = b.conn.Publish(b.subject, payload)
}

func (b *NATSBus) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 64)
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var st Status
		if err := json.Unmarshal(msg.Data, &st); err == nil {
			select {
			case ch <- st:
			default:
			}
		}
	})
	if err != nil {
		close(ch)
		return ch, func() {}
	}
	return ch, func() { _ = sub.Unsubscribe() }
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}
