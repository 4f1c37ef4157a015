package peer

import (
	"context"
	"log/slog"
	"sync"

	"p2pmsg/internal/protocol"
)

// Dispatcher is the single consumer of messages from all connections.
type Dispatcher struct {
	registry  *Registry
	queue     <-chan Inbound
	logger    *slog.Logger
	mu        sync.RWMutex
	observers []func(Inbound)
}

func NewDispatcher(registry *Registry, queue <-chan Inbound, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		queue:    queue,
		logger:   logger,
	}
}

// Observe registers fn to be called after each message has been handled.
// fn runs on the dispatch goroutine and must not block.
func (d *Dispatcher) Observe(fn func(Inbound)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, fn)
}

// Run consumes the queue until ctx is done or the queue is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-d.queue:
			if !ok {
				return
			}
			d.handle(in)
		}
	}
}

func (d *Dispatcher) handle(in Inbound) {
	peer := in.From.String()
	d.logger.Debug("message_received",
		"peer", peer,
		"message_type", protocol.Kind(in.Message),
	)

	switch in.Message.(type) {
	case protocol.Hello:
		d.logger.Warn("unexpected_hello",
			"peer", peer,
		)
	case protocol.Ping:
		if err := d.registry.SendTo(in.From, protocol.Pong{}); err != nil {
			d.logger.Error("pong_send_failed",
				"peer", peer,
				"error", err,
			)
		}
	case protocol.Pong:
		d.logger.Info("pong_received",
			"peer", peer,
		)
	case protocol.Terminate:
		d.logger.Info("terminate_received",
			"peer", peer,
		)
		if p, ok := d.registry.Remove(in.From); ok {
			if err := p.terminate(); err != nil {
				d.logger.Warn("peer_close_failed",
					"peer", peer,
					"error", err,
				)
			}
		}
	default:
		d.logger.Warn("unknown_message",
			"peer", peer,
		)
	}

	d.mu.RLock()
	observers := d.observers
	d.mu.RUnlock()
	for _, fn := range observers {
		fn(in)
	}
}
