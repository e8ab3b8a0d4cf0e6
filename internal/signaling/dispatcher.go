// Package signaling is the event boundary of the call engine: it validates
// inbound client events, drives the call, relay and presence services, and
// delivers their outbound events to live connections.
package signaling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callrelay-backend/internal/domain"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/metrics"
)

// Sender writes an encoded frame to one connection. It must not block;
// false means the frame was not queued.
type Sender interface {
	Send(connID string, frame []byte) bool
}

// ConnectionIndex resolves event targets to connection ids
type ConnectionIndex interface {
	LookupAll(userID uuid.UUID) []string
	Connections() []string
}

// Dispatcher delivers domain events to connections
type Dispatcher struct {
	conns   ConnectionIndex
	sender  Sender
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(conns ConnectionIndex, sender Sender, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		conns:   conns,
		sender:  sender,
		metrics: m,
		now:     time.Now,
	}
}

// Emit delivers events in order. A failed send is logged and does not stop
// delivery to the remaining connections.
func (d *Dispatcher) Emit(ctx context.Context, events ...domain.Event) {
	for _, ev := range events {
		d.emit(ctx, ev)
	}
}

func (d *Dispatcher) emit(ctx context.Context, ev domain.Event) {
	frame, err := EncodeFrame(ev.Name, ev.Payload, d.now())
	if err != nil {
		logger.FromContext(ctx).Error("Failed to encode outbound event",
			zap.String("event", ev.Name),
			zap.Error(err))
		d.metrics.RecordDispatchFailure(ev.Name)
		return
	}

	for _, connID := range d.targets(ev) {
		if !d.sender.Send(connID, frame) {
			d.metrics.RecordDispatchFailure(ev.Name)
			logger.FromContext(ctx).Warn("Failed to deliver event",
				zap.String("event", ev.Name),
				zap.String("target_connection", connID))
		}
	}
}

func (d *Dispatcher) targets(ev domain.Event) []string {
	switch ev.Target {
	case domain.TargetConnection:
		if ev.ConnectionID == "" {
			return nil
		}
		return []string{ev.ConnectionID}
	case domain.TargetAll:
		return d.conns.Connections()
	default:
		var out []string
		for _, userID := range ev.UserIDs {
			out = append(out, d.conns.LookupAll(userID)...)
		}
		return out
	}
}
