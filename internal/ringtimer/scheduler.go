// Package ringtimer schedules one-shot ring timeouts keyed by call id.
package ringtimer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/metrics"
)

// FireFunc runs when a ring timer expires. Returned errors are logged.
type FireFunc func(ctx context.Context, callID uuid.UUID) error

// Handle identifies one armed timer. A handle that was cancelled or
// superseded by a re-arm never fires.
type Handle struct {
	callID uuid.UUID
	timer  *time.Timer
}

// Scheduler holds at most one armed timer per call
type Scheduler struct {
	mu      sync.Mutex
	timers  map[uuid.UUID]*Handle
	metrics *metrics.Metrics
	stopped bool
	wg      sync.WaitGroup
}

// NewScheduler creates an empty scheduler. m may be nil.
func NewScheduler(m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		timers:  make(map[uuid.UUID]*Handle),
		metrics: m,
	}
}

// Arm schedules onFire after d. Arming a call that already has a timer
// cancels the earlier one. Returns nil once the scheduler is stopped.
func (s *Scheduler) Arm(callID uuid.UUID, d time.Duration, onFire FireFunc) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	if prev, ok := s.timers[callID]; ok {
		prev.timer.Stop()
	}

	h := &Handle{callID: callID}
	h.timer = time.AfterFunc(d, func() { s.fire(h, onFire) })
	s.timers[callID] = h
	s.metrics.SetRingTimersArmed(len(s.timers))
	return h
}

func (s *Scheduler) fire(h *Handle, onFire FireFunc) {
	s.mu.Lock()
	if s.stopped || s.timers[h.callID] != h {
		s.mu.Unlock()
		return
	}
	delete(s.timers, h.callID)
	s.metrics.SetRingTimersArmed(len(s.timers))
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Ring timeout callback panicked",
				zap.String("call_id", h.callID.String()),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()

	s.metrics.RecordRingTimeout()
	if err := onFire(context.Background(), h.callID); err != nil {
		logger.Warn("Ring timeout callback failed",
			zap.String("call_id", h.callID.String()),
			zap.Error(err))
	}
}

// Disarm cancels the timer for callID. Safe when none is armed.
func (s *Scheduler) Disarm(callID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.timers[callID]
	if !ok {
		return false
	}
	h.timer.Stop()
	delete(s.timers, callID)
	s.metrics.SetRingTimersArmed(len(s.timers))
	return true
}

// Cancel cancels h if it is still the current timer for its call
func (s *Scheduler) Cancel(h *Handle) bool {
	if h == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timers[h.callID] != h {
		return false
	}
	h.timer.Stop()
	delete(s.timers, h.callID)
	s.metrics.SetRingTimersArmed(len(s.timers))
	return true
}

// Armed reports whether callID has a pending timer
func (s *Scheduler) Armed(callID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.timers[callID]
	return ok
}

// Len returns the number of pending timers
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.timers)
}

// Stop cancels every pending timer and waits for running callbacks to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for callID, h := range s.timers {
		h.timer.Stop()
		delete(s.timers, callID)
	}
	s.metrics.SetRingTimersArmed(0)
	s.mu.Unlock()

	s.wg.Wait()
}
