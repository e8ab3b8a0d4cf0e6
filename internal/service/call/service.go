// Package call owns the lifecycle of 1:1 calls: creation, the status
// state machine, ring timeouts and routing teardown.
package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"callrelay-backend/internal/domain"
	"callrelay-backend/internal/ringtimer"
	"callrelay-backend/pkg/cache"
	"callrelay-backend/pkg/constants"
	apperrors "callrelay-backend/pkg/errors"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/metrics"
)

// maxTimeoutAttempts bounds how often a ring timeout whose storage write failed is retried
const maxTimeoutAttempts = 3

// CallRepository persists calls and their participants
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call, participants domain.Participants) error
	Update(ctx context.Context, call *domain.Call, participants domain.Participants) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	GetParticipants(ctx context.Context, callID uuid.UUID) (domain.Participants, error)
}

// UserRepository resolves users
type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// ConversationRepository resolves direct conversations
type ConversationRepository interface {
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	FindOrCreateDirect(ctx context.Context, userA, userB uuid.UUID) (*domain.Conversation, error)
}

// Emitter delivers outbound events
type Emitter interface {
	Emit(ctx context.Context, events ...domain.Event)
}

// Router is the call-scoped connection routing table
type Router interface {
	Bind(callID, userID uuid.UUID, connID string)
	Drop(callID uuid.UUID)
}

// Timers schedules ring timeouts
type Timers interface {
	Arm(callID uuid.UUID, d time.Duration, onFire ringtimer.FireFunc) *ringtimer.Handle
	Disarm(callID uuid.UUID) bool
}

// OnlineChecker reports whether a user has a live connection
type OnlineChecker interface {
	IsOnline(userID uuid.UUID) bool
}

// Notifier reaches users that are not connected
type Notifier interface {
	NotifyIncomingCall(ctx context.Context, call *domain.Call, caller *domain.User, calleeID uuid.UUID) error
	NotifyMissedCall(ctx context.Context, call *domain.Call, caller *domain.User, calleeID uuid.UUID) error
}

// Config tunes the call service
type Config struct {
	RingTimeout    time.Duration
	EndedCallTTL   time.Duration
	StorageTimeout time.Duration

	// TimeoutRetryDelay spaces retries of a ring timeout whose storage write failed
	TimeoutRetryDelay time.Duration
}

// InitiateInput describes a new call request
type InitiateInput struct {
	CallerID uuid.UUID
	// Target is either a direct conversation id or the callee's user id
	Target       uuid.UUID
	Type         domain.CallType
	ConnectionID string
}

// Result is returned by every call action
type Result struct {
	Call *domain.CallWithParticipants
	// Noop is true when the action did not apply to the call's status
	Noop bool
}

type liveCall struct {
	mu              sync.Mutex
	state           State
	evicted         bool
	timeoutFailures int
	// reloaded entries arm their ring timer on the first action, not on reads
	timerPending bool
}

// Service handles call business logic
type Service struct {
	calls    CallRepository
	users    UserRepository
	convs    ConversationRepository
	emitter  Emitter
	routes   Router
	timers   Timers
	online   OnlineChecker
	notifier Notifier
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time

	mu       sync.Mutex
	live     map[uuid.UUID]*liveCall
	finished *cache.MemoryCache[uuid.UUID, State]
}

// Deps groups the collaborators of Service. Notifier and Metrics may be nil.
type Deps struct {
	Calls         CallRepository
	Users         UserRepository
	Conversations ConversationRepository
	Emitter       Emitter
	Routes        Router
	Timers        Timers
	Online        OnlineChecker
	Notifier      Notifier
	Metrics       *metrics.Metrics
}

// NewService creates a new call service
func NewService(deps Deps, cfg Config) *Service {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = constants.DefaultRingTimeout
	}
	if cfg.EndedCallTTL <= 0 {
		cfg.EndedCallTTL = constants.EndedCallRetention
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = constants.DefaultTimeout
	}
	if cfg.TimeoutRetryDelay <= 0 {
		cfg.TimeoutRetryDelay = 5 * time.Second
	}
	return &Service{
		calls:    deps.Calls,
		users:    deps.Users,
		convs:    deps.Conversations,
		emitter:  deps.Emitter,
		routes:   deps.Routes,
		timers:   deps.Timers,
		online:   deps.Online,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		cfg:      cfg,
		now:      time.Now,
		live:     make(map[uuid.UUID]*liveCall),
		finished: cache.NewMemoryCache[uuid.UUID, State](cfg.EndedCallTTL, 10000),
	}
}

// StartCleanup periodically drops expired finished calls. Call the returned func to stop.
func (s *Service) StartCleanup(interval time.Duration) func() {
	return s.finished.StartCleanup(interval)
}

// Initiate creates a call and starts ringing the callee
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (*Result, error) {
	if !in.Type.Valid() {
		return nil, apperrors.ValidationError("type must be audio or video")
	}
	if in.Target == uuid.Nil {
		return nil, apperrors.ValidationError("conversationOrCalleeId is required")
	}

	conv, calleeID, err := s.resolveCallee(ctx, in.CallerID, in.Target)
	if err != nil {
		return nil, err
	}
	if calleeID == in.CallerID {
		return nil, apperrors.ValidationError("cannot call yourself")
	}

	caller, _, err := s.loadUsers(ctx, in.CallerID, calleeID)
	if err != nil {
		return nil, err
	}

	if conv == nil {
		sctx, cancel := s.storageCtx(ctx)
		conv, err = s.convs.FindOrCreateDirect(sctx, in.CallerID, calleeID)
		cancel()
		if err != nil {
			return nil, dependencyError("conversation store", err)
		}
	}

	now := s.now()
	call := &domain.Call{
		CallID:         uuid.New(),
		ConversationID: conv.ConversationID,
		InitiatorID:    in.CallerID,
		CallType:       in.Type,
		Status:         domain.CallStatusInitiated,
		CreatedAt:      now,
	}
	participants := domain.Participants{
		{CallID: call.CallID, UserID: in.CallerID, Status: domain.ParticipantJoined, JoinedAt: now},
		{CallID: call.CallID, UserID: calleeID, Status: domain.ParticipantJoined, JoinedAt: now},
	}

	sctx, cancel := s.storageCtx(ctx)
	defer cancel()
	if err := s.calls.Create(sctx, call, participants); err != nil {
		return nil, dependencyError("call store", err)
	}

	call.Status = domain.CallStatusRinging
	if err := s.calls.Update(sctx, call, participants); err != nil {
		return nil, dependencyError("call store", err)
	}

	entry := &liveCall{state: State{Call: call, Participants: participants}}
	entry.mu.Lock()
	s.mu.Lock()
	s.live[call.CallID] = entry
	s.metrics.SetLiveCalls(len(s.live))
	s.mu.Unlock()

	s.routes.Bind(call.CallID, in.CallerID, in.ConnectionID)
	s.timers.Arm(call.CallID, s.cfg.RingTimeout, s.onRingTimeout)
	s.emitter.Emit(ctx, domain.ToUsers(constants.EventCallIncoming, domain.IncomingCallPayload{
		CallID:         call.CallID,
		CallerID:       in.CallerID,
		ConversationID: call.ConversationID,
		Type:           call.CallType,
	}, calleeID))
	snapshot := entry.state.Snapshot()
	entry.mu.Unlock()

	s.metrics.RecordCallInitiated(string(call.CallType))
	s.metrics.RecordCallTransition(string(domain.CallStatusInitiated), string(domain.CallStatusRinging))

	logger.Info("Call initiated",
		zap.String("call_id", call.CallID.String()),
		zap.String("caller_id", in.CallerID.String()),
		zap.String("callee_id", calleeID.String()),
		zap.String("call_type", string(call.CallType)))

	if s.notifier != nil && s.online != nil && !s.online.IsOnline(calleeID) {
		go s.notify(snapshot.Call, caller, calleeID, false)
	}

	return &Result{Call: snapshot}, nil
}

// resolveCallee interprets target as a conversation id first and as a user id otherwise
func (s *Service) resolveCallee(ctx context.Context, callerID, target uuid.UUID) (*domain.Conversation, uuid.UUID, error) {
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	conv, err := s.convs.GetByID(sctx, target)
	switch {
	case err == nil:
		calleeID, ok := conv.PeerOf(callerID)
		if !ok {
			return nil, uuid.Nil, apperrors.NotParticipantError().WithDetails("caller is not a member of the conversation")
		}
		return conv, calleeID, nil
	case apperrors.IsNotFound(err):
		return nil, target, nil
	default:
		return nil, uuid.Nil, dependencyError("conversation store", err)
	}
}

// loadUsers verifies both users exist, fetching them concurrently
func (s *Service) loadUsers(ctx context.Context, callerID, calleeID uuid.UUID) (*domain.User, *domain.User, error) {
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	var caller, callee *domain.User
	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		u, err := s.users.GetByID(gctx, callerID)
		caller = u
		return err
	})
	g.Go(func() error {
		u, err := s.users.GetByID(gctx, calleeID)
		callee = u
		return err
	})
	if err := g.Wait(); err != nil {
		if apperrors.IsNotFound(err) {
			return nil, nil, apperrors.UserNotFoundError()
		}
		return nil, nil, dependencyError("user store", err)
	}
	return caller, callee, nil
}

// Accept answers a ringing call. The first accept wins; later ones are no-ops.
func (s *Service) Accept(ctx context.Context, callID, userID uuid.UUID, connID string) (*Result, error) {
	return s.apply(ctx, callID, userID, connID, ActionAccept)
}

// Reject declines a ringing call. Only the callee may reject.
func (s *Service) Reject(ctx context.Context, callID, userID uuid.UUID) (*Result, error) {
	return s.apply(ctx, callID, userID, "", ActionReject)
}

// End hangs up an ongoing call, or cancels a call that is still ringing
func (s *Service) End(ctx context.Context, callID, userID uuid.UUID) (*Result, error) {
	return s.apply(ctx, callID, userID, "", ActionEnd)
}

// Status returns the call as seen by one of its participants
func (s *Service) Status(ctx context.Context, callID, userID uuid.UUID) (*domain.CallWithParticipants, error) {
	st, err := s.State(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !st.Participants.Has(userID) {
		return nil, apperrors.NotParticipantError()
	}
	return st.Snapshot(), nil
}

// Participants returns the participant set of a call
func (s *Service) Participants(ctx context.Context, callID uuid.UUID) (domain.Participants, error) {
	st, err := s.State(ctx, callID)
	if err != nil {
		return nil, err
	}
	return st.Participants, nil
}

// State returns a copy of the current state of callID
func (s *Service) State(ctx context.Context, callID uuid.UUID) (State, error) {
	if st, ok := s.finished.Get(callID); ok {
		return st.Clone(), nil
	}
	entry, err := s.acquire(ctx, callID)
	if err != nil {
		return State{}, err
	}
	if entry == nil {
		if st, ok := s.finished.Get(callID); ok {
			return st.Clone(), nil
		}
		return State{}, apperrors.CallNotFoundError()
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state.Clone(), nil
}

// Abandon forgets the in-memory entry of a non-terminal call whose routed
// connections are all gone and stops its ring timer. Stored status is untouched.
func (s *Service) Abandon(callID uuid.UUID) {
	s.timers.Disarm(callID)

	s.mu.Lock()
	entry, ok := s.live[callID]
	if ok {
		delete(s.live, callID)
		s.metrics.SetLiveCalls(len(s.live))
	}
	s.mu.Unlock()

	if ok {
		entry.mu.Lock()
		entry.evicted = true
		entry.mu.Unlock()
		logger.Debug("Call abandoned by all routed connections",
			zap.String("call_id", callID.String()))
	}
}

// LiveCount returns the number of non-terminal calls held in memory
func (s *Service) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

func (s *Service) onRingTimeout(ctx context.Context, callID uuid.UUID) error {
	_, err := s.apply(ctx, callID, uuid.Nil, "", ActionTimeout)
	return err
}

func (s *Service) apply(ctx context.Context, callID, actor uuid.UUID, connID string, action Action) (*Result, error) {
	if st, ok := s.finished.Get(callID); ok {
		tr, err := Decide(st, action, actor, s.now())
		if err != nil {
			return nil, err
		}
		return &Result{Call: tr.To.Snapshot(), Noop: true}, nil
	}

	for {
		entry, err := s.acquire(ctx, callID)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			// finished between the cache check and the load
			return s.apply(ctx, callID, actor, connID, action)
		}

		entry.mu.Lock()
		if entry.evicted {
			entry.mu.Unlock()
			continue
		}
		if entry.timerPending && action != ActionTimeout {
			entry.timerPending = false
			if remaining := s.ringRemaining(entry.state); remaining > 0 {
				s.timers.Arm(callID, remaining, s.onRingTimeout)
			} else {
				// the ring window closed while no timer watched it
				_, post, err := s.applyLocked(ctx, entry, uuid.Nil, "", ActionTimeout)
				entry.mu.Unlock()
				if post != nil {
					post()
				}
				if err != nil {
					return nil, err
				}
				return s.apply(ctx, callID, actor, connID, action)
			}
		}
		entry.timerPending = false
		res, post, err := s.applyLocked(ctx, entry, actor, connID, action)
		entry.mu.Unlock()

		if post != nil {
			post()
		}
		return res, err
	}
}

// applyLocked runs with entry.mu held. The returned func performs slow
// best-effort follow-ups after the lock is released.
func (s *Service) applyLocked(ctx context.Context, entry *liveCall, actor uuid.UUID, connID string, action Action) (*Result, func(), error) {
	callID := entry.state.Call.CallID
	tr, err := Decide(entry.state, action, actor, s.now())
	if err != nil {
		return nil, nil, err
	}

	if tr.Persist {
		sctx, cancel := s.storageCtx(ctx)
		err := s.calls.Update(sctx, tr.To.Call, tr.To.Participants)
		cancel()
		if err != nil {
			logger.Error("Failed to persist call transition",
				zap.String("call_id", callID.String()),
				zap.String("action", string(action)),
				zap.Error(err))
			if action == ActionTimeout {
				entry.timeoutFailures++
				if entry.timeoutFailures < maxTimeoutAttempts {
					s.timers.Arm(callID, s.cfg.TimeoutRetryDelay, s.onRingTimeout)
				} else {
					logger.Warn("Giving up on ring timeout, call stays RINGING until reloaded",
						zap.String("call_id", callID.String()),
						zap.Int("attempts", entry.timeoutFailures))
					s.evictLocked(entry)
				}
			}
			return nil, nil, dependencyError("call store", err)
		}
	}

	entry.state = tr.To

	if tr.DisarmTimer && action != ActionTimeout {
		s.timers.Disarm(callID)
	}
	if tr.DropRoutes {
		s.routes.Drop(callID)
	}
	if tr.BindActor {
		s.routes.Bind(callID, actor, connID)
	}
	if tr.To.Call.Status.IsTerminal() || tr.To.RingCancelled {
		s.retire(entry)
	}
	if len(tr.Events) > 0 {
		s.emitter.Emit(ctx, tr.Events...)
	}

	from, to := tr.From.Call.Status, tr.To.Call.Status
	if from != to {
		s.metrics.RecordCallTransition(string(from), string(to))
		logger.Info("Call status changed",
			zap.String("call_id", callID.String()),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("action", string(action)))
	}
	if to == domain.CallStatusEnded && tr.To.Call.StartedAt != nil && tr.To.Call.EndedAt != nil {
		s.metrics.RecordCallDuration(string(tr.To.Call.CallType), tr.To.Call.EndedAt.Sub(*tr.To.Call.StartedAt))
	}

	res := &Result{Call: tr.To.Snapshot(), Noop: tr.Noop}

	var post func()
	if to == domain.CallStatusMissed && from != to && s.notifier != nil {
		snapshot := res.Call
		post = func() { s.notifyMissed(snapshot) }
	}
	return res, post, nil
}

// evictLocked drops entry from the live table so the next access reloads it.
// Caller holds entry.mu.
func (s *Service) evictLocked(entry *liveCall) {
	s.mu.Lock()
	if s.live[entry.state.Call.CallID] == entry {
		delete(s.live, entry.state.Call.CallID)
	}
	s.metrics.SetLiveCalls(len(s.live))
	s.mu.Unlock()
	entry.evicted = true
}

// retire moves a finished call from the live table to the finished cache.
// Caller holds entry.mu.
func (s *Service) retire(entry *liveCall) {
	s.finished.Set(entry.state.Call.CallID, entry.state.Clone(), 0)
	s.evictLocked(entry)
}

// acquire returns the live entry for callID, loading it from storage when
// needed. It returns nil, nil when the call turned out to be finished.
func (s *Service) acquire(ctx context.Context, callID uuid.UUID) (*liveCall, error) {
	s.mu.Lock()
	entry, ok := s.live[callID]
	s.mu.Unlock()
	if ok {
		return entry, nil
	}

	st, err := s.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if st.Call.Status.IsTerminal() || st.RingCancelled {
		s.finished.Set(callID, st, 0)
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.live[callID]; ok {
		return entry, nil
	}
	if _, ok := s.finished.Get(callID); ok {
		return nil, nil
	}
	// no timer survives a restart or an abandon
	entry = &liveCall{state: st, timerPending: st.Call.Status == domain.CallStatusRinging}
	s.live[callID] = entry
	s.metrics.SetLiveCalls(len(s.live))
	return entry, nil
}

// ringRemaining is the part of the ring window left, measured from the call's creation
func (s *Service) ringRemaining(st State) time.Duration {
	return s.cfg.RingTimeout - s.now().Sub(st.Call.CreatedAt)
}

func (s *Service) load(ctx context.Context, callID uuid.UUID) (State, error) {
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	call, err := s.calls.GetByID(sctx, callID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return State{}, apperrors.CallNotFoundError()
		}
		return State{}, dependencyError("call store", err)
	}
	participants, err := s.calls.GetParticipants(sctx, callID)
	if err != nil {
		return State{}, dependencyError("call store", err)
	}
	if call.Status == domain.CallStatusInitiated {
		// a call whose RINGING write never landed rings out like any other
		call.Status = domain.CallStatusRinging
	}
	return restoreState(call, participants), nil
}

func (s *Service) notifyMissed(snapshot *domain.CallWithParticipants) {
	calleeID, ok := snapshot.Participants.Peer(snapshot.InitiatorID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StorageTimeout)
	defer cancel()

	caller, err := s.users.GetByID(ctx, snapshot.InitiatorID)
	if err != nil {
		logger.Warn("Failed to load caller for missed call notification",
			zap.String("call_id", snapshot.CallID.String()),
			zap.Error(err))
		return
	}
	s.notify(snapshot.Call, caller, calleeID, true)
}

func (s *Service) notify(call *domain.Call, caller *domain.User, calleeID uuid.UUID, missed bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StorageTimeout)
	defer cancel()

	var err error
	if missed {
		err = s.notifier.NotifyMissedCall(ctx, call, caller, calleeID)
	} else {
		err = s.notifier.NotifyIncomingCall(ctx, call, caller, calleeID)
	}
	if err != nil {
		logger.Warn("Failed to push call notification",
			zap.String("call_id", call.CallID.String()),
			zap.Bool("missed", missed),
			zap.Error(err))
	}
}

func (s *Service) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StorageTimeout)
}

func dependencyError(dependency string, err error) error {
	if apperrors.IsAppError(err) && !apperrors.HasCode(err, apperrors.ErrCodeInternal) {
		return err
	}
	return apperrors.DependencyUnavailableError(dependency, fmt.Errorf("%s: %w", dependency, err))
}
