package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"callrelay-backend/internal/domain"
	"callrelay-backend/internal/registry"
	"callrelay-backend/internal/repository/memory"
	"callrelay-backend/internal/ringtimer"
	"callrelay-backend/pkg/constants"
	apperrors "callrelay-backend/pkg/errors"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEmitter) Emit(ctx context.Context, events ...domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recordingEmitter) named(name string) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type onlineSet struct {
	mu    sync.Mutex
	users map[uuid.UUID]bool
}

func (o *onlineSet) IsOnline(userID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.users[userID]
}

type recordingNotifier struct {
	mu       sync.Mutex
	incoming []uuid.UUID
	missed   []uuid.UUID
}

func (n *recordingNotifier) NotifyIncomingCall(ctx context.Context, call *domain.Call, caller *domain.User, calleeID uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.incoming = append(n.incoming, calleeID)
	return nil
}

func (n *recordingNotifier) NotifyMissedCall(ctx context.Context, call *domain.Call, caller *domain.User, calleeID uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.missed = append(n.missed, calleeID)
	return nil
}

func (n *recordingNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.incoming), len(n.missed)
}

// flakyCallRepository fails Update while failUpdates is set
type flakyCallRepository struct {
	*memory.CallRepository
	mu          sync.Mutex
	failUpdates bool
}

func (f *flakyCallRepository) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUpdates = v
}

func (f *flakyCallRepository) Update(ctx context.Context, call *domain.Call, participants domain.Participants) error {
	f.mu.Lock()
	fail := f.failUpdates
	f.mu.Unlock()
	if fail {
		return errors.New("connection reset by peer")
	}
	return f.CallRepository.Update(ctx, call, participants)
}

// MockCallRepository is a mock implementation of CallRepository
type MockCallRepository struct {
	mock.Mock
}

func (m *MockCallRepository) Create(ctx context.Context, call *domain.Call, participants domain.Participants) error {
	args := m.Called(ctx, call, participants)
	return args.Error(0)
}

func (m *MockCallRepository) Update(ctx context.Context, call *domain.Call, participants domain.Participants) error {
	args := m.Called(ctx, call, participants)
	return args.Error(0)
}

func (m *MockCallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Call), args.Error(1)
}

func (m *MockCallRepository) GetParticipants(ctx context.Context, callID uuid.UUID) (domain.Participants, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.Participants), args.Error(1)
}

type fixture struct {
	svc      *Service
	calls    *flakyCallRepository
	users    *memory.UserRepository
	convs    *memory.ConversationRepository
	routes   *registry.CallRoutes
	timers   *ringtimer.Scheduler
	emitter  *recordingEmitter
	online   *onlineSet
	notifier *recordingNotifier
	caller   uuid.UUID
	callee   uuid.UUID
}

func newFixture(t *testing.T, ringTimeout time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		calls:    &flakyCallRepository{CallRepository: memory.NewCallRepository()},
		users:    memory.NewUserRepository(),
		convs:    memory.NewConversationRepository(),
		routes:   registry.NewCallRoutes(),
		timers:   ringtimer.NewScheduler(nil),
		emitter:  &recordingEmitter{},
		online:   &onlineSet{users: map[uuid.UUID]bool{}},
		notifier: &recordingNotifier{},
		caller:   uuid.New(),
		callee:   uuid.New(),
	}
	f.users.Add(&domain.User{UserID: f.caller, Username: "alice"})
	f.users.Add(&domain.User{UserID: f.callee, Username: "bob"})
	f.online.users[f.caller] = true
	f.online.users[f.callee] = true

	f.svc = NewService(Deps{
		Calls:         f.calls,
		Users:         f.users,
		Conversations: f.convs,
		Emitter:       f.emitter,
		Routes:        f.routes,
		Timers:        f.timers,
		Online:        f.online,
		Notifier:      f.notifier,
	}, Config{RingTimeout: ringTimeout})
	t.Cleanup(f.timers.Stop)
	return f
}

func (f *fixture) initiate(t *testing.T) *domain.CallWithParticipants {
	t.Helper()
	res, err := f.svc.Initiate(context.Background(), InitiateInput{
		CallerID:     f.caller,
		Target:       f.callee,
		Type:         domain.CallTypeVideo,
		ConnectionID: "caller-conn",
	})
	require.NoError(t, err)
	return res.Call
}

func (f *fixture) stored(t *testing.T, callID uuid.UUID) *domain.Call {
	t.Helper()
	call, err := f.calls.GetByID(context.Background(), callID)
	require.NoError(t, err)
	return call
}

func TestInitiate_ByCalleeID(t *testing.T) {
	f := newFixture(t, time.Minute)

	call := f.initiate(t)

	assert.Equal(t, domain.CallStatusRinging, call.Status)
	assert.Equal(t, f.caller, call.InitiatorID)
	assert.ElementsMatch(t, []uuid.UUID{f.caller, f.callee}, call.Participants.UserIDs())
	assert.Equal(t, domain.CallStatusRinging, f.stored(t, call.CallID).Status)

	incoming := f.emitter.named(constants.EventCallIncoming)
	require.Len(t, incoming, 1)
	assert.Equal(t, []uuid.UUID{f.callee}, incoming[0].UserIDs)
	payload := incoming[0].Payload.(domain.IncomingCallPayload)
	assert.Equal(t, call.CallID, payload.CallID)
	assert.Equal(t, f.caller, payload.CallerID)
	assert.Equal(t, call.ConversationID, payload.ConversationID)
	assert.Equal(t, domain.CallTypeVideo, payload.Type)

	assert.True(t, f.timers.Armed(call.CallID))
	conn, ok := f.routes.Lookup(call.CallID, f.caller)
	assert.True(t, ok)
	assert.Equal(t, "caller-conn", conn)
	assert.Equal(t, 1, f.svc.LiveCount())
}

func TestInitiate_ByConversationID(t *testing.T) {
	f := newFixture(t, time.Minute)
	conv, err := f.convs.FindOrCreateDirect(context.Background(), f.caller, f.callee)
	require.NoError(t, err)

	res, err := f.svc.Initiate(context.Background(), InitiateInput{
		CallerID: f.caller,
		Target:   conv.ConversationID,
		Type:     domain.CallTypeAudio,
	})
	require.NoError(t, err)
	assert.Equal(t, conv.ConversationID, res.Call.ConversationID)

	peer, ok := res.Call.Participants.Peer(f.caller)
	assert.True(t, ok)
	assert.Equal(t, f.callee, peer)
}

func TestInitiate_Validation(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	t.Run("invalid type", func(t *testing.T) {
		_, err := f.svc.Initiate(ctx, InitiateInput{CallerID: f.caller, Target: f.callee, Type: "hologram"})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("missing target", func(t *testing.T) {
		_, err := f.svc.Initiate(ctx, InitiateInput{CallerID: f.caller, Type: domain.CallTypeAudio})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("self call", func(t *testing.T) {
		_, err := f.svc.Initiate(ctx, InitiateInput{CallerID: f.caller, Target: f.caller, Type: domain.CallTypeAudio})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("unknown callee", func(t *testing.T) {
		_, err := f.svc.Initiate(ctx, InitiateInput{CallerID: f.caller, Target: uuid.New(), Type: domain.CallTypeAudio})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserNotFound))
	})

	t.Run("caller outside conversation", func(t *testing.T) {
		stranger := uuid.New()
		f.users.Add(&domain.User{UserID: stranger, Username: "mallory"})
		conv, err := f.convs.FindOrCreateDirect(ctx, f.caller, f.callee)
		require.NoError(t, err)

		_, err = f.svc.Initiate(ctx, InitiateInput{CallerID: stranger, Target: conv.ConversationID, Type: domain.CallTypeAudio})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotParticipant))
	})

	assert.Empty(t, f.emitter.named(constants.EventCallIncoming))
	assert.Equal(t, 0, f.svc.LiveCount())
}

func TestInitiate_OfflineCalleeGetsPush(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.online.mu.Lock()
	f.online.users[f.callee] = false
	f.online.mu.Unlock()

	call := f.initiate(t)

	// the call still rings
	assert.Equal(t, domain.CallStatusRinging, call.Status)
	require.Eventually(t, func() bool {
		incoming, _ := f.notifier.counts()
		return incoming == 1
	}, time.Second, 5*time.Millisecond)
}

func TestAccept_StartsCall(t *testing.T) {
	f := newFixture(t, time.Minute)
	call := f.initiate(t)

	res, err := f.svc.Accept(context.Background(), call.CallID, f.callee, "callee-conn")
	require.NoError(t, err)

	assert.False(t, res.Noop)
	assert.Equal(t, domain.CallStatusOngoing, res.Call.Status)
	assert.NotNil(t, res.Call.StartedAt)
	assert.Equal(t, domain.CallStatusOngoing, f.stored(t, call.CallID).Status)
	assert.False(t, f.timers.Armed(call.CallID))

	conn, ok := f.routes.Lookup(call.CallID, f.callee)
	assert.True(t, ok)
	assert.Equal(t, "callee-conn", conn)

	accepted := f.emitter.named(constants.EventCallAccepted)
	require.Len(t, accepted, 1)
	assert.ElementsMatch(t, []uuid.UUID{f.caller, f.callee}, accepted[0].UserIDs)
	payload := accepted[0].Payload.(domain.CallUpdatePayload)
	require.NotNil(t, payload.UserID)
	assert.Equal(t, f.callee, *payload.UserID)
	assert.Equal(t, domain.CallStatusOngoing, payload.Status)
}

func TestAccept_SecondAcceptIsNoop(t *testing.T) {
	f := newFixture(t, time.Minute)
	call := f.initiate(t)
	ctx := context.Background()

	_, err := f.svc.Accept(ctx, call.CallID, f.callee, "callee-conn")
	require.NoError(t, err)

	res, err := f.svc.Accept(ctx, call.CallID, f.callee, "other-conn")
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Equal(t, domain.CallStatusOngoing, res.Call.Status)
	assert.Len(t, f.emitter.named(constants.EventCallAccepted), 1)

	conn, _ := f.routes.Lookup(call.CallID, f.callee)
	assert.Equal(t, "callee-conn", conn)
}

func TestAccept_ConcurrentAcceptsOnlyOneWins(t *testing.T) {
	f := newFixture(t, time.Minute)
	call := f.initiate(t)

	var wg sync.WaitGroup
	results := make([]*Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Accept(context.Background(), call.CallID, f.callee, "conn")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, res := range results {
		if res != nil && !res.Noop {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Len(t, f.emitter.named(constants.EventCallAccepted), 1)
}

func TestAccept_NonParticipant(t *testing.T) {
	f := newFixture(t, time.Minute)
	call := f.initiate(t)

	_, err := f.svc.Accept(context.Background(), call.CallID, uuid.New(), "conn")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotParticipant))
	assert.Equal(t, domain.CallStatusRinging, f.stored(t, call.CallID).Status)
}

func TestAccept_UnknownCall(t *testing.T) {
	f := newFixture(t, time.Minute)

	_, err := f.svc.Accept(context.Background(), uuid.New(), f.callee, "conn")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCallNotFound))
}

func TestReject_DeclinesCall(t *testing.T) {
	f := newFixture(t, time.Minute)
	call := f.initiate(t)
	ctx := context.Background()

	_, err := f.svc.Reject(ctx, call.CallID, f.caller)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotCallee))

	res, err := f.svc.Reject(ctx, call.CallID, f.callee)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusDeclined, res.Call.Status)
	assert.NotNil(t, res.Call.EndedAt)

	stored := f.stored(t, call.CallID)
	assert.Equal(t, domain.CallStatusDeclined, stored.Status)
	assert.False(t, f.timers.Armed(call.CallID))
	assert.False(t, f.routes.Has(call.CallID))
	assert.Equal(t, 0, f.svc.LiveCount())
	assert.Len(t, f.emitter.named(constants.EventCallRejected), 1)

	// later actions are no-ops
	res, err = f.svc.Accept(ctx, call.CallID, f.callee, "conn")
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Equal(t, domain.CallStatusDeclined, res.Call.Status)
}

func TestEnd_OngoingCall(t *testing.T) {
	f := newFixture(t, time.Minute)
	call := f.initiate(t)
	ctx := context.Background()

	_, err := f.svc.Accept(ctx, call.CallID, f.callee, "callee-conn")
	require.NoError(t, err)

	res, err := f.svc.End(ctx, call.CallID, f.caller)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, res.Call.Status)
	assert.NotNil(t, res.Call.EndedAt)
	for _, p := range res.Call.Participants {
		assert.Equal(t, domain.ParticipantLeft, p.Status)
	}

	assert.Equal(t, domain.CallStatusEnded, f.stored(t, call.CallID).Status)
	assert.False(t, f.routes.Has(call.CallID))
	assert.Len(t, f.emitter.named(constants.EventCallEnded), 1)

	res, err = f.svc.End(ctx, call.CallID, f.callee)
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Len(t, f.emitter.named(constants.EventCallEnded), 1)
}

func TestEnd_WhileRingingCancelsWithoutStatusChange(t *testing.T) {
	f := newFixture(t, time.Minute)
	call := f.initiate(t)
	ctx := context.Background()

	res, err := f.svc.End(ctx, call.CallID, f.caller)
	require.NoError(t, err)
	assert.False(t, res.Noop)
	assert.Equal(t, domain.CallStatusRinging, res.Call.Status)

	assert.Equal(t, domain.CallStatusRinging, f.stored(t, call.CallID).Status)
	assert.False(t, f.timers.Armed(call.CallID))
	assert.False(t, f.routes.Has(call.CallID))
	assert.Len(t, f.emitter.named(constants.EventCallEnded), 1)

	res, err = f.svc.Accept(ctx, call.CallID, f.callee, "conn")
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Empty(t, f.emitter.named(constants.EventCallAccepted))
}

func TestRingTimeout_MarksMissed(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	f.online.mu.Lock()
	f.online.users[f.callee] = false
	f.online.mu.Unlock()

	call := f.initiate(t)

	require.Eventually(t, func() bool {
		return len(f.emitter.named(constants.EventCallMissed)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	stored := f.stored(t, call.CallID)
	assert.Equal(t, domain.CallStatusMissed, stored.Status)
	assert.NotNil(t, stored.EndedAt)
	assert.False(t, f.routes.Has(call.CallID))

	missed := f.emitter.named(constants.EventCallMissed)[0]
	assert.ElementsMatch(t, []uuid.UUID{f.caller, f.callee}, missed.UserIDs)
	assert.Nil(t, missed.Payload.(domain.CallUpdatePayload).UserID)

	require.Eventually(t, func() bool {
		_, m := f.notifier.counts()
		return m == 1
	}, time.Second, 5*time.Millisecond)

	res, err := f.svc.Accept(context.Background(), call.CallID, f.callee, "conn")
	require.NoError(t, err)
	assert.True(t, res.Noop)
}

func TestRingTimeout_AcceptFirstWins(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	call := f.initiate(t)

	_, err := f.svc.Accept(context.Background(), call.CallID, f.callee, "conn")
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, f.emitter.named(constants.EventCallMissed))
	assert.Equal(t, domain.CallStatusOngoing, f.stored(t, call.CallID).Status)
}

func TestAccept_StorageFailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, time.Minute)
	call := f.initiate(t)
	ctx := context.Background()

	f.calls.setFailing(true)
	_, err := f.svc.Accept(ctx, call.CallID, f.callee, "conn")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDependencyUnavailable))
	assert.Empty(t, f.emitter.named(constants.EventCallAccepted))

	st, err := f.svc.State(ctx, call.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, st.Call.Status)
	assert.True(t, f.timers.Armed(call.CallID))

	f.calls.setFailing(false)
	res, err := f.svc.Accept(ctx, call.CallID, f.callee, "conn")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusOngoing, res.Call.Status)
}

func TestState_LoadFailureIsDependencyError(t *testing.T) {
	repo := &MockCallRepository{}
	callID := uuid.New()
	repo.On("GetByID", mock.Anything, callID).Return(nil, errors.New("dial tcp: i/o timeout"))

	svc := NewService(Deps{
		Calls:         repo,
		Users:         memory.NewUserRepository(),
		Conversations: memory.NewConversationRepository(),
		Emitter:       &recordingEmitter{},
		Routes:        registry.NewCallRoutes(),
		Timers:        ringtimer.NewScheduler(nil),
	}, Config{})

	_, err := svc.State(context.Background(), callID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDependencyUnavailable))
	repo.AssertExpectations(t)
}

// storeRinging saves a RINGING call created at created, as a previous process would have left it
func (f *fixture) storeRinging(t *testing.T, created time.Time) uuid.UUID {
	t.Helper()
	callID := uuid.New()
	require.NoError(t, f.calls.Create(context.Background(), &domain.Call{
		CallID:      callID,
		InitiatorID: f.caller,
		CallType:    domain.CallTypeAudio,
		Status:      domain.CallStatusRinging,
		CreatedAt:   created,
	}, domain.Participants{
		{CallID: callID, UserID: f.caller, Status: domain.ParticipantJoined, JoinedAt: created},
		{CallID: callID, UserID: f.callee, Status: domain.ParticipantJoined, JoinedAt: created},
	}))
	return callID
}

// restart builds a second service over the same collaborators, as after a process restart
func (f *fixture) restart(cfg Config) *Service {
	return NewService(Deps{
		Calls:         f.calls,
		Users:         f.users,
		Conversations: f.convs,
		Emitter:       f.emitter,
		Routes:        f.routes,
		Timers:        f.timers,
		Online:        f.online,
		Notifier:      f.notifier,
	}, cfg)
}

func TestState_ReadDoesNotArmRingTimer(t *testing.T) {
	f := newFixture(t, time.Minute)
	callID := f.storeRinging(t, time.Now())

	status, err := f.svc.Status(context.Background(), callID, f.caller)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, status.Status)
	assert.False(t, f.timers.Armed(callID))

	_, err = f.svc.State(context.Background(), callID)
	require.NoError(t, err)
	assert.False(t, f.timers.Armed(callID))
}

func TestAccept_ReloadedCallArmsRemainingWindow(t *testing.T) {
	f := newFixture(t, time.Minute)
	callID := f.storeRinging(t, time.Now())

	_, err := f.svc.State(context.Background(), callID)
	require.NoError(t, err)

	res, err := f.svc.Reject(context.Background(), callID, f.caller)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotCallee))
	assert.Nil(t, res)
	assert.True(t, f.timers.Armed(callID))

	res, err = f.svc.Accept(context.Background(), callID, f.callee, "conn")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusOngoing, res.Call.Status)
	assert.False(t, f.timers.Armed(callID))
}

func TestAccept_AfterExpiredRingWindowMissesCall(t *testing.T) {
	f := newFixture(t, 40*time.Millisecond)
	callID := f.storeRinging(t, time.Now().Add(-time.Hour))

	res, err := f.svc.Accept(context.Background(), callID, f.callee, "conn")
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Equal(t, domain.CallStatusMissed, res.Call.Status)

	assert.Equal(t, domain.CallStatusMissed, f.stored(t, callID).Status)
	assert.Empty(t, f.emitter.named(constants.EventCallAccepted))
	assert.Len(t, f.emitter.named(constants.EventCallMissed), 1)
	assert.False(t, f.routes.Has(callID))
	require.Eventually(t, func() bool {
		_, m := f.notifier.counts()
		return m == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEnd_WhileRingingSurvivesRestart(t *testing.T) {
	f := newFixture(t, time.Minute)
	call := f.initiate(t)
	ctx := context.Background()

	_, err := f.svc.End(ctx, call.CallID, f.caller)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, f.stored(t, call.CallID).Status)

	restarted := f.restart(Config{RingTimeout: time.Minute})
	res, err := restarted.Accept(ctx, call.CallID, f.callee, "conn")
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Equal(t, domain.CallStatusRinging, res.Call.Status)

	assert.Equal(t, domain.CallStatusRinging, f.stored(t, call.CallID).Status)
	assert.Empty(t, f.emitter.named(constants.EventCallAccepted))
	assert.False(t, f.timers.Armed(call.CallID))
	assert.Equal(t, 0, restarted.LiveCount())

	st, err := restarted.State(ctx, call.CallID)
	require.NoError(t, err)
	assert.True(t, st.RingCancelled)
}

func TestEnd_WhileRingingOutlivesFinishedCache(t *testing.T) {
	f := newFixture(t, time.Minute)
	svc := f.restart(Config{RingTimeout: time.Minute, EndedCallTTL: 20 * time.Millisecond})
	ctx := context.Background()

	res, err := svc.Initiate(ctx, InitiateInput{
		CallerID: f.caller,
		Target:   f.callee,
		Type:     domain.CallTypeAudio,
	})
	require.NoError(t, err)
	callID := res.Call.CallID

	_, err = svc.End(ctx, callID, f.caller)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, cached := svc.finished.Get(callID)
		return !cached
	}, time.Second, 5*time.Millisecond)

	res, err = svc.Accept(ctx, callID, f.callee, "conn")
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Equal(t, domain.CallStatusRinging, f.stored(t, callID).Status)
	assert.Empty(t, f.emitter.named(constants.EventCallAccepted))
	assert.False(t, f.timers.Armed(callID))
}

func TestStatus_NonParticipant(t *testing.T) {
	f := newFixture(t, time.Minute)
	call := f.initiate(t)

	_, err := f.svc.Status(context.Background(), call.CallID, uuid.New())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotParticipant))

	got, err := f.svc.Status(context.Background(), call.CallID, f.callee)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, got.Status)
}

func TestAbandon_DisarmsAndEvicts(t *testing.T) {
	f := newFixture(t, time.Minute)
	call := f.initiate(t)

	f.svc.Abandon(call.CallID)
	assert.Equal(t, 0, f.svc.LiveCount())
	assert.False(t, f.timers.Armed(call.CallID))

	// the stored call is untouched and reloads on demand
	assert.Equal(t, domain.CallStatusRinging, f.stored(t, call.CallID).Status)
	res, err := f.svc.Accept(context.Background(), call.CallID, f.callee, "conn")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusOngoing, res.Call.Status)
}

func TestParticipants(t *testing.T) {
	f := newFixture(t, time.Minute)
	call := f.initiate(t)

	ps, err := f.svc.Participants(context.Background(), call.CallID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{f.caller, f.callee}, ps.UserIDs())
}

func TestRingTimeout_StorageFailureRetriesAreBounded(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	f.svc.cfg.TimeoutRetryDelay = 10 * time.Millisecond
	call := f.initiate(t)
	f.calls.setFailing(true)

	require.Eventually(t, func() bool {
		return f.svc.LiveCount() == 0 && !f.timers.Armed(call.CallID)
	}, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, f.emitter.named(constants.EventCallMissed))
	assert.Equal(t, domain.CallStatusRinging, f.stored(t, call.CallID).Status)
}
