package call

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callrelay-backend/internal/domain"
	"callrelay-backend/pkg/constants"
	apperrors "callrelay-backend/pkg/errors"
)

func ringingState() (State, uuid.UUID, uuid.UUID) {
	caller, callee := uuid.New(), uuid.New()
	callID := uuid.New()
	now := time.Now()
	return State{
		Call: &domain.Call{
			CallID:      callID,
			InitiatorID: caller,
			CallType:    domain.CallTypeVideo,
			Status:      domain.CallStatusRinging,
			CreatedAt:   now,
		},
		Participants: domain.Participants{
			{CallID: callID, UserID: caller, Status: domain.ParticipantJoined, JoinedAt: now},
			{CallID: callID, UserID: callee, Status: domain.ParticipantJoined, JoinedAt: now},
		},
	}, caller, callee
}

func withStatus(st State, status domain.CallStatus) State {
	st = st.Clone()
	st.Call.Status = status
	return st
}

func participantStatus(st State, userID uuid.UUID) domain.ParticipantStatus {
	for _, p := range st.Participants {
		if p.UserID == userID {
			return p.Status
		}
	}
	return ""
}

func TestDecide_AcceptRinging(t *testing.T) {
	st, caller, callee := ringingState()
	now := time.Now()

	tr, err := Decide(st, ActionAccept, callee, now)
	require.NoError(t, err)

	assert.False(t, tr.Noop)
	assert.True(t, tr.Persist)
	assert.True(t, tr.DisarmTimer)
	assert.True(t, tr.BindActor)
	assert.False(t, tr.DropRoutes)
	assert.Equal(t, domain.CallStatusOngoing, tr.To.Call.Status)
	require.NotNil(t, tr.To.Call.StartedAt)
	assert.Equal(t, now, *tr.To.Call.StartedAt)
	assert.Nil(t, tr.To.Call.EndedAt)
	assert.Equal(t, domain.ParticipantJoined, participantStatus(tr.To, caller))
	assert.Equal(t, domain.ParticipantJoined, participantStatus(tr.To, callee))

	require.Len(t, tr.Events, 1)
	assert.Equal(t, constants.EventCallAccepted, tr.Events[0].Name)
	assert.ElementsMatch(t, []uuid.UUID{caller, callee}, tr.Events[0].UserIDs)

	// input untouched
	assert.Equal(t, domain.CallStatusRinging, st.Call.Status)
	assert.Nil(t, st.Call.StartedAt)
}

func TestDecide_CallerMayAccept(t *testing.T) {
	st, caller, _ := ringingState()
	tr, err := Decide(st, ActionAccept, caller, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusOngoing, tr.To.Call.Status)
}

func TestDecide_RejectRinging(t *testing.T) {
	st, caller, callee := ringingState()
	now := time.Now()

	tr, err := Decide(st, ActionReject, callee, now)
	require.NoError(t, err)

	assert.Equal(t, domain.CallStatusDeclined, tr.To.Call.Status)
	require.NotNil(t, tr.To.Call.EndedAt)
	assert.Nil(t, tr.To.Call.StartedAt)
	assert.Equal(t, domain.ParticipantLeft, participantStatus(tr.To, callee))
	assert.Equal(t, domain.ParticipantMissed, participantStatus(tr.To, caller))
	assert.True(t, tr.DropRoutes)
	assert.True(t, tr.DisarmTimer)
	require.Len(t, tr.Events, 1)
	assert.Equal(t, constants.EventCallRejected, tr.Events[0].Name)
}

func TestDecide_RejectByCallerIsUnauthorized(t *testing.T) {
	st, caller, _ := ringingState()
	_, err := Decide(st, ActionReject, caller, time.Now())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotCallee))
	assert.True(t, apperrors.IsUnauthorized(err))
}

func TestDecide_StrangerIsRejectedEvenWhenTerminal(t *testing.T) {
	st, _, _ := ringingState()
	stranger := uuid.New()

	for _, status := range []domain.CallStatus{domain.CallStatusRinging, domain.CallStatusOngoing, domain.CallStatusEnded} {
		for _, action := range []Action{ActionAccept, ActionReject, ActionEnd} {
			_, err := Decide(withStatus(st, status), action, stranger, time.Now())
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotParticipant), "%s/%s", status, action)
		}
	}
}

func TestDecide_EndOngoing(t *testing.T) {
	st, caller, callee := ringingState()
	accepted, err := Decide(st, ActionAccept, callee, time.Now())
	require.NoError(t, err)

	tr, err := Decide(accepted.To, ActionEnd, caller, time.Now())
	require.NoError(t, err)

	assert.Equal(t, domain.CallStatusEnded, tr.To.Call.Status)
	assert.NotNil(t, tr.To.Call.StartedAt)
	assert.NotNil(t, tr.To.Call.EndedAt)
	assert.Equal(t, domain.ParticipantLeft, participantStatus(tr.To, caller))
	assert.Equal(t, domain.ParticipantLeft, participantStatus(tr.To, callee))
	assert.True(t, tr.DropRoutes)
	require.Len(t, tr.Events, 1)
	assert.Equal(t, constants.EventCallEnded, tr.Events[0].Name)
}

func TestDecide_EndRingingCancelsWithoutStatusChange(t *testing.T) {
	st, caller, callee := ringingState()

	tr, err := Decide(st, ActionEnd, caller, time.Now())
	require.NoError(t, err)

	assert.False(t, tr.Noop)
	assert.True(t, tr.Persist)
	assert.Equal(t, domain.CallStatusRinging, tr.To.Call.Status)
	assert.Nil(t, tr.To.Call.EndedAt)
	assert.True(t, tr.To.RingCancelled)
	assert.Equal(t, domain.ParticipantLeft, participantStatus(tr.To, caller))
	assert.Equal(t, domain.ParticipantJoined, participantStatus(tr.To, callee))
	assert.True(t, tr.DropRoutes)
	assert.True(t, tr.DisarmTimer)
	require.Len(t, tr.Events, 1)
	assert.Equal(t, constants.EventCallEnded, tr.Events[0].Name)

	// nothing applies afterwards
	after, err := Decide(tr.To, ActionAccept, caller, time.Now())
	require.NoError(t, err)
	assert.True(t, after.Noop)
	assert.Empty(t, after.Events)
}

func TestDecide_TimeoutRinging(t *testing.T) {
	st, caller, callee := ringingState()

	tr, err := Decide(st, ActionTimeout, uuid.Nil, time.Now())
	require.NoError(t, err)

	assert.Equal(t, domain.CallStatusMissed, tr.To.Call.Status)
	assert.NotNil(t, tr.To.Call.EndedAt)
	assert.Equal(t, domain.ParticipantMissed, participantStatus(tr.To, caller))
	assert.Equal(t, domain.ParticipantMissed, participantStatus(tr.To, callee))
	assert.True(t, tr.DropRoutes)
	require.Len(t, tr.Events, 1)
	assert.Equal(t, constants.EventCallMissed, tr.Events[0].Name)
	assert.Nil(t, tr.Events[0].Payload.(domain.CallUpdatePayload).UserID)
}

func TestDecide_TimeoutAfterAcceptIsNoop(t *testing.T) {
	st, _, callee := ringingState()
	accepted, err := Decide(st, ActionAccept, callee, time.Now())
	require.NoError(t, err)

	tr, err := Decide(accepted.To, ActionTimeout, uuid.Nil, time.Now())
	require.NoError(t, err)
	assert.True(t, tr.Noop)
	assert.False(t, tr.Persist)
	assert.Equal(t, domain.CallStatusOngoing, tr.To.Call.Status)
}

func TestDecide_OutOfStateActionsAreNoops(t *testing.T) {
	st, caller, callee := ringingState()
	ongoing := withStatus(st, domain.CallStatusOngoing)

	cases := []struct {
		name   string
		state  State
		action Action
		actor  uuid.UUID
	}{
		{"second accept", ongoing, ActionAccept, caller},
		{"reject ongoing", ongoing, ActionReject, callee},
		{"end declined", withStatus(st, domain.CallStatusDeclined), ActionEnd, caller},
		{"accept missed", withStatus(st, domain.CallStatusMissed), ActionAccept, callee},
		{"end ended", withStatus(st, domain.CallStatusEnded), ActionEnd, callee},
		{"timeout ended", withStatus(st, domain.CallStatusEnded), ActionTimeout, uuid.Nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr, err := Decide(tc.state, tc.action, tc.actor, time.Now())
			require.NoError(t, err)
			assert.True(t, tr.Noop)
			assert.False(t, tr.Persist)
			assert.Empty(t, tr.Events)
			assert.Equal(t, tc.state.Call.Status, tr.To.Call.Status)
		})
	}
}

func TestDecide_FinalParticipantsNeverChange(t *testing.T) {
	st, caller, callee := ringingState()
	st.Participants[0].Status = domain.ParticipantLeft

	tr, err := Decide(st, ActionTimeout, uuid.Nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantLeft, participantStatus(tr.To, caller))
	assert.Equal(t, domain.ParticipantMissed, participantStatus(tr.To, callee))
}

func TestDecide_UnknownAction(t *testing.T) {
	st, caller, _ := ringingState()
	_, err := Decide(st, Action("hold"), caller, time.Now())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}

func TestRestoreState(t *testing.T) {
	st, caller, _ := ringingState()

	restored := restoreState(st.Call, st.Participants)
	assert.False(t, restored.RingCancelled)

	cancelled, err := Decide(st, ActionEnd, caller, time.Now())
	require.NoError(t, err)
	restored = restoreState(cancelled.To.Call, cancelled.To.Participants)
	assert.True(t, restored.RingCancelled)

	after, err := Decide(restored, ActionAccept, caller, time.Now())
	require.NoError(t, err)
	assert.True(t, after.Noop)

	// terminal calls carry final participants without being ring-cancelled
	missed, err := Decide(st, ActionTimeout, uuid.Nil, time.Now())
	require.NoError(t, err)
	assert.False(t, restoreState(missed.To.Call, missed.To.Participants).RingCancelled)
}
