package call

import (
	"time"

	"github.com/google/uuid"

	"callrelay-backend/internal/domain"
	"callrelay-backend/pkg/constants"
	apperrors "callrelay-backend/pkg/errors"
)

// Action is a caller- or timer-driven input to the call state machine
type Action string

const (
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionEnd     Action = "end"
	ActionTimeout Action = "timeout"
)

// State is everything Decide needs to know about a call
type State struct {
	Call         *domain.Call
	Participants domain.Participants
	// RingCancelled is set once the call was ended while still ringing.
	// The stored status stays RINGING but no further action applies.
	RingCancelled bool
}

// restoreState rebuilds the state of a stored call. A RINGING call with a
// participant who already left was cancelled before anyone answered.
func restoreState(call *domain.Call, participants domain.Participants) State {
	st := State{Call: call, Participants: participants}
	if call.Status != domain.CallStatusRinging {
		return st
	}
	for _, p := range participants {
		if p.Status.IsFinal() {
			st.RingCancelled = true
			break
		}
	}
	return st
}

// Clone returns a deep copy of st
func (st State) Clone() State {
	return State{
		Call:          st.Call.Clone(),
		Participants:  st.Participants.Clone(),
		RingCancelled: st.RingCancelled,
	}
}

// Snapshot renders the read model of st
func (st State) Snapshot() *domain.CallWithParticipants {
	c := st.Clone()
	return &domain.CallWithParticipants{Call: c.Call, Participants: c.Participants}
}

// Transition is the outcome of applying an Action to a State
type Transition struct {
	From State
	To   State
	// Persist is true when status, timestamps or participants changed
	Persist bool
	// Noop marks an action that does not apply to the current status. It is
	// reported to the actor as success and produces no events.
	Noop        bool
	Events      []domain.Event
	DisarmTimer bool
	DropRoutes  bool
	// BindActor routes the actor's connection to the call
	BindActor bool
}

// Decide applies action by actor to st at time now. It never mutates st.
// Participant checks run before the no-op check so strangers are always
// rejected, whatever the status.
func Decide(st State, action Action, actor uuid.UUID, now time.Time) (Transition, error) {
	tr := Transition{From: st, To: st.Clone()}
	call := tr.To.Call

	switch action {
	case ActionAccept, ActionEnd:
		if !st.Participants.Has(actor) {
			return Transition{}, apperrors.NotParticipantError()
		}
	case ActionReject:
		if !st.Participants.Has(actor) {
			return Transition{}, apperrors.NotParticipantError()
		}
		if actor == call.InitiatorID {
			return Transition{}, apperrors.NotCalleeError()
		}
	case ActionTimeout:
	default:
		return Transition{}, apperrors.InvalidInputError("unknown call action: " + string(action))
	}

	if call.Status.IsTerminal() || st.RingCancelled {
		tr.Noop = true
		tr.DisarmTimer = true
		tr.DropRoutes = true
		return tr, nil
	}

	switch {
	case action == ActionAccept && call.Status == domain.CallStatusRinging:
		call.Status = domain.CallStatusOngoing
		call.StartedAt = &now
		for i := range tr.To.Participants {
			setParticipant(&tr.To.Participants[i], domain.ParticipantJoined, now)
		}
		tr.Persist = true
		tr.DisarmTimer = true
		tr.BindActor = true
		tr.Events = toParticipants(tr.To, constants.EventCallAccepted, &actor)

	case action == ActionReject && call.Status == domain.CallStatusRinging:
		call.Status = domain.CallStatusDeclined
		call.EndedAt = &now
		for i := range tr.To.Participants {
			p := &tr.To.Participants[i]
			if p.UserID == actor {
				setParticipant(p, domain.ParticipantLeft, now)
			} else {
				setParticipant(p, domain.ParticipantMissed, now)
			}
		}
		tr.Persist = true
		tr.DisarmTimer = true
		tr.DropRoutes = true
		tr.Events = toParticipants(tr.To, constants.EventCallRejected, &actor)

	case action == ActionEnd && call.Status == domain.CallStatusOngoing:
		call.Status = domain.CallStatusEnded
		call.EndedAt = &now
		for i := range tr.To.Participants {
			setParticipant(&tr.To.Participants[i], domain.ParticipantLeft, now)
		}
		tr.Persist = true
		tr.DisarmTimer = true
		tr.DropRoutes = true
		tr.Events = toParticipants(tr.To, constants.EventCallEnded, &actor)

	case action == ActionEnd && call.Status == domain.CallStatusRinging:
		// hung up before an answer; status is left as is and only the
		// actor's participant row records the cancellation
		for i := range tr.To.Participants {
			if p := &tr.To.Participants[i]; p.UserID == actor {
				setParticipant(p, domain.ParticipantLeft, now)
			}
		}
		tr.To.RingCancelled = true
		tr.Persist = true
		tr.DisarmTimer = true
		tr.DropRoutes = true
		tr.Events = toParticipants(tr.To, constants.EventCallEnded, &actor)

	case action == ActionTimeout && call.Status == domain.CallStatusRinging:
		call.Status = domain.CallStatusMissed
		call.EndedAt = &now
		for i := range tr.To.Participants {
			setParticipant(&tr.To.Participants[i], domain.ParticipantMissed, now)
		}
		tr.Persist = true
		tr.DropRoutes = true
		tr.Events = toParticipants(tr.To, constants.EventCallMissed, nil)

	default:
		tr.Noop = true
	}

	return tr, nil
}

// setParticipant moves p to status unless p already left or missed the call
func setParticipant(p *domain.CallParticipant, status domain.ParticipantStatus, now time.Time) {
	if p.Status.IsFinal() {
		return
	}
	p.Status = status
	if status.IsFinal() {
		p.LeftAt = &now
	}
}

func toParticipants(st State, name string, actor *uuid.UUID) []domain.Event {
	payload := domain.CallUpdatePayload{
		CallID: st.Call.CallID,
		UserID: actor,
		Status: st.Call.Status,
	}
	return []domain.Event{domain.ToUsers(name, payload, st.Participants.UserIDs()...)}
}
