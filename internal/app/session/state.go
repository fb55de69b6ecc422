package session

import (
	"sort"

	"github.com/nkosi/liveclass/internal/app/signaling"
	"github.com/nkosi/liveclass/internal/core"
	"github.com/nkosi/liveclass/internal/domain"
)

// State is the top-level session state presentation code reacts to. Only
// JoinFailed, Recovering and Lost need UI treatment; every lower-level error
// is absorbed here.
type State int

const (
	Idle State = iota
	Joining
	JoinFailed // terminal, retriable only via a new Join
	Negotiating
	Active
	Recovering // transport is reconnecting; intent and participants preserved
	Lost       // terminal; UI must prompt to rejoin
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Joining:
		return "joining"
	case JoinFailed:
		return "join_failed"
	case Negotiating:
		return "negotiating"
	case Active:
		return "active"
	case Recovering:
		return "recovering"
	case Lost:
		return "lost"
	}
	return "unknown"
}

// Snapshot is the composite view pushed to observers. It is a pure
// projection of engine-owned sub-state, recomputed on every change; it holds
// no independent mutable fields.
type Snapshot struct {
	State        State
	Connection   core.Status
	Negotiation  signaling.State
	Muted        bool
	Participants []domain.ParticipantID
	Identity     *domain.Identity
}

// snapshot builds the projection. Runs on the engine loop.
func (e *Engine) snapshot() Snapshot {
	parts := make([]domain.ParticipantID, 0, len(e.participants))
	for id := range e.participants {
		parts = append(parts, id)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })

	snap := Snapshot{
		State:        e.state,
		Connection:   e.transport.Status(),
		Muted:        e.muted,
		Participants: parts,
	}
	if e.coord != nil {
		snap.Negotiation = e.coord.State()
	}
	if e.ident != nil {
		id := *e.ident
		snap.Identity = &id
	}
	return snap
}
