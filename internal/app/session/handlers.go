package session

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/nkosi/liveclass/internal/app/fanout"
	"github.com/nkosi/liveclass/internal/app/signaling"
	"github.com/nkosi/liveclass/internal/core"
	"github.com/nkosi/liveclass/internal/domain"
)

// doJoin runs on the loop. It supersedes any in-flight attempt or session.
func (e *Engine) doJoin(sessionID domain.SessionID, lectureID domain.LectureID) {
	e.teardown(true)

	ident, err := domain.NewIdentity(sessionID, lectureID, e.opts.DisplayName, e.opts.Role)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Msg("invalid join parameters")
		e.setState(JoinFailed)
		return
	}
	e.ident = ident
	e.setState(Joining)

	ep := e.epoch
	ctx, cancel := context.WithCancel(e.runCtx)
	e.joinCtx, e.joinCancel = ctx, cancel
	go e.beginJoin(ctx, ep, ident)
}

// beginJoin performs the suspending half of a join: capability request and
// transport handshake. Results are posted back under the epoch guard.
func (e *Engine) beginJoin(ctx context.Context, ep uint64, ident *domain.Identity) {
	grant, gerr := e.gate.Request(ctx)
	if gerr != nil {
		e.post(func() {
			if ep != e.epoch {
				return
			}
			log.Warn().Err(gerr).Str("module", "session").Msg("join aborted: capability denied")
			e.teardown(true)
			e.setState(JoinFailed)
		})
		return
	}

	cerr := e.transport.Connect(ctx, e.opts.RelayURL)
	e.post(func() {
		if ep != e.epoch {
			return
		}
		if cerr != nil {
			log.Error().Err(cerr).Str("module", "session").Msg("join aborted: transport connect failed")
			e.teardown(true)
			e.setState(JoinFailed)
			return
		}
		join := domain.JoinSession{
			SessionID: string(ident.SessionID),
			UserID:    string(ident.ParticipantID),
			UserName:  ident.DisplayName,
			UserType:  string(ident.Role),
		}
		// Registered on the loop under the epoch guard so a superseded
		// attempt resuming late can never overwrite the active session's
		// rejoin registration.
		e.transport.SetRejoin(domain.EvJoinSession, join)
		e.grant = grant
		grant.SetEnabled(!e.muted) // queued mute intent applies to the fresh track
		if err := e.transport.Emit(domain.EvJoinSession, join); err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("join_session emit failed")
		}
		e.startNegotiation(ep, ident, grant)
	})
}

// startNegotiation runs on the loop once transport is Connected and the
// capability is granted.
func (e *Engine) startNegotiation(ep uint64, ident *domain.Identity, grant core.AudioCapability) {
	e.setState(Negotiating)

	notify := func(st signaling.State) {
		e.post(func() { e.handleNegotiation(ep, st) })
	}
	onTrack := func(t *webrtc.TrackRemote) {
		select {
		case e.remoteTracks <- t:
		default:
			log.Warn().Str("module", "session").Msg("remote track stream full, dropped")
		}
	}
	e.coord = signaling.New(e.transport, e.mediaFor(ident.SessionID), grant, ident, notify, onTrack)

	if err := e.coord.Start(e.joinCtx, ident.Initiator()); err != nil {
		// Not session-fatal: the next reconnect triggers a full renegotiation.
		log.Error().Err(err).Str("module", "session").Msg("negotiation start failed")
	}

	// A drop during the join window marks a renegotiation before any
	// coordinator exists. This fresh negotiation already is one, but only if
	// the transport has recovered; otherwise the flag stays set and the next
	// Connected status restarts from scratch.
	if e.transport.Status() == core.StatusConnected {
		e.needRenegotiate = false
	}

	// Candidates that raced ahead of negotiation are handed over now; the
	// coordinator keeps them queued until a remote description exists.
	for _, ci := range e.earlyCandidates {
		if err := e.coord.HandleRemoteCandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("early candidate rejected")
		}
	}
	e.earlyCandidates = nil
}

// doLeave runs on the loop. Idempotent; safe in any state.
func (e *Engine) doLeave() {
	if e.state == Idle && e.ident == nil {
		return
	}
	if e.ident != nil {
		// Fire-and-forget: the relay times out stale participants anyway.
		if err := e.transport.Emit(domain.EvLeaveSession, domain.LeaveSession{
			SessionID: string(e.ident.SessionID),
			UserID:    string(e.ident.ParticipantID),
		}); err != nil {
			log.Debug().Err(err).Str("module", "session").Msg("leave_session emit skipped")
		}
	}
	e.teardown(true)
	e.setState(Idle)
}

// teardown discards the session atomically: peer, capability reference,
// identity and participant set. Bumping the epoch turns every pending async
// continuation of the old attempt into a no-op. Local Intent survives.
func (e *Engine) teardown(disconnect bool) {
	e.epoch++
	if e.joinCancel != nil {
		e.joinCancel()
		e.joinCancel = nil
	}
	if e.coord != nil {
		e.coord.Close()
		e.coord = nil
	}
	e.grant = nil // the gate keeps its process-lifetime cache
	e.ident = nil
	e.participants = make(map[domain.ParticipantID]struct{})
	e.earlyCandidates = nil
	e.needRenegotiate = false
	e.transport.ClearRejoin()
	if disconnect {
		e.transport.Disconnect()
	}
}

// handleStatus runs on the loop for every transport status transition.
func (e *Engine) handleStatus(s core.Status) {
	switch s {
	case core.StatusReconnecting:
		switch e.state {
		case Joining, Negotiating, Active, Recovering:
			e.needRenegotiate = true
			if e.state == Active {
				e.setState(Recovering)
			}
		}
	case core.StatusConnected:
		e.ensureRenegotiated()
	case core.StatusFailed:
		switch e.state {
		case Joining:
			e.teardown(true)
			e.setState(JoinFailed)
		case Negotiating, Active, Recovering:
			e.teardown(false) // transport is already dead
			e.setState(Lost)
		}
	}
	e.notify()
}

// ensureRenegotiated restarts negotiation exactly once after a reconnect.
// Called both on the Connected status and defensively before applying any
// post-reconnect signaling event, whichever the loop processes first.
func (e *Engine) ensureRenegotiated() {
	if !e.needRenegotiate || e.coord == nil {
		return
	}
	e.needRenegotiate = false
	if err := e.coord.Restart(e.joinCtx); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("renegotiation failed")
	}
}

// handleNegotiation runs on the loop for coordinator state changes.
func (e *Engine) handleNegotiation(ep uint64, st signaling.State) {
	if ep != e.epoch {
		return
	}
	switch st {
	case signaling.StateConnected:
		if e.state == Negotiating || e.state == Recovering {
			if e.grant != nil {
				e.grant.SetEnabled(!e.muted) // mute intent survives renegotiation
			}
			e.setState(Active)
		}
	case signaling.StateClosed:
		if e.state == Active {
			log.Warn().Str("module", "session").Msg("peer connection closed; awaiting transport recovery")
		}
	}
	e.notify()
}

// handleEvent runs on the loop for every inbound relay event, in relay
// arrival order. Session state is applied before anything reaches the
// fan-out.
func (e *Engine) handleEvent(ev core.Event) {
	switch ev.Name {
	case domain.EvWebRTCOffer:
		var p domain.OfferPayload
		if !e.decode(ev, &p) {
			return
		}
		if e.fromSelf(p.FromUserID) || e.coord == nil {
			return
		}
		e.ensureRenegotiated()
		if err := e.coord.HandleRemoteOffer(p.FromUserID, p.Offer); err != nil {
			log.Error().Err(err).Str("module", "session").Msg("remote offer rejected")
		}

	case domain.EvWebRTCAnswer:
		var p domain.AnswerPayload
		if !e.decode(ev, &p) {
			return
		}
		if e.fromSelf(p.FromUserID) || e.coord == nil {
			return
		}
		e.ensureRenegotiated()
		if err := e.coord.HandleRemoteAnswer(p.FromUserID, p.Answer); err != nil {
			log.Error().Err(err).Str("module", "session").Msg("remote answer rejected")
		}

	case domain.EvICECandidate:
		var p domain.ICECandidatePayload
		if !e.decode(ev, &p) {
			return
		}
		if e.fromSelf(p.FromUserID) {
			return
		}
		ci := webrtc.ICECandidateInit{
			Candidate:     p.Candidate,
			SDPMid:        p.SDPMid,
			SDPMLineIndex: p.SDPMLineIndex,
		}
		if e.coord == nil {
			// Negotiation not started yet; never drop a candidate.
			e.earlyCandidates = append(e.earlyCandidates, ci)
			return
		}
		e.ensureRenegotiated()
		if err := e.coord.HandleRemoteCandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("remote candidate rejected")
		}

	case domain.EvSessionInfo:
		var p domain.SessionInfo
		if !e.decode(ev, &p) {
			return
		}
		e.participants = make(map[domain.ParticipantID]struct{}, len(p.Participants))
		for _, info := range p.Participants {
			if !e.fromSelf(info.ID) {
				e.participants[domain.ParticipantID(info.ID)] = struct{}{}
			}
		}
		e.notify()

	case domain.EvUserJoined, domain.EvUserLeft:
		var p domain.PresencePayload
		if !e.decode(ev, &p) {
			return
		}
		if !e.fromSelf(p.UserID) {
			if ev.Name == domain.EvUserJoined {
				e.participants[domain.ParticipantID(p.UserID)] = struct{}{}
			} else {
				delete(e.participants, domain.ParticipantID(p.UserID))
			}
			e.notify()
		}
		e.fan.Dispatch(ev)

	case domain.EvError:
		var p domain.ErrorPayload
		_ = e.decode(ev, &p)
		log.Warn().Str("module", "session").Str("message", p.Message).Msg("relay error event")

	case domain.EvSessionEnded:
		log.Info().Str("module", "session").Msg("session ended by relay")
		e.teardown(true)
		e.setState(Idle)

	default:
		if fanout.Handles(ev.Name) {
			e.fan.Dispatch(ev)
			return
		}
		log.Debug().Str("module", "session").Str("event", ev.Name).Msg("unhandled event")
	}
}

func (e *Engine) fromSelf(userID string) bool {
	return e.ident != nil && userID == string(e.ident.ParticipantID)
}

func (e *Engine) decode(ev core.Event, out any) bool {
	if err := sonic.Unmarshal(ev.Data, out); err != nil {
		log.Warn().Err(err).Str("module", "session").Str("event", ev.Name).Msg("malformed payload, dropped")
		return false
	}
	return true
}
