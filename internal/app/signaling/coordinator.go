// Package signaling drives WebRTC offer/answer/candidate exchange over the
// relay transport and owns the local peer connection.
//
// Exactly one negotiation exists per joined session (star topology, at most
// one remote peer). Students join as responders and wait passively for the
// teacher's offer; the teacher joins as the initiator.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/nkosi/liveclass/internal/core"
	"github.com/nkosi/liveclass/internal/domain"
)

var (
	ErrClosed     = errors.New("signaling: coordinator closed")
	ErrNotStarted = errors.New("signaling: negotiation not started")
)

// State is the peer negotiation state.
type State int

const (
	StateIdle State = iota
	StateOfferSent
	StateOfferReceived
	StateAnswerSent
	StateAnswerReceived
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferSent:
		return "offer_sent"
	case StateOfferReceived:
		return "offer_received"
	case StateAnswerSent:
		return "answer_sent"
	case StateAnswerReceived:
		return "answer_received"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Emitter is the outbound half of the transport the coordinator needs.
type Emitter interface {
	Emit(event string, payload any) error
}

// Coordinator owns the peer connection and its negotiation state machine.
// ICE candidates arriving before a remote description are queued and flushed
// once the description is set; they are never dropped.
type Coordinator struct {
	emitter Emitter
	factory core.MediaFactory
	grant   core.AudioCapability
	ident   *domain.Identity

	// notify may fire from pion goroutines (connected/closed); consumers
	// must route it onto their own loop.
	notify        func(State)
	onRemoteTrack func(*webrtc.TrackRemote)

	mu        sync.Mutex
	media     core.MediaSession
	state     State
	initiator bool
	remoteSet bool
	remoteID  string // learned from the remote offer/answer, targets replies
	pending   []webrtc.ICECandidateInit
	closed    bool
}

// New builds a coordinator for one joined session. The capability must have
// been granted already; negotiation never runs without a local track.
func New(emitter Emitter, factory core.MediaFactory, grant core.AudioCapability,
	ident *domain.Identity, notify func(State), onRemoteTrack func(*webrtc.TrackRemote)) *Coordinator {
	if notify == nil {
		notify = func(State) {}
	}
	return &Coordinator{
		emitter:       emitter,
		factory:       factory,
		grant:         grant,
		ident:         ident,
		notify:        notify,
		onRemoteTrack: onRemoteTrack,
	}
}

// Start creates the peer connection, attaches the local track and, as the
// initiator, sends the first offer. Responders stay Idle until an offer
// arrives.
func (c *Coordinator) Start(ctx context.Context, asInitiator bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.initiator = asInitiator

	media, err := c.factory()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("signaling: create media session: %w", err)
	}
	c.media = media
	c.remoteSet = false
	c.mu.Unlock()

	media.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		c.sendCandidate(ci)
	})
	media.OnConnected(func() { c.setState(StateConnected) })
	media.OnClosed(func() { c.setState(StateClosed) })
	if c.onRemoteTrack != nil {
		media.OnRemoteTrack(c.onRemoteTrack)
	}

	if err := media.AddLocalTrack(c.grant.LocalTrack()); err != nil {
		return err
	}
	if err := media.Start(ctx); err != nil {
		return fmt.Errorf("signaling: start media session: %w", err)
	}

	if !asInitiator {
		c.setState(StateIdle)
		return nil
	}

	offer, err := media.CreateOffer()
	if err != nil {
		return err
	}
	if err := c.emitter.Emit(domain.EvWebRTCOffer, c.offerPayload(offer.SDP)); err != nil {
		return fmt.Errorf("signaling: send offer: %w", err)
	}
	c.setState(StateOfferSent)
	return nil
}

// HandleRemoteOffer runs the responder path: set the remote offer, answer,
// then flush any candidates queued before the description existed.
func (c *Coordinator) HandleRemoteOffer(fromUserID, sdp string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.remoteID = fromUserID
	media := c.media
	c.mu.Unlock()
	if media == nil {
		return ErrNotStarted
	}

	c.setState(StateOfferReceived)

	answer, err := media.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
	if err != nil {
		return fmt.Errorf("signaling: apply offer: %w", err)
	}

	c.flushPending(media)

	if err := c.emitter.Emit(domain.EvWebRTCAnswer, c.answerPayload(answer.SDP)); err != nil {
		return fmt.Errorf("signaling: send answer: %w", err)
	}
	c.setState(StateAnswerSent)
	return nil
}

// HandleRemoteAnswer completes the initiator path.
func (c *Coordinator) HandleRemoteAnswer(fromUserID, sdp string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.remoteID = fromUserID
	media := c.media
	c.mu.Unlock()
	if media == nil {
		return ErrNotStarted
	}

	if err := media.ApplyAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		return fmt.Errorf("signaling: apply answer: %w", err)
	}

	c.flushPending(media)
	c.setState(StateAnswerReceived)
	return nil
}

// HandleRemoteCandidate applies a trickled candidate, queueing it if no
// remote description has been set yet.
func (c *Coordinator) HandleRemoteCandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.media == nil || !c.remoteSet {
		c.pending = append(c.pending, ci)
		n := len(c.pending)
		c.mu.Unlock()
		log.Debug().Str("module", "signaling").Int("queued", n).Msg("candidate queued before remote description")
		return nil
	}
	media := c.media
	c.mu.Unlock()

	if err := media.AddICECandidate(ci); err != nil {
		return fmt.Errorf("signaling: add candidate: %w", err)
	}
	return nil
}

// Restart tears down the current peer and renegotiates from scratch. Used
// after the transport re-enters Connected; there is no incremental ICE
// restart.
func (c *Coordinator) Restart(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	media := c.media
	initiator := c.initiator
	c.media = nil
	c.remoteSet = false
	c.pending = nil
	c.mu.Unlock()

	if media != nil {
		media.Close()
	}
	log.Info().Str("module", "signaling").Msg("renegotiating from scratch")
	return c.Start(ctx, initiator)
}

// Close synchronously tears down the peer connection. Idempotent.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	media := c.media
	c.media = nil
	c.pending = nil
	c.state = StateClosed
	c.mu.Unlock()

	if media != nil {
		media.Close()
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// flushPending applies queued candidates in arrival order once a remote
// description exists. A bad candidate is logged and skipped, not fatal.
func (c *Coordinator) flushPending(media core.MediaSession) {
	c.mu.Lock()
	c.remoteSet = true
	queued := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, ci := range queued {
		if err := media.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "signaling").Msg("queued candidate rejected")
		}
	}
	if len(queued) > 0 {
		log.Info().Str("module", "signaling").Int("flushed", len(queued)).Msg("applied queued candidates")
	}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	if c.closed && s != StateClosed {
		c.mu.Unlock()
		return
	}
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	log.Info().Str("module", "signaling").Str("state", s.String()).Msg("negotiation state")
	c.notify(s)
}

func (c *Coordinator) sendCandidate(ci webrtc.ICECandidateInit) {
	payload := domain.ICECandidatePayload{
		SessionID:     string(c.ident.SessionID),
		TargetUserID:  c.remotePeer(),
		FromUserID:    string(c.ident.ParticipantID),
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	}
	if err := c.emitter.Emit(domain.EvICECandidate, payload); err != nil {
		// Best-effort: a candidate lost during a transport gap is recovered
		// by the full renegotiation that follows the reconnect.
		log.Warn().Err(err).Str("module", "signaling").Msg("candidate emit failed")
	}
}

// remotePeer is empty until a remote description names the other side.
func (c *Coordinator) remotePeer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteID
}

func (c *Coordinator) offerPayload(sdp string) domain.OfferPayload {
	return domain.OfferPayload{
		SessionID:    string(c.ident.SessionID),
		TargetUserID: c.remotePeer(),
		FromUserID:   string(c.ident.ParticipantID),
		Offer:        sdp,
	}
}

func (c *Coordinator) answerPayload(sdp string) domain.AnswerPayload {
	return domain.AnswerPayload{
		SessionID:    string(c.ident.SessionID),
		TargetUserID: c.remotePeer(),
		FromUserID:   string(c.ident.ParticipantID),
		Answer:       sdp,
	}
}
