// Package session implements the session state machine: the single source of
// truth for "am I in a session, connected, muted, reconnecting".
//
// Concurrency is handled by ordering, not mutual exclusion: every inbound
// transport event, negotiation callback and user action is serialized onto
// one loop, so the composite state needs no locks. Async continuations are
// guarded by a join epoch; results of a superseded join attempt are no-ops.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/nkosi/liveclass/internal/app/fanout"
	"github.com/nkosi/liveclass/internal/app/signaling"
	"github.com/nkosi/liveclass/internal/core"
	"github.com/nkosi/liveclass/internal/domain"
)

var (
	ErrAlreadyRunning = errors.New("session: engine already running")
	ErrNotRunning     = errors.New("session: engine not running")
	ErrNotJoined      = errors.New("session: not joined")
)

const (
	opsBuffer      = 128
	snapshotBuffer = 16
	trackBuffer    = 4
)

// Options carry the per-process join parameters.
type Options struct {
	RelayURL    string
	DisplayName string
	Role        domain.Role
}

// MediaFactoryFor builds the media factory for one joined session.
type MediaFactoryFor func(sid domain.SessionID) core.MediaFactory

// Engine merges transport status, negotiation callbacks and local user
// actions into one consistent observable state.
type Engine struct {
	transport core.SignalTransport
	gate      core.CapabilityGate
	mediaFor  MediaFactoryFor
	opts      Options
	fan       *fanout.FanOut

	runMu     sync.Mutex
	running   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	ops       chan func()
	stopped   chan struct{}

	// Everything below is owned by the loop goroutine.
	epoch           uint64
	state           State
	ident           *domain.Identity
	coord           *signaling.Coordinator
	grant           core.AudioCapability
	muted           bool // Local Intent: survives sessions and reconnects
	participants    map[domain.ParticipantID]struct{}
	joinCtx         context.Context
	joinCancel      context.CancelFunc
	needRenegotiate bool
	earlyCandidates []webrtc.ICECandidateInit

	subMu    sync.Mutex
	watchers []chan Snapshot

	remoteTracks chan *webrtc.TrackRemote
}

// NewEngine wires the engine to its collaborators. Nothing runs until Start.
func NewEngine(transport core.SignalTransport, gate core.CapabilityGate, mediaFor MediaFactoryFor, opts Options) *Engine {
	return &Engine{
		transport:    transport,
		gate:         gate,
		mediaFor:     mediaFor,
		opts:         opts,
		fan:          fanout.New(),
		participants: make(map[domain.ParticipantID]struct{}),
		remoteTracks: make(chan *webrtc.TrackRemote, trackBuffer),
	}
}

// Start launches the event loop and the transport pumps.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}
	e.running = true
	e.runCtx, e.runCancel = context.WithCancel(ctx)
	e.ops = make(chan func(), opsBuffer)
	e.stopped = make(chan struct{})

	go e.loop()
	go e.pumpEvents(e.transport.Events())
	go e.pumpStatus(e.transport.StatusChanges())
	return nil
}

// Stop leaves any active session and shuts the loop down.
func (e *Engine) Stop() error {
	e.runMu.Lock()
	if !e.running {
		e.runMu.Unlock()
		return ErrNotRunning
	}
	e.running = false
	cancel, stopped := e.runCancel, e.stopped
	e.runMu.Unlock()

	// Leave best-effort before the loop goes away.
	left := make(chan struct{})
	select {
	case e.ops <- func() { e.doLeave(); close(left) }:
		<-left
	default:
	}
	cancel()
	<-stopped
	return nil
}

func (e *Engine) loop() {
	defer close(e.stopped)
	for {
		select {
		case <-e.runCtx.Done():
			return
		case fn := <-e.ops:
			fn()
		}
	}
}

// post serializes fn onto the loop. Drops silently once the engine stops.
func (e *Engine) post(fn func()) {
	select {
	case e.ops <- fn:
	case <-e.runCtx.Done():
	}
}

func (e *Engine) pumpEvents(events <-chan core.Event) {
	for {
		select {
		case <-e.runCtx.Done():
			return
		case ev := <-events:
			e.post(func() { e.handleEvent(ev) })
		}
	}
}

func (e *Engine) pumpStatus(statuses <-chan core.Status) {
	for {
		select {
		case <-e.runCtx.Done():
			return
		case s := <-statuses:
			e.post(func() { e.handleStatus(s) })
		}
	}
}

// FanOut exposes the typed notification streams.
func (e *Engine) FanOut() *fanout.FanOut { return e.fan }

// RemoteTracks streams remote audio tracks for the platform renderer.
func (e *Engine) RemoteTracks() <-chan *webrtc.TrackRemote { return e.remoteTracks }

// Snapshots returns a stream of composite state projections. The current
// snapshot is pushed on every change of any engine-owned sub-state.
func (e *Engine) Snapshots() <-chan Snapshot {
	ch := make(chan Snapshot, snapshotBuffer)
	e.subMu.Lock()
	e.watchers = append(e.watchers, ch)
	e.subMu.Unlock()
	return ch
}

// notify recomputes the projection and pushes it. Runs on the loop.
func (e *Engine) notify() {
	snap := e.snapshot()
	e.subMu.Lock()
	for _, w := range e.watchers {
		select {
		case w <- snap:
		default:
			log.Warn().Str("module", "session").Msg("snapshot watcher lagging, dropped")
		}
	}
	e.subMu.Unlock()
}

func (e *Engine) setState(s State) {
	if e.state == s {
		return
	}
	log.Info().Str("module", "session").Str("from", e.state.String()).Str("to", s.String()).Msg("state")
	e.state = s
	e.notify()
}

// Join starts a join attempt for the given session. A join while another
// attempt or session is in flight supersedes it: the older attempt's pending
// results are discarded by the epoch guard.
func (e *Engine) Join(sessionID domain.SessionID, lectureID domain.LectureID) {
	e.post(func() { e.doJoin(sessionID, lectureID) })
}

// Leave tears the session down and returns to Idle. Idempotent: leaving
// while Idle is a no-op. The leave_session event is best-effort.
func (e *Engine) Leave() {
	e.post(func() { e.doLeave() })
}

// SetMuted records the user's mute intent. Independent of network state: if
// no local track exists yet it is applied the moment one is created, and it
// is re-applied to every track recreated by a renegotiation.
func (e *Engine) SetMuted(muted bool) {
	e.post(func() {
		if e.muted == muted {
			return
		}
		e.muted = muted
		if e.grant != nil {
			e.grant.SetEnabled(!muted)
		}
		log.Info().Str("module", "session").Bool("muted", muted).Msg("mute intent")
		e.notify()
	})
}

// ToggleMute flips the mute intent.
func (e *Engine) ToggleMute() {
	e.post(func() {
		e.muted = !e.muted
		if e.grant != nil {
			e.grant.SetEnabled(!e.muted)
		}
		log.Info().Str("module", "session").Bool("muted", e.muted).Msg("mute intent")
		e.notify()
	})
}

// call runs fn on the loop and waits for its result.
func (e *Engine) call(fn func() error) error {
	e.runMu.Lock()
	running := e.running
	e.runMu.Unlock()
	if !running {
		return ErrNotRunning
	}
	res := make(chan error, 1)
	select {
	case e.ops <- func() { res <- fn() }:
	case <-e.runCtx.Done():
		return ErrNotRunning
	}
	select {
	case err := <-res:
		return err
	case <-e.runCtx.Done():
		return ErrNotRunning
	}
}
