// Package rtc adapts a pion PeerConnection to the core.MediaSession port.
package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/nkosi/liveclass/internal/core"
	"github.com/nkosi/liveclass/internal/domain"
)

// PeerSession wraps one pion PeerConnection. It is exclusively owned by the
// signaling coordinator; nothing else touches the peer or its tracks.
type PeerSession struct {
	pc        *webrtc.PeerConnection
	sid       domain.SessionID
	cancel    context.CancelFunc
	closeOnce sync.Once

	onICE       func(webrtc.ICECandidateInit)
	onTrack     func(*webrtc.TrackRemote)
	onConnected func()
	onClosed    func()
}

// Config returns the default peer configuration for the given STUN servers,
// falling back to Google's public server when none are configured.
func Config(stunServers []string) webrtc.Configuration {
	if len(stunServers) == 0 {
		stunServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
	}
}

// NewPeerSession creates a PeerSession for one joined session.
func NewPeerSession(cfg webrtc.Configuration, sid domain.SessionID) (*PeerSession, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("rtc: new peer connection: %w", err)
	}
	return &PeerSession{pc: pc, sid: sid}, nil
}

// Factory returns a core.MediaFactory producing PeerSessions with cfg.
func Factory(cfg webrtc.Configuration, sid domain.SessionID) core.MediaFactory {
	return func() (core.MediaSession, error) {
		return NewPeerSession(cfg, sid)
	}
}

// Start wires the pion callbacks and binds the peer lifetime to ctx: when
// ctx is cancelled the peer connection is closed.
func (s *PeerSession) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	s.pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("sid", string(s.sid)).Str("ice_state", st.String()).Msg("ICE state")
	})

	s.pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("sid", string(s.sid)).Str("peer_state", st.String()).Msg("peer state")
		switch st {
		case webrtc.PeerConnectionStateConnected:
			if s.onConnected != nil {
				s.onConnected()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			cancel()
			if s.onClosed != nil {
				s.onClosed()
			}
		}
	})

	s.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && s.onICE != nil {
			s.onICE(cand.ToJSON())
		}
	})

	s.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("sid", string(s.sid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		if s.onTrack != nil {
			s.onTrack(track)
		}
	})

	return nil
}

func (s *PeerSession) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("rtc: create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("rtc: set local offer: %w", err)
	}
	return offer, nil
}

func (s *PeerSession) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("rtc: set remote offer: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("rtc: create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("rtc: set local answer: %w", err)
	}
	return s.pc.LocalDescription(), nil
}

func (s *PeerSession) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("rtc: set remote answer: %w", err)
	}
	return nil
}

func (s *PeerSession) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return s.pc.AddICECandidate(ci)
}

func (s *PeerSession) AddLocalTrack(track webrtc.TrackLocal) error {
	if _, err := s.pc.AddTrack(track); err != nil {
		return fmt.Errorf("rtc: add local track: %w", err)
	}
	return nil
}

func (s *PeerSession) OnICECandidate(fn func(webrtc.ICECandidateInit)) { s.onICE = fn }
func (s *PeerSession) OnRemoteTrack(fn func(*webrtc.TrackRemote))      { s.onTrack = fn }
func (s *PeerSession) OnConnected(fn func())                           { s.onConnected = fn }
func (s *PeerSession) OnClosed(fn func())                              { s.onClosed = fn }

func (s *PeerSession) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if err := s.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("sid", string(s.sid)).Msg("close error")
		} else {
			log.Info().Str("module", "rtc").Str("sid", string(s.sid)).Msg("closed")
		}
	})
}
