package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaSession abstracts one peer connection (star topology: at most one
// remote peer per joined session). The signaling coordinator is the only
// component allowed to touch it.
type MediaSession interface {
	// Start configures internal callbacks and binds the connection lifetime
	// to ctx. Must be called before any negotiation step.
	Start(ctx context.Context) error
	// Close stops all underlying media resources. Idempotent.
	Close()

	// CreateOffer builds and sets the local offer (initiator path).
	CreateOffer() (webrtc.SessionDescription, error)
	// ApplyOfferAndCreateAnswer sets the remote offer and returns the local
	// answer (responder path).
	ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// ApplyAnswer sets the remote answer (initiator path).
	ApplyAnswer(answer webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate. Callers must only
	// invoke it once a remote description has been set.
	AddICECandidate(webrtc.ICECandidateInit) error

	// AddLocalTrack attaches the local audio track before negotiation so the
	// offer/answer includes the audio section.
	AddLocalTrack(track webrtc.TrackLocal) error

	// OnICECandidate sets a callback for newly gathered local candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnRemoteTrack sets a callback invoked when the remote audio arrives.
	OnRemoteTrack(func(*webrtc.TrackRemote))
	// OnConnected fires when the peer connection reaches the connected state.
	OnConnected(func())
	// OnClosed fires when the peer connection fails or closes.
	OnClosed(func())
}

// MediaFactory builds a fresh MediaSession for each (re)negotiation.
// Full renegotiation after a reconnect discards the old session entirely;
// there is no incremental ICE restart.
type MediaFactory func() (MediaSession, error)
