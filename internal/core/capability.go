package core

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrPermissionDenied means the platform refused microphone access. Fatal to
// the current join attempt; a fresh Join asks again.
var ErrPermissionDenied = errors.New("audio capability denied")

// AudioCapability is a granted local audio source. The enabled flag is the
// device-side realization of the user's mute intent; the platform capture
// pipeline must not feed samples while disabled.
type AudioCapability interface {
	LocalTrack() webrtc.TrackLocal
	SetEnabled(bool)
	Enabled() bool
}

// CapabilityGate grants the local audio capability (permission plus device
// access). A grant is cached for the process lifetime; a denial is sticky for
// the current attempt only. The indirection exists so the signaling path is
// testable without real device permissions.
type CapabilityGate interface {
	Request(ctx context.Context) (AudioCapability, error)
}
