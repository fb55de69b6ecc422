// Package media implements the audio capability gate: permission plus device
// access must be granted here before the signaling path may create a local
// media track.
//
// The actual capture pipeline is the platform's job; this package only hands
// out the pion track the platform feeds and the enabled flag it must honor.
package media

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/nkosi/liveclass/internal/core"
)

// PermissionProbe asks the platform for microphone permission. A nil probe
// means permission is implicitly granted (desktop/dev builds).
type PermissionProbe func(ctx context.Context) error

// DeviceGate implements core.CapabilityGate. A granted capability is cached
// for the process lifetime; a denial is returned to the current attempt only,
// so a later Request asks the platform again.
type DeviceGate struct {
	probe PermissionProbe

	mu      sync.Mutex
	granted core.AudioCapability
}

func NewDeviceGate(probe PermissionProbe) *DeviceGate {
	return &DeviceGate{probe: probe}
}

func (g *DeviceGate) Request(ctx context.Context) (core.AudioCapability, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.granted != nil {
		return g.granted, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if g.probe != nil {
		if err := g.probe(ctx); err != nil {
			log.Warn().Err(err).Str("module", "media").Msg("microphone permission denied")
			return nil, core.ErrPermissionDenied
		}
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "liveclass-mic",
	)
	if err != nil {
		return nil, core.ErrPermissionDenied
	}

	grant := &capability{track: track, enabled: true}
	g.granted = grant
	log.Info().Str("module", "media").Msg("audio capability granted")
	return grant, nil
}

// capability is the granted local audio source. SetEnabled realizes the mute
// intent: while disabled the capture pipeline must not write samples.
type capability struct {
	track *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
}

func (c *capability) LocalTrack() webrtc.TrackLocal { return c.track }

func (c *capability) SetEnabled(on bool) {
	c.mu.Lock()
	changed := c.enabled != on
	c.enabled = on
	c.mu.Unlock()
	if changed {
		log.Info().Str("module", "media").Bool("enabled", on).Msg("local track toggled")
	}
}

func (c *capability) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}
