// Package fanout demultiplexes raw relay events into typed notification
// streams for presentation code: chat, polls, shared content and presence.
//
// Delivery contract: at-most-once, no redelivery, possible gaps. The relay
// does not replay messages, so anything that arrived while the transport was
// Reconnecting is permanently lost; history backfill is the REST
// collaborator's job. A malformed payload is dropped with a logged
// diagnostic and never terminates a stream.
package fanout

import (
	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/nkosi/liveclass/internal/core"
	"github.com/nkosi/liveclass/internal/domain"
)

const streamBuffer = 64

// FanOut owns the four typed streams. Dispatch is driven by the session
// engine's event loop, after session state has been applied, so consumers
// never observe a notification for a session already reported lost.
type FanOut struct {
	validate *validator.Validate

	chat     chan domain.ChatMessage
	polls    chan domain.PollEvent
	content  chan domain.ContentShared
	presence chan domain.PresenceEvent
}

func New() *FanOut {
	return &FanOut{
		validate: validator.New(),
		chat:     make(chan domain.ChatMessage, streamBuffer),
		polls:    make(chan domain.PollEvent, streamBuffer),
		content:  make(chan domain.ContentShared, streamBuffer),
		presence: make(chan domain.PresenceEvent, streamBuffer),
	}
}

func (f *FanOut) Chat() <-chan domain.ChatMessage      { return f.chat }
func (f *FanOut) Polls() <-chan domain.PollEvent       { return f.polls }
func (f *FanOut) Content() <-chan domain.ContentShared { return f.content }
func (f *FanOut) Presence() <-chan domain.PresenceEvent {
	return f.presence
}

// Handles reports whether ev belongs to one of the fan-out families.
func Handles(name string) bool {
	switch name {
	case domain.EvChatMessage, domain.EvNewPoll, domain.EvPollCreated,
		domain.EvPollVote, domain.EvContentShared,
		domain.EvUserJoined, domain.EvUserLeft:
		return true
	}
	return false
}

// Dispatch decodes one raw event into its typed stream. Unknown names are
// ignored; malformed payloads are dropped per-message.
func (f *FanOut) Dispatch(ev core.Event) {
	switch ev.Name {
	case domain.EvChatMessage:
		var msg domain.ChatMessage
		if !f.decode(ev, &msg) {
			return
		}
		f.deliverChat(msg)

	case domain.EvNewPoll, domain.EvPollCreated:
		var p domain.PollPayload
		if !f.decode(ev, &p) {
			return
		}
		f.deliverPoll(domain.PollEvent{
			Kind:      domain.PollCreated,
			PollID:    p.PollID,
			Question:  p.Question,
			Options:   p.Options,
			Timestamp: p.Timestamp,
		})

	case domain.EvPollVote:
		var v domain.PollVotePayload
		if !f.decode(ev, &v) {
			return
		}
		f.deliverPoll(domain.PollEvent{
			Kind:      domain.PollVoted,
			PollID:    v.PollID,
			Results:   v.Result,
			Timestamp: v.Timestamp,
		})

	case domain.EvContentShared:
		var c domain.ContentShared
		if !f.decode(ev, &c) {
			return
		}
		select {
		case f.content <- c:
		default:
			f.dropFull(ev.Name)
		}

	case domain.EvUserJoined, domain.EvUserLeft:
		var p domain.PresencePayload
		if !f.decode(ev, &p) {
			return
		}
		kind := domain.ParticipantJoined
		if ev.Name == domain.EvUserLeft {
			kind = domain.ParticipantLeft
		}
		select {
		case f.presence <- domain.PresenceEvent{
			Kind:        kind,
			Participant: domain.ParticipantID(p.UserID),
			Name:        p.UserName,
			Timestamp:   p.Timestamp,
		}:
		default:
			f.dropFull(ev.Name)
		}
	}
}

// decode unmarshals and validates one payload. Returns false (and logs) on
// any malformed message so one bad frame never ends future delivery.
func (f *FanOut) decode(ev core.Event, out any) bool {
	if err := sonic.Unmarshal(ev.Data, out); err != nil {
		log.Warn().Err(err).Str("module", "fanout").Str("event", ev.Name).Msg("malformed payload, dropped")
		return false
	}
	if err := f.validate.Struct(out); err != nil {
		log.Warn().Err(err).Str("module", "fanout").Str("event", ev.Name).Msg("payload missing required fields, dropped")
		return false
	}
	return true
}

func (f *FanOut) deliverChat(msg domain.ChatMessage) {
	select {
	case f.chat <- msg:
	default:
		f.dropFull(domain.EvChatMessage)
	}
}

func (f *FanOut) deliverPoll(ev domain.PollEvent) {
	select {
	case f.polls <- ev:
	default:
		f.dropFull(domain.EvPollVote)
	}
}

func (f *FanOut) dropFull(event string) {
	log.Warn().Str("module", "fanout").Str("event", event).Msg("stream full, dropped")
}
