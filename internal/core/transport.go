// Package core declares the ports between the session engine and its
// adapters. Adapters own their resources; the engine only sees these
// interfaces, which keeps every component fakeable in tests.
package core

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNotConnected is returned by Emit when the transport is not in the
	// Connected state. Sends are never silently dropped.
	ErrNotConnected = errors.New("transport not connected")
	// ErrBackpressure is returned when the outbound queue is full.
	ErrBackpressure = errors.New("transport send queue full")
)

// Status is the transport connection state. It is owned exclusively by the
// transport; everyone else only reads it.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Event is one inbound relay event: the envelope type plus its raw data.
type Event struct {
	Name string
	Data json.RawMessage
}

// SignalTransport is one long-lived bidirectional event connection to the
// relay. Implementations reconnect with bounded exponential backoff on
// unexpected drops and re-emit the registered rejoin event on recovery, so
// consumers only ever observe Status changes.
type SignalTransport interface {
	// Connect performs the handshake. A failed handshake is returned to the
	// caller; it does not start the reconnect loop.
	Connect(ctx context.Context, url string) error
	// Disconnect tears the socket down and cancels any reconnect in flight.
	Disconnect()

	// Emit marshals payload into the envelope and queues it for sending.
	// Returns ErrNotConnected unless the status is Connected.
	Emit(event string, payload any) error

	// On returns a multicast stream of one named event. Nothing is replayed;
	// messages missed while Reconnecting are permanently lost.
	On(event string) <-chan Event
	// Events returns every inbound event in relay arrival order. This single
	// stream is the ordering authority the session engine consumes.
	Events() <-chan Event

	Status() Status
	// StatusChanges streams every status transition in order.
	StatusChanges() <-chan Status

	// SetRejoin registers the event re-emitted right after a successful
	// reconnect (the active session's join_session). Cleared on leave.
	SetRejoin(event string, payload any)
	ClearRejoin()
}
