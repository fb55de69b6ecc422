package domain

import "encoding/json"

// Notification event families delivered live during a session.
//
// Every event carries a server timestamp (unix millis). Timestamps are
// monotonically non-decreasing per the relay contract and are meant for
// display ordering only; delivery order on the channel is the authority.

// ChatMessage is one chat line relayed to everyone in the session.
type ChatMessage struct {
	SessionID string `json:"session_id" validate:"required"`
	Message   string `json:"message" validate:"required"`
	UserName  string `json:"user_name" validate:"required"`
	UserType  string `json:"user_type"`
	Timestamp int64  `json:"timestamp"`
}

// PollEventKind tags the two poll notifications.
type PollEventKind int

const (
	PollCreated PollEventKind = iota
	PollVoted
)

// PollEvent is either a newly created poll or a vote tally update.
type PollEvent struct {
	Kind      PollEventKind
	PollID    string
	Question  string
	Options   []string
	Results   map[string]int
	Timestamp int64
}

// ContentShared carries an opaque content payload (slide, link, file ref)
// pushed by the teacher. The payload shape is owned by presentation code.
type ContentShared struct {
	SessionID string          `json:"session_id" validate:"required"`
	Payload   json.RawMessage `json:"payload" validate:"required"`
	Timestamp int64           `json:"timestamp"`
}

// PresenceKind tags participant arrivals and departures.
type PresenceKind int

const (
	ParticipantJoined PresenceKind = iota
	ParticipantLeft
)

// PresenceEvent reports one participant joining or leaving the session.
type PresenceEvent struct {
	Kind        PresenceKind
	Participant ParticipantID
	Name        string
	Timestamp   int64
}
