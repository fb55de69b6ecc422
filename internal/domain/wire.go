package domain

import "encoding/json"

// Relay event names. The wire format is a JSON envelope
// {"type": <event name>, "data": {...}} in both directions.
const (
	// outbound
	EvJoinSession        = "join_session"
	EvLeaveSession       = "leave_session"
	EvSubmitPollResponse = "submit_poll_response"

	// both directions
	EvWebRTCOffer  = "webrtc_offer"
	EvWebRTCAnswer = "webrtc_answer"
	EvICECandidate = "ice_candidate"
	EvChatMessage  = "chat_message"

	// inbound
	EvSessionInfo   = "session_info"
	EvUserJoined    = "user_joined"
	EvUserLeft      = "user_left"
	EvNewPoll       = "new_poll"
	EvPollCreated   = "poll_created" // older relay generations use this alias
	EvPollVote      = "poll_vote"
	EvContentShared = "content_shared"
	EvError         = "error"
	EvSessionEnded  = "session_ended"
)

// JoinSession announces the local participant to the relay. Re-emitted by the
// transport itself after every successful reconnect.
type JoinSession struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	UserType  string `json:"user_type"`
}

// LeaveSession is best-effort; the relay times out stale participants anyway.
type LeaveSession struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// OfferPayload carries the initiator's SDP offer.
type OfferPayload struct {
	SessionID    string `json:"session_id" validate:"required"`
	TargetUserID string `json:"target_user_id,omitempty"`
	FromUserID   string `json:"from_user_id"`
	Offer        string `json:"offer" validate:"required"`
}

// AnswerPayload carries the responder's SDP answer.
type AnswerPayload struct {
	SessionID    string `json:"session_id" validate:"required"`
	TargetUserID string `json:"target_user_id,omitempty"`
	FromUserID   string `json:"from_user_id"`
	Answer       string `json:"answer" validate:"required"`
}

// ICECandidatePayload carries one trickled ICE candidate.
type ICECandidatePayload struct {
	SessionID     string  `json:"session_id" validate:"required"`
	TargetUserID  string  `json:"target_user_id,omitempty"`
	FromUserID    string  `json:"from_user_id"`
	Candidate     string  `json:"candidate" validate:"required"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// PollResponse is the student's answer to an open poll.
type PollResponse struct {
	PollID   string `json:"poll_id"`
	Response string `json:"response"`
}

// SessionInfo seeds the participant set on join and after a rejoin.
type SessionInfo struct {
	SessionID    string            `json:"session_id" validate:"required"`
	Participants []ParticipantInfo `json:"participants"`
}

// ParticipantInfo is one remote participant as reported by the relay.
type ParticipantInfo struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// PresencePayload is the wire shape of user_joined / user_left.
type PresencePayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id" validate:"required"`
	UserName  string `json:"user_name"`
	Timestamp int64  `json:"timestamp"`
}

// PollPayload is the wire shape of new_poll / poll_created.
type PollPayload struct {
	PollID    string   `json:"poll_id" validate:"required"`
	Question  string   `json:"question" validate:"required"`
	Options   []string `json:"options"`
	Timestamp int64    `json:"timestamp"`
}

// PollVotePayload is the wire shape of poll_vote.
type PollVotePayload struct {
	PollID    string         `json:"poll_id" validate:"required"`
	Result    map[string]int `json:"result"`
	Timestamp int64          `json:"timestamp"`
}

// ErrorPayload is the relay's inbound error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Envelope is the outer wire frame for every relay event.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}
