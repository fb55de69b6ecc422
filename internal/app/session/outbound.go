package session

import (
	"time"

	"github.com/nkosi/liveclass/internal/domain"
)

// SendChat relays one chat line to everyone in the session.
func (e *Engine) SendChat(text string) error {
	return e.call(func() error {
		if e.ident == nil {
			return ErrNotJoined
		}
		return e.transport.Emit(domain.EvChatMessage, domain.ChatMessage{
			SessionID: string(e.ident.SessionID),
			Message:   text,
			UserName:  e.ident.DisplayName,
			UserType:  string(e.ident.Role),
			Timestamp: time.Now().UnixMilli(),
		})
	})
}

// SubmitPollResponse answers an open poll.
func (e *Engine) SubmitPollResponse(pollID, response string) error {
	return e.call(func() error {
		if e.ident == nil {
			return ErrNotJoined
		}
		return e.transport.Emit(domain.EvSubmitPollResponse, domain.PollResponse{
			PollID:   pollID,
			Response: response,
		})
	})
}
