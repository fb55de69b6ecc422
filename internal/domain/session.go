// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxDisplayNameLen = 36

var (
	ErrSessionIDEmpty  = errors.New("session id empty")
	ErrDisplayNameLong = errors.New("display name too long")
)

type (
	SessionID     string
	LectureID     string
	ParticipantID string
)

// Role distinguishes the broadcasting teacher from listening students.
// The relay uses it to decide who initiates WebRTC negotiation.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Identity is fixed for the lifetime of one join attempt. It is created on
// Join and discarded on Leave or a fatal disconnect; a rejoin mints a new one.
type Identity struct {
	SessionID     SessionID
	LectureID     LectureID
	ParticipantID ParticipantID
	DisplayName   string
	Role          Role
}

// NewIdentity mints the local participant identity for a join attempt.
func NewIdentity(sessionID SessionID, lectureID LectureID, name string, role Role) (*Identity, error) {
	if sessionID == "" {
		return nil, ErrSessionIDEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return nil, ErrDisplayNameLong
	}
	return &Identity{
		SessionID:     sessionID,
		LectureID:     lectureID,
		ParticipantID: ParticipantID(uuid.NewString()),
		DisplayName:   name,
		Role:          role,
	}, nil
}

// Initiator reports whether this participant starts WebRTC negotiation.
// Teachers offer, students wait for the offer.
func (i *Identity) Initiator() bool { return i.Role == RoleTeacher }
