// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxParticipantIDLen = 36
	MaxDisplayNameLen   = 36
	MaxSessionIDLen     = 64
)

var (
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrSessionIDEmpty     = errors.New("session id empty")
	ErrSessionIDTooLong   = errors.New("session id too long")
)

// ParticipantID is assigned by the relay per connection. A reconnect yields a new one.
type ParticipantID string

func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}

// Identity is what the handshake establishes for one connection.
type Identity struct {
	Participant ParticipantID `json:"participant"`
	DisplayName string        `json:"name"`
}

// NewIdentity is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewIdentity(displayName string) (*Identity, error) {
	if err := ValidateDisplayName(displayName); err != nil {
		return nil, err
	}
	return &Identity{Participant: NewParticipantID(), DisplayName: displayName}, nil
}

func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	return nil
}
