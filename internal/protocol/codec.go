package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

var (
	ErrUnknownType   = errors.New("unknown message type")
	ErrMissingField  = errors.New("missing field")
	ErrUnexpected    = errors.New("unexpected field")
	ErrTrailingData  = errors.New("unexpected trailing data")
	ErrChatTooLong   = errors.New("chat text too long")
	ErrSelfAddressed = errors.New("message addressed to sender")
)

// Decode parses and validates a single frame. Unknown fields are rejected.
func Decode(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, ErrTrailingData
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func missing(t Type, field string) error {
	return fmt.Errorf("%s message: %w %q", t, ErrMissingField, field)
}

func (m Message) Validate() error {
	switch m.Type {
	case TypeWelcome:
		if m.Participant == "" {
			return missing(m.Type, "participant")
		}
	case TypeJoin:
		if m.Session == "" {
			return missing(m.Type, "session")
		}
		if err := m.Session.Validate(); err != nil {
			return fmt.Errorf("join message: %w", err)
		}
	case TypeRoomState:
		if m.Session == "" {
			return missing(m.Type, "session")
		}
	case TypeJoined, TypeLeft:
		if m.Participant == "" {
			return missing(m.Type, "participant")
		}
	case TypeLeave, TypeEndSession, TypePing, TypePong:
	case TypeOffer, TypeAnswer:
		if err := m.validateAddressing(); err != nil {
			return err
		}
		if m.SDP == "" {
			return missing(m.Type, "sdp")
		}
		if m.Candidate != nil {
			return fmt.Errorf("%s message: %w %q", m.Type, ErrUnexpected, "candidate")
		}
	case TypeCandidate:
		if err := m.validateAddressing(); err != nil {
			return err
		}
		if m.Candidate == nil {
			return missing(m.Type, "candidate")
		}
		if m.SDP != "" {
			return fmt.Errorf("%s message: %w %q", m.Type, ErrUnexpected, "sdp")
		}
	case TypeMediaState:
		if err := m.validateAddressing(); err != nil {
			return err
		}
		if m.Media == nil {
			return missing(m.Type, "media")
		}
	case TypeChat:
		if m.Text == "" {
			return missing(m.Type, "text")
		}
		if len(m.Text) > MaxChatLen {
			return ErrChatTooLong
		}
	case TypeError:
		if m.Code == "" {
			return missing(m.Type, "code")
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownType, m.Type)
	}
	return nil
}

func (m Message) validateAddressing() error {
	if m.To == "" {
		return missing(m.Type, "to")
	}
	if m.From == "" {
		return missing(m.Type, "from")
	}
	if m.To == m.From {
		return fmt.Errorf("%s message: %w", m.Type, ErrSelfAddressed)
	}
	return nil
}
