package peer

import (
	"errors"
	"fmt"

	"github.com/dkeye/Mesh/internal/domain"
)

var (
	ErrClosed            = errors.New("peer link closed")
	ErrConnectTimeout    = errors.New("peer link did not connect in time")
	ErrConnectionFailed  = errors.New("peer connection failed")
	ErrUnexpectedMessage = errors.New("unexpected negotiation message")
)

// Error is a negotiation failure on one link.
type Error struct {
	Op     string
	Remote domain.ParticipantID
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("peer %s %s: %v", e.Remote, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
