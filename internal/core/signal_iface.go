package core

import "errors"

// Frame is one encoded signaling message.
type Frame []byte

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend never blocks: it returns ErrBackpressure when the outbound queue is full.
	TrySend(Frame) error
	Close()
}
