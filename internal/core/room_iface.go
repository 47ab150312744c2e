package core

import (
	"errors"

	"github.com/dkeye/Mesh/internal/domain"
)

var ErrNotMember = errors.New("not a member")

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	Participant domain.ParticipantID `json:"participant"`
	Name        string               `json:"name"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Session() domain.SessionID
	MemberCount() int
	Members() []domain.ParticipantID
	MembersSnapshot() []MemberDTO
	Has(p domain.ParticipantID) bool
	Closed() bool

	// Join adds ms and fans announce out to everyone else. It returns the members
	// that were present before the join, or ok=false when the room is already closed.
	Join(ms MemberSession, announce Frame) (others []domain.ParticipantID, res PublishResult, ok bool)
	// Leave removes p and fans announce out to the remaining members.
	// The room closes itself when the last member leaves.
	Leave(p domain.ParticipantID, announce Frame) (res PublishResult, empty bool, ok bool)
	// Forward delivers data to a single member if both ends are members.
	Forward(from, to domain.ParticipantID, data Frame) (MemberSession, error)
	Broadcast(from domain.ParticipantID, data Frame) PublishResult
	// Close fans data out to everyone but from, empties and closes the room.
	// It returns every removed member, from included.
	Close(from domain.ParticipantID, data Frame) ([]MemberSession, PublishResult)
}

type RoomInfo struct {
	Session     domain.SessionID `json:"session"`
	MemberCount int              `json:"member_count"`
}

type RoomManager interface {
	GetOrCreate(session domain.SessionID) RoomService
	Get(session domain.SessionID) (RoomService, bool)
	List() []RoomInfo
	// StopRoom drops session from the directory if it still maps to room.
	StopRoom(session domain.SessionID, room RoomService)
}
