// Package protocol defines the signaling events exchanged between clients and the relay.
package protocol

import (
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Type string

const (
	TypeWelcome    Type = "welcome"
	TypeJoin       Type = "join"
	TypeRoomState  Type = "room-state"
	TypeJoined     Type = "joined"
	TypeLeave      Type = "leave"
	TypeLeft       Type = "left"
	TypeOffer      Type = "offer"
	TypeAnswer     Type = "answer"
	TypeCandidate  Type = "candidate"
	TypeMediaState Type = "media-state"
	TypeEndSession Type = "end-session"
	TypeChat       Type = "chat"
	TypePing       Type = "ping"
	TypePong       Type = "pong"
	TypeError      Type = "error"
)

// Error codes carried by TypeError.
const (
	CodeBadPayload  = "bad_payload"
	CodeNotInRoom   = "not_in_session"
	CodeRateLimited = "rate_limited"
	CodeForbidden   = "forbidden"
)

const MaxChatLen = 4096

// Candidate mirrors the browser RTCIceCandidateInit shape.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) *Candidate {
	return &Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Message is the single envelope for every event. Which fields are set depends on Type.
type Message struct {
	Type Type `json:"type"`

	Session     domain.SessionID       `json:"session,omitempty"`
	Participant domain.ParticipantID   `json:"participant,omitempty"`
	Name        string                 `json:"name,omitempty"`
	Members     []domain.ParticipantID `json:"members,omitempty"`

	From domain.ParticipantID `json:"from,omitempty"`
	To   domain.ParticipantID `json:"to,omitempty"`

	SDP       string             `json:"sdp,omitempty"`
	Candidate *Candidate         `json:"candidate,omitempty"`
	Media     *domain.MediaState `json:"media,omitempty"`

	Text string `json:"text,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// PointToPoint reports whether the relay forwards this message to Message.To only.
func (m Message) PointToPoint() bool {
	switch m.Type {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeMediaState:
		return true
	}
	return false
}

func Welcome(id domain.Identity) Message {
	return Message{Type: TypeWelcome, Participant: id.Participant, Name: id.DisplayName}
}

func Join(session domain.SessionID) Message {
	return Message{Type: TypeJoin, Session: session}
}

func RoomState(session domain.SessionID, members []domain.ParticipantID) Message {
	return Message{Type: TypeRoomState, Session: session, Members: members}
}

func Joined(session domain.SessionID, p domain.ParticipantID) Message {
	return Message{Type: TypeJoined, Session: session, Participant: p}
}

func Leave(session domain.SessionID) Message {
	return Message{Type: TypeLeave, Session: session}
}

func Left(session domain.SessionID, p domain.ParticipantID) Message {
	return Message{Type: TypeLeft, Session: session, Participant: p}
}

func Offer(from, to domain.ParticipantID, sdp string, media domain.MediaState) Message {
	return Message{Type: TypeOffer, From: from, To: to, SDP: sdp, Media: &media}
}

func Answer(from, to domain.ParticipantID, sdp string, media domain.MediaState) Message {
	return Message{Type: TypeAnswer, From: from, To: to, SDP: sdp, Media: &media}
}

func CandidateMsg(from, to domain.ParticipantID, c webrtc.ICECandidateInit) Message {
	return Message{Type: TypeCandidate, From: from, To: to, Candidate: CandidateFromPion(c)}
}

func MediaStateMsg(from, to domain.ParticipantID, media domain.MediaState) Message {
	return Message{Type: TypeMediaState, From: from, To: to, Media: &media}
}

func EndSession(session domain.SessionID) Message {
	return Message{Type: TypeEndSession, Session: session}
}

func Chat(session domain.SessionID, from domain.ParticipantID, text string) Message {
	return Message{Type: TypeChat, Session: session, From: from, Text: text}
}

func Errorf(code, message string) Message {
	return Message{Type: TypeError, Code: code, Message: message}
}
