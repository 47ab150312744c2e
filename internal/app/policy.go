package app

import "github.com/dkeye/Mesh/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a member whose outbound queue is full.
type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction
}

// SimplePolicy drops the frame for that member only.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.RoomService, core.MemberSession) BackpressureAction {
	return NoAction
}

// KickPolicy disconnects members that cannot keep up.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(core.RoomService, core.MemberSession) BackpressureAction {
	return KickMember
}

func PolicyByName(name string) Policy {
	if name == "kick" {
		return KickPolicy{}
	}
	return SimplePolicy{}
}
