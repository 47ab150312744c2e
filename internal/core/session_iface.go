package core

import "github.com/dkeye/Mesh/internal/domain"

// MemberSession binds a participant identity and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Identity() domain.Identity
	Signal() SignalConnection
}
