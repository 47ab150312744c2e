package core

import "github.com/dkeye/Mesh/internal/domain"

// memberSession implements MemberSession by pairing identity + transport.
type memberSession struct {
	id  domain.Identity
	sig SignalConnection
}

func NewMemberSession(id domain.Identity, sig SignalConnection) MemberSession {
	return &memberSession{id: id, sig: sig}
}

func (m *memberSession) Identity() domain.Identity { return m.id }
func (m *memberSession) Signal() SignalConnection  { return m.sig }
