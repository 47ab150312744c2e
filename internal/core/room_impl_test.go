package core_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, string(f))
	}
	return out
}

func member(p string) (core.MemberSession, *fakeConn) {
	conn := &fakeConn{}
	return core.NewMemberSession(domain.Identity{Participant: domain.ParticipantID(p), DisplayName: p}, conn), conn
}

func TestJoinReturnsOthersAndAnnounces(t *testing.T) {
	room := core.NewRoomService("s")
	a, aConn := member("a")
	b, bConn := member("b")

	others, _, ok := room.Join(a, core.Frame("joined a"))
	if !ok || len(others) != 0 {
		t.Fatalf("first join: others=%v ok=%v", others, ok)
	}
	others, res, ok := room.Join(b, core.Frame("joined b"))
	if !ok || len(others) != 1 || others[0] != "a" {
		t.Fatalf("second join: others=%v ok=%v", others, ok)
	}
	if res.SendTo != 1 {
		t.Fatalf("SendTo: got %d want 1", res.SendTo)
	}
	if got := aConn.received(); len(got) != 1 || got[0] != "joined b" {
		t.Fatalf("a received %v", got)
	}
	if got := bConn.received(); len(got) != 0 {
		t.Fatalf("joiner must not receive its own announce, got %v", got)
	}
}

func TestForwardRequiresBothMembers(t *testing.T) {
	room := core.NewRoomService("s")
	a, _ := member("a")
	b, bConn := member("b")
	room.Join(a, nil)
	room.Join(b, nil)

	if _, err := room.Forward("a", "b", core.Frame("offer")); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if _, err := room.Forward("a", "c", core.Frame("offer")); !errors.Is(err, core.ErrNotMember) {
		t.Fatalf("Forward to stranger: got %v", err)
	}
	if _, err := room.Forward("c", "b", core.Frame("offer")); !errors.Is(err, core.ErrNotMember) {
		t.Fatalf("Forward from stranger: got %v", err)
	}
	if got := bConn.received(); len(got) != 1 {
		t.Fatalf("b received %v", got)
	}
}

func TestLeaveClosesEmptyRoom(t *testing.T) {
	room := core.NewRoomService("s")
	a, _ := member("a")
	b, bConn := member("b")
	room.Join(a, nil)
	room.Join(b, nil)

	_, empty, ok := room.Leave("a", core.Frame("left a"))
	if !ok || empty {
		t.Fatalf("Leave a: empty=%v ok=%v", empty, ok)
	}
	if got := bConn.received(); len(got) != 1 || got[0] != "left a" {
		t.Fatalf("b received %v", got)
	}
	if _, _, ok := room.Leave("a", nil); ok {
		t.Fatalf("double leave must report not a member")
	}
	_, empty, _ = room.Leave("b", nil)
	if !empty || !room.Closed() {
		t.Fatalf("room must close once empty")
	}
	if _, _, ok := room.Join(a, nil); ok {
		t.Fatalf("join on closed room must fail")
	}
}

func TestSlowMemberDoesNotBlockOthers(t *testing.T) {
	room := core.NewRoomService("s")
	a, _ := member("a")
	b, bConn := member("b")
	c, cConn := member("c")
	room.Join(a, nil)
	room.Join(b, nil)
	room.Join(c, nil)
	bConn.full = true

	res := room.Broadcast("a", core.Frame("chat"))
	if res.SendTo != 1 || len(res.Dropped) != 1 || res.Dropped[0] != b {
		t.Fatalf("Broadcast: got %+v", res)
	}
	if got := cConn.received(); len(got) != 1 {
		t.Fatalf("c received %v", got)
	}
	if room.MemberCount() != 3 {
		t.Fatalf("broadcast failure must not change membership")
	}
}

func TestCloseEvictsEveryone(t *testing.T) {
	room := core.NewRoomService("s")
	a, aConn := member("a")
	b, bConn := member("b")
	room.Join(a, nil)
	room.Join(b, nil)

	evicted, res := room.Close("a", core.Frame("end"))
	if len(evicted) != 2 || res.SendTo != 1 {
		t.Fatalf("Close: evicted=%d sent=%d", len(evicted), res.SendTo)
	}
	if len(aConn.received()) != 0 || len(bConn.received()) != 1 {
		t.Fatalf("end-session must reach everyone but the sender")
	}
	if room.MemberCount() != 0 || !room.Closed() {
		t.Fatalf("room must be empty and closed")
	}
}
