package sink

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type source struct {
	id   string
	kind webrtc.RTPCodecType
	pkts chan *rtp.Packet
}

func newSource(id string) *source {
	return &source{id: id, kind: webrtc.RTPCodecTypeVideo, pkts: make(chan *rtp.Packet, 16)}
}

func (s *source) ID() string                { return s.id }
func (s *source) Kind() webrtc.RTPCodecType { return s.kind }

func (s *source) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p, ok := <-s.pkts
	if !ok {
		return nil, nil, io.EOF
	}
	return p, nil, nil
}

func packet(seq uint16, size int) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: seq}, Payload: make([]byte, size)}
}

func waitPackets(t *testing.T, m *Manager, n uint64) Stats {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := m.Snapshot()
		if len(snap) == 1 && snap[0].Packets == n {
			return snap[0]
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot = %+v, want %d packets", snap, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSinkCountsPacketsAndGaps(t *testing.T) {
	m := NewManager()
	src := newSource("v1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx, "b", src)

	for _, seq := range []uint16{65534, 65535, 1, 1, 0, 4} {
		src.pkts <- packet(seq, 10)
	}
	st := waitPackets(t, m, 6)
	if st.Bytes != 60 {
		t.Fatalf("bytes = %d, want 60", st.Bytes)
	}
	// 0 is skipped across the wrap, then 2 and 3.
	if st.Lost != 3 {
		t.Fatalf("lost = %d, want 3", st.Lost)
	}
	if st.Remote != "b" || st.Kind != "video" || st.LastSeen.IsZero() {
		t.Fatalf("stats = %+v", st)
	}
}

func TestStopRemoteForgetsTracks(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := newSource("a1"), newSource("a2")
	m.Start(ctx, "a", a)
	m.Start(ctx, "a", b)
	m.Start(ctx, "c", newSource("c1"))
	if m.Len() != 3 {
		t.Fatalf("len = %d, want 3", m.Len())
	}

	m.StopRemote("a")
	if m.Len() != 1 {
		t.Fatalf("len = %d, want 1", m.Len())
	}
	m.Stop("c", "c1")
	if m.Len() != 0 {
		t.Fatalf("len = %d, want 0", m.Len())
	}
	close(a.pkts)
	close(b.pkts)
}

func TestLoopEndsWithTrack(t *testing.T) {
	src := newSource("x")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTrackSink("b", src, cancel)
	logger := zerolog.Nop()
	go s.loop(ctx, &logger)

	close(src.pkts)
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop still running after track end")
	}
}
