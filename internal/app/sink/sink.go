// Package sink consumes remote media tracks and keeps per-track receive statistics.
package sink

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Source is the read side of a remote track. *webrtc.TrackRemote satisfies it.
type Source interface {
	ID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type Stats struct {
	Remote   domain.ParticipantID `json:"remote"`
	TrackID  string               `json:"track_id"`
	Kind     string               `json:"kind"`
	Packets  uint64               `json:"packets"`
	Bytes    uint64               `json:"bytes"`
	Lost     uint64               `json:"lost"`
	LastSeen time.Time            `json:"last_seen"`
}

type trackSink struct {
	remote domain.ParticipantID
	src    Source

	packets  atomic.Uint64
	bytes    atomic.Uint64
	lost     atomic.Uint64
	lastSeen atomic.Int64

	// Only the loop goroutine touches these.
	started bool
	lastSeq uint16

	cancel context.CancelFunc
	done   chan struct{}
}

func newTrackSink(remote domain.ParticipantID, src Source, cancel context.CancelFunc) *trackSink {
	return &trackSink{remote: remote, src: src, cancel: cancel, done: make(chan struct{})}
}

// loop reads until the track ends or ctx is cancelled.
func (s *trackSink) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("sink ctx done")
			return
		default:
		}
		pkt, _, err := s.src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("remote track ended")
			return
		}
		s.account(pkt)
	}
}

func (s *trackSink) account(pkt *rtp.Packet) {
	s.packets.Add(1)
	s.bytes.Add(uint64(len(pkt.Payload)))
	s.lastSeen.Store(time.Now().UnixNano())

	seq := pkt.SequenceNumber
	if !s.started {
		s.started = true
		s.lastSeq = seq
		return
	}
	// Forward distance with wraparound. Anything in the upper half is a late or duplicate packet.
	diff := seq - s.lastSeq
	if diff == 0 || diff >= 0x8000 {
		return
	}
	if diff > 1 {
		s.lost.Add(uint64(diff - 1))
	}
	s.lastSeq = seq
}

func (s *trackSink) stats() Stats {
	st := Stats{
		Remote:  s.remote,
		TrackID: s.src.ID(),
		Kind:    s.src.Kind().String(),
		Packets: s.packets.Load(),
		Bytes:   s.bytes.Load(),
		Lost:    s.lost.Load(),
	}
	if ns := s.lastSeen.Load(); ns != 0 {
		st.LastSeen = time.Unix(0, ns)
	}
	return st
}
