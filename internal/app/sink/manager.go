package sink

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

type key struct {
	remote  domain.ParticipantID
	trackID string
}

type Manager struct {
	mu    sync.RWMutex
	sinks map[key]*trackSink
}

func NewManager() *Manager {
	return &Manager{sinks: make(map[key]*trackSink)}
}

// Start consumes src until it ends. A sink already running for the same track is replaced.
func (m *Manager) Start(ctx context.Context, remote domain.ParticipantID, src Source) {
	logger := log.With().
		Str("module", "sink").
		Str("remote", string(remote)).
		Str("track", src.ID()).
		Logger()

	sinkCtx, cancel := context.WithCancel(ctx)
	s := newTrackSink(remote, src, cancel)
	k := key{remote: remote, trackID: src.ID()}

	m.mu.Lock()
	if old, ok := m.sinks[k]; ok {
		logger.Info().Msg("replacing existing sink for track")
		old.cancel()
	}
	m.sinks[k] = s
	m.mu.Unlock()

	logger.Info().Str("kind", src.Kind().String()).Msg("starting sink loop")
	go s.loop(sinkCtx, &logger)
}

// Stop forgets one track. The loop exits once the track stops delivering.
func (m *Manager) Stop(remote domain.ParticipantID, trackID string) {
	k := key{remote: remote, trackID: trackID}
	m.mu.Lock()
	s, ok := m.sinks[k]
	if ok {
		delete(m.sinks, k)
	}
	m.mu.Unlock()
	if ok {
		s.cancel()
	}
}

// StopRemote forgets every track of remote.
func (m *Manager) StopRemote(remote domain.ParticipantID) {
	m.mu.Lock()
	var stopped []*trackSink
	for k, s := range m.sinks {
		if k.remote == remote {
			stopped = append(stopped, s)
			delete(m.sinks, k)
		}
	}
	m.mu.Unlock()
	for _, s := range stopped {
		s.cancel()
	}
}

// Snapshot returns the stats of every running sink ordered by remote then track.
func (m *Manager) Snapshot() []Stats {
	m.mu.RLock()
	out := make([]Stats, 0, len(m.sinks))
	for _, s := range m.sinks {
		out = append(out, s.stats())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Remote != out[j].Remote {
			return out[i].Remote < out[j].Remote
		}
		return out[i].TrackID < out[j].TrackID
	})
	return out
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sinks)
}
