// Package mesh keeps one peer link per remote participant of the current session.
package mesh

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/media"
	"github.com/dkeye/Mesh/internal/peer"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Link is the part of peer.Link the registry drives.
type Link interface {
	Remote() domain.ParticipantID
	Role() peer.Role
	Negotiated() bool
	Offer(ctx context.Context) error
	HandleOffer(ctx context.Context, sdp string, state *domain.MediaState) error
	HandleAnswer(sdp string, state *domain.MediaState) error
	HandleCandidate(c webrtc.ICECandidateInit) error
	HandleMediaState(state domain.MediaState)
	SetLocalTracks(t media.LocalTracks) error
	Close() error
}

// LinkFactory builds a link. onClosed must be called once when the link closes for any reason.
type LinkFactory func(remote domain.ParticipantID, role peer.Role, onClosed func(reason error)) (Link, error)

type entry struct {
	remote domain.ParticipantID
	link   Link
	queue  serialQueue
}

type Registry struct {
	self    domain.ParticipantID
	factory LinkFactory
	tracks  func() media.LocalTracks
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[domain.ParticipantID]*entry
	closed  bool
}

// New returns a registry for one session membership. tracks is read each time links are given local media.
func New(ctx context.Context, self domain.ParticipantID, factory LinkFactory, tracks func() media.LocalTracks) *Registry {
	ctx, cancel := context.WithCancel(ctx)
	return &Registry{
		self:    self,
		factory: factory,
		tracks:  tracks,
		log:     log.With().Str("module", "mesh").Str("self", string(self)).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[domain.ParticipantID]*entry),
	}
}

// Remotes lists the participants with a live link, sorted.
func (r *Registry) Remotes() []domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ParticipantID, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// OnParticipantJoined makes this side the offerer towards the newcomer.
func (r *Registry) OnParticipantJoined(p domain.ParticipantID) {
	if p == r.self {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if _, ok := r.entries[p]; ok {
		r.mu.Unlock()
		r.log.Debug().Str("remote", string(p)).Msg("link already exists")
		return
	}
	e, err := r.addLocked(p, peer.RoleOfferer)
	r.mu.Unlock()
	if err != nil {
		r.log.Error().Err(err).Str("remote", string(p)).Msg("create offerer link")
		return
	}

	r.run(e, "offer", func(l Link) error {
		if err := l.SetLocalTracks(r.tracks()); err != nil {
			return err
		}
		return l.Offer(r.ctx)
	})
}

func (r *Registry) OnParticipantLeft(p domain.ParticipantID) {
	r.mu.Lock()
	e, ok := r.entries[p]
	if ok {
		delete(r.entries, p)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.log.Info().Str("remote", string(p)).Msg("participant left, closing link")
	if !e.queue.push(func() { _ = e.link.Close() }) {
		_ = e.link.Close()
	}
}

// OnOfferReceived answers on the existing link or creates an answerer link.
// Two offerers meeting before either answer resolve by id: the lower id stays offerer.
func (r *Registry) OnOfferReceived(from domain.ParticipantID, sdp string, state *domain.MediaState) {
	if from == r.self {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	var yielded *entry
	e := r.entries[from]
	if e != nil && e.link.Role() == peer.RoleOfferer && !e.link.Negotiated() {
		if r.self < from {
			r.mu.Unlock()
			r.log.Debug().Str("remote", string(from)).Msg("offer collision, keeping offerer role")
			return
		}
		delete(r.entries, from)
		yielded, e = e, nil
	}
	var err error
	if e == nil {
		e, err = r.addLocked(from, peer.RoleAnswerer)
	}
	r.mu.Unlock()

	if yielded != nil {
		r.log.Debug().Str("remote", string(from)).Msg("offer collision, yielding to answerer role")
		yielded.queue.close()
		_ = yielded.link.Close()
	}
	if err != nil {
		r.log.Error().Err(err).Str("remote", string(from)).Msg("create answerer link")
		return
	}

	r.run(e, "answer", func(l Link) error {
		if err := l.SetLocalTracks(r.tracks()); err != nil {
			return err
		}
		return l.HandleOffer(r.ctx, sdp, state)
	})
}

func (r *Registry) OnAnswerReceived(from domain.ParticipantID, sdp string, state *domain.MediaState) {
	if e := r.lookup(from, "answer"); e != nil {
		r.run(e, "apply-answer", func(l Link) error { return l.HandleAnswer(sdp, state) })
	}
}

func (r *Registry) OnCandidateReceived(from domain.ParticipantID, c webrtc.ICECandidateInit) {
	if e := r.lookup(from, "candidate"); e != nil {
		r.run(e, "candidate", func(l Link) error { return l.HandleCandidate(c) })
	}
}

func (r *Registry) OnMediaStateReceived(from domain.ParticipantID, state domain.MediaState) {
	if e := r.lookup(from, "media-state"); e != nil {
		r.run(e, "media-state", func(l Link) error {
			l.HandleMediaState(state)
			return nil
		})
	}
}

// BroadcastLocalMediaChange hands the current local tracks to every link.
func (r *Registry) BroadcastLocalMediaChange() {
	for _, e := range r.snapshot() {
		r.run(e, "set-tracks", func(l Link) error { return l.SetLocalTracks(r.tracks()) })
	}
}

// TeardownAll closes every link and rejects later events.
func (r *Registry) TeardownAll() {
	r.mu.Lock()
	r.closed = true
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.entries = make(map[domain.ParticipantID]*entry)
	r.mu.Unlock()
	r.cancel()

	var wg conc.WaitGroup
	for _, e := range entries {
		wg.Go(func() {
			e.queue.close()
			_ = e.link.Close()
		})
	}
	wg.Wait()
	if len(entries) > 0 {
		r.log.Info().Int("links", len(entries)).Msg("links torn down")
	}
}

// addLocked must be called with mu held.
func (r *Registry) addLocked(remote domain.ParticipantID, role peer.Role) (*entry, error) {
	e := &entry{remote: remote}
	link, err := r.factory(remote, role, func(reason error) { r.linkClosed(e, reason) })
	if err != nil {
		return nil, err
	}
	e.link = link
	r.entries[remote] = e
	r.log.Info().Str("remote", string(remote)).Str("role", role.String()).Msg("link created")
	return e, nil
}

func (r *Registry) linkClosed(e *entry, reason error) {
	r.mu.Lock()
	if cur, ok := r.entries[e.remote]; ok && cur == e {
		delete(r.entries, e.remote)
	}
	r.mu.Unlock()
	e.queue.close()
	if reason != nil {
		r.log.Warn().Err(reason).Str("remote", string(e.remote)).Msg("link closed")
	}
}

func (r *Registry) lookup(from domain.ParticipantID, kind string) *entry {
	r.mu.Lock()
	e := r.entries[from]
	r.mu.Unlock()
	if e == nil {
		r.log.Warn().Str("remote", string(from)).Str("type", kind).Msg("no link for message, dropped")
	}
	return e
}

func (r *Registry) snapshot() []*entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// run queues op on the link. A failure closes that link only.
func (r *Registry) run(e *entry, op string, fn func(Link) error) {
	e.queue.push(func() {
		err := fn(e.link)
		switch {
		case err == nil:
		case errors.Is(err, peer.ErrClosed), errors.Is(err, context.Canceled):
		case errors.Is(err, peer.ErrUnexpectedMessage):
			r.log.Warn().Err(err).Str("remote", string(e.remote)).Str("op", op).Msg("ignored negotiation message")
		default:
			r.log.Error().Err(err).Str("remote", string(e.remote)).Str("op", op).Msg("negotiation failed, closing link")
			_ = e.link.Close()
		}
	})
}
