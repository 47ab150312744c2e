// Package media owns the local capture lifecycle. Peer links only ever borrow its tracks.
package media

import (
	"context"
	"sync"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Option func(*Manager)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithConstraints(c Constraints) Option {
	return func(m *Manager) { m.size = c }
}

type Manager struct {
	capturer Capturer
	size     Constraints
	log      zerolog.Logger

	// opMu serializes device operations; mu guards the fields below.
	opMu sync.Mutex
	mu   sync.RWMutex

	audio   Track
	camera  Track
	screen  Track
	audioOn bool
	videoOn bool

	onChange   []func(LocalTracks)
	onDegraded []func(*Error)
}

func NewManager(c Capturer, opts ...Option) *Manager {
	m := &Manager{
		capturer: c,
		log:      log.With().Str("module", "media").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnChange subscribes to every change of the local track set.
func (m *Manager) OnChange(fn func(LocalTracks)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

// OnDegraded subscribes to notices about media that could not be provided.
func (m *Manager) OnDegraded(fn func(*Error)) {
	m.mu.Lock()
	m.onDegraded = append(m.onDegraded, fn)
	m.mu.Unlock()
}

func (m *Manager) constraints(audio, video bool) Constraints {
	c := m.size
	c.Audio = audio
	c.Video = video
	return c
}

// Acquire captures the requested kinds. When audio+video fails it retries audio-only
// and reports the lost video through OnDegraded.
func (m *Manager) Acquire(ctx context.Context, video, audio bool) (domain.MediaState, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if !video && !audio {
		return m.State(), nil
	}

	stream, err := m.capture(ctx, m.constraints(audio, video))
	var degraded *Error
	switch {
	case err != nil && video && audio:
		degraded = wrap("acquire", domain.KindVideo, err)
		m.log.Warn().Err(err).Str("reason", string(degraded.Reason)).Msg("camera unavailable, falling back to audio only")
		stream, err = m.capture(ctx, m.constraints(true, false))
		if err != nil {
			return m.State(), wrap("acquire", domain.KindAudio, err)
		}
	case err != nil:
		kind := domain.KindAudio
		if video {
			kind = domain.KindVideo
		}
		return m.State(), wrap("acquire", kind, err)
	case video && stream.Video == nil:
		degraded = &Error{Op: "acquire", Kind: domain.KindVideo, Reason: ReasonDeviceUnavailable, Err: ErrNoTrack}
	}
	if audio && stream.Audio == nil {
		stream.stop()
		return m.State(), &Error{Op: "acquire", Kind: domain.KindAudio, Reason: ReasonDeviceUnavailable, Err: ErrNoTrack}
	}

	m.mu.Lock()
	var stale []Track
	if stream.Audio != nil {
		stale = append(stale, m.audio)
		m.audio, m.audioOn = stream.Audio, true
	}
	if stream.Video != nil {
		stale = append(stale, m.camera)
		m.camera, m.videoOn = stream.Video, true
	}
	m.mu.Unlock()
	stopAll(stale)

	if degraded != nil {
		m.degrade(degraded)
	}
	m.changed()
	return m.State(), nil
}

// capture never returns a partial stream alongside an error.
func (m *Manager) capture(ctx context.Context, c Constraints) (Stream, error) {
	stream, err := m.capturer.UserMedia(ctx, c)
	if err != nil {
		stream.stop()
		return Stream{}, err
	}
	if !c.Audio && stream.Audio != nil {
		_ = stream.Audio.Stop()
		stream.Audio = nil
	}
	if !c.Video && stream.Video != nil {
		_ = stream.Video.Stop()
		stream.Video = nil
	}
	return stream, nil
}

// SetEnabled flips audio without touching the device. Disabling video releases the camera;
// enabling it re-acquires the camera unless a live one is still held.
func (m *Manager) SetEnabled(ctx context.Context, kind domain.MediaKind, enabled bool) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	switch kind {
	case domain.KindAudio:
		m.mu.Lock()
		if enabled && m.audio == nil {
			m.mu.Unlock()
			return &Error{Op: "enable", Kind: kind, Reason: ReasonDeviceUnavailable, Err: ErrNoTrack}
		}
		changed := m.audioOn != enabled
		m.audioOn = enabled
		m.mu.Unlock()
		if changed {
			m.changed()
		}
		return nil
	case domain.KindVideo:
		if enabled {
			return m.enableCamera(ctx)
		}
		m.mu.Lock()
		cam := m.camera
		changed := m.videoOn || cam != nil
		m.camera, m.videoOn = nil, false
		m.mu.Unlock()
		if cam != nil {
			if err := cam.Stop(); err != nil {
				m.log.Warn().Err(err).Msg("camera stop")
			}
		}
		if changed {
			m.changed()
		}
		return nil
	default:
		return &Error{Op: "enable", Kind: kind, Reason: ReasonNotSupported, Err: ErrNotSupported}
	}
}

func (m *Manager) enableCamera(ctx context.Context) error {
	m.mu.Lock()
	if m.camera != nil {
		changed := !m.videoOn
		m.videoOn = true
		m.mu.Unlock()
		if changed {
			m.changed()
		}
		return nil
	}
	if m.screen != nil {
		// the camera is picked up when the share stops
		m.videoOn = true
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	stream, err := m.capture(ctx, m.constraints(false, true))
	if err != nil {
		return wrap("enable", domain.KindVideo, err)
	}
	if stream.Video == nil {
		return &Error{Op: "enable", Kind: domain.KindVideo, Reason: ReasonDeviceUnavailable, Err: ErrNoTrack}
	}

	m.mu.Lock()
	m.camera, m.videoOn = stream.Video, true
	m.mu.Unlock()
	m.log.Info().Msg("camera re-acquired")
	m.changed()
	return nil
}

// StartScreenShare substitutes a display capture for the outgoing video.
// The camera is kept so stopping the share can switch back without re-acquiring.
func (m *Manager) StartScreenShare(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	sharing := m.screen != nil
	m.mu.RUnlock()
	if sharing {
		return nil
	}

	track, err := m.capturer.DisplayMedia(ctx)
	if err != nil {
		return wrap("screen-share", domain.KindVideo, err)
	}
	m.mu.Lock()
	m.screen = track
	m.mu.Unlock()
	// OnEnded may fire from inside Stop while opMu is held.
	track.OnEnded(func(error) { go m.screenEnded(track) })

	m.log.Info().Msg("screen share started")
	m.changed()
	return nil
}

// StopScreenShare restores the camera if the user still wants video.
func (m *Manager) StopScreenShare(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.stopScreenShare(ctx)
}

func (m *Manager) screenEnded(track Track) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.mu.RLock()
	current := m.screen == track
	m.mu.RUnlock()
	if !current {
		return
	}
	m.log.Info().Msg("screen share ended by the system")
	if err := m.stopScreenShare(context.Background()); err != nil {
		m.log.Warn().Err(err).Msg("restore after screen share")
	}
}

func (m *Manager) stopScreenShare(ctx context.Context) error {
	m.mu.Lock()
	screen := m.screen
	m.screen = nil
	restore := m.videoOn && m.camera == nil
	m.mu.Unlock()
	if screen == nil {
		return nil
	}
	if err := screen.Stop(); err != nil {
		m.log.Warn().Err(err).Msg("screen stop")
	}
	m.log.Info().Msg("screen share stopped")

	if restore {
		stream, err := m.capture(ctx, m.constraints(false, true))
		if err == nil && stream.Video == nil {
			err = ErrNoTrack
		}
		if err != nil {
			m.mu.Lock()
			m.videoOn = false
			m.mu.Unlock()
			m.changed()
			e := wrap("screen-share", domain.KindVideo, err)
			m.degrade(e)
			return e
		}
		m.mu.Lock()
		m.camera = stream.Video
		m.mu.Unlock()
	}
	m.changed()
	return nil
}

// Tracks returns the current borrowed view: at most one video source, screen first.
func (m *Manager) Tracks() LocalTracks {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracksLocked()
}

func (m *Manager) tracksLocked() LocalTracks {
	var t LocalTracks
	if m.audioOn && m.audio != nil {
		t.Audio = m.audio
		t.State.Audio = true
	}
	switch {
	case m.screen != nil:
		t.Video = m.screen
		t.State.Source = domain.SourceScreen
	case m.videoOn && m.camera != nil:
		t.Video = m.camera
		t.State.Source = domain.SourceCamera
	}
	t.State.Video = t.Video != nil
	return t
}

func (m *Manager) State() domain.MediaState {
	return m.Tracks().State
}

func (m *Manager) Sharing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.screen != nil
}

// Release stops every track. The manager can acquire again afterwards.
func (m *Manager) Release() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.mu.Lock()
	tracks := []Track{m.audio, m.camera, m.screen}
	m.audio, m.camera, m.screen = nil, nil, nil
	m.audioOn, m.videoOn = false, false
	m.mu.Unlock()
	stopAll(tracks)
	m.log.Info().Msg("media released")
	m.changed()
}

func (m *Manager) changed() {
	m.mu.RLock()
	t := m.tracksLocked()
	subs := append([]func(LocalTracks){}, m.onChange...)
	m.mu.RUnlock()
	for _, fn := range subs {
		fn(t)
	}
}

func (m *Manager) degrade(e *Error) {
	m.mu.RLock()
	subs := append([]func(*Error){}, m.onDegraded...)
	m.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}

func stopAll(tracks []Track) {
	for _, t := range tracks {
		if t != nil {
			_ = t.Stop()
		}
	}
}
