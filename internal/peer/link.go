// Package peer negotiates and maintains one WebRTC connection to one remote participant.
package peer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/media"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Signaler delivers negotiation messages to the relay.
type Signaler interface {
	Send(msg protocol.Message) error
}

// Events are invoked from pion goroutines. Handlers must not block.
type Events struct {
	OnRemoteTrack        func(remote domain.ParticipantID, track *webrtc.TrackRemote)
	OnRemoteTrackRemoved func(remote domain.ParticipantID, track *webrtc.TrackRemote)
	OnRemoteMedia        func(remote domain.ParticipantID, state domain.MediaState)
	OnStateChange        func(remote domain.ParticipantID, state State)
	// OnClosed fires once. reason is nil for a local Close.
	OnClosed func(remote domain.ParticipantID, reason error)
}

type Config struct {
	Self   domain.ParticipantID
	Remote domain.ParticipantID
	Role   Role

	API           *webrtc.API
	Configuration webrtc.Configuration
	Signaler      Signaler

	// ConnectTimeout closes a link that never reaches connected. Zero disables it.
	ConnectTimeout time.Duration
	Events         Events
}

type Link struct {
	self, remote domain.ParticipantID
	role         Role
	pc           *webrtc.PeerConnection
	signaler     Signaler
	events       Events
	log          zerolog.Logger

	senders      map[webrtc.RTPCodecType]*webrtc.RTPSender
	placeholders map[webrtc.RTPCodecType]webrtc.TrackLocal

	// mu serializes description and candidate handling.
	mu           sync.Mutex
	remoteSet    bool
	negotiated   atomic.Bool
	pending      []webrtc.ICECandidateInit
	addCandidate func(webrtc.ICECandidateInit) error

	// outMu keeps our description ahead of our candidates on the wire.
	outMu     sync.Mutex
	announced bool
	outbox    []webrtc.ICECandidateInit

	stateMu     sync.RWMutex
	state       State
	connected   bool
	localMedia  domain.MediaState
	remoteMedia domain.MediaState

	tracksMu     sync.Mutex
	remoteTracks map[string]*webrtc.TrackRemote

	timer     *time.Timer
	closeOnce sync.Once
	done      chan struct{}
}

func New(cfg Config) (*Link, error) {
	if cfg.API == nil || cfg.Signaler == nil {
		return nil, &Error{Op: "create", Remote: cfg.Remote, Err: errors.New("api and signaler are required")}
	}
	pc, err := cfg.API.NewPeerConnection(cfg.Configuration)
	if err != nil {
		return nil, &Error{Op: "create", Remote: cfg.Remote, Err: err}
	}

	l := &Link{
		self:         cfg.Self,
		remote:       cfg.Remote,
		role:         cfg.Role,
		pc:           pc,
		signaler:     cfg.Signaler,
		events:       cfg.Events,
		senders:      make(map[webrtc.RTPCodecType]*webrtc.RTPSender, 2),
		placeholders: make(map[webrtc.RTPCodecType]webrtc.TrackLocal, 2),
		remoteTracks: make(map[string]*webrtc.TrackRemote),
		done:         make(chan struct{}),
		log: log.With().
			Str("module", "peer").
			Str("remote", string(cfg.Remote)).
			Str("role", cfg.Role.String()).
			Logger(),
	}
	l.addCandidate = pc.AddICECandidate

	// Both kinds are always negotiated so toggling media never needs a new offer.
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		tr, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		})
		if err != nil {
			_ = pc.Close()
			return nil, &Error{Op: "add-transceiver", Remote: cfg.Remote, Err: err}
		}
		sender := tr.Sender()
		l.senders[kind] = sender
		l.placeholders[kind] = sender.Track()
		go drainRTCP(sender)
	}

	pc.OnICECandidate(l.onLocalCandidate)
	pc.OnConnectionStateChange(l.onConnectionState)
	pc.OnTrack(l.onTrack)

	if cfg.ConnectTimeout > 0 {
		l.timer = time.AfterFunc(cfg.ConnectTimeout, l.onConnectTimeout)
	}
	return l, nil
}

func (l *Link) Remote() domain.ParticipantID { return l.remote }
func (l *Link) Role() Role                   { return l.role }

// Negotiated reports whether a remote description has been applied. It never blocks on negotiation.
func (l *Link) Negotiated() bool { return l.negotiated.Load() }

func (l *Link) State() State {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.state
}

func (l *Link) RemoteMedia() domain.MediaState {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.remoteMedia
}

func (l *Link) localState() domain.MediaState {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.localMedia
}

// Offer creates and announces a local offer. Only the offerer calls it.
func (l *Link) Offer(ctx context.Context) error {
	if l.role != RoleOfferer {
		return &Error{Op: "offer", Remote: l.remote, Err: ErrUnexpectedMessage}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return l.fail("create-offer", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return l.fail("set-local-offer", err)
	}
	l.advance(StateHaveLocalDescription)
	l.log.Debug().Msg("offer created")
	return l.announce(protocol.Offer(l.self, l.remote, offer.SDP, l.localState()))
}

func (l *Link) HandleOffer(ctx context.Context, sdp string, state *domain.MediaState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if state != nil {
		l.setRemoteMedia(*state)
	}

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return l.fail("set-remote-offer", err)
	}
	if err := l.remoteApplied(); err != nil {
		return err
	}

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return l.fail("create-answer", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return l.fail("set-local-answer", err)
	}
	l.log.Debug().Msg("answer created")
	return l.announce(protocol.Answer(l.self, l.remote, answer.SDP, l.localState()))
}

// HandleAnswer applies the remote answer. An answer without an outstanding offer is rejected and the link stays open.
func (l *Link) HandleAnswer(sdp string, state *domain.MediaState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed() {
		return ErrClosed
	}
	if l.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return &Error{Op: "answer", Remote: l.remote, Err: ErrUnexpectedMessage}
	}
	if state != nil {
		l.setRemoteMedia(*state)
	}

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return l.fail("set-remote-answer", err)
	}
	return l.remoteApplied()
}

// HandleCandidate queues the candidate until a remote description is set.
func (l *Link) HandleCandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed() {
		return ErrClosed
	}
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		return nil
	}
	if err := l.addCandidate(c); err != nil {
		return l.fail("add-candidate", err)
	}
	return nil
}

func (l *Link) HandleMediaState(state domain.MediaState) {
	if l.closed() {
		return
	}
	l.setRemoteMedia(state)
}

// SetLocalTracks swaps the outgoing tracks in place. A nil track sends nothing for that kind.
func (l *Link) SetLocalTracks(t media.LocalTracks) error {
	if l.closed() {
		return ErrClosed
	}
	for kind, track := range map[webrtc.RTPCodecType]webrtc.TrackLocal{
		webrtc.RTPCodecTypeAudio: t.Audio,
		webrtc.RTPCodecTypeVideo: t.Video,
	} {
		if track == nil {
			track = l.placeholders[kind]
		}
		sender := l.senders[kind]
		if sender.Track() == track {
			continue
		}
		if err := sender.ReplaceTrack(track); err != nil {
			return l.fail("replace-track", err)
		}
	}

	l.stateMu.Lock()
	changed := l.localMedia != t.State
	l.localMedia = t.State
	l.stateMu.Unlock()
	if !changed {
		return nil
	}

	// Before the description goes out the offer or answer carries the state itself.
	l.outMu.Lock()
	defer l.outMu.Unlock()
	if !l.announced {
		return nil
	}
	if err := l.signaler.Send(protocol.MediaStateMsg(l.self, l.remote, t.State)); err != nil {
		return l.fail("media-state", err)
	}
	return nil
}

func (l *Link) Close() error {
	l.closeWith(nil)
	return nil
}

func (l *Link) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *Link) fail(op string, err error) error {
	return &Error{Op: op, Remote: l.remote, Err: err}
}

// remoteApplied must be called with mu held.
func (l *Link) remoteApplied() error {
	l.remoteSet = true
	l.negotiated.Store(true)
	l.advance(StateNegotiating)
	pending := l.pending
	l.pending = nil
	for _, c := range pending {
		if err := l.addCandidate(c); err != nil {
			return l.fail("add-candidate", err)
		}
	}
	if len(pending) > 0 {
		l.log.Debug().Int("candidates", len(pending)).Msg("drained queued candidates")
	}
	return nil
}

func (l *Link) announce(msg protocol.Message) error {
	l.outMu.Lock()
	defer l.outMu.Unlock()
	if err := l.signaler.Send(msg); err != nil {
		return l.fail("signal", err)
	}
	if l.announced {
		return nil
	}
	l.announced = true
	for _, c := range l.outbox {
		l.sendCandidate(c)
	}
	l.outbox = nil
	return nil
}

func (l *Link) onLocalCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	init := c.ToJSON()
	l.outMu.Lock()
	defer l.outMu.Unlock()
	if !l.announced {
		l.outbox = append(l.outbox, init)
		return
	}
	l.sendCandidate(init)
}

// sendCandidate must be called with outMu held.
func (l *Link) sendCandidate(c webrtc.ICECandidateInit) {
	if err := l.signaler.Send(protocol.CandidateMsg(l.self, l.remote, c)); err != nil {
		l.log.Warn().Err(err).Msg("send candidate")
	}
}

// advance moves the negotiation forward. It never leaves connected, disconnected or closed.
func (l *Link) advance(s State) {
	l.stateMu.Lock()
	if l.state >= s || l.state >= StateConnected {
		l.stateMu.Unlock()
		return
	}
	l.state = s
	l.stateMu.Unlock()
	l.notifyState(s)
}

func (l *Link) setState(s State) {
	l.stateMu.Lock()
	if l.state == StateClosed || l.state == s {
		l.stateMu.Unlock()
		return
	}
	l.state = s
	if s == StateConnected {
		l.connected = true
	}
	l.stateMu.Unlock()
	l.notifyState(s)
}

func (l *Link) notifyState(s State) {
	l.log.Debug().Str("state", s.String()).Msg("link state")
	if l.events.OnStateChange != nil {
		l.events.OnStateChange(l.remote, s)
	}
}

func (l *Link) setRemoteMedia(state domain.MediaState) {
	l.stateMu.Lock()
	changed := l.remoteMedia != state
	l.remoteMedia = state
	l.stateMu.Unlock()
	if changed && l.events.OnRemoteMedia != nil {
		l.events.OnRemoteMedia(l.remote, state)
	}
}

func (l *Link) onConnectionState(s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		if l.timer != nil {
			l.timer.Stop()
		}
		l.log.Info().Msg("peer connected")
		l.setState(StateConnected)
	case webrtc.PeerConnectionStateDisconnected:
		l.log.Warn().Msg("peer disconnected")
		l.setState(StateDisconnected)
	case webrtc.PeerConnectionStateFailed:
		l.closeWith(ErrConnectionFailed)
	case webrtc.PeerConnectionStateClosed:
		l.closeWith(nil)
	}
}

func (l *Link) onConnectTimeout() {
	l.stateMu.RLock()
	connected := l.connected
	l.stateMu.RUnlock()
	if !connected {
		l.closeWith(ErrConnectTimeout)
	}
}

func (l *Link) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if l.closed() {
		return
	}
	l.tracksMu.Lock()
	l.remoteTracks[track.ID()] = track
	l.tracksMu.Unlock()

	l.log.Info().
		Str("kind", track.Kind().String()).
		Str("codec", track.Codec().MimeType).
		Msg("remote track")

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
		if err := l.pc.WriteRTCP(pli); err != nil {
			l.log.Debug().Err(err).Msg("write pli")
		}
	}
	if l.events.OnRemoteTrack != nil {
		l.events.OnRemoteTrack(l.remote, track)
	}
}

func (l *Link) closeWith(reason error) {
	l.closeOnce.Do(func() {
		l.stateMu.Lock()
		l.state = StateClosed
		l.stateMu.Unlock()
		if l.timer != nil {
			l.timer.Stop()
		}
		close(l.done)

		if err := l.pc.Close(); err != nil {
			l.log.Warn().Err(err).Msg("close peer connection")
		}

		l.tracksMu.Lock()
		tracks := make([]*webrtc.TrackRemote, 0, len(l.remoteTracks))
		for _, t := range l.remoteTracks {
			tracks = append(tracks, t)
		}
		l.remoteTracks = map[string]*webrtc.TrackRemote{}
		l.tracksMu.Unlock()
		if l.events.OnRemoteTrackRemoved != nil {
			for _, t := range tracks {
				l.events.OnRemoteTrackRemoved(l.remote, t)
			}
		}

		ev := l.log.Info()
		if reason != nil && !errors.Is(reason, ErrClosed) {
			ev = l.log.Warn().Err(reason)
		}
		ev.Msg("peer link closed")
		l.notifyState(StateClosed)
		if l.events.OnClosed != nil {
			l.events.OnClosed(l.remote, reason)
		}
	})
}

// drainRTCP keeps the interceptors fed until the sender stops.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
