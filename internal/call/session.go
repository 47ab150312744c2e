// Package call runs one participant's membership in a session: signaling, local media and the peer mesh.
package call

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/media"
	"github.com/dkeye/Mesh/internal/mesh"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/dkeye/Mesh/internal/signaling"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrSessionEnded  = errors.New("session ended")
	ErrChannelClosed = errors.New("signaling channel closed")
)

// Channel is the relay connection a session runs on.
type Channel interface {
	Events() <-chan signaling.Event
	Send(msg protocol.Message) error
}

// Events report session level happenings to the UI. All are optional.
type Events struct {
	OnMembers func(members []domain.ParticipantID)
	OnJoined  func(p domain.ParticipantID)
	OnLeft    func(p domain.ParticipantID)
	OnChat    func(from domain.ParticipantID, text string)
	OnEnded   func()
}

type Config struct {
	Session domain.SessionID
	Channel Channel
	Media   *media.Manager
	// Links builds the link factory for each connection's participant id.
	Links func(self domain.ParticipantID) mesh.LinkFactory
	Video bool
	Audio bool

	Events Events
}

type Session struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	self     domain.ParticipantID
	registry *mesh.Registry

	stopOnce sync.Once
	stop     chan struct{}
	result   error
}

func New(cfg Config) *Session {
	return &Session{
		cfg:  cfg,
		log:  log.With().Str("module", "call").Str("session", string(cfg.Session)).Logger(),
		stop: make(chan struct{}),
	}
}

func (s *Session) Media() *media.Manager { return s.cfg.Media }

// Self is the participant id of the current connection, empty while disconnected.
func (s *Session) Self() domain.ParticipantID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// Remotes lists the participants with a live link.
func (s *Session) Remotes() []domain.ParticipantID {
	s.mu.Lock()
	r := s.registry
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	return r.Remotes()
}

// Run acquires media and follows the channel until the session ends, Leave is called or ctx is done.
func (s *Session) Run(ctx context.Context) error {
	if s.cfg.Video || s.cfg.Audio {
		if _, err := s.cfg.Media.Acquire(ctx, s.cfg.Video, s.cfg.Audio); err != nil {
			s.log.Warn().Err(err).Str("reason", string(media.ReasonOf(err))).Msg("no local media, joining receive-only")
		}
	}
	s.cfg.Media.OnChange(func(media.LocalTracks) { s.broadcast() })
	defer func() {
		s.teardown()
		s.cfg.Media.Release()
	}()

	for {
		select {
		case <-ctx.Done():
			s.sendLeave()
			return ctx.Err()
		case <-s.stop:
			return s.result
		case ev, ok := <-s.cfg.Channel.Events():
			if !ok {
				return ErrChannelClosed
			}
			if err := s.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// Leave tells the relay and ends Run with a nil error.
func (s *Session) Leave() {
	s.sendLeave()
	s.finish(nil)
}

// EndSession terminates the session for every member.
func (s *Session) EndSession() error {
	if err := s.cfg.Channel.Send(protocol.EndSession(s.cfg.Session)); err != nil {
		return err
	}
	s.finish(nil)
	return nil
}

func (s *Session) SendChat(text string) error {
	self := s.Self()
	if self == "" {
		return signaling.ErrNotConnected
	}
	return s.cfg.Channel.Send(protocol.Chat(s.cfg.Session, self, text))
}

func (s *Session) sendLeave() {
	if s.Self() == "" {
		return
	}
	if err := s.cfg.Channel.Send(protocol.Leave(s.cfg.Session)); err != nil {
		s.log.Debug().Err(err).Msg("send leave")
	}
}

func (s *Session) finish(result error) {
	s.stopOnce.Do(func() {
		s.result = result
		s.teardown()
		close(s.stop)
	})
}

func (s *Session) handle(ctx context.Context, ev signaling.Event) error {
	switch ev.Kind {
	case signaling.EventConnected:
		s.connected(ctx, ev.Identity)
	case signaling.EventDisconnected:
		s.log.Warn().Err(ev.Err).Msg("relay connection lost, links torn down")
		s.teardown()
	case signaling.EventMessage:
		return s.dispatch(ev.Message)
	}
	return nil
}

func (s *Session) connected(ctx context.Context, id domain.Identity) {
	s.teardown()
	r := mesh.New(ctx, id.Participant, s.cfg.Links(id.Participant), s.cfg.Media.Tracks)
	s.mu.Lock()
	s.self = id.Participant
	s.registry = r
	s.mu.Unlock()

	if err := s.cfg.Channel.Send(protocol.Join(s.cfg.Session)); err != nil {
		s.log.Error().Err(err).Msg("send join")
		return
	}
	s.log.Info().Str("participant", string(id.Participant)).Msg("joining session")
}

// dispatch only enqueues onto the registry. It never waits for negotiation.
func (s *Session) dispatch(msg protocol.Message) error {
	s.mu.Lock()
	r := s.registry
	s.mu.Unlock()
	if r == nil {
		return nil
	}

	switch msg.Type {
	case protocol.TypeRoomState:
		s.log.Info().Int("members", len(msg.Members)).Msg("joined session")
		if fn := s.cfg.Events.OnMembers; fn != nil {
			fn(msg.Members)
		}
	case protocol.TypeJoined:
		r.OnParticipantJoined(msg.Participant)
		if fn := s.cfg.Events.OnJoined; fn != nil {
			fn(msg.Participant)
		}
	case protocol.TypeLeft:
		r.OnParticipantLeft(msg.Participant)
		if fn := s.cfg.Events.OnLeft; fn != nil {
			fn(msg.Participant)
		}
	case protocol.TypeOffer:
		r.OnOfferReceived(msg.From, msg.SDP, msg.Media)
	case protocol.TypeAnswer:
		r.OnAnswerReceived(msg.From, msg.SDP, msg.Media)
	case protocol.TypeCandidate:
		r.OnCandidateReceived(msg.From, msg.Candidate.ToPion())
	case protocol.TypeMediaState:
		r.OnMediaStateReceived(msg.From, *msg.Media)
	case protocol.TypeChat:
		if fn := s.cfg.Events.OnChat; fn != nil {
			fn(msg.From, msg.Text)
		}
	case protocol.TypeEndSession:
		s.log.Info().Msg("session ended by a member")
		s.teardown()
		if fn := s.cfg.Events.OnEnded; fn != nil {
			fn()
		}
		return ErrSessionEnded
	case protocol.TypeError:
		s.log.Warn().Str("code", msg.Code).Str("message", msg.Message).Msg("relay error")
	}
	return nil
}

func (s *Session) broadcast() {
	s.mu.Lock()
	r := s.registry
	s.mu.Unlock()
	if r != nil {
		r.BroadcastLocalMediaChange()
	}
}

func (s *Session) teardown() {
	s.mu.Lock()
	r := s.registry
	s.registry = nil
	s.self = ""
	s.mu.Unlock()
	if r != nil {
		r.TeardownAll()
	}
}
