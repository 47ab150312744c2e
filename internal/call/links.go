package call

import (
	"time"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/mesh"
	"github.com/dkeye/Mesh/internal/peer"
	"github.com/pion/webrtc/v4"
)

// PeerLinks builds real WebRTC links for a participant identity.
type PeerLinks struct {
	API            *webrtc.API
	Configuration  webrtc.Configuration
	Signaler       peer.Signaler
	ConnectTimeout time.Duration
	// Events are shared by every link. OnClosed is owned by the registry and ignored here.
	Events peer.Events
}

func (p PeerLinks) Factory(self domain.ParticipantID) mesh.LinkFactory {
	return func(remote domain.ParticipantID, role peer.Role, onClosed func(error)) (mesh.Link, error) {
		events := p.Events
		events.OnClosed = func(_ domain.ParticipantID, reason error) { onClosed(reason) }
		link, err := peer.New(peer.Config{
			Self:           self,
			Remote:         remote,
			Role:           role,
			API:            p.API,
			Configuration:  p.Configuration,
			Signaler:       p.Signaler,
			ConnectTimeout: p.ConnectTimeout,
			Events:         events,
		})
		if err != nil {
			return nil, err
		}
		return link, nil
	}
}
