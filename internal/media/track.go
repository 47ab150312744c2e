package media

import (
	"context"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Track is a live local capture. Only the Manager stops it.
type Track interface {
	webrtc.TrackLocal
	// Stop releases the underlying device.
	Stop() error
	// OnEnded fires once when the source ends on its own, e.g. the OS stops a screen share.
	OnEnded(func(error))
}

// Stream is the result of one capture request. Either field may be nil.
type Stream struct {
	Audio Track
	Video Track
}

func (s Stream) stop() {
	if s.Audio != nil {
		_ = s.Audio.Stop()
	}
	if s.Video != nil {
		_ = s.Video.Stop()
	}
}

type Constraints struct {
	Audio  bool
	Video  bool
	Width  int
	Height int
}

// Capturer is the device boundary.
type Capturer interface {
	UserMedia(ctx context.Context, c Constraints) (Stream, error)
	DisplayMedia(ctx context.Context) (Track, error)
}

// LocalTracks is the borrowed view handed to peer links. A nil track means that kind is not sent.
type LocalTracks struct {
	Audio webrtc.TrackLocal
	Video webrtc.TrackLocal
	State domain.MediaState
}
