// Package mediatest provides an in-memory Capturer for tests.
package mediatest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/dkeye/Mesh/internal/media"
	"github.com/pion/webrtc/v4"
)

type Track struct {
	*webrtc.TrackLocalStaticSample
	Source string

	mu      sync.Mutex
	stopped bool
	ended   func(error)
}

func newTrack(kind webrtc.RTPCodecType, source string, n int) *Track {
	mime := webrtc.MimeTypeVP8
	if kind == webrtc.RTPCodecTypeAudio {
		mime = webrtc.MimeTypeOpus
	}
	id := fmt.Sprintf("%s-%d", source, n)
	t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "mesh")
	if err != nil {
		panic(err)
	}
	return &Track{TrackLocalStaticSample: t, Source: source}
}

// Stop behaves like a device track: it ends the track once.
func (t *Track) Stop() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	fn := t.ended
	t.mu.Unlock()
	if fn != nil {
		fn(nil)
	}
	return nil
}

func (t *Track) OnEnded(fn func(error)) {
	t.mu.Lock()
	t.ended = fn
	t.mu.Unlock()
}

// End simulates the source going away on its own, e.g. the OS "stop sharing" button.
func (t *Track) End() {
	t.mu.Lock()
	t.stopped = true
	fn := t.ended
	t.mu.Unlock()
	if fn != nil {
		fn(io.EOF)
	}
}

func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Capturer hands out fake tracks. Requests are all-or-nothing like getUserMedia.
type Capturer struct {
	mu        sync.Mutex
	cameraErr error
	micErr    error
	screenErr error
	n         int
	requests  []media.Constraints
	tracks    []*Track
}

func (c *Capturer) FailCamera(err error) {
	c.mu.Lock()
	c.cameraErr = err
	c.mu.Unlock()
}

func (c *Capturer) FailMic(err error) {
	c.mu.Lock()
	c.micErr = err
	c.mu.Unlock()
}

func (c *Capturer) FailScreen(err error) {
	c.mu.Lock()
	c.screenErr = err
	c.mu.Unlock()
}

func (c *Capturer) UserMedia(_ context.Context, cons media.Constraints) (media.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, cons)
	if cons.Video && c.cameraErr != nil {
		return media.Stream{}, c.cameraErr
	}
	if cons.Audio && c.micErr != nil {
		return media.Stream{}, c.micErr
	}
	var s media.Stream
	if cons.Video {
		s.Video = c.add(webrtc.RTPCodecTypeVideo, "camera")
	}
	if cons.Audio {
		s.Audio = c.add(webrtc.RTPCodecTypeAudio, "mic")
	}
	return s, nil
}

func (c *Capturer) DisplayMedia(context.Context) (media.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.screenErr != nil {
		return nil, c.screenErr
	}
	return c.add(webrtc.RTPCodecTypeVideo, "screen"), nil
}

func (c *Capturer) add(kind webrtc.RTPCodecType, source string) *Track {
	c.n++
	t := newTrack(kind, source, c.n)
	c.tracks = append(c.tracks, t)
	return t
}

func (c *Capturer) Requests() []media.Constraints {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]media.Constraints(nil), c.requests...)
}

// Live returns the tracks of source that were handed out and not stopped.
func (c *Capturer) Live(source string) []*Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Track
	for _, t := range c.tracks {
		if t.Source == source && !t.Stopped() {
			out = append(out, t)
		}
	}
	return out
}
