// Package capture implements media.Capturer on top of pion/mediadevices.
// Drivers and encoders are registered by the binary, which keeps this package cgo-free.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dkeye/Mesh/internal/media"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog/log"
)

type Capturer struct {
	selector *mediadevices.CodecSelector
}

func New(selector *mediadevices.CodecSelector) *Capturer {
	return &Capturer{selector: selector}
}

// deviceTrack adapts a mediadevices track; Close releases the device.
type deviceTrack struct {
	mediadevices.Track
}

func (t deviceTrack) Stop() error { return t.Close() }

func hasDevice(kind mediadevices.MediaDeviceType) bool {
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

func classify(err error) error {
	switch {
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %v", media.ErrPermissionDenied, err)
	case errors.Is(err, errors.ErrUnsupported):
		return fmt.Errorf("%w: %v", media.ErrNotSupported, err)
	default:
		return fmt.Errorf("%w: %v", media.ErrDeviceUnavailable, err)
	}
}

func (c *Capturer) UserMedia(ctx context.Context, cons media.Constraints) (media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return media.Stream{}, err
	}
	if cons.Video && !hasDevice(mediadevices.VideoInput) {
		return media.Stream{}, fmt.Errorf("%w: no camera", media.ErrDeviceUnavailable)
	}
	if cons.Audio && !hasDevice(mediadevices.AudioInput) {
		return media.Stream{}, fmt.Errorf("%w: no microphone", media.ErrDeviceUnavailable)
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: c.selector}
	if cons.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			if cons.Width > 0 {
				mc.Width = prop.Int(cons.Width)
			}
			if cons.Height > 0 {
				mc.Height = prop.Int(cons.Height)
			}
		}
	}
	if cons.Audio {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return media.Stream{}, classify(err)
	}

	var out media.Stream
	if v := stream.GetVideoTracks(); len(v) > 0 {
		out.Video = deviceTrack{v[0]}
	}
	if a := stream.GetAudioTracks(); len(a) > 0 {
		out.Audio = deviceTrack{a[0]}
	}
	if err := ctx.Err(); err != nil {
		for _, t := range stream.GetTracks() {
			_ = t.Close()
		}
		return media.Stream{}, err
	}
	log.Debug().Str("module", "capture").Bool("video", out.Video != nil).Bool("audio", out.Audio != nil).Msg("user media acquired")
	return out, nil
}

func (c *Capturer) DisplayMedia(ctx context.Context) (media.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(*mediadevices.MediaTrackConstraints) {},
		Codec: c.selector,
	})
	if err != nil {
		return nil, classify(err)
	}
	v := stream.GetVideoTracks()
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: no display track", media.ErrDeviceUnavailable)
	}
	log.Debug().Str("module", "capture").Msg("display media acquired")
	return deviceTrack{v[0]}, nil
}
