package main

import (
	"fmt"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers the camera adapter
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the microphone adapter
	_ "github.com/pion/mediadevices/pkg/driver/screen"     // registers the screen adapter
	"github.com/pion/webrtc/v4"
)

func codecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 500_000
	vpxParams.KeyFrameInterval = 60
	vpxParams.RateControlEndUsage = vpx.RateControlVBR
	vpxParams.Deadline = 100 * time.Millisecond

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

// registerCodecs limits the media engine to what the selector can encode.
func registerCodecs(selector *mediadevices.CodecSelector) func(*webrtc.MediaEngine) error {
	return func(m *webrtc.MediaEngine) error {
		selector.Populate(m)
		return nil
	}
}
