package rtc

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

func TestConfigurationDefaultsToSTUN(t *testing.T) {
	cfg := Options{}.Configuration()
	if len(cfg.ICEServers) != 1 || len(cfg.ICEServers[0].URLs) != 2 {
		t.Fatalf("ICEServers: got %+v", cfg.ICEServers)
	}
}

func TestConfigurationAddsTURN(t *testing.T) {
	cfg := Options{
		ICEServers:     []string{"stun:example.com:3478"},
		TURNURL:        "turn:turn.example.com:3478",
		TURNUsername:   "u",
		TURNCredential: "p",
	}.Configuration()
	if len(cfg.ICEServers) != 2 {
		t.Fatalf("ICEServers: got %+v", cfg.ICEServers)
	}
	turn := cfg.ICEServers[1]
	if turn.URLs[0] != "turn:turn.example.com:3478" || turn.Username != "u" || turn.Credential != "p" {
		t.Fatalf("TURN: got %+v", turn)
	}
}

func TestNewAPICreatesPeerConnection(t *testing.T) {
	api, err := NewAPI(Options{LoggerFactory: NewLoggerFactory(zerolog.Nop())})
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	defer pc.Close()
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo); err != nil {
		t.Fatalf("AddTransceiverFromKind: %v", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if offer.SDP == "" {
		t.Fatalf("empty offer")
	}
}
