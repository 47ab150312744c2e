package rtc

import (
	"fmt"

	"github.com/dkeye/Mesh/internal/config"
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"
)

var DefaultSTUN = []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}

// Options configure the pion API shared by every peer link of a client.
type Options struct {
	ICEServers     []string
	TURNURL        string
	TURNUsername   string
	TURNCredential string

	LoggerFactory logging.LoggerFactory
	// Net replaces the OS network, e.g. with a vnet in tests.
	Net transport.Net
	// RegisterCodecs fills the media engine. Defaults to pion's default codecs.
	RegisterCodecs func(*webrtc.MediaEngine) error
}

func OptionsFromConfig(cfg *config.ClientConfig) Options {
	return Options{
		ICEServers:     cfg.ICEServers,
		TURNURL:        cfg.TURNURL,
		TURNUsername:   cfg.TURNUsername,
		TURNCredential: cfg.TURNCredential,
	}
}

// Configuration builds the ICE server list: STUN first, then the optional TURN relay.
func (o Options) Configuration() webrtc.Configuration {
	stun := o.ICEServers
	if len(stun) == 0 && o.Net == nil {
		stun = DefaultSTUN
	}
	var servers []webrtc.ICEServer
	if len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if o.TURNURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:           []string{o.TURNURL},
			Username:       o.TURNUsername,
			Credential:     o.TURNCredential,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return webrtc.Configuration{ICEServers: servers}
}

func NewAPI(o Options) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	if o.LoggerFactory != nil {
		se.LoggerFactory = o.LoggerFactory
	}
	if o.Net != nil {
		se.SetNet(o.Net)
	}

	m := &webrtc.MediaEngine{}
	register := o.RegisterCodecs
	if register == nil {
		register = func(m *webrtc.MediaEngine) error { return m.RegisterDefaultCodecs() }
	}
	if err := register(m); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
	), nil
}
