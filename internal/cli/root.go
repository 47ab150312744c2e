// Package cli is the mesh client command line.
package cli

import (
	"github.com/dkeye/Mesh/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
)

// Platform carries what the binary links in: capture drivers and encoders.
type Platform struct {
	Capturer       media.Capturer
	RegisterCodecs func(*webrtc.MediaEngine) error
}

type flags struct {
	server  string
	name    string
	token   string
	noVideo bool
	noAudio bool
}

func NewRootCmd(p Platform) *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:           "mesh",
		Short:         "Full-mesh audio/video calls over WebRTC",
		Long:          `mesh joins a named session on a signaling relay and connects directly to every other participant. Audio, camera video and screen sharing travel peer to peer; the relay only brokers membership and negotiation.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&f.server, "server", "s", "", "relay base URL (overrides server_url)")
	root.PersistentFlags().StringVarP(&f.token, "token", "t", "", "relay access token (overrides token)")

	root.AddCommand(newJoinCmd(p, &f), newSessionsCmd(&f))
	return root
}
