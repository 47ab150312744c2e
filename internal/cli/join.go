package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkeye/Mesh/internal/adapters/rtc"
	"github.com/dkeye/Mesh/internal/app/sink"
	"github.com/dkeye/Mesh/internal/call"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/logging"
	"github.com/dkeye/Mesh/internal/media"
	"github.com/dkeye/Mesh/internal/peer"
	"github.com/dkeye/Mesh/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
)

func loadConfig(f *flags) (*config.ClientConfig, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	if f.server != "" {
		cfg.ServerURL = f.server
	}
	if f.token != "" {
		cfg.Token = f.token
	}
	if f.name != "" {
		cfg.Name = f.name
	}
	if f.noVideo {
		cfg.Video = false
	}
	if f.noAudio {
		cfg.Audio = false
	}
	logging.SetLevel(cfg.LogLevel)
	return cfg, nil
}

func newJoinCmd(p Platform, f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join <session>",
		Short: "Join a session and talk to everyone in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := domain.SessionID(args[0])
			if err := session.Validate(); err != nil {
				return err
			}
			if f.name != "" {
				if err := domain.ValidateDisplayName(f.name); err != nil {
					return err
				}
			}
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return join(ctx, cmd, p, cfg, session)
		},
	}
	cmd.Flags().StringVarP(&f.name, "name", "n", "", "display name (overrides name)")
	cmd.Flags().BoolVar(&f.noVideo, "no-video", false, "join without the camera")
	cmd.Flags().BoolVar(&f.noAudio, "no-audio", false, "join without the microphone")
	return cmd
}

func join(ctx context.Context, cmd *cobra.Command, p Platform, cfg *config.ClientConfig, session domain.SessionID) error {
	out := cmd.OutOrStdout()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := signaling.NewClient(signaling.OptionsFromConfig(cfg))

	opts := rtc.OptionsFromConfig(cfg)
	opts.LoggerFactory = rtc.NewLoggerFactory(log.Logger)
	opts.RegisterCodecs = p.RegisterCodecs
	api, err := rtc.NewAPI(opts)
	if err != nil {
		return err
	}

	sinks := sink.NewManager()
	links := call.PeerLinks{
		API:            api,
		Configuration:  opts.Configuration(),
		Signaler:       client,
		ConnectTimeout: cfg.ConnectTimeout,
		Events: peer.Events{
			OnRemoteTrack: func(remote domain.ParticipantID, track *webrtc.TrackRemote) {
				sinks.Start(ctx, remote, track)
			},
			OnRemoteTrackRemoved: func(remote domain.ParticipantID, track *webrtc.TrackRemote) {
				sinks.Stop(remote, track.ID())
			},
			OnRemoteMedia: func(remote domain.ParticipantID, s domain.MediaState) {
				fmt.Fprintf(out, "* %s: %s\n", remote, describeMedia(s))
			},
		},
	}

	mgr := media.NewManager(p.Capturer, media.WithConstraints(media.Constraints{Width: cfg.Width, Height: cfg.Height}))
	mgr.OnDegraded(func(e *media.Error) {
		fmt.Fprintf(out, "! %s unavailable (%s), continuing without it\n", e.Kind, e.Reason)
	})

	sess := call.New(call.Config{
		Session: session,
		Channel: client,
		Media:   mgr,
		Links:   links.Factory,
		Video:   cfg.Video,
		Audio:   cfg.Audio,
		Events: call.Events{
			OnMembers: func(members []domain.ParticipantID) {
				fmt.Fprintf(out, "* joined %s with %d other participant(s)\n", session, len(members))
			},
			OnJoined: func(id domain.ParticipantID) { fmt.Fprintf(out, "* %s joined\n", id) },
			OnLeft: func(id domain.ParticipantID) {
				sinks.StopRemote(id)
				fmt.Fprintf(out, "* %s left\n", id)
			},
			OnChat:  func(from domain.ParticipantID, text string) { fmt.Fprintf(out, "<%s> %s\n", from, text) },
			OnEnded: func() { fmt.Fprintln(out, "* the session was ended") },
		},
	})

	var clientErr error
	var wg conc.WaitGroup
	wg.Go(func() { clientErr = client.Run(ctx) })
	go runConsole(ctx, cmd.InOrStdin(), out, sess, sinks)

	err = sess.Run(ctx)
	cancel()
	wg.Wait()

	switch {
	case errors.Is(err, call.ErrChannelClosed) && clientErr != nil && !errors.Is(clientErr, context.Canceled):
		return clientErr
	case errors.Is(err, call.ErrSessionEnded), errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

func describeMedia(s domain.MediaState) string {
	audio := "muted"
	if s.Audio {
		audio = "audio on"
	}
	video := "video off"
	switch {
	case s.Screen():
		video = "sharing screen"
	case s.Video:
		video = "camera on"
	}
	return audio + ", " + video
}
