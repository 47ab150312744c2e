package cli

import (
	"fmt"
	"io"

	"github.com/dkeye/Mesh/internal/app/sink"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/signaling"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newSessionsCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List the sessions currently open on the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			sessions, err := signaling.ListSessions(cmd.Context(), cfg.ServerURL, cfg.Token)
			if err != nil {
				return err
			}
			renderSessions(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
}

func renderSessions(w io.Writer, sessions []core.RoomInfo) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No open sessions")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Session", "Members"})
	for _, s := range sessions {
		t.AppendRow(table.Row{s.Session, s.MemberCount})
	}
	t.Render()
}

func renderStats(w io.Writer, stats []sink.Stats) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "No remote tracks")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Participant", "Kind", "Packets", "Bytes", "Lost", "Last packet"})
	for _, s := range stats {
		last := "-"
		if !s.LastSeen.IsZero() {
			last = s.LastSeen.Format("15:04:05")
		}
		t.AppendRow(table.Row{s.Remote, s.Kind, s.Packets, s.Bytes, s.Lost, last})
	}
	t.Render()
}
