package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dkeye/Mesh/internal/app/sink"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/media"
)

type controller interface {
	Media() *media.Manager
	Leave()
	EndSession() error
	SendChat(text string) error
	Remotes() []domain.ParticipantID
}

const consoleHelp = `commands:
  /audio on|off   microphone
  /video on|off   camera
  /screen on|off  screen share
  /peers          connected participants
  /stats          receive statistics
  /leave          leave the session
  /end            end the session for everyone
anything else is sent as chat`

// runConsole reads commands until in ends, ctx is done, or the user leaves.
func runConsole(ctx context.Context, in io.Reader, out io.Writer, c controller, stats *sink.Manager) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if done := handleLine(ctx, out, c, stats, line); done {
			return
		}
	}
}

func handleLine(ctx context.Context, out io.Writer, c controller, stats *sink.Manager, line string) bool {
	if !strings.HasPrefix(line, "/") {
		if err := c.SendChat(line); err != nil {
			fmt.Fprintf(out, "! chat not sent: %v\n", err)
		}
		return false
	}

	fields := strings.Fields(line)
	var err error
	switch fields[0] {
	case "/audio", "/video", "/screen":
		on, ok := parseSwitch(fields)
		if !ok {
			fmt.Fprintf(out, "! %s needs on or off\n", fields[0])
			fmt.Fprintln(out, consoleHelp)
			return false
		}
		err = toggle(ctx, out, c.Media(), fields[0], on)
	case "/peers":
		remotes := c.Remotes()
		if len(remotes) == 0 {
			fmt.Fprintln(out, "no peers")
		}
		for _, p := range remotes {
			fmt.Fprintln(out, p)
		}
	case "/stats":
		renderStats(out, stats.Snapshot())
	case "/leave":
		c.Leave()
		return true
	case "/end":
		if err := c.EndSession(); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			return false
		}
		return true
	default:
		fmt.Fprintln(out, consoleHelp)
	}
	if err != nil {
		fmt.Fprintf(out, "! %s: %v\n", fields[0], err)
	}
	return false
}

func parseSwitch(fields []string) (on, ok bool) {
	if len(fields) != 2 {
		return false, false
	}
	switch fields[1] {
	case "on":
		return true, true
	case "off":
		return false, true
	}
	return false, false
}

func toggle(ctx context.Context, out io.Writer, m *media.Manager, cmd string, on bool) error {
	switch cmd {
	case "/audio":
		return m.SetEnabled(ctx, domain.KindAudio, on)
	case "/video":
		return m.SetEnabled(ctx, domain.KindVideo, on)
	}
	if on == m.Sharing() {
		if on {
			fmt.Fprintln(out, "already sharing")
		} else {
			fmt.Fprintln(out, "not sharing")
		}
		return nil
	}
	if on {
		return m.StartScreenShare(ctx)
	}
	return m.StopScreenShare(ctx)
}
