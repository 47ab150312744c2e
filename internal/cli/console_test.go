package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dkeye/Mesh/internal/app/sink"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/media"
	"github.com/dkeye/Mesh/internal/media/mediatest"
)

type fakeController struct {
	mgr     *media.Manager
	chats   []string
	left    bool
	ended   bool
	remotes []domain.ParticipantID
	chatErr error
}

func (f *fakeController) Media() *media.Manager { return f.mgr }
func (f *fakeController) Leave()                { f.left = true }
func (f *fakeController) EndSession() error {
	f.ended = true
	return nil
}

func (f *fakeController) SendChat(text string) error {
	if f.chatErr != nil {
		return f.chatErr
	}
	f.chats = append(f.chats, text)
	return nil
}

func (f *fakeController) Remotes() []domain.ParticipantID { return f.remotes }

func TestConsoleCommands(t *testing.T) {
	capturer := &mediatest.Capturer{}
	mgr := media.NewManager(capturer)
	if _, err := mgr.Acquire(context.Background(), true, true); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	c := &fakeController{mgr: mgr, remotes: []domain.ParticipantID{"bob"}}

	in := strings.NewReader("hello there\n/audio off\n/video off\n/screen on\n/peers\n\n/leave\nnever read\n")
	var out bytes.Buffer
	runConsole(context.Background(), in, &out, c, sink.NewManager())

	if len(c.chats) != 1 || c.chats[0] != "hello there" {
		t.Fatalf("chats = %v", c.chats)
	}
	st := mgr.State()
	if st.Audio {
		t.Fatalf("audio still on")
	}
	if !st.Screen() {
		t.Fatalf("screen share not started: %+v", st)
	}
	if len(capturer.Live("camera")) != 0 {
		t.Fatalf("camera still live after /video off")
	}
	if !c.left {
		t.Fatalf("/leave not handled")
	}
	if !strings.Contains(out.String(), "bob") {
		t.Fatalf("/peers output missing bob: %q", out.String())
	}
}

func TestConsoleReportsErrors(t *testing.T) {
	capturer := &mediatest.Capturer{}
	capturer.FailScreen(media.ErrPermissionDenied)
	c := &fakeController{mgr: media.NewManager(capturer), chatErr: errors.New("not connected")}

	var out bytes.Buffer
	runConsole(context.Background(), strings.NewReader("hi\n/screen on\n/bogus\n/end\n"), &out, c, sink.NewManager())

	got := out.String()
	if !strings.Contains(got, "chat not sent") || !strings.Contains(got, "/screen") {
		t.Fatalf("errors not reported: %q", got)
	}
	if !strings.Contains(got, "commands:") {
		t.Fatalf("help not printed for unknown command")
	}
	if !c.ended {
		t.Fatalf("/end not handled")
	}
}

func TestRenderTables(t *testing.T) {
	var out bytes.Buffer
	renderSessions(&out, nil)
	if !strings.Contains(out.String(), "No open sessions") {
		t.Fatalf("empty sessions: %q", out.String())
	}

	out.Reset()
	renderSessions(&out, []core.RoomInfo{{Session: "standup", MemberCount: 3}})
	if !strings.Contains(out.String(), "standup") || !strings.Contains(out.String(), "3") {
		t.Fatalf("sessions table: %q", out.String())
	}

	out.Reset()
	renderStats(&out, []sink.Stats{{Remote: "bob", Kind: "video", Packets: 42}})
	if !strings.Contains(out.String(), "bob") || !strings.Contains(out.String(), "42") {
		t.Fatalf("stats table: %q", out.String())
	}
}

func TestDescribeMedia(t *testing.T) {
	cases := map[string]domain.MediaState{
		"muted, video off":         {},
		"audio on, camera on":      {Audio: true, Video: true, Source: domain.SourceCamera},
		"audio on, sharing screen": {Audio: true, Video: true, Source: domain.SourceScreen},
	}
	for want, s := range cases {
		if got := describeMedia(s); got != want {
			t.Fatalf("describeMedia(%+v) = %q, want %q", s, got, want)
		}
	}
}

func TestMediaCommandsNeedOnOrOff(t *testing.T) {
	capturer := &mediatest.Capturer{}
	mgr := media.NewManager(capturer)
	if _, err := mgr.Acquire(context.Background(), true, true); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	c := &fakeController{mgr: mgr}

	var out bytes.Buffer
	runConsole(context.Background(), strings.NewReader("/video\n/audio of\n/screen off\n"), &out, c, sink.NewManager())

	st := mgr.State()
	if !st.Audio || !st.Video {
		t.Fatalf("bad arguments changed media: %+v", st)
	}
	if len(capturer.Live("camera")) != 1 {
		t.Fatalf("camera released by a bare /video")
	}
	got := out.String()
	if !strings.Contains(got, "/video needs on or off") || !strings.Contains(got, "/audio needs on or off") {
		t.Fatalf("missing argument not reported: %q", got)
	}
	if !strings.Contains(got, "not sharing") {
		t.Fatalf("/screen off without a share: %q", got)
	}
}
