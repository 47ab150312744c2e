package signaling_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	router "github.com/dkeye/Mesh/internal/adapters/http"
	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/app/orch"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/dkeye/Mesh/internal/signaling"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func relay(t *testing.T, token string) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Mode:         "test",
		ReadLimit:    65536,
		PingPeriod:   54 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    10 * time.Second,
		SendBuffer:   64,
		Secret:       "test-secret",
		AuthToken:    token,
		Backpressure: "drop",
	}
	o := orch.New(app.NewRegistry(), app.NewRoomManager(), app.PolicyByName(cfg.Backpressure))
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(router.SetupRouter(ctx, cfg, o))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv
}

func start(t *testing.T, opts signaling.Options) (*signaling.Client, chan error) {
	t.Helper()
	c := signaling.NewClient(opts)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	t.Cleanup(cancel)
	return c, errc
}

func next(t *testing.T, c *signaling.Client) signaling.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatalf("events closed")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("no event")
	}
	return signaling.Event{}
}

func nextMessage(t *testing.T, c *signaling.Client, typ protocol.Type) protocol.Message {
	t.Helper()
	ev := next(t, c)
	if ev.Kind != signaling.EventMessage || ev.Message.Type != typ {
		t.Fatalf("expected %s message, got %+v", typ, ev)
	}
	return ev.Message
}

func connected(t *testing.T, c *signaling.Client) domain.Identity {
	t.Helper()
	ev := next(t, c)
	if ev.Kind != signaling.EventConnected {
		t.Fatalf("expected connected, got %+v", ev)
	}
	return ev.Identity
}

func TestClientsSignalThroughRelay(t *testing.T) {
	srv := relay(t, "tok")
	a, _ := start(t, signaling.Options{ServerURL: srv.URL, Name: "alice", Token: "tok"})
	b, _ := start(t, signaling.Options{ServerURL: srv.URL, Name: "bob", Token: "tok"})

	idA := connected(t, a)
	idB := connected(t, b)
	if idA.DisplayName != "alice" || idA.Participant == "" {
		t.Fatalf("identity a: %+v", idA)
	}

	if err := a.Send(protocol.Join("standup")); err != nil {
		t.Fatalf("send join: %v", err)
	}
	nextMessage(t, a, protocol.TypeRoomState)

	if err := b.Send(protocol.Join("standup")); err != nil {
		t.Fatalf("send join: %v", err)
	}
	state := nextMessage(t, b, protocol.TypeRoomState)
	if len(state.Members) != 1 || state.Members[0] != idA.Participant {
		t.Fatalf("room-state members: %v", state.Members)
	}
	joined := nextMessage(t, a, protocol.TypeJoined)
	if joined.Participant != idB.Participant {
		t.Fatalf("joined: %+v", joined)
	}

	media := domain.MediaState{Audio: true}
	if err := a.Send(protocol.Offer(idA.Participant, idB.Participant, "v=0", media)); err != nil {
		t.Fatalf("send offer: %v", err)
	}
	offer := nextMessage(t, b, protocol.TypeOffer)
	if offer.From != idA.Participant || offer.SDP != "v=0" {
		t.Fatalf("offer: %+v", offer)
	}
}

func TestUnauthorizedIsPermanent(t *testing.T) {
	srv := relay(t, "tok")
	_, errc := start(t, signaling.Options{ServerURL: srv.URL, Name: "eve", Token: "wrong"})

	select {
	case err := <-errc:
		if !errors.Is(err, signaling.ErrUnauthorized) {
			t.Fatalf("Run err = %v, want ErrUnauthorized", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run kept retrying on 401")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c := signaling.NewClient(signaling.Options{ServerURL: "http://127.0.0.1:1"})
	if err := c.Send(protocol.Leave("x")); !errors.Is(err, signaling.ErrNotConnected) {
		t.Fatalf("Send err = %v, want ErrNotConnected", err)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		id := domain.Identity{Participant: domain.ParticipantID("p" + string(rune('0'+n))), DisplayName: r.URL.Query().Get("name")}
		data, _ := protocol.Encode(protocol.Welcome(id))
		_ = conn.WriteMessage(websocket.TextMessage, data)
		if n == 1 {
			_ = conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, _ := start(t, signaling.Options{
		ServerURL:        srv.URL,
		Name:             "carol",
		ReconnectInitial: 10 * time.Millisecond,
		ReconnectMax:     50 * time.Millisecond,
	})

	if id := connected(t, c); id.Participant != "p1" {
		t.Fatalf("first identity: %+v", id)
	}
	if ev := next(t, c); ev.Kind != signaling.EventDisconnected {
		t.Fatalf("expected disconnected, got %+v", ev)
	}
	if id := connected(t, c); id.Participant != "p2" || id.DisplayName != "carol" {
		t.Fatalf("second identity: %+v", id)
	}
}

func TestNoWelcomeRetries(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if conns.Add(1) == 1 {
			data, _ := protocol.Encode(protocol.Errorf(protocol.CodeBadPayload, "nope"))
			_ = conn.WriteMessage(websocket.TextMessage, data)
			_ = conn.Close()
			return
		}
		data, _ := protocol.Encode(protocol.Welcome(domain.Identity{Participant: "late", DisplayName: "dan"}))
		_ = conn.WriteMessage(websocket.TextMessage, data)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, _ := start(t, signaling.Options{
		ServerURL:        srv.URL,
		Name:             "dan",
		HandshakeTimeout: time.Second,
		ReconnectInitial: 10 * time.Millisecond,
	})
	if id := connected(t, c); id.Participant != "late" {
		t.Fatalf("identity: %+v", id)
	}
	if conns.Load() < 2 {
		t.Fatalf("expected a retry after a missing welcome")
	}
}

func TestSignalURL(t *testing.T) {
	cases := []struct {
		base, want string
	}{
		{"http://relay:8080", "ws://relay:8080/api/ws/signal?name=al+ice&token=t"},
		{"https://relay/base/", "wss://relay/base/api/ws/signal?name=al+ice&token=t"},
		{"wss://relay", "wss://relay/api/ws/signal?name=al+ice&token=t"},
	}
	for _, tc := range cases {
		got, err := signaling.SignalURL(tc.base, "al ice", "t")
		if err != nil {
			t.Fatalf("SignalURL(%q): %v", tc.base, err)
		}
		if got != tc.want {
			t.Fatalf("SignalURL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
	if _, err := signaling.SignalURL("ftp://relay", "a", ""); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestListSessions(t *testing.T) {
	srv := relay(t, "tok")
	a, _ := start(t, signaling.Options{ServerURL: srv.URL, Name: "alice", Token: "tok"})
	connected(t, a)
	if err := a.Send(protocol.Join("standup")); err != nil {
		t.Fatalf("join: %v", err)
	}
	nextMessage(t, a, protocol.TypeRoomState)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := signaling.ListSessions(ctx, srv.URL, "tok")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 1 || got[0].Session != "standup" || got[0].MemberCount != 1 {
		t.Fatalf("sessions = %+v", got)
	}

	if _, err := signaling.ListSessions(ctx, srv.URL, "wrong"); !errors.Is(err, signaling.ErrUnauthorized) {
		t.Fatalf("wrong token: err = %v, want ErrUnauthorized", err)
	}
}
