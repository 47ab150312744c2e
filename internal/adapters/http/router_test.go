package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	router "github.com/dkeye/Mesh/internal/adapters/http"
	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/app/orch"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func testConfig() *config.Config {
	return &config.Config{
		Mode:         "test",
		ReadLimit:    65536,
		PingPeriod:   54 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    10 * time.Second,
		SendBuffer:   64,
		Secret:       "test-secret",
		Backpressure: "drop",
	}
}

func newServer(t *testing.T, cfg *config.Config) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	o := orch.New(app.NewRegistry(), app.NewRoomManager(), app.PolicyByName(cfg.Backpressure))
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(router.SetupRouter(ctx, cfg, o))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, o
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal?" + query
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
	id   domain.ParticipantID
}

func dial(t *testing.T, srv *httptest.Server, name string) *client {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "name="+name), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	c := &client{t: t, conn: conn}
	welcome := c.read()
	if welcome.Type != protocol.TypeWelcome || welcome.Participant == "" || welcome.Name != name {
		t.Fatalf("welcome: got %+v", welcome)
	}
	c.id = welcome.Participant
	return c
}

func (c *client) send(msg protocol.Message) {
	c.t.Helper()
	data, err := protocol.Encode(msg)
	if err != nil {
		c.t.Fatalf("Encode: %v", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *client) read() protocol.Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		c.t.Fatalf("Decode(%s): %v", data, err)
	}
	return msg
}

func (c *client) expect(typ protocol.Type) protocol.Message {
	c.t.Helper()
	msg := c.read()
	if msg.Type != typ {
		c.t.Fatalf("expected %s, got %+v", typ, msg)
	}
	return msg
}

func TestHealthAndSessions(t *testing.T) {
	srv, _ := newServer(t, testConfig())

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status: %d", resp.StatusCode)
	}

	a := dial(t, srv, "alice")
	a.send(protocol.Join("standup"))
	a.expect(protocol.TypeRoomState)

	resp, err = http.Get(srv.URL + "/api/sessions/standup")
	if err != nil {
		t.Fatalf("GET members: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Members []struct {
			Participant string `json:"participant"`
			Name        string `json:"name"`
		} `json:"members"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Members) != 1 || body.Members[0].Name != "alice" {
		t.Fatalf("members: got %+v", body.Members)
	}

	resp2, err := http.Get(srv.URL + "/api/sessions/missing")
	if err != nil {
		t.Fatalf("GET missing: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("missing session status: %d", resp2.StatusCode)
	}
}

func TestTokenRequired(t *testing.T) {
	cfg := testConfig()
	cfg.AuthToken = "s3cret"
	srv, _ := newServer(t, cfg)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "name=bob"), nil)
	if err == nil {
		t.Fatalf("dial without token must fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "name=bob&token=s3cret"), nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	conn.Close()
}

func TestTwoParticipantSignaling(t *testing.T) {
	srv, _ := newServer(t, testConfig())

	a := dial(t, srv, "a")
	a.send(protocol.Join("s"))
	if st := a.expect(protocol.TypeRoomState); len(st.Members) != 0 {
		t.Fatalf("a room-state: %+v", st)
	}

	b := dial(t, srv, "b")
	b.send(protocol.Join("s"))
	if st := b.expect(protocol.TypeRoomState); len(st.Members) != 1 || st.Members[0] != a.id {
		t.Fatalf("b room-state: %+v", st)
	}
	if j := a.expect(protocol.TypeJoined); j.Participant != b.id {
		t.Fatalf("a joined: %+v", j)
	}

	// the existing member offers, the joiner answers
	a.send(protocol.Offer(a.id, b.id, "v=0 offer", domain.MediaState{Audio: true, Video: true, Source: domain.SourceCamera}))
	offer := b.expect(protocol.TypeOffer)
	if offer.From != a.id || offer.SDP != "v=0 offer" || offer.Media == nil || !offer.Media.Video {
		t.Fatalf("b offer: %+v", offer)
	}
	b.send(protocol.Answer(b.id, a.id, "v=0 answer", domain.MediaState{Audio: true}))
	if ans := a.expect(protocol.TypeAnswer); ans.From != b.id {
		t.Fatalf("a answer: %+v", ans)
	}

	// spoofed sender is refused
	a.send(protocol.Offer(b.id, a.id, "v=0", domain.MediaState{}))
	if e := a.expect(protocol.TypeError); e.Code != protocol.CodeForbidden {
		t.Fatalf("spoof: %+v", e)
	}

	a.send(protocol.Chat("s", a.id, "hello"))
	if chat := b.expect(protocol.TypeChat); chat.Text != "hello" || chat.From != a.id {
		t.Fatalf("b chat: %+v", chat)
	}
}

func TestStaleCandidateIsDropped(t *testing.T) {
	srv, _ := newServer(t, testConfig())

	a := dial(t, srv, "a")
	b := dial(t, srv, "b")
	c := dial(t, srv, "c")
	a.send(protocol.Join("s"))
	a.expect(protocol.TypeRoomState)
	b.send(protocol.Join("s"))
	b.expect(protocol.TypeRoomState)
	a.expect(protocol.TypeJoined)
	c.send(protocol.Join("s"))
	c.expect(protocol.TypeRoomState)
	a.expect(protocol.TypeJoined)
	b.expect(protocol.TypeJoined)

	c.conn.Close()
	if left := a.expect(protocol.TypeLeft); left.Participant != c.id {
		t.Fatalf("a left: %+v", left)
	}
	if left := b.expect(protocol.TypeLeft); left.Participant != c.id {
		t.Fatalf("b left: %+v", left)
	}

	b.send(protocol.Message{Type: protocol.TypeCandidate, From: b.id, To: c.id, Candidate: &protocol.Candidate{Candidate: "candidate:1 1 udp 1 10.0.0.2 5000 typ host"}})
	b.send(protocol.Chat("s", b.id, "after"))
	// the dropped candidate produces nothing; the next frame a sees is the chat
	if msg := a.read(); msg.Type != protocol.TypeChat || msg.Text != "after" {
		t.Fatalf("a expected chat, got %+v", msg)
	}
	b.send(protocol.Message{Type: protocol.TypePing})
	b.expect(protocol.TypePong)
}

func TestEndSessionReachesEveryone(t *testing.T) {
	srv, o := newServer(t, testConfig())

	a := dial(t, srv, "host")
	b := dial(t, srv, "guest")
	a.send(protocol.Join("s"))
	a.expect(protocol.TypeRoomState)
	b.send(protocol.Join("s"))
	b.expect(protocol.TypeRoomState)
	a.expect(protocol.TypeJoined)

	a.send(protocol.EndSession("s"))
	b.expect(protocol.TypeEndSession)
	if _, ok := o.Rooms.Get("s"); ok {
		t.Fatalf("session must be discarded")
	}

	b.send(protocol.Chat("s", b.id, "anyone?"))
	if e := b.expect(protocol.TypeError); e.Code != protocol.CodeNotInRoom {
		t.Fatalf("chat after end: %+v", e)
	}
}
