// Package signaling is the client side of the relay websocket.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
	eventBuffer    = 64

	SignalPath = "/api/ws/signal"
)

var (
	ErrNotConnected = errors.New("signaling: not connected")
	ErrBackpressure = errors.New("signaling: send buffer full")
	ErrUnauthorized = errors.New("signaling: credentials rejected")
	ErrNoWelcome    = errors.New("signaling: no welcome from relay")
)

type EventKind int

const (
	EventConnected EventKind = iota
	EventMessage
	EventDisconnected
)

type Event struct {
	Kind EventKind
	// Identity is set for EventConnected.
	Identity domain.Identity
	// Message is set for EventMessage.
	Message protocol.Message
	// Err is set for EventDisconnected.
	Err error
}

type Options struct {
	// ServerURL is the relay base URL, http(s) or ws(s).
	ServerURL string
	Name      string
	Token     string

	HandshakeTimeout time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

func OptionsFromConfig(cfg *config.ClientConfig) Options {
	return Options{
		ServerURL:        cfg.ServerURL,
		Name:             cfg.Name,
		Token:            cfg.Token,
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReconnectInitial: cfg.ReconnectInitial,
		ReconnectMax:     cfg.ReconnectMax,
	}
}

// Client keeps one relay connection alive and reports everything on a single ordered event channel.
type Client struct {
	opts   Options
	events chan Event
	log    zerolog.Logger

	mu  sync.Mutex
	out chan []byte
}

func NewClient(opts Options) *Client {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.ReconnectInitial <= 0 {
		opts.ReconnectInitial = 500 * time.Millisecond
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 30 * time.Second
	}
	return &Client{
		opts:   opts,
		events: make(chan Event, eventBuffer),
		log:    log.With().Str("module", "signaling").Logger(),
	}
}

// Events is closed when Run returns.
func (c *Client) Events() <-chan Event { return c.events }

// Send queues msg on the current connection without blocking.
func (c *Client) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	if out == nil {
		return ErrNotConnected
	}
	select {
	case out <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// Run connects, serves and reconnects until ctx ends or the relay rejects the credentials.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)
	for {
		conn, id, err := c.connect(ctx)
		if err != nil {
			return err
		}
		c.log.Info().Str("participant", string(id.Participant)).Msg("signaling connected")

		out := make(chan []byte, sendBuffer)
		c.setOut(out)
		if !c.emit(ctx, Event{Kind: EventConnected, Identity: id}) {
			c.setOut(nil)
			_ = conn.Close()
			return ctx.Err()
		}

		err = c.serve(ctx, conn, out)
		c.setOut(nil)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).Msg("signaling connection lost")
		if !c.emit(ctx, Event{Kind: EventDisconnected, Err: err}) {
			return ctx.Err()
		}
	}
}

func (c *Client) setOut(out chan []byte) {
	c.mu.Lock()
	c.out = out
	c.mu.Unlock()
}

func (c *Client) emit(ctx context.Context, ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, domain.Identity, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.ReconnectInitial
	b.MaxInterval = c.opts.ReconnectMax
	b.MaxElapsedTime = 0

	var (
		conn *websocket.Conn
		id   domain.Identity
	)
	op := func() error {
		var err error
		conn, id, err = c.dial(ctx)
		if errors.Is(err, ErrUnauthorized) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn().Err(err).Dur("retry_in", wait).Msg("signaling connect failed")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, domain.Identity{}, err
	}
	return conn, id, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, domain.Identity, error) {
	u, err := SignalURL(c.opts.ServerURL, c.opts.Name, c.opts.Token)
	if err != nil {
		return nil, domain.Identity{}, backoff.Permanent(err)
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, domain.Identity{}, fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status)
		}
		return nil, domain.Identity{}, fmt.Errorf("dial relay: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, domain.Identity{}, fmt.Errorf("%w: %v", ErrNoWelcome, err)
	}
	msg, err := protocol.Decode(data)
	if err != nil || msg.Type != protocol.TypeWelcome {
		_ = conn.Close()
		return nil, domain.Identity{}, fmt.Errorf("%w: got %q", ErrNoWelcome, msg.Type)
	}
	return conn, domain.Identity{Participant: msg.Participant, DisplayName: msg.Name}, nil
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn, out <-chan []byte) error {
	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(ctx, conn, out, done)
	}()
	err := c.readPump(ctx, conn)
	close(done)
	<-writerDone
	return err
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("undecodable relay message")
			continue
		}
		if msg.Type == protocol.TypePong {
			continue
		}
		if !c.emit(ctx, Event{Kind: EventMessage, Message: msg}) {
			return ctx.Err()
		}
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, out <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case data := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug().Err(err).Msg("write")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-done:
			return
		}
	}
}

// SignalURL turns a relay base URL into the websocket endpoint with the identity query.
func SignalURL(base, name, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + SignalPath
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
