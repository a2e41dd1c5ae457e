// Package gemini implements live.Transport over the Gemini Live
// BidiGenerateContent WebSocket API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rrens/live-assist/internal/config"
	"github.com/Rrens/live-assist/internal/live"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultModel            = "gemini-live-2.5-flash-preview"
	defaultHandshakeTimeout = 15 * time.Second
	closeWriteTimeout       = time.Second
)

// Transport dials one WebSocket per channel
type Transport struct {
	apiKey           string
	endpoint         string
	model            string
	handshakeTimeout time.Duration
	dialer           *websocket.Dialer
}

// NewTransport creates a new Gemini Live transport
func NewTransport(cfg config.LiveConfig) *Transport {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Transport{
		apiKey:           cfg.APIKey,
		endpoint:         cfg.Endpoint,
		model:            model,
		handshakeTimeout: timeout,
		dialer:           &websocket.Dialer{HandshakeTimeout: timeout},
	}
}

// Open dials the endpoint, sends the setup message and waits for
// setupComplete before returning.
func (t *Transport) Open(ctx context.Context, cfg live.Config, sink live.Sink) (live.Channel, error) {
	if t.apiKey == "" {
		return nil, errors.New("invalid API key: GEMINI_API_KEY is not configured")
	}

	u, err := url.Parse(t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse live endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", t.apiKey)
	u.RawQuery = q.Encode()

	conn, resp, err := t.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("failed to connect live session: unauthorized (status %d)", resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect live session: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = t.model
	}
	if err := conn.WriteJSON(newSetup(model, cfg)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send setup: %w", err)
	}

	if err := t.awaitSetup(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	ch := &channel{conn: conn, sink: sink}
	go ch.readLoop()
	return ch, nil
}

// awaitSetup reads until setupComplete. Cancelling ctx closes conn, which
// unblocks the read.
func (t *Transport) awaitSetup(ctx context.Context, conn *websocket.Conn) error {
	deadline := time.Now().Add(t.handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("live session setup aborted: %w", ctxErr)
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return fmt.Errorf("live session rejected setup: %s (code %d)", ce.Text, ce.Code)
			}
			return fmt.Errorf("failed to read setup response: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("failed to decode setup response: %w", err)
		}
		if msg.SetupComplete != nil {
			break
		}
	}

	if !stop() {
		// ctx ended as setup completed; conn is already closing.
		return fmt.Errorf("live session setup aborted: %w", ctx.Err())
	}
	_ = conn.SetReadDeadline(time.Time{})
	return nil
}

type channel struct {
	conn   *websocket.Conn
	sink   live.Sink
	mu     sync.Mutex // serializes writes
	closed atomic.Bool
}

func (c *channel) Send(ctx context.Context, in live.Input) error {
	if c.closed.Load() {
		return live.ErrChannelClosed
	}
	body, err := encodeInput(in)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, _ := ctx.Deadline()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return fmt.Errorf("failed to write %s input: %w", in.Kind, err)
	}
	return nil
}

func (c *channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWriteTimeout))
	c.mu.Unlock()

	return c.conn.Close()
}

func (c *channel) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.closed.Store(true)
			c.conn.Close()
			c.sink(closedEvent(err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sink(live.Event{Kind: live.EventTransportError, Err: fmt.Errorf("failed to decode server message: %w", err)})
			continue
		}
		if msg.GoAway != nil {
			log.Warn().Str("time_left", msg.GoAway.TimeLeft).Msg("Live session received goAway")
		}
		for _, ev := range decodeEvents(&msg) {
			c.sink(ev)
		}
	}
}

func closedEvent(err error) live.Event {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return live.Event{Kind: live.EventTransportClosed, Err: err, Reason: ce.Text, Code: ce.Code}
	}
	return live.Event{Kind: live.EventTransportClosed, Err: err, Reason: err.Error(), Code: websocket.CloseAbnormalClosure}
}
