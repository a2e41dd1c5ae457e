package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Rrens/live-assist/internal/domain"
	"github.com/Rrens/live-assist/internal/service"
	"github.com/Rrens/live-assist/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 16 << 20
	outboxSize     = 128
	inputTimeout   = 30 * time.Second
)

// Client message types
const (
	MsgSendText     = "send_text"
	MsgSendAudio    = "send_audio"
	MsgSendImage    = "send_image"
	MsgCloseSession = "close_session"
)

// Server message types
const (
	MsgTranscription = "transcription"
	MsgResponse      = "response"
	MsgComplete      = "complete"
	MsgError         = "error"
	MsgSent          = "sent"
	MsgClosed        = "closed"
)

// ClientMessage is a frame sent by the browser.
type ClientMessage struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Data       string `json:"data,omitempty"`
	MIMEType   string `json:"mime_type,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
}

// ServerMessage is a frame pushed to the browser.
type ServerMessage struct {
	Type      string                   `json:"type"`
	SessionID string                   `json:"session_id"`
	Text      string                   `json:"text,omitempty"`
	Turn      *domain.ConversationTurn `json:"turn,omitempty"`
	Error     *ErrorPayload            `json:"error,omitempty"`
}

// ErrorPayload describes a failure on the stream.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func errorPayload(err error) *ErrorPayload {
	return &ErrorPayload{
		Code:    domain.KindOf(err).String(),
		Message: errMessage(err),
		Status:  domain.HTTPStatus(err),
	}
}

// RealtimeHandler streams session output over a WebSocket and accepts
// inputs on the same connection.
type RealtimeHandler struct {
	sessions *service.SessionService
	upgrader websocket.Upgrader
}

// NewRealtimeHandler creates a realtime handler. An empty origins list
// accepts any origin.
func NewRealtimeHandler(sessions *service.SessionService, origins []string) *RealtimeHandler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &RealtimeHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || allowed["*"] || origin == "" || allowed[origin]
			},
		},
	}
}

// client is one WebSocket connection bound to one session.
type client struct {
	conn      *websocket.Conn
	sessionID string
	userID    uuid.UUID
	outbox    chan ServerMessage
	done      chan struct{}
	closeOnce sync.Once
}

// push never blocks the session pump; a client that cannot keep up loses
// frames.
func (c *client) push(msg ServerMessage) {
	select {
	case <-c.done:
	case c.outbox <- msg:
	default:
		log.Warn().Str("session_id", c.sessionID).Str("type", msg.Type).Msg("Realtime client too slow, dropping message")
	}
}

func (c *client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) observer() session.Observer {
	return session.ObserverFuncs{
		Transcription: func(id, fragment string) {
			c.push(ServerMessage{Type: MsgTranscription, SessionID: id, Text: fragment})
		},
		Response: func(id, cumulative string) {
			c.push(ServerMessage{Type: MsgResponse, SessionID: id, Text: cumulative})
		},
		Complete: func(id string, turn domain.ConversationTurn) {
			c.push(ServerMessage{Type: MsgComplete, SessionID: id, Turn: &turn})
		},
		Error: func(id string, err error) {
			c.push(ServerMessage{Type: MsgError, SessionID: id, Error: errorPayload(err)})
		},
	}
}

// Serve attaches to the live session before upgrading, so ownership and
// lookup failures are plain HTTP errors.
func (h *RealtimeHandler) Serve(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "id")

	c := &client{
		sessionID: sessionID,
		userID:    userID,
		outbox:    make(chan ServerMessage, outboxSize),
		done:      make(chan struct{}),
	}
	detach, err := h.sessions.Attach(r.Context(), userID, sessionID, c.observer())
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer detach()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("WebSocket upgrade failed")
		return
	}
	c.conn = conn
	defer conn.Close()

	log.Info().Str("session_id", sessionID).Str("user_id", userID.String()).Msg("Realtime client connected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writeLoop(c)
	}()

	h.readLoop(r.Context(), c)
	c.shutdown()
	wg.Wait()

	log.Info().Str("session_id", sessionID).Msg("Realtime client disconnected")
}

func (h *RealtimeHandler) readLoop(ctx context.Context, c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("session_id", c.sessionID).Msg("Realtime read failed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.push(ServerMessage{Type: MsgError, SessionID: c.sessionID, Error: errorPayload(domain.NewValidationError("message", "invalid JSON"))})
			continue
		}
		if stop := h.dispatch(ctx, c, msg); stop {
			return
		}
	}
}

// dispatch handles one client frame and reports whether the connection
// should end.
func (h *RealtimeHandler) dispatch(ctx context.Context, c *client, msg ClientMessage) bool {
	ctx, cancel := context.WithTimeout(ctx, inputTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case MsgSendText:
		_, err = h.sessions.SendText(ctx, c.userID, c.sessionID, msg.Text)
	case MsgSendAudio:
		var chunk session.AudioChunk
		chunk, err = audioInput{Data: msg.Data, MIMEType: msg.MIMEType, SampleRate: msg.SampleRate, Channels: msg.Channels}.chunk()
		if err == nil {
			_, err = h.sessions.SendAudio(ctx, c.userID, c.sessionID, chunk)
		}
	case MsgSendImage:
		var chunk session.ImageChunk
		chunk, err = imageInput{Data: msg.Data, MIMEType: msg.MIMEType, Width: msg.Width, Height: msg.Height}.chunk()
		if err == nil {
			_, err = h.sessions.SendImage(ctx, c.userID, c.sessionID, chunk)
		}
	case MsgCloseSession:
		if err = h.sessions.Close(ctx, c.userID, c.sessionID); err == nil {
			c.push(ServerMessage{Type: MsgClosed, SessionID: c.sessionID})
			return true
		}
	default:
		err = domain.NewValidationError("type", "unknown message type "+msg.Type)
	}

	if err != nil {
		c.push(ServerMessage{Type: MsgError, SessionID: c.sessionID, Error: errorPayload(err)})
		return false
	}
	// Audio is streamed continuously; acknowledging every chunk is noise.
	if msg.Type != MsgSendAudio {
		c.push(ServerMessage{Type: MsgSent, SessionID: c.sessionID})
	}
	return false
}

// writeLoop is the only writer on the connection.
func (h *RealtimeHandler) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.outbox:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				h.abort(c, err)
				return
			}
			if msg.Type == MsgClosed {
				h.closeConn(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.abort(c, err)
				return
			}
		case <-c.done:
			h.drain(c)
			h.closeConn(c)
			return
		}
	}
}

// drain flushes what the reader queued before it stopped, such as an error
// for the last frame.
func (h *RealtimeHandler) drain(c *client) {
	for {
		select {
		case msg := <-c.outbox:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (h *RealtimeHandler) closeConn(c *client) {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.shutdown()
	_ = c.conn.Close()
}

func (h *RealtimeHandler) abort(c *client, err error) {
	if !errors.Is(err, websocket.ErrCloseSent) {
		log.Warn().Err(err).Str("session_id", c.sessionID).Msg("Realtime write failed")
	}
	c.shutdown()
	_ = c.conn.Close()
}
