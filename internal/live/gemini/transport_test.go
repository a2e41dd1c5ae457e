package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Rrens/live-assist/internal/config"
	"github.com/Rrens/live-assist/internal/live"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// fakeLive runs handle after a successful setup exchange.
func fakeLive(t *testing.T, setups chan<- map[string]any, handle func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if setups != nil {
			setups <- msg
		}
		if err := conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}}); err != nil {
			return
		}
		handle(conn)
	}))
}

func newTestTransport(srv *httptest.Server, key string) *Transport {
	return NewTransport(config.LiveConfig{
		APIKey:           key,
		Endpoint:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		HandshakeTimeout: 2 * time.Second,
	})
}

func collect(events chan live.Event) live.Sink {
	return func(ev live.Event) { events <- ev }
}

func next(t *testing.T, events chan live.Event) live.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return live.Event{}
	}
}

func TestTransport_SetupAndEvents(t *testing.T) {
	setups := make(chan map[string]any, 1)
	inputs := make(chan map[string]any, 1)

	srv := fakeLive(t, setups, func(conn *websocket.Conn) {
		var in map[string]any
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		inputs <- in

		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{
			"inputTranscription": map[string]any{"results": []map[string]any{
				{"transcript": "Tell me about yourself", "speakerId": 1},
				{"transcript": "Sure", "speakerId": 2},
			}},
		}})
		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{"parts": []map[string]any{{"text": "I am "}, {"text": "an engineer"}}},
		}})
		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{"generationComplete": true, "turnComplete": true}})

		// Hold the connection until the client closes it.
		_, _, _ = conn.ReadMessage()
	})
	defer srv.Close()

	events := make(chan live.Event, 16)
	tr := newTestTransport(srv, "test-key")
	ch, err := tr.Open(context.Background(), live.Config{
		Language:          "en-US",
		SystemInstruction: "You are an interview copilot.",
		SearchEnabled:     true,
	}, collect(events))
	require.NoError(t, err)
	defer ch.Close()

	setup := (<-setups)["setup"].(map[string]any)
	assert.Equal(t, "models/gemini-live-2.5-flash-preview", setup["model"])
	gen := setup["generationConfig"].(map[string]any)
	assert.Equal(t, []any{"TEXT"}, gen["responseModalities"])
	assert.Equal(t, "en-US", gen["speechConfig"].(map[string]any)["languageCode"])
	assert.Contains(t, setup, "tools")
	assert.Contains(t, setup, "contextWindowCompression")

	require.NoError(t, ch.Send(context.Background(), live.Text("hello")))
	in := <-inputs
	assert.Equal(t, "hello", in["realtimeInput"].(map[string]any)["text"])

	ev := next(t, events)
	assert.Equal(t, live.EventPartialTranscript, ev.Kind)
	assert.Equal(t, "[Interviewer]: Tell me about yourself\n[Candidate]: Sure\n", ev.Text)

	assert.Equal(t, live.Event{Kind: live.EventPartialResponse, Text: "I am "}, next(t, events))
	assert.Equal(t, live.Event{Kind: live.EventPartialResponse, Text: "an engineer"}, next(t, events))
	assert.Equal(t, live.EventTurnBoundary, next(t, events).Kind)
	assert.Equal(t, live.EventTurnComplete, next(t, events).Kind)
}

func TestTransport_AudioIsBase64(t *testing.T) {
	inputs := make(chan []byte, 1)
	srv := fakeLive(t, nil, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		inputs <- data
		_, _, _ = conn.ReadMessage()
	})
	defer srv.Close()

	ch, err := newTestTransport(srv, "test-key").Open(context.Background(), live.Config{}, func(live.Event) {})
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Send(context.Background(), live.Audio([]byte{0x01, 0x02, 0x03}, "audio/pcm;rate=24000")))

	var msg struct {
		RealtimeInput struct {
			Audio struct {
				Data     string `json:"data"`
				MimeType string `json:"mimeType"`
			} `json:"audio"`
		} `json:"realtimeInput"`
	}
	require.NoError(t, json.Unmarshal(<-inputs, &msg))
	assert.Equal(t, "AQID", msg.RealtimeInput.Audio.Data)
	assert.Equal(t, "audio/pcm;rate=24000", msg.RealtimeInput.Audio.MimeType)
}

func TestTransport_RemoteCloseCarriesReason(t *testing.T) {
	srv := fakeLive(t, nil, func(conn *websocket.Conn) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "API key not valid. Please pass a valid API key."),
			time.Now().Add(time.Second))
	})
	defer srv.Close()

	events := make(chan live.Event, 4)
	ch, err := newTestTransport(srv, "test-key").Open(context.Background(), live.Config{}, collect(events))
	require.NoError(t, err)
	defer ch.Close()

	ev := next(t, events)
	assert.Equal(t, live.EventTransportClosed, ev.Kind)
	assert.Equal(t, websocket.ClosePolicyViolation, ev.Code)
	assert.True(t, live.IsCredentialFailure(ev.Reason))

	assert.ErrorIs(t, ch.Send(context.Background(), live.Text("late")), live.ErrChannelClosed)
}

func TestTransport_OpenFailures(t *testing.T) {
	srv := fakeLive(t, nil, func(conn *websocket.Conn) {})
	defer srv.Close()

	t.Run("missing key", func(t *testing.T) {
		_, err := newTestTransport(srv, "").Open(context.Background(), live.Config{}, func(live.Event) {})
		require.Error(t, err)
		assert.True(t, live.IsCredentialFailure(err.Error()))
	})

	t.Run("rejected key", func(t *testing.T) {
		_, err := newTestTransport(srv, "wrong").Open(context.Background(), live.Config{}, func(live.Event) {})
		require.Error(t, err)
		assert.True(t, live.IsCredentialFailure(err.Error()))
	})
}

func TestTransport_OpenCancelledDuringSetup(t *testing.T) {
	released := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Swallow the setup and never answer it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(released)
				return
			}
		}
	}))
	defer srv.Close()

	tr := NewTransport(config.LiveConfig{
		APIKey:           "test-key",
		Endpoint:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		HandshakeTimeout: time.Minute,
	})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := tr.Open(ctx, live.Config{}, func(live.Event) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("connection left open after cancel")
	}
}

func TestTransport_LocalCloseIsSilent(t *testing.T) {
	srv := fakeLive(t, nil, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})
	defer srv.Close()

	events := make(chan live.Event, 4)
	ch, err := newTestTransport(srv, "test-key").Open(context.Background(), live.Config{}, collect(events))
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	assert.NoError(t, ch.Close())

	select {
	case ev := <-events:
		t.Fatalf("unexpected event after local close: %v", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFormatTranscription(t *testing.T) {
	assert.Equal(t, "plain text", formatTranscription(&transcription{Text: "plain text"}))
	assert.Equal(t, "", formatTranscription(&transcription{Results: []transcriptionEntry{{Transcript: "", SpeakerID: 1}}}))
}
