package handler

import (
	"encoding/base64"
	"net/http"

	"github.com/Rrens/live-assist/internal/api/response"
	"github.com/Rrens/live-assist/internal/domain"
	"github.com/Rrens/live-assist/internal/service"
	"github.com/Rrens/live-assist/internal/session"
	"github.com/go-chi/chi/v5"
)

// SessionHandler handles realtime session endpoints
type SessionHandler struct {
	sessions *service.SessionService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Create initializes a live session, or returns the user's active one for
// the same profile.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var input domain.SessionCreate
	if !decode(w, r, &input) {
		return
	}

	info, err := h.sessions.Initialize(r.Context(), userID, input, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}

	response.Created(w, info)
}

// List returns the user's live sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	response.OK(w, map[string]any{
		"sessions": h.sessions.List(userID),
		"profiles": session.Profiles(),
	})
}

// Get returns a session. Sessions no longer held in memory are reported
// from their record.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	info, record, err := h.sessions.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if info != nil {
		response.OK(w, map[string]any{"live": true, "session": info})
		return
	}
	response.OK(w, map[string]any{"live": false, "session": record})
}

// Delete closes a session
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := h.sessions.Close(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}

	response.NoContent(w)
}

// History returns the completed turns of a session
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	turns, err := h.sessions.History(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if turns == nil {
		turns = []domain.ConversationTurn{}
	}

	response.OK(w, map[string]any{"turns": turns})
}

// Restore reopens a session that has an open record but is no longer held
// in memory, keeping its id. Live sessions are returned as they are.
func (h *SessionHandler) Restore(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	info, err := h.sessions.Resolve(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	response.OK(w, info)
}

type textInput struct {
	Text string `json:"text" validate:"required,max=10000"`
}

// SendText forwards a text message. The answer is delivered over the
// realtime stream.
func (h *SessionHandler) SendText(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var input textInput
	if !decode(w, r, &input) {
		return
	}

	sent, err := h.sessions.SendText(r.Context(), userID, chi.URLParam(r, "id"), input.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Accepted(w, map[string]bool{"sent": sent})
}

type audioInput struct {
	Data       string `json:"data" validate:"required,base64"`
	MIMEType   string `json:"mime_type" validate:"omitempty,max=100"`
	SampleRate int    `json:"sample_rate" validate:"omitempty,min=8000,max=192000"`
	Channels   int    `json:"channels" validate:"omitempty,min=1,max=8"`
}

func (in audioInput) chunk() (session.AudioChunk, error) {
	data, err := base64.StdEncoding.DecodeString(in.Data)
	if err != nil {
		return session.AudioChunk{}, domain.NewValidationError("data", "must be base64")
	}
	return session.AudioChunk{Data: data, MIMEType: in.MIMEType, SampleRate: in.SampleRate, Channels: in.Channels}, nil
}

// SendAudio forwards a base64 PCM chunk
func (h *SessionHandler) SendAudio(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var input audioInput
	if !decode(w, r, &input) {
		return
	}
	chunk, err := input.chunk()
	if err != nil {
		writeError(w, r, err)
		return
	}

	sent, err := h.sessions.SendAudio(r.Context(), userID, chi.URLParam(r, "id"), chunk)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Accepted(w, map[string]bool{"sent": sent})
}

type imageInput struct {
	Data     string `json:"data" validate:"required,base64"`
	MIMEType string `json:"mime_type" validate:"omitempty,max=100"`
	Width    int    `json:"width" validate:"omitempty,min=1"`
	Height   int    `json:"height" validate:"omitempty,min=1"`
}

func (in imageInput) chunk() (session.ImageChunk, error) {
	data, err := base64.StdEncoding.DecodeString(in.Data)
	if err != nil {
		return session.ImageChunk{}, domain.NewValidationError("data", "must be base64")
	}
	return session.ImageChunk{Data: data, MIMEType: in.MIMEType, Width: in.Width, Height: in.Height}, nil
}

// SendImage forwards a screen capture. Multipart uploads are handled by
// UploadHandler.
func (h *SessionHandler) SendImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var input imageInput
	if !decode(w, r, &input) {
		return
	}
	chunk, err := input.chunk()
	if err != nil {
		writeError(w, r, err)
		return
	}

	sent, err := h.sessions.SendImage(r.Context(), userID, chi.URLParam(r, "id"), chunk)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Accepted(w, map[string]bool{"sent": sent})
}
