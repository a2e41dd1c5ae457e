package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/Rrens/live-assist/internal/api/response"
	"github.com/Rrens/live-assist/internal/service"
	"github.com/Rrens/live-assist/internal/session"
	"github.com/go-chi/chi/v5"
)

const maxFrameSize = 10 << 20

var allowedFrameTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// UploadHandler accepts screen captures as multipart uploads
type UploadHandler struct {
	sessions *service.SessionService
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(sessions *service.SessionService) *UploadHandler {
	return &UploadHandler{sessions: sessions}
}

// UploadFrame forwards the "file" part of a multipart form as an image
// input.
func (h *UploadHandler) UploadFrame(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFrameSize+1<<20)
	if err := r.ParseMultipartForm(maxFrameSize); err != nil {
		response.BadRequest(w, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "no file uploaded")
		return
	}
	defer file.Close()

	if header.Size > maxFrameSize {
		response.BadRequest(w, "file too large")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		response.InternalError(w, "failed to read file")
		return
	}

	mimeType := frameType(header.Header.Get("Content-Type"), data)
	if !allowedFrameTypes[mimeType] {
		response.BadRequest(w, "invalid file type. Allowed: image/jpeg, image/png, image/webp")
		return
	}

	sent, err := h.sessions.SendImage(r.Context(), userID, chi.URLParam(r, "id"), session.ImageChunk{
		Data:     data,
		MIMEType: mimeType,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	response.Accepted(w, map[string]any{
		"sent":          sent,
		"original_name": header.Filename,
		"size":          header.Size,
	})
}

// frameType trusts the part header unless it is missing or generic.
func frameType(declared string, data []byte) string {
	declared = strings.ToLower(strings.TrimSpace(strings.Split(declared, ";")[0]))
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return http.DetectContentType(data)
}
