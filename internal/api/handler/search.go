package handler

import (
	"net/http"

	"github.com/Rrens/live-assist/internal/api/response"
	"github.com/Rrens/live-assist/internal/search"
)

// SearchHandler handles web search endpoints
type SearchHandler struct {
	search *search.Service
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(svc *search.Service) *SearchHandler {
	return &SearchHandler{search: svc}
}

// Search answers a one-off web query
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var input search.Query
	if !decode(w, r, &input) {
		return
	}

	res, err := h.search.Search(r.Context(), userID, input)
	if err != nil {
		writeError(w, r, err)
		return
	}

	response.OK(w, res)
}
