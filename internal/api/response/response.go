package response

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Response is the envelope of every JSON reply
type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	Error   any  `json:"error,omitempty"`
}

func write(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Debug().Err(err).Int("status", status).Msg("Failed to write response")
	}
}

// JSON sends data; success follows the status class.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Response{Success: status >= 200 && status < 300, Data: data})
}

// Error sends an error payload, which is either a message or a structured body.
func Error(w http.ResponseWriter, status int, payload any) {
	write(w, status, Response{Error: payload})
}

// NoContent sends a 204 No Content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// OK sends a 200 OK response with data
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created sends a 201 Created response with data
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// Accepted acknowledges input that was forwarded for asynchronous handling.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, data)
}

// BadRequest sends a 400 Bad Request response
func BadRequest(w http.ResponseWriter, payload any) {
	Error(w, http.StatusBadRequest, payload)
}

// Unauthorized sends a 401 Unauthorized response
func Unauthorized(w http.ResponseWriter, payload any) {
	Error(w, http.StatusUnauthorized, payload)
}

// TooManyRequests sends a 429 with a Retry-After header in whole seconds,
// rounded up. A zero retryAfter omits the header.
func TooManyRequests(w http.ResponseWriter, retryAfter time.Duration, payload any) {
	if s := RetryAfterSeconds(retryAfter); s > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(s, 10))
	}
	Error(w, http.StatusTooManyRequests, payload)
}

// ServiceUnavailable sends a 503 Service Unavailable response
func ServiceUnavailable(w http.ResponseWriter, payload any) {
	Error(w, http.StatusServiceUnavailable, payload)
}

// InternalError sends a 500 Internal Server Error response
func InternalError(w http.ResponseWriter, payload any) {
	Error(w, http.StatusInternalServerError, payload)
}

func RetryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
