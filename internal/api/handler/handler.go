package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Rrens/live-assist/internal/api/middleware"
	"github.com/Rrens/live-assist/internal/api/response"
	"github.com/Rrens/live-assist/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

const maxJSONBody = 16 << 20

// decode reads a JSON body into dst and validates it. It writes the 400
// response itself and reports whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(dst); err != nil {
		response.BadRequest(w, "invalid request body")
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			fields := make(map[string]string)
			for _, e := range validationErrors {
				switch e.Tag() {
				case "required":
					fields[e.Field()] = "field is required"
				case "email":
					fields[e.Field()] = "invalid email format"
				case "min":
					fields[e.Field()] = "must be at least " + e.Param() + " characters"
				case "max":
					fields[e.Field()] = "must be at most " + e.Param() + " characters"
				case "oneof":
					fields[e.Field()] = "must be one of: " + e.Param()
				default:
					fields[e.Field()] = "validation failed on " + e.Tag()
				}
			}
			response.BadRequest(w, fields)
			return false
		}
		response.BadRequest(w, err.Error())
		return false
	}
	return true
}

// currentUser returns the authenticated user or writes a 401.
func currentUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return uuid.Nil, false
	}
	return userID, true
}

// quotaBody is the error payload of a rejected quota admission.
type quotaBody struct {
	Message    string  `json:"message"`
	Dimension  string  `json:"dimension"`
	Current    float64 `json:"current"`
	Ceiling    float64 `json:"ceiling"`
	Unit       string  `json:"unit,omitempty"`
	RetryAfter int64   `json:"retry_after_seconds,omitempty"`
}

// writeError maps err to its status code. Unclassified errors are logged and
// reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var qe *domain.QuotaExceededError
	if errors.As(err, &qe) {
		body := quotaBody{
			Message:   qe.Error(),
			Dimension: qe.Dimension,
			Current:   qe.Current,
			Ceiling:   qe.Ceiling,
			Unit:      qe.Unit,
		}
		body.RetryAfter = response.RetryAfterSeconds(qe.RetryAfter)
		response.TooManyRequests(w, qe.RetryAfter, body)
		return
	}

	status := domain.HTTPStatus(err)
	if status >= 500 {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		var de *domain.Error
		if !errors.As(err, &de) {
			response.Error(w, status, "internal server error")
			return
		}
		response.Error(w, status, de.Message)
		return
	}
	response.Error(w, status, errMessage(err))
}

func errMessage(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return fmt.Sprint(err)
}
