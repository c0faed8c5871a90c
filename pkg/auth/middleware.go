package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/logger"
)

// rejectionMessage is the only detail a rejected caller ever sees. The
// concrete failure reason is logged server-side instead.
const rejectionMessage = "Authentication failed"

// rejectionPayload is the body returned for every rejected request.
type rejectionPayload struct {
	IsSuccess bool   `json:"isSuccess"`
	Message   string `json:"message"`
}

// Middleware creates an HTTP middleware that validates the bearer
// assertion on each request. Requests that fail extraction or
// validation are answered directly with a JSON rejection body and never
// reach the next handler. Valid requests proceed with the parsed
// assertion attached to the request context.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := extractBearer(r)
		if err != nil {
			logger.Warnw("rejecting request", "path", r.URL.Path, "error", err)
			writeRejection(w)
			return
		}

		claims, err := v.Validate(r.Context(), raw)
		if err != nil {
			logger.Warnw("assertion validation failed", "path", r.URL.Path, "error", err)
			writeRejection(w)
			return
		}

		assertion, err := claimsToAssertion(claims, raw)
		if err != nil {
			logger.Warnw("assertion claims incomplete", "path", r.URL.Path, "error", err)
			writeRejection(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAssertion(r.Context(), assertion)))
	})
}

// extractBearer pulls the raw bearer assertion out of the Authorization
// header. The header must be present exactly once and carry exactly two
// fields, a case-insensitive "Bearer" scheme followed by the assertion.
func extractBearer(r *http.Request) (string, error) {
	values := r.Header.Values("Authorization")
	switch {
	case len(values) == 0:
		return "", ErrMissingAuthHeader
	case len(values) > 1:
		return "", ErrMalformedAuthHeader
	}

	fields := strings.Fields(values[0])
	switch {
	case len(fields) == 0:
		return "", ErrMissingAuthHeader
	case len(fields) == 1 && strings.EqualFold(fields[0], "Bearer"):
		return "", ErrMissingToken
	case len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer"):
		return "", ErrMalformedAuthHeader
	}

	return fields[1], nil
}

// writeRejection answers a failed request. Rejections are always a 200
// with isSuccess=false; SDK clients surface the message instead of
// raising on the transport status.
func writeRejection(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(rejectionPayload{
		IsSuccess: false,
		Message:   rejectionMessage,
	}); err != nil {
		logger.Errorf("Failed to write rejection response: %v", err)
	}
}
