package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"go.uber.org/zap"
)

const serverErrorPrefix = "A Server Error occurred: "

type detail struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, detail{Detail: msg})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	var rl *goIdentity.RateLimitError
	switch {
	case errors.Is(err, goIdentity.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, goIdentity.ErrAuthenticationFailed),
		errors.Is(err, goIdentity.ErrInvalidOTP),
		errors.Is(err, goIdentity.ErrOTPAttemptsExhausted),
		errors.Is(err, goIdentity.ErrTokenInvalid),
		errors.Is(err, goIdentity.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.As(err, &rl), errors.Is(err, goIdentity.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, goIdentity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, goIdentity.ErrDuplicateUser):
		return http.StatusConflict
	case errors.Is(err, goIdentity.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Validation failures become a field map; server
// failures are logged and only sentinel text reaches the client.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *goIdentity.ValidationError
	if errors.As(err, &verr) && !verr.Empty() {
		writeJSON(w, http.StatusBadRequest, verr.Fields)
		return
	}

	status := statusFor(err)
	switch status {
	case http.StatusTooManyRequests:
		var rl *goIdentity.RateLimitError
		if errors.As(err, &rl) && !rl.Until.IsZero() {
			secs := int(math.Ceil(time.Until(rl.Until).Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		writeDetail(w, status, err.Error())
	case http.StatusUnauthorized:
		if errors.Is(err, goIdentity.ErrTokenInvalid) || errors.Is(err, goIdentity.ErrUnauthorized) {
			writeDetail(w, status, "Token is invalid or expired")
			return
		}
		writeDetail(w, status, err.Error())
	case http.StatusInternalServerError:
		h.logger.Error("httpapi: server error",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg := "A Server Error occurred."
		if errors.Is(err, goIdentity.ErrDeliveryFailed) {
			msg = serverErrorPrefix + goIdentity.ErrDeliveryFailed.Error()
		}
		writeDetail(w, status, msg)
	default:
		writeDetail(w, status, err.Error())
	}
}
