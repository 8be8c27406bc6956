package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	ierr "github.com/florian-lahitte-uvi/Test-stripe/internal/errors"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/logger"
)

// maxBodyBytes caps every request body, webhooks included.
const maxBodyBytes = 64 << 10

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorResponse struct {
	Error string         `json:"error"`
	Debug map[string]any `json:"debug,omitempty"`
}

func writeJSON(w http.ResponseWriter, log *logger.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warnw("failed to encode response", "error", err)
	}
}

// writeError maps err to a status and a user-facing message. Only configuration
// errors expose their details.
func writeError(w http.ResponseWriter, log *logger.Logger, err error, fallback string) {
	status := ierr.HTTPStatusFromErr(err)
	resp := errorResponse{Error: ierr.DisplayMessage(err, fallback)}
	if ierr.IsConfiguration(err) {
		if details := ierr.ReportableDetails(err); len(details) > 0 {
			resp.Debug = details
		}
	}

	if status >= http.StatusInternalServerError {
		log.Errorw("request failed", "status", status, "error", err)
	} else {
		log.Infow("request rejected", "status", status, "error", err)
	}
	writeJSON(w, log, status, resp)
}

// readBody reads the whole request body. A body over maxBodyBytes is rejected with 413
// rather than truncated; other read failures are reported with invalidMsg.
func readBody(w http.ResponseWriter, r *http.Request, invalidMsg string) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if ierr.As(err, &tooLarge) {
			return nil, ierr.WithError(err).WithHint("Request body too large").Mark(ierr.ErrPayloadTooLarge)
		}
		return nil, ierr.WithError(err).WithHint(invalidMsg).Mark(ierr.ErrValidation)
	}
	return body, nil
}

// decodeBody reads a JSON body into dst and validates its struct tags. Decode and
// validation failures are reported with invalidMsg.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, invalidMsg string) error {
	body, err := readBody(w, r, invalidMsg)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return ierr.WithError(err).WithHint(invalidMsg).Mark(ierr.ErrValidation)
	}
	if err := validate.Struct(dst); err != nil {
		return ierr.WithError(err).WithHint(invalidMsg).Mark(ierr.ErrValidation)
	}
	return nil
}
