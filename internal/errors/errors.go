package errors

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
)

// Common error classes used across the service.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrValidation       = errors.New("validation error")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrVersionConflict  = errors.New("version conflict")
	ErrConfiguration    = errors.New("configuration error")
	ErrPermissionDenied = errors.New("permission denied")
	ErrHTTPClient       = errors.New("http client error")
	ErrDatabase         = errors.New("database error")
	ErrSystem           = errors.New("system error")
)

const detailsPrefix = "__json__:"

// checked in order so an error marked more than once maps predictably
var statusCodes = []struct {
	err    error
	status int
}{
	{ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
	{ErrValidation, http.StatusBadRequest},
	{ErrNotFound, http.StatusNotFound},
	{ErrInvalidOperation, http.StatusBadRequest},
	{ErrConfiguration, http.StatusBadRequest},
	{ErrVersionConflict, http.StatusConflict},
	{ErrPermissionDenied, http.StatusForbidden},
	{ErrHTTPClient, http.StatusInternalServerError},
	{ErrDatabase, http.StatusInternalServerError},
	{ErrSystem, http.StatusInternalServerError},
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsVersionConflict checks if an error is a version conflict error
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsConfiguration checks if an error is a configuration-integrity error
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// HTTPStatusFromErr maps an error class to a response status.
func HTTPStatusFromErr(err error) int {
	for _, sc := range statusCodes {
		if errors.Is(err, sc.err) {
			return sc.status
		}
	}
	return http.StatusInternalServerError
}

// DisplayMessage returns the first non-empty hint attached to err, or fallback.
func DisplayMessage(err error, fallback string) string {
	for _, hint := range errors.GetAllHints(err) {
		if hint = strings.TrimSpace(hint); hint != "" {
			return hint
		}
	}
	return fallback
}

// ReportableDetails collects every structured detail attached with WithReportableDetails.
func ReportableDetails(err error) map[string]any {
	details := make(map[string]any)

	for _, sdp := range errors.GetAllSafeDetails(err) {
		for _, payload := range sdp.SafeDetails {
			if !strings.HasPrefix(payload, detailsPrefix) {
				continue
			}
			var parsed map[string]any
			if err := json.Unmarshal([]byte(payload[len(detailsPrefix):]), &parsed); err == nil {
				for k, v := range parsed {
					details[k] = v
				}
			}
		}
	}

	return details
}
