package server

import (
	"encoding/json"
	stdliberrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/protocol"
)

// respondJSON sends a JSON response with appropriate headers.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// respondError sends a structured JSON error response. The status is derived
// from the error code.
func respondError(w http.ResponseWriter, err error) {
	respondErrorStatus(w, statusFor(err), err)
}

func respondErrorStatus(w http.ResponseWriter, status int, err error) {
	response := struct {
		Error     string         `json:"error"`
		Status    int            `json:"status"`
		Code      string         `json:"code,omitempty"`
		Message   string         `json:"message"`
		Details   string         `json:"details,omitempty"`
		Context   map[string]any `json:"context,omitempty"`
		Retryable bool           `json:"retryable,omitempty"`
		Timestamp string         `json:"timestamp"`
	}{
		Error:     http.StatusText(status),
		Status:    status,
		Message:   http.StatusText(status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	var engineErr *errors.Error
	if stdliberrors.As(err, &engineErr) {
		response.Code = string(engineErr.Code)
		if engineErr.Message != "" {
			response.Message = engineErr.Message
		}
		response.Context = engineErr.Context
		response.Retryable = engineErr.Retryable
		response.Details = engineErr.Error()
	} else if err != nil {
		response.Message = err.Error()
	}

	respondJSON(w, status, response)
}

// statusFor maps engine error codes to HTTP statuses.
func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeStaleHandle:
		return http.StatusNotFound
	case errors.ErrCodeHistoryOutOfRange, errors.ErrCodeTraversalAborted:
		return http.StatusConflict
	case errors.ErrCodeResourceExhausted, errors.ErrCodeClosed:
		return http.StatusServiceUnavailable
	case errors.ErrCodeLoadTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrCodeNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSONBody decodes a bounded JSON body into dst. An empty body is
// accepted when allowEOF is set.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64, allowEOF bool) error {
	if r.Body == nil {
		if allowEOF {
			return nil
		}
		return errors.New(errors.ErrCodeInvalidInput, "request body required")
	}
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEOF && stdliberrors.Is(err, io.EOF) {
			return nil
		}
		var maxErr *http.MaxBytesError
		if stdliberrors.As(err, &maxErr) {
			return errors.Newf(errors.ErrCodeInvalidInput, "request body too large (max %d bytes)", maxBytes)
		}
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "decode request body")
	}
	return nil
}

// contextParam reads a browsing context id from the named URL parameter.
func contextParam(r *http.Request, name string) (protocol.BrowsingContextID, error) {
	return parseContextID(chi.URLParam(r, name))
}

// parseContextID accepts an id bare ("3") or in its logged form ("c3").
func parseContextID(raw string) (protocol.BrowsingContextID, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(raw), "c"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("invalid browsing context id %q", raw))
	}
	return protocol.BrowsingContextID(id), nil
}
