// Package response writes HTTP responses, including the W3C-shaped error
// envelope and backend pass-through bodies.
package response

import (
	"encoding/json"
	"net/http"

	"xenon/errors"
	"xenon/logger"
)

// Raw is a fully-formed response body a handler has already produced: the
// client-facing id-substituted session body, a forwarded per-request
// response, or a synthesized JSON body. The router writes it verbatim.
type Raw struct {
	Status      int
	Body        []byte
	ContentType string
}

// RespondJSON writes v as a JSON body with the given status code.
func RespondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response body", err)
	}
}

// RespondMessage writes a minimal {"value":{"message":...}} body.
func RespondMessage(w http.ResponseWriter, status int, msg string) {
	RespondJSON(w, status, map[string]any{
		"value": map[string]string{"message": msg},
	})
}

// RespondError writes the §6 error envelope for a Xenon-synthesized error.
func RespondError(w http.ResponseWriter, err *errors.Error) {
	RespondJSON(w, err.HTTPStatus(), err.Envelope())
}

// RespondRaw writes a handler's already-built response verbatim.
func RespondRaw(w http.ResponseWriter, raw *Raw) {
	if raw.ContentType != "" {
		w.Header().Set("Content-Type", raw.ContentType)
	}
	w.WriteHeader(raw.Status)
	if len(raw.Body) > 0 {
		if _, err := w.Write(raw.Body); err != nil {
			logger.Error("failed to write response body", err)
		}
	}
}

// RespondPassThrough writes a backend response verbatim, untouched by the
// error envelope.
func RespondPassThrough(w http.ResponseWriter, p *errors.PassThrough) {
	RespondRaw(w, &Raw{Status: p.Status, Body: p.Body, ContentType: p.ContentType})
}
