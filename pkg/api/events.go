package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/pocketping/bridge-gateway/pkg/events"
)

const maxBodySize = 1 << 20 // 1 MiB

// handleEvents ingests the generic event envelope. Adapter failures
// never surface here: a decoded event always answers ok.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}
	s.dispatch(w, raw)
}

// handleTyped adapts a convenience route onto the envelope pipeline by
// injecting the event type.
func (s *Server) handleTyped(eventType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
			return
		}
		var body map[string]json.RawMessage
		if err := json.Unmarshal(raw, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
			return
		}
		body["type"] = json.RawMessage(fmt.Sprintf("%q", eventType))
		enveloped, err := json.Marshal(body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
			return
		}
		s.dispatch(w, enveloped)
	}
}

func (s *Server) dispatch(w http.ResponseWriter, raw []byte) {
	if err := s.router.Dispatch(raw); err != nil {
		var decodeErr *events.DecodeError
		if errors.As(err, &decodeErr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": decodeErr.Reason})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
