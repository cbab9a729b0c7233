package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/glyphgate/voicegate/pkg/gwerr"
	"github.com/glyphgate/voicegate/pkg/stt"
)

// readBodyCapSlack bounds how much of the request body handleVoiceTurn will ever
// read, one byte past the configured limit so an oversized payload can be
// distinguished from one that exactly fits without buffering it whole.
const readBodyCapSlack = 1

// handleVoiceTurn serves POST /api/voice/turn: the body is the raw audio
// payload, Content-Type identifies its encoding, and an optional
// X-Language-Hint header is passed through to the STT provider.
func (s *Server) handleVoiceTurn(w http.ResponseWriter, r *http.Request) {
	cfg := s.store.Get()

	limit := cfg.Server.MaxAudioBytes
	body := r.Body
	if limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit+readBodyCapSlack)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		writeError(w, gwerr.New(gwerr.CodeAudioTooLarge, "audio payload exceeds the configured size limit"))
		return
	}

	audio := stt.AudioPayload{
		Bytes:       data,
		ContentType: r.Header.Get("Content-Type"),
	}

	reply, err := s.orchestrator.HandleTurn(r.Context(), audio, r.Header.Get("X-Language-Hint"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// handleGetSettings serves GET /api/settings: the current config with every
// secret masked.
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.GetSafe())
}

// handlePostSettings serves POST /api/settings: the body is a JSON patch
// object, validated and deep-merged by the store. A successful patch returns
// the resulting masked config.
func (s *Server) handlePostSettings(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, gwerr.InvalidConfig("settings patch must be valid JSON"))
		return
	}

	if _, err := s.store.Update(patch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.store.GetSafe())
}
