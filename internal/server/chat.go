package server

import (
	"encoding/json"
	"net/http"

	"github.com/MrWong99/presay/internal/api"
	"github.com/MrWong99/presay/internal/observe"
)

// handleChatCompletions proxies POST /v1/chat/completions. The presay-only
// fields tts_enabled and tts_model are stripped before forwarding; the rest
// of the payload goes upstream untouched. Successful streamed responses are
// relayed through the prefetch orchestrator so the assistant text becomes
// audio while it is still being written.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", api.TypeInvalidRequest, api.CodeInvalidInput)
		return
	}

	ttsEnabled := popBool(payload, "tts_enabled", true)
	ttsModel := popString(payload, "tts_model", s.cfg.TTSDefaultModel)
	stream, _ := payload["stream"].(bool)

	body, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error", api.TypeServerError, api.CodeInternalError)
		return
	}

	s.metrics.RecordChatRequest(ctx, stream, ttsEnabled)

	resp, err := s.up.Post(ctx, body, stream)
	if err != nil {
		log.Error("upstream request failed", "error", err)
		writeError(w, http.StatusBadGateway, "Failed to reach upstream provider", api.TypeServerError, api.CodeInternalError)
		return
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299

	var segments int
	if stream && ok {
		segments, err = s.orch.StreamChat(ctx, w, resp, ttsModel, ttsEnabled)
	} else {
		segments, err = s.orch.RelayCompletion(ctx, w, resp, ttsModel, ttsEnabled && ok)
	}
	if err != nil {
		log.Debug("relay ended early", "error", err)
	}
	if segments > 0 {
		log.Debug("prefetch segments submitted", "count", segments, "model", ttsModel)
	}
}

// popBool removes key from payload and returns its boolean value, or def
// when the key is absent or not a bool.
func popBool(payload map[string]any, key string, def bool) bool {
	v, ok := payload[key]
	if !ok {
		return def
	}
	delete(payload, key)
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// popString removes key from payload and returns its string value, or def
// when the key is absent, not a string, or empty.
func popString(payload map[string]any, key string, def string) string {
	v, ok := payload[key]
	if !ok {
		return def
	}
	delete(payload, key)
	str, ok := v.(string)
	if !ok || str == "" {
		return def
	}
	return str
}
