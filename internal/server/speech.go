package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/presay/internal/api"
	"github.com/MrWong99/presay/internal/observe"
)

// suggestionDistance is the maximum Levenshtein distance at which a typo'd
// model name earns a suggestion in the 404 message.
const suggestionDistance = 3

// handleSpeech serves POST /v1/audio/speech. Audio prefetched during a chat
// stream is served straight from the cache; anything else is synthesized on
// demand through the same single-flight entry, so a request arriving while
// the prefetch is still running waits for it instead of duplicating work.
func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.SpeechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", api.TypeInvalidRequest, api.CodeInvalidInput)
		return
	}

	input := strings.TrimSpace(req.Input)
	if input == "" {
		writeError(w, http.StatusBadRequest, "Input text must not be empty", api.TypeInvalidRequest, api.CodeInvalidInput)
		return
	}
	if req.Model != s.cfg.TTSDefaultModel {
		writeError(w, http.StatusNotFound, s.modelNotFoundMessage(req.Model), api.TypeInvalidRequest, api.CodeModelNotFound)
		return
	}

	timeout := time.Duration(s.cfg.TTSRequestTimeout) * time.Second
	audio := s.cache.Get(ctx, input, req.Model, timeout, true)
	if audio == nil {
		writeError(w, http.StatusInternalServerError, "Audio generation failed", api.TypeServerError, api.CodeGenerationFailed)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		observe.Logger(ctx).Debug("client write failed", "error", err)
	}
}

// modelNotFoundMessage names the unknown model and suggests the configured
// one when the name is close enough to look like a typo.
func (s *Server) modelNotFoundMessage(model string) string {
	known := s.cfg.TTSDefaultModel
	msg := fmt.Sprintf("Model %q not found", model)
	if model == "" {
		return msg
	}
	if d := matchr.Levenshtein(strings.ToLower(model), strings.ToLower(known)); d <= suggestionDistance {
		msg += fmt.Sprintf(". Did you mean %q?", known)
	}
	return msg
}
