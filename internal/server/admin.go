package server

import (
	"net/http"

	"github.com/MrWong99/presay/internal/api"
	"github.com/MrWong99/presay/internal/balancer"
	"github.com/MrWong99/presay/internal/cache"
)

// healthResponse is the GET /health body.
type healthResponse struct {
	Status        string         `json:"status"`
	Version       string         `json:"version"`
	CacheStats    cache.Stats    `json:"cache_stats"`
	BalancerStats balancer.Stats `json:"balancer_stats"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "healthy",
		Version:       Version,
		CacheStats:    s.cache.Stats(),
		BalancerStats: s.bal.Stats(),
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	s.cache.Clear()
	writeJSON(w, http.StatusOK, api.ClearResult{Status: "success", Message: "Cache cleared"})
}

// handleModels lists the single configured TTS model, OpenAI style.
func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.ModelList{
		Object: "list",
		Data: []api.Model{{
			ID:      s.cfg.TTSDefaultModel,
			Object:  "model",
			Created: s.started.Unix(),
			OwnedBy: "presay",
		}},
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.ServiceInfo{
		Service:     "presay",
		Version:     Version,
		Description: "TTS prefetch proxy: relays chat completions and pre-generates speech for each sentence",
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "Not found", api.TypeInvalidRequest, api.CodeNotFound)
}
