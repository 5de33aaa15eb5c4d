package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

type modelInfo struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Loaded bool   `json:"loaded"`
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	var models []modelInfo
	add := func(name, kind string) {
		if name == "" {
			return
		}
		loaded := s.cache != nil && s.cache.Contains(name)
		models = append(models, modelInfo{Name: name, Kind: kind, Loaded: loaded})
	}
	add(s.models.Primary, "primary")
	add(s.models.Code, "code")
	add(s.models.Fast, "fast")

	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if name != s.models.Primary && name != s.models.Code && name != s.models.Fast {
		writeError(w, notFound("Unknown model"))
		return
	}
	if s.cache != nil {
		s.cache.MarkUsed(name)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "model": name})
}
