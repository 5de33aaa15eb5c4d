package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

type createSessionRequest struct {
	Channel string `json:"channel"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Channel == "" {
		req.Channel = "web"
	}

	sess, err := s.router.Resolve(r.Context(), userID(r), req.Channel)
	if err != nil {
		s.logger.Error("create session failed", "error", err)
		writeError(w, internal())
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	sessions, total, err := s.store.ListSessions(r.Context(), userID(r), limit, offset)
	if err != nil {
		writeError(w, fromStoreErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, fromStoreErr(err))
		return
	}
	if sess.UserID != userID(r) {
		writeError(w, notFound("Not found"))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, fromStoreErr(err))
		return
	}
	if sess.UserID != userID(r) {
		writeError(w, notFound("Not found"))
		return
	}
	if err := s.store.DeleteSession(r.Context(), id); err != nil {
		writeError(w, fromStoreErr(err))
		return
	}
	if s.approvals != nil {
		s.approvals.ClearSession(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
