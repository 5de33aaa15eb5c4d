package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rustyclaw/rustyclaw/internal/pairing"
	"github.com/rustyclaw/rustyclaw/internal/storage"
)

type setupRequest struct {
	Code     string `json:"code"`
	Username string `json:"username"`
}

type authResponse struct {
	User  *storage.User `json:"user"`
	Token string        `json:"token"`
}

// handleSetup claims the admin account with the setup code. Only works
// in setup mode; the pairing manager guards the race.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("Invalid JSON body"))
		return
	}
	if req.Code == "" || req.Username == "" {
		writeError(w, badRequest("code and username are required"))
		return
	}

	user, err := s.pairing.ClaimAdmin(r.Context(), req.Code, req.Username)
	if err != nil {
		switch {
		case errors.Is(err, pairing.ErrAlreadyClaimed):
			writeError(w, badRequest("Admin account already exists"))
		case errors.Is(err, pairing.ErrSetupInactive):
			writeError(w, badRequest("Admin account already exists"))
		case errors.Is(err, pairing.ErrInvalidCode):
			writeError(w, badRequest("Invalid setup code"))
		default:
			s.logger.Error("setup failed", "error", err)
			writeError(w, internal())
		}
		return
	}

	token, err := s.auth.MintToken(r.Context(), user.ID, "setup")
	if err != nil {
		s.logger.Error("token mint failed", "error", err)
		writeError(w, internal())
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: user, Token: token})
}

type inviteResponse struct {
	Code      string `json:"code"`
	ExpiresAt string `json:"expires_at"`
	URI       string `json:"uri"`
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	invite, err := s.pairing.CreateInvite(userID(r))
	if err != nil {
		s.logger.Error("invite creation failed", "error", err)
		writeError(w, internal())
		return
	}
	writeJSON(w, http.StatusOK, inviteResponse{
		Code:      invite.Code,
		ExpiresAt: invite.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		URI:       fmt.Sprintf("rustyclaw://join?code=%s", invite.Code),
	})
}

type joinRequest struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("Invalid JSON body"))
		return
	}
	if req.Code == "" || req.Label == "" {
		writeError(w, badRequest("code and label are required"))
		return
	}

	user, err := s.pairing.RedeemInvite(r.Context(), req.Code, req.Label)
	if err != nil {
		if errors.Is(err, pairing.ErrInvalidCode) {
			writeError(w, badRequest("Invalid or expired invite code"))
			return
		}
		s.logger.Error("join failed", "error", err)
		writeError(w, internal())
		return
	}

	token, err := s.auth.MintToken(r.Context(), user.ID, req.Label)
	if err != nil {
		s.logger.Error("token mint failed", "error", err)
		writeError(w, internal())
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: user, Token: token})
}
