package http

import (
	"encoding/json"
	"net/http"

	"chatwire/auth"
	"chatwire/errors"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type avatarRequest struct {
	Avatar string `json:"avatar"`
}

func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, errors.ErrMissingField)
		return
	}

	token, user, err := h.Auth.Signup(req.Username, req.Password)
	if err != nil {
		h.respondError(w, err)
		return
	}

	auth.SetAuthCookie(w, string(token), h.Auth.TokenDuration())
	respondJSON(w, http.StatusCreated, toUserJSON(user))
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, errors.ErrMissingField)
		return
	}

	token, user, err := h.Auth.Login(req.Username, req.Password)
	if err != nil {
		h.respondError(w, err)
		return
	}

	auth.SetAuthCookie(w, string(token), h.Auth.TokenDuration())
	respondJSON(w, http.StatusOK, toUserJSON(user))
}

func (h *Handler) HandleLogout(w http.ResponseWriter, _ *http.Request) {
	auth.ClearAuthCookie(w)
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleMe resolves the caller from the session cookie. The full profile
// comes from storage so avatar updates are reflected without reissuing
// the token.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims := auth.IdentityFromRequest(r)
	if claims == nil {
		h.respondError(w, errors.ErrUnauthenticated)
		return
	}

	user, err := h.Users.GetUserByID(claims.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toUserJSON(user))
}

func (h *Handler) HandleAvatar(w http.ResponseWriter, r *http.Request) {
	claims := auth.IdentityFromRequest(r)
	if claims == nil {
		h.respondError(w, errors.ErrUnauthenticated)
		return
	}

	var req avatarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, errors.ErrMissingField)
		return
	}

	if err := h.Auth.UpdateAvatar(claims.UserID, req.Avatar); err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
