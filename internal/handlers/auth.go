package handlers

import (
	"net/http"

	"github.com/pliu/huddle/internal/auth"
	"github.com/pliu/huddle/internal/models"
	"github.com/pliu/huddle/internal/presence"
	"github.com/pliu/huddle/internal/social"
)

type AuthHandler struct {
	Auth     *auth.Service
	Presence *presence.Manager
	Graph    *social.Service
}

type Credentials struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

type PasswordChange struct {
	Current string `json:"current_password"`
	New     string `json:"new_password"`
}

type TokenResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := decodeJSON(r, &creds); err != nil {
		writeError(w, r, err)
		return
	}

	user, token, err := h.Auth.Register(r.Context(), creds.Username, creds.Email, creds.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, TokenResponse{Token: token, User: user})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := decodeJSON(r, &creds); err != nil {
		writeError(w, r, err)
		return
	}

	user, token, err := h.Auth.Login(r.Context(), creds.Username, creds.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{Token: token, User: user})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	user, err := h.Graph.User(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// LogoutAll invalidates every token of the caller and closes all their
// sockets.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.Presence.ForceDisconnectAll(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword sets a new password, signs the caller out everywhere and
// hands back a token for the new session.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var body PasswordChange
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	if err := h.Auth.ChangePassword(ctx, userID, body.Current, body.New); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Presence.ForceDisconnectAll(ctx, userID); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.Graph.User(ctx, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	token, err := h.Auth.IssueToken(user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token, User: user})
}
