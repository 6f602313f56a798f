package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pliu/huddle/internal/models"
	"github.com/pliu/huddle/internal/requests"
)

type RequestHandler struct {
	Requests *requests.Service
}

// RequestBody names the other user and, for group requests, the group.
type RequestBody struct {
	ID      string `json:"id"`
	GroupID string `json:"group_id"`
}

func (h *RequestHandler) FriendRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var body RequestBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req, err := h.Requests.CreateFriendRequest(r.Context(), userID, body.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *RequestHandler) GroupRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var body RequestBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req, err := h.Requests.CreateGroupJoinRequest(r.Context(), userID, body.GroupID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *RequestHandler) Invitation(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var body RequestBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req, err := h.Requests.CreateGroupInvitation(r.Context(), userID, body.ID, body.GroupID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *RequestHandler) Sent(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	typ := models.RequestType(r.URL.Query().Get("type"))
	reqs, err := h.Requests.RequestsFrom(r.Context(), userID, typ)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (h *RequestHandler) Received(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	typ := models.RequestType(r.URL.Query().Get("type"))
	reqs, err := h.Requests.RequestsTo(r.Context(), userID, typ)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (h *RequestHandler) Accept(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	req, err := h.Requests.Accept(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *RequestHandler) Decline(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.Requests.Decline(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RequestHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.Requests.Withdraw(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RequestHandler) WithdrawAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	n, err := h.Requests.WithdrawAll(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}
