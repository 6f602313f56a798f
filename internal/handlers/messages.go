package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pliu/huddle/internal/messages"
)

type MessageHandler struct {
	Messages *messages.Service
}

func (h *MessageHandler) Direct(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msgs, err := h.Messages.Direct(r.Context(), userID, mux.Vars(r)["userId"], page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *MessageHandler) DeleteDirect(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	n, err := h.Messages.DeleteDirectThread(r.Context(), userID, mux.Vars(r)["userId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

func (h *MessageHandler) Group(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msgs, err := h.Messages.Group(r.Context(), userID, mux.Vars(r)["groupId"], page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *MessageHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	n, err := h.Messages.DeleteGroupMessages(r.Context(), userID, mux.Vars(r)["groupId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.Messages.Delete(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
