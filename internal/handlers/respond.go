package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pliu/huddle/internal/apperr"
	"github.com/pliu/huddle/internal/middleware"
	"github.com/pliu/huddle/internal/models"
)

type errorBody struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]errorBody{
		"error": {Kind: apperr.KindOf(err), Message: apperr.MessageOf(err)},
	})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.BadRequestf("invalid request body: %v", err)
	}
	return nil
}

// currentUser returns the authenticated user id or writes a 401.
func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		writeError(w, r, apperr.Unauthorizedf("not signed in"))
		return "", false
	}
	return userID, true
}

// pageFromQuery reads limit, before and after. Cursors are RFC 3339
// timestamps.
func pageFromQuery(r *http.Request) (models.Page, error) {
	q := r.URL.Query()
	var page models.Page
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return page, apperr.BadRequestf("limit must be a number")
		}
		page.Limit = n
	}
	for key, dst := range map[string]*time.Time{"before": &page.Before, "after": &page.After} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return page, apperr.BadRequestf("%s must be an RFC 3339 timestamp", key)
		}
		*dst = ts
	}
	return page, nil
}

type countResponse struct {
	Count int64 `json:"count"`
}
