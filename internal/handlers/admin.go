package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mediagate/internal/stats"
)

const defaultViolatorLimit = 10

// AdminHandler exposes the abuse-statistics read surface.
type AdminHandler struct {
	Stats *stats.Store
}

func NewAdminHandler(store *stats.Store) *AdminHandler {
	return &AdminHandler{Stats: store}
}

type violatorsResponse struct {
	Violators []stats.Violator `json:"violators"`
}

// TopViolators handles GET /v1/admin/violators?limit=n.
func (h *AdminHandler) TopViolators(w http.ResponseWriter, r *http.Request) {
	limit := defaultViolatorLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, violatorsResponse{
		Violators: h.Stats.TopViolators(limit),
	})
}

// UserStats handles GET /v1/admin/users/{user}.
func (h *AdminHandler) UserStats(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "invalid_user", "user is required")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		User  string          `json:"user"`
		Stats stats.UserStats `json:"stats"`
		Rate  float64         `json:"rate"`
	}{
		User:  user,
		Stats: h.Stats.Get(user),
		Rate:  h.Stats.ViolationRate(user),
	})
}
