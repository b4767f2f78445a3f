package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mediagate/internal/metrics"
	"mediagate/internal/placeholder"
	"mediagate/pkg/logging/logging"
)

// PlaceholderHandler serves GET /v1/placeholders/{resolution}, where
// resolution is "<width>x<height>".
type PlaceholderHandler struct {
	Cache *placeholder.Cache
}

func NewPlaceholderHandler(cache *placeholder.Cache) *PlaceholderHandler {
	return &PlaceholderHandler{Cache: cache}
}

type placeholderResponse struct {
	Resolution string `json:"resolution"`
	URL        string `json:"url"`
}

func (h *PlaceholderHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	width, height, ok := parseResolution(chi.URLParam(r, "resolution"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_resolution", "resolution must look like 1920x1080")
		return
	}

	before := h.Cache.Len()
	url, err := h.Cache.GetOrCreateResolutionURL(ctx, width, height)
	if err != nil {
		if errors.Is(err, placeholder.ErrInvalidDimensions) {
			writeError(w, http.StatusBadRequest, "invalid_resolution", err.Error())
			return
		}
		logger.Error("placeholder resolution failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "upload_failed", "placeholder upload failed")
		return
	}
	if h.Cache.Len() > before {
		metrics.PlaceholderUploadsTotal.Inc()
	}

	writeJSON(w, http.StatusOK, placeholderResponse{
		Resolution: placeholder.ResolutionKey(width, height),
		URL:        url,
	})
}

// parseResolution splits "<width>x<height>" into its dimensions.
// Range validation belongs to the cache; this only parses shape.
func parseResolution(raw string) (width, height int, ok bool) {
	parts := strings.SplitN(strings.ToLower(raw), "x", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	width, errW := strconv.Atoi(parts[0])
	height, errH := strconv.Atoi(parts[1])
	if errW != nil || errH != nil {
		return 0, 0, false
	}
	return width, height, true
}
