package server

import (
	"errors"
	"net/http"

	"github.com/beetlebugorg/tilestack/pkg/mosaic"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
	"github.com/gin-gonic/gin"
)

var (
	errMosaicDisabled = errors.New("mosaic preloading is disabled")
	errInvalidBounds  = errors.New("max bounds must not be below min bounds")
)

type preloadRequest struct {
	MinLon *float64 `json:"min_lon" validate:"required,gte=-180,lte=180"`
	MinLat *float64 `json:"min_lat" validate:"required,gte=-90,lte=90"`
	MaxLon *float64 `json:"max_lon" validate:"required,gte=-180,lte=180"`
	MaxLat *float64 `json:"max_lat" validate:"required,gte=-90,lte=90"`
	MaxRes float64  `json:"max_res" validate:"gte=0"`
}

type preloadResponse struct {
	Requested int      `json:"requested"`
	Resident  []string `json:"resident"`
}

// Preload pumps the mosaic layer with a view and waits for the frames it
// requested to become resident.
func (h *Handler) Preload(c *gin.Context) {
	if h.layer == nil {
		respondError(c, http.StatusNotFound, errMosaicDisabled)
		return
	}

	var req preloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrInvalidRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	if *req.MaxLon < *req.MinLon || *req.MaxLat < *req.MinLat {
		respondError(c, http.StatusBadRequest, errInvalidBounds)
		return
	}

	view := mosaic.View{
		Bounds: tiles.Bounds{
			MinLon: *req.MinLon,
			MinLat: *req.MinLat,
			MaxLon: *req.MaxLon,
			MaxLat: *req.MaxLat,
		},
		Resolution: req.MaxRes,
	}

	h.layerMu.Lock()
	h.layer.Pump(view)
	n := h.layer.WaitForPreload()
	resident := h.layer.Resident(view)
	h.layerMu.Unlock()

	paths := make([]string, 0, len(resident))
	for _, r := range resident {
		paths = append(paths, r.Frame().Path)
	}

	respond(c, http.StatusOK, "", preloadResponse{Requested: n, Resident: paths})
}
