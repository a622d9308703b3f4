package server

import (
	"errors"
	"math"
	"net/http"

	"github.com/beetlebugorg/tilestack/pkg/elevation"
	"github.com/gin-gonic/gin"
)

var errNoElevation = errors.New("no elevation data at this location")

type elevationRequest struct {
	Lat    *float64 `form:"lat" validate:"required,gte=-90,lte=90"`
	Lon    *float64 `form:"lon" validate:"required,gte=-180,lte=180"`
	MaxRes float64  `form:"maxres" validate:"gte=0"`
}

type elevationResponse struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Elevation float64 `json:"elevation"`
	Source    string  `json:"source"`
}

func (h *Handler) Elevation(c *gin.Context) {
	var req elevationRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrInvalidRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	v, src, err := h.manager.Sample(c.Request.Context(), *req.Lat, *req.Lon, req.MaxRes)
	if err != nil {
		if errors.Is(err, elevation.ErrInvalidQuery) {
			respondError(c, http.StatusBadRequest, err)
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if math.IsNaN(v) || src == nil {
		respondError(c, http.StatusNotFound, errNoElevation)
		return
	}

	respond(c, http.StatusOK, "", elevationResponse{
		Lat:       *req.Lat,
		Lon:       *req.Lon,
		Elevation: v,
		Source:    src.Path(),
	})
}
