package server

import (
	"errors"
	"sync"

	"github.com/beetlebugorg/tilestack/pkg/catalog"
	"github.com/beetlebugorg/tilestack/pkg/elevation"
	"github.com/beetlebugorg/tilestack/pkg/logger"
	"github.com/beetlebugorg/tilestack/pkg/mosaic"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	InternalServerError = errors.New("server encountered a problem and could not process your request")
)

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type Handler struct {
	catalog  *catalog.Catalog
	manager  *elevation.Manager
	layer    *mosaic.Layer
	validate *validator.Validate

	// layerMu makes the handler the layer's single render thread.
	layerMu sync.Mutex
}

// NewHandler creates the HTTP handlers. layer may be nil, which disables
// the preload endpoint.
func NewHandler(cat *catalog.Catalog, mgr *elevation.Manager, layer *mosaic.Layer, validate *validator.Validate) *Handler {
	return &Handler{
		catalog:  cat,
		manager:  mgr,
		layer:    layer,
		validate: validate,
	}
}

func requestLogger(c *gin.Context) logger.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(logger.Logger); ok {
			return l
		}
	}
	return logger.FromContext(c.Request.Context())
}

func respond(c *gin.Context, code int, message string, data any) {
	c.JSON(code, response{Success: code < 400, Message: message, Data: data})
}

func respondError(c *gin.Context, code int, err error) {
	if code >= 500 {
		requestLogger(c).Error("http server error",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", code,
			"error", err,
		)
		err = InternalServerError
	}
	respond(c, code, err.Error(), nil)
}
