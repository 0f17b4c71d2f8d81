package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ctrlcxy/smart-draw/internal/service"
)

// ModelHandler expone el catálogo de modelos cacheado.
type ModelHandler struct {
	logger  *zap.Logger
	catalog *service.ModelCatalogService
}

func NewModelHandler(logger *zap.Logger, catalog *service.ModelCatalogService) *ModelHandler {
	return &ModelHandler{logger: logger, catalog: catalog}
}

// List maneja GET /models.
func (h *ModelHandler) List(c *gin.Context) {
	models, err := h.catalog.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list models failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list models"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// Refresh maneja POST /models/refresh: invalida el cache y reconsulta.
func (h *ModelHandler) Refresh(c *gin.Context) {
	models, err := h.catalog.Refresh(c.Request.Context())
	if err != nil {
		h.logger.Error("refresh models failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not refresh models"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}
