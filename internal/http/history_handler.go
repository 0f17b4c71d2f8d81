package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ctrlcxy/smart-draw/internal/service"
)

// HistoryHandler expone el historial de conversaciones y su rehidratación.
type HistoryHandler struct {
	logger    *zap.Logger
	history   *service.HistoryService
	rehydrate *service.RehydrateService
}

func NewHistoryHandler(logger *zap.Logger, history *service.HistoryService, rehydrate *service.RehydrateService) *HistoryHandler {
	return &HistoryHandler{logger: logger, history: history, rehydrate: rehydrate}
}

// List maneja GET /histories.
func (h *HistoryHandler) List(c *gin.Context) {
	previews, err := h.history.GetHistories(c.Request.Context())
	if err != nil {
		h.logger.Error("list histories failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list histories"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"histories": previews})
}

// Messages maneja GET /histories/:id/messages: devuelve la conversación
// rehidratada más el documento vigente para el canvas.
func (h *HistoryHandler) Messages(c *gin.Context) {
	view, err := h.rehydrate.Rehydrate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("rehydrate conversation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load conversation"})
		return
	}
	c.JSON(http.StatusOK, view)
}

// Delete maneja DELETE /histories/:id.
func (h *HistoryHandler) Delete(c *gin.Context) {
	if err := h.history.DeleteHistory(c.Request.Context(), c.Param("id")); err != nil {
		h.logger.Error("delete history failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ClearAll maneja DELETE /histories.
func (h *HistoryHandler) ClearAll(c *gin.Context) {
	if err := h.history.ClearAll(c.Request.Context()); err != nil {
		h.logger.Error("clear histories failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not clear histories"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}
