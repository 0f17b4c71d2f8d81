package http

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ctrlcxy/smart-draw/internal/diagram"
	"github.com/ctrlcxy/smart-draw/internal/domain"
	"github.com/ctrlcxy/smart-draw/internal/llm"
	"github.com/ctrlcxy/smart-draw/internal/service"
)

// GenerateHandler expone el pipeline de generación y el gate por password.
type GenerateHandler struct {
	logger         *zap.Logger
	generator      *service.GenerateService
	accessPassword string
	serverConfig   *llm.ProviderConfig
}

func NewGenerateHandler(
	logger *zap.Logger,
	generator *service.GenerateService,
	accessPassword string,
	serverConfig *llm.ProviderConfig,
) *GenerateHandler {
	return &GenerateHandler{
		logger:         logger,
		generator:      generator,
		accessPassword: accessPassword,
		serverConfig:   serverConfig,
	}
}

type attachmentPayload struct {
	Data string `json:"data"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Generate maneja POST /generate.
func (h *GenerateHandler) Generate(c *gin.Context) {
	var req struct {
		Config         *llm.ProviderConfig `json:"config"`
		UserInput      string              `json:"userInput"`
		DisplayText    string              `json:"displayText"`
		ChartType      string              `json:"chartType"`
		ConversationID string              `json:"conversationId"`
		ContextXML     string              `json:"contextXml"`
		Images         []attachmentPayload `json:"images"`
		Files          []attachmentPayload `json:"files"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid generate request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.UserInput == "" && len(req.Images) == 0 && len(req.Files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty input"})
		return
	}

	config := req.Config
	if config == nil {
		// Sin config propia solo se puede generar con el gate de password,
		// que sustituye la configuración del servidor.
		if !h.passwordMatches(c.GetHeader("x-access-password")) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "configure an LLM provider or enable password access"})
			return
		}
		config = h.serverConfig
	}

	result, err := h.generator.Generate(c.Request.Context(), service.GenerateInput{
		Config:         config,
		ConversationID: req.ConversationID,
		ChartType:      req.ChartType,
		UserInput:      req.UserInput,
		DisplayText:    req.DisplayText,
		ContextXML:     req.ContextXML,
		Images:         h.decodeAttachments(req.Images),
		Files:          h.decodeAttachments(req.Files),
	})
	if err != nil {
		status, message := generateErrorResponse(err)
		h.logger.Error("generate turn failed", zap.Error(err), zap.Int("status", status))
		c.JSON(status, gin.H{"error": message})
		return
	}

	c.JSON(http.StatusOK, result)
}

// ValidatePassword maneja POST /auth/password.
func (h *GenerateHandler) ValidatePassword(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if h.accessPassword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password access not enabled"})
		return
	}
	if !h.passwordMatches(req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"valid": false, "error": "invalid access password"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

func (h *GenerateHandler) passwordMatches(candidate string) bool {
	if h.accessPassword == "" || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(h.accessPassword), []byte(candidate)) == 1
}

// decodeAttachments convierte payloads base64 en adjuntos binarios. Un
// adjunto indecodificable se descarta con warning, nunca tumba el turno.
func (h *GenerateHandler) decodeAttachments(payloads []attachmentPayload) []domain.AttachmentInput {
	if len(payloads) == 0 {
		return nil
	}
	atts := make([]domain.AttachmentInput, 0, len(payloads))
	for _, p := range payloads {
		data, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil || len(data) == 0 {
			h.logger.Warn("dropping undecodable attachment", zap.String("name", p.Name), zap.Error(err))
			continue
		}
		atts = append(atts, domain.AttachmentInput{Data: data, Name: p.Name, Type: p.Type, Size: p.Size})
	}
	return atts
}

// generateErrorResponse traduce la taxonomía de errores del pipeline a un
// status y un mensaje distinguible por categoría.
func generateErrorResponse(err error) (int, string) {
	var pipeErr *llm.PipelineError
	switch {
	case errors.Is(err, llm.ErrAuth):
		return http.StatusUnauthorized, llm.ErrAuth.Error()
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests, llm.ErrRateLimited.Error()
	case errors.Is(err, llm.ErrServer):
		return http.StatusBadGateway, llm.ErrServer.Error()
	case errors.Is(err, llm.ErrMalformedStream):
		return http.StatusBadGateway, llm.ErrMalformedStream.Error()
	case errors.Is(err, llm.ErrTransport):
		return http.StatusBadGateway, llm.ErrTransport.Error()
	case errors.Is(err, diagram.ErrInvalidDocument):
		return http.StatusUnprocessableEntity, diagram.ErrInvalidDocument.Error()
	case errors.As(err, &pipeErr):
		// El mensaje del frame {error} se entrega tal cual.
		return http.StatusBadGateway, pipeErr.Message
	case errors.Is(err, context.Canceled):
		return http.StatusBadRequest, "generation cancelled"
	default:
		return http.StatusInternalServerError, "could not generate diagram"
	}
}
