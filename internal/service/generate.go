package service

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ctrlcxy/smart-draw/internal/diagram"
	"github.com/ctrlcxy/smart-draw/internal/domain"
	"github.com/ctrlcxy/smart-draw/internal/llm"
	"github.com/ctrlcxy/smart-draw/internal/repository"
)

// El XML de turnos previos no viaja como contexto: se reemplaza por este
// placeholder fijo para no inflar el prompt.
const xmlHistoryPlaceholder = "[previous diagram XML omitted, already applied to the canvas]"

// Ventana de historia enviada a la frontera de generación.
const historyWindow = 3

var ErrGenerateNotConfigured = errors.New("generate service not configured")

// GenerateInput es un turno entrante del usuario.
type GenerateInput struct {
	Config         *llm.ProviderConfig
	ConversationID string
	ChartType      string
	UserInput      string
	// DisplayText es el texto tipeado sin contenido de archivos embebido;
	// cuando viene, es lo que se persiste como contenido del mensaje.
	DisplayText string
	ContextXML  string
	Images      []domain.AttachmentInput
	Files       []domain.AttachmentInput
}

// GenerateResult es la salida de un turno exitoso.
type GenerateResult struct {
	domain.TurnResult
	XML string `json:"xml"`
}

// GenerateService encadena el pipeline completo de un turno: stream de la
// frontera, extracción/validación del documento y persistencia del turno.
// Ningún error intermedio deja estado persistido.
type GenerateService struct {
	logger  *zap.Logger
	client  llm.StreamClient
	history *HistoryService
	msgs    repository.MessageRepository
}

func NewGenerateService(logger *zap.Logger, client llm.StreamClient, history *HistoryService, msgs repository.MessageRepository) *GenerateService {
	return &GenerateService{logger: logger, client: client, history: history, msgs: msgs}
}

func (s *GenerateService) Generate(ctx context.Context, in GenerateInput) (GenerateResult, error) {
	if s == nil || s.client == nil || s.history == nil {
		return GenerateResult{}, ErrGenerateNotConfigured
	}

	conversationID := in.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	req := llm.GenerateRequest{
		Config:         in.Config,
		ChartType:      in.ChartType,
		ConversationID: conversationID,
		History:        s.boundaryHistory(ctx, conversationID),
		UserInput: llm.UserInput{
			Text:       in.UserInput,
			Images:     encodeImages(in.Images),
			ContextXML: in.ContextXML,
		},
	}

	stream, err := s.client.Stream(ctx, req)
	if err != nil {
		return GenerateResult{}, err
	}
	defer stream.Close()

	raw, err := llm.Consume(ctx, stream, s.logger)
	if err != nil {
		return GenerateResult{}, err
	}

	doc, err := diagram.Extract(raw)
	if err != nil {
		s.logger.Warn("generated content rejected by both validation tiers",
			zap.String("conversation_id", conversationID),
			zap.Int("raw_len", len(raw)),
		)
		return GenerateResult{}, err
	}

	content := in.DisplayText
	if content == "" {
		content = in.UserInput
	}

	result, err := s.history.AddHistory(ctx, domain.Turn{
		ConversationID: conversationID,
		ChartType:      in.ChartType,
		UserInput:      content,
		GeneratedXML:   doc,
		Config:         modelConfig(in.Config),
		Images:         in.Images,
		Files:          in.Files,
	})
	if err != nil {
		return GenerateResult{}, err
	}

	return GenerateResult{TurnResult: result, XML: doc}, nil
}

// boundaryHistory arma los últimos turnos user/assistant para la frontera,
// con el contenido XML de assistant sustituido por el placeholder.
func (s *GenerateService) boundaryHistory(ctx context.Context, conversationID string) []llm.HistoryEntry {
	if conversationID == "" || s.msgs == nil {
		return nil
	}

	msgs, err := s.msgs.ListByConversationID(ctx, conversationID)
	if err != nil {
		// La historia es contexto opcional: sin ella el turno sigue.
		s.logger.Warn("could not load history for generation request", zap.Error(err))
		return nil
	}

	var entries []llm.HistoryEntry
	for _, m := range msgs {
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			continue
		}
		content := m.Content
		if m.Type == domain.MessageTypeXML {
			content = xmlHistoryPlaceholder
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		entries = append(entries, llm.HistoryEntry{Role: m.Role, Content: content})
	}

	if len(entries) > historyWindow {
		entries = entries[len(entries)-historyWindow:]
	}
	return entries
}

func encodeImages(images []domain.AttachmentInput) []llm.EncodedImage {
	if len(images) == 0 {
		return nil
	}
	encoded := make([]llm.EncodedImage, 0, len(images))
	for _, im := range images {
		if len(im.Data) == 0 {
			continue
		}
		mimeType := im.Type
		if mimeType == "" {
			mimeType = "image/png"
		}
		name := im.Name
		if name == "" {
			name = "image"
		}
		encoded = append(encoded, llm.EncodedImage{
			Data:     base64.StdEncoding.EncodeToString(im.Data),
			MimeType: mimeType,
			Name:     name,
		})
	}
	return encoded
}

func modelConfig(cfg *llm.ProviderConfig) *domain.ModelConfig {
	if cfg == nil {
		return nil
	}
	return &domain.ModelConfig{Name: cfg.Name, Model: cfg.Model}
}
