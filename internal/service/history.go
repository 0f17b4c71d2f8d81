package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ctrlcxy/smart-draw/internal/domain"
	"github.com/ctrlcxy/smart-draw/internal/repository"
)

// HistoryService orquesta conversaciones, mensajes y blobs para persistir
// turnos completos y listar el historial.
type HistoryService struct {
	logger *zap.Logger
	convs  repository.ConversationRepository
	msgs   repository.MessageRepository
	blobs  repository.BlobRepository
	now    func() int64
}

var (
	ErrHistoryNotConfigured = errors.New("history service not configured")
	ErrHistoryInvalidTurn   = errors.New("history turn invalid input")
)

const (
	defaultConversationTitle = "New conversation"
	titleMaxRunes            = 30
	previewMaxImageNames     = 3
)

func NewHistoryService(
	logger *zap.Logger,
	convs repository.ConversationRepository,
	msgs repository.MessageRepository,
	blobs repository.BlobRepository,
) *HistoryService {
	return &HistoryService{
		logger: logger,
		convs:  convs,
		msgs:   msgs,
		blobs:  blobs,
		now:    func() int64 { return time.Now().UnixMilli() },
	}
}

// AddHistory guarda un turno: crea la conversación si falta, persiste los
// adjuntos que pueda y escribe el par user/assistant. El assistant queda
// estampado en userCreatedAt+1 para un orden determinista.
func (s *HistoryService) AddHistory(ctx context.Context, turn domain.Turn) (domain.TurnResult, error) {
	if s == nil || s.convs == nil || s.msgs == nil || s.blobs == nil {
		return domain.TurnResult{}, ErrHistoryNotConfigured
	}
	if strings.TrimSpace(turn.UserInput) == "" && len(turn.Images) == 0 && len(turn.Files) == 0 {
		return domain.TurnResult{}, ErrHistoryInvalidTurn
	}

	conversationID := turn.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	now := s.now()

	conv := domain.Conversation{
		ID:        conversationID,
		Title:     conversationTitle(turn.UserInput),
		ChartType: turn.ChartType,
		Config:    turn.Config,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.convs.CreateIfMissing(ctx, conv); err != nil {
		return domain.TurnResult{}, fmt.Errorf("ensure conversation: %w", err)
	}

	// Cada adjunto se persiste en aislamiento: una falla individual se
	// traga (el adjunto se omite) y nunca aborta el turno.
	var refs []domain.AttachmentRef
	for _, im := range turn.Images {
		if ref := s.saveBlob(ctx, im, domain.AttachmentKindImage); ref != nil {
			refs = append(refs, *ref)
		}
	}
	for _, f := range turn.Files {
		if ref := s.saveBlob(ctx, f, domain.AttachmentKindFile); ref != nil {
			refs = append(refs, *ref)
		}
	}

	userMsg := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           domain.RoleUser,
		Content:        turn.UserInput,
		Type:           domain.MessageTypeText,
		Attachments:    refs,
		CreatedAt:      now,
	}
	assistantMsg := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           domain.RoleAssistant,
		Content:        turn.GeneratedXML,
		Type:           domain.MessageTypeXML,
		CreatedAt:      now + 1,
	}

	if err := s.msgs.CreatePair(ctx, userMsg, assistantMsg); err != nil {
		return domain.TurnResult{}, fmt.Errorf("store turn: %w", err)
	}

	return domain.TurnResult{
		ConversationID:     conversationID,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: assistantMsg.ID,
	}, nil
}

// saveBlob persiste un adjunto con metadatos best-effort y devuelve la
// referencia, o nil si no había bytes o el store falló.
func (s *HistoryService) saveBlob(ctx context.Context, att domain.AttachmentInput, kind string) *domain.AttachmentRef {
	if len(att.Data) == 0 {
		return nil
	}

	name := att.Name
	if name == "" {
		name = "file"
	}
	typ := att.Type
	if typ == "" {
		typ = "application/octet-stream"
	}
	size := att.Size
	if size == 0 {
		size = int64(len(att.Data))
	}

	blobID := uuid.NewString()
	rec := domain.BlobRecord{ID: blobID, Blob: att.Data, Name: name, Type: typ, Size: size}
	if err := s.blobs.Put(ctx, rec); err != nil {
		s.logger.Warn("attachment persist failed, dropping attachment",
			zap.String("name", name),
			zap.Error(err),
		)
		return nil
	}

	return &domain.AttachmentRef{BlobID: blobID, Name: name, Type: typ, Size: size, Kind: kind}
}

// GetHistories produce un preview por conversación: último documento
// assistant, último texto del usuario y, si este viene vacío pero hay
// imágenes adjuntas, un preview sintetizado con hasta tres nombres.
func (s *HistoryService) GetHistories(ctx context.Context) ([]domain.HistoryPreview, error) {
	if s == nil || s.convs == nil || s.msgs == nil {
		return nil, ErrHistoryNotConfigured
	}

	convs, err := s.convs.List(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]domain.HistoryPreview, 0, len(convs))
	for _, c := range convs {
		msgs, err := s.msgs.ListByConversationID(ctx, c.ID)
		if err != nil {
			return nil, err
		}

		preview := domain.HistoryPreview{
			ID:        c.ID,
			ChartType: c.ChartType,
			Config:    c.Config,
			Timestamp: c.UpdatedAt,
		}
		if preview.ChartType == "" {
			preview.ChartType = "auto"
		}
		if preview.Timestamp == 0 {
			preview.Timestamp = c.CreatedAt
		}

		if m := lastAssistantXML(msgs); m != nil {
			preview.GeneratedXML = m.Content
		}
		if m := lastByRole(msgs, domain.RoleUser); m != nil {
			preview.UserInput = strings.TrimSpace(m.Content)
			if preview.UserInput == "" {
				preview.UserInput = imagePreview(m.Attachments)
			}
		}

		results = append(results, preview)
	}

	return results, nil
}

// DeleteHistory borra la conversación en cascada (mensajes y blobs incluidos).
func (s *HistoryService) DeleteHistory(ctx context.Context, id string) error {
	if s == nil || s.convs == nil {
		return ErrHistoryNotConfigured
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrHistoryInvalidTurn
	}
	return s.convs.DeleteCascade(ctx, id)
}

// ClearAll vacía los tres stores.
func (s *HistoryService) ClearAll(ctx context.Context) error {
	if s == nil || s.convs == nil {
		return ErrHistoryNotConfigured
	}
	return s.convs.ClearAll(ctx)
}

// GetConversationMessages expone los mensajes crudos de una conversación.
func (s *HistoryService) GetConversationMessages(ctx context.Context, id string) ([]domain.Message, error) {
	if s == nil || s.msgs == nil {
		return nil, ErrHistoryNotConfigured
	}
	return s.msgs.ListByConversationID(ctx, id)
}

func conversationTitle(userInput string) string {
	title := strings.TrimSpace(userInput)
	if title == "" {
		return defaultConversationTitle
	}
	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		return string(runes[:titleMaxRunes])
	}
	return title
}

func lastAssistantXML(msgs []domain.Message) *domain.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleAssistant && msgs[i].Type == domain.MessageTypeXML {
			return &msgs[i]
		}
	}
	return nil
}

func lastByRole(msgs []domain.Message, role string) *domain.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == role {
			return &msgs[i]
		}
	}
	return nil
}

func imagePreview(atts []domain.AttachmentRef) string {
	var names []string
	for _, att := range atts {
		if att.Kind == domain.AttachmentKindImage {
			name := att.Name
			if name == "" {
				name = "image"
			}
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}

	shown := names
	suffix := ""
	if len(names) > previewMaxImageNames {
		shown = names[:previewMaxImageNames]
		suffix = fmt.Sprintf(" (+%d more)", len(names)-previewMaxImageNames)
	}
	return "from images: " + strings.Join(shown, ", ") + suffix
}
