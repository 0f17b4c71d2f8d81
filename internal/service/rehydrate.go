package service

import (
	"context"
	"encoding/base64"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ctrlcxy/smart-draw/internal/domain"
	"github.com/ctrlcxy/smart-draw/internal/repository"
)

// Marcadores inline del formato viejo, cuando los archivos viajaban
// embebidos en el contenido. Datos guardados pueden traer el marcador en
// cualquiera de los dos idiomas del cliente original.
var (
	fileMarkerLineRe = regexp.MustCompile(`(?im)^#\s*(?:来自文件|from file)\s*:`)
	fileMarkerNameRe = regexp.MustCompile(`(?im)^#\s*(?:来自文件|from file)\s*:\s*(.+)$`)
)

// RehydrateService reconstruye la vista de chat desde el almacenamiento,
// recuperando adjuntos de formas heterogéneas (actuales y legacy).
type RehydrateService struct {
	logger *zap.Logger
	convs  repository.ConversationRepository
	msgs   repository.MessageRepository
	blobs  repository.BlobRepository
}

func NewRehydrateService(
	logger *zap.Logger,
	convs repository.ConversationRepository,
	msgs repository.MessageRepository,
	blobs repository.BlobRepository,
) *RehydrateService {
	return &RehydrateService{logger: logger, convs: convs, msgs: msgs, blobs: blobs}
}

// Rehydrate arma la lista de mensajes mostrable y el documento vigente.
// Si la reconstrucción completa falla por cualquier motivo, incluida la
// lectura misma del store de mensajes, degrada a un hilo best-effort en vez
// de dejar la vista vacía o propagar el error.
func (s *RehydrateService) Rehydrate(ctx context.Context, conversationID string) (view domain.ConversationView, err error) {
	if s == nil || s.msgs == nil {
		return domain.ConversationView{}, ErrHistoryNotConfigured
	}

	msgs, err := s.msgs.ListByConversationID(ctx, conversationID)
	if err != nil {
		s.logger.Error("message fetch failed, falling back to degraded view",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return s.degradedFromConversation(ctx, conversationID), nil
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("rehydration failed, falling back to degraded view",
				zap.String("conversation_id", conversationID),
				zap.Any("cause", r),
			)
			view, err = s.degraded(msgs), nil
		}
	}()

	view = s.assemble(ctx, msgs)
	return view, nil
}

// assemble aplica por mensaje una cadena ordenada de resolutores: gana el
// primero que devuelve algo; si ninguno aplica, el mensaje pasa sin cambios.
func (s *RehydrateService) assemble(ctx context.Context, msgs []domain.Message) domain.ConversationView {
	chain := []func(domain.Message) *domain.DisplayMessage{
		func(m domain.Message) *domain.DisplayMessage { return s.fromAttachments(ctx, m) },
		fromInlineMarkers,
		fromLegacyFields,
	}

	out := make([]domain.DisplayMessage, 0, len(msgs))
	for _, m := range msgs {
		display := domain.DisplayMessage{Role: m.Role, Content: m.Content, Type: m.Type}
		for _, resolve := range chain {
			if resolved := resolve(m); resolved != nil {
				display = *resolved
				break
			}
		}
		out = append(out, display)
	}

	view := domain.ConversationView{Messages: out}
	if m := lastAssistantXML(msgs); m != nil {
		view.CurrentXML = m.Content
	}
	return view
}

// fromAttachments es el camino primario: resuelve cada referencia contra el
// blob store. Fallas individuales de blob se ignoran; si algo se recuperó,
// el texto mostrado se corta antes de cualquier marcador legacy embebido
// para no duplicar contenido de archivos.
func (s *RehydrateService) fromAttachments(ctx context.Context, m domain.Message) *domain.DisplayMessage {
	if len(m.Attachments) == 0 {
		return nil
	}

	var images []domain.DisplayImage
	var files []domain.FileChip
	for _, att := range m.Attachments {
		rec, err := s.blobs.Get(ctx, att.BlobID)
		if err != nil {
			s.logger.Warn("blob lookup failed during rehydration",
				zap.String("blob_id", att.BlobID),
				zap.Error(err),
			)
			continue
		}

		name := firstNonEmpty(att.Name, recName(rec), "file")
		typ := firstNonEmpty(att.Type, recType(rec), "application/octet-stream")
		size := att.Size
		if size == 0 && rec != nil {
			size = rec.Size
		}

		if strings.HasPrefix(typ, "image/") || att.Kind == domain.AttachmentKindImage {
			if rec != nil && len(rec.Blob) > 0 {
				images = append(images, domain.DisplayImage{URL: dataURL(typ, rec.Blob), Name: name, Type: typ})
			}
		} else {
			files = append(files, domain.FileChip{Name: name, Type: typ, Size: size})
		}
	}

	if len(images) == 0 && len(files) == 0 {
		return nil
	}

	return &domain.DisplayMessage{
		Role:    m.Role,
		Content: typedTextBeforeMarker(m.Content),
		Type:    m.Type,
		Images:  images,
		Files:   files,
	}
}

// fromInlineMarkers reconstruye chips desde el patrón "# from file: <name>"
// del formato anterior al blob store. Solo mensajes de usuario.
func fromInlineMarkers(m domain.Message) *domain.DisplayMessage {
	if m.Role != domain.RoleUser {
		return nil
	}

	matches := fileMarkerNameRe.FindAllStringSubmatch(m.Content, -1)
	if len(matches) == 0 {
		return nil
	}

	files := make([]domain.FileChip, 0, len(matches))
	for _, match := range matches {
		name := strings.TrimSpace(match[1])
		if name == "" {
			name = "file"
		}
		// Solo se conoce el nombre: tamaño y tipo quedan en placeholder.
		files = append(files, domain.FileChip{Name: name, Type: "text/plain", Size: 0})
	}

	return &domain.DisplayMessage{
		Role:    m.Role,
		Content: typedTextBeforeMarker(m.Content),
		Type:    m.Type,
		Files:   files,
	}
}

// fromLegacyFields mapea los campos images/files de la forma vieja del
// mensaje directamente a descriptores de display.
func fromLegacyFields(m domain.Message) *domain.DisplayMessage {
	if m.Role != domain.RoleUser {
		return nil
	}
	if len(m.LegacyImages) == 0 && len(m.LegacyFiles) == 0 {
		return nil
	}

	images := make([]domain.DisplayImage, 0, len(m.LegacyImages))
	for _, im := range m.LegacyImages {
		images = append(images, domain.DisplayImage{URL: im.URL, Name: im.Name, Type: im.Type})
	}
	files := make([]domain.FileChip, 0, len(m.LegacyFiles))
	for _, f := range m.LegacyFiles {
		typ := f.Type
		if typ == "" {
			typ = "text/plain"
		}
		files = append(files, domain.FileChip{Name: f.Name, Type: typ, Size: f.Size})
	}

	return &domain.DisplayMessage{Role: m.Role, Content: m.Content, Type: m.Type, Images: images, Files: files}
}

// degradedFromConversation reconstruye lo poco que queda cuando ni los
// mensajes se pueden leer: la fila de conversación, cuyo título conserva la
// entrada del usuario que abrió el hilo.
func (s *RehydrateService) degradedFromConversation(ctx context.Context, conversationID string) domain.ConversationView {
	var view domain.ConversationView
	if s.convs == nil {
		return view
	}

	convs, err := s.convs.List(ctx)
	if err != nil {
		s.logger.Error("conversation fetch failed during degraded rehydration", zap.Error(err))
		return view
	}

	for _, c := range convs {
		if c.ID != conversationID {
			continue
		}
		if title := strings.TrimSpace(c.Title); title != "" {
			view.Messages = append(view.Messages, domain.DisplayMessage{
				Role:    domain.RoleUser,
				Content: title,
				Type:    domain.MessageTypeText,
			})
		}
		break
	}

	return view
}

// degraded reconstruye lo mínimo mostrable: el último par entrada/salida.
func (s *RehydrateService) degraded(msgs []domain.Message) domain.ConversationView {
	var view domain.ConversationView

	if lastUser := lastByRole(msgs, domain.RoleUser); lastUser != nil {
		display := domain.DisplayMessage{
			Role:    domain.RoleUser,
			Content: typedTextBeforeMarker(lastUser.Content),
			Type:    lastUser.Type,
		}
		if markerDisplay := fromInlineMarkers(*lastUser); markerDisplay != nil {
			display.Files = markerDisplay.Files
		}
		view.Messages = append(view.Messages, display)
	}

	if lastXML := lastAssistantXML(msgs); lastXML != nil {
		view.Messages = append(view.Messages, domain.DisplayMessage{
			Role:    domain.RoleAssistant,
			Content: lastXML.Content,
			Type:    domain.MessageTypeXML,
		})
		view.CurrentXML = lastXML.Content
	}

	return view
}

func typedTextBeforeMarker(content string) string {
	if loc := fileMarkerLineRe.FindStringIndex(content); loc != nil {
		return strings.TrimSpace(content[:loc[0]])
	}
	return content
}

func dataURL(mimeType string, blob []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(blob)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func recName(rec *domain.BlobRecord) string {
	if rec == nil {
		return ""
	}
	return rec.Name
}

func recType(rec *domain.BlobRecord) string {
	if rec == nil {
		return ""
	}
	return rec.Type
}
