package domain

// Roles y tipos de mensaje persistidos.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"

	MessageTypeText = "text"
	MessageTypeXML  = "xml"

	AttachmentKindImage = "image"
	AttachmentKindFile  = "file"
)

// ModelConfig identifica el proveedor/modelo usado al crear la conversación.
type ModelConfig struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

// Conversation agrupa los turnos de un mismo hilo de diagramación.
type Conversation struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	ChartType string       `json:"chartType"`
	Config    *ModelConfig `json:"config,omitempty"`
	CreatedAt int64        `json:"createdAt"`
	UpdatedAt int64        `json:"updatedAt"`
}

// AttachmentRef es un puntero por referencia a un blob almacenado.
type AttachmentRef struct {
	BlobID string `json:"blobId"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Size   int64  `json:"size"`
	Kind   string `json:"kind"`
}

// Message es inmutable una vez guardado. CreatedAt va en milisegundos Unix:
// el mensaje assistant de un turno se estampa siempre en userCreatedAt+1 para
// que el orden sea determinista aunque el reloj no avance.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	Type           string          `json:"type"`
	Attachments    []AttachmentRef `json:"attachments,omitempty"`
	CreatedAt      int64           `json:"createdAt"`

	// Campos legacy de formatos anteriores al blob store. Solo se leen
	// durante la rehidratación; el código nuevo nunca los escribe.
	LegacyImages []LegacyImage `json:"images,omitempty"`
	LegacyFiles  []FileChip    `json:"files,omitempty"`
}

// LegacyImage es la forma vieja de imagen embebida en el mensaje.
type LegacyImage struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// BlobRecord es el registro binario write-once del blob store.
type BlobRecord struct {
	ID   string `json:"id"`
	Blob []byte `json:"blob"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// AttachmentInput son los bytes y metadatos de un adjunto entrante.
type AttachmentInput struct {
	Data []byte
	Name string
	Type string
	Size int64
}

// Turn es la unidad que persiste el history manager: entrada del usuario,
// documento generado y adjuntos.
type Turn struct {
	ConversationID string
	ChartType      string
	UserInput      string
	GeneratedXML   string
	Config         *ModelConfig
	Images         []AttachmentInput
	Files          []AttachmentInput
}

// TurnResult devuelve los identificadores creados al guardar un turno.
type TurnResult struct {
	ConversationID     string `json:"conversationId"`
	UserMessageID      string `json:"userMessageId"`
	AssistantMessageID string `json:"assistantMessageId"`
}
