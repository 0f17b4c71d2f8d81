package domain

// DisplayImage es una imagen lista para mostrar (data URL local).
type DisplayImage struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// FileChip describe un archivo adjunto como chip liviano (sin contenido).
type FileChip struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// DisplayMessage es la forma que consume la vista de chat.
type DisplayMessage struct {
	Role    string         `json:"role"`
	Content string         `json:"content"`
	Type    string         `json:"type,omitempty"`
	Images  []DisplayImage `json:"images,omitempty"`
	Files   []FileChip     `json:"files,omitempty"`
}

// ConversationView es el resultado de rehidratar una conversación:
// la lista de mensajes más el documento vigente para el canvas.
type ConversationView struct {
	Messages   []DisplayMessage `json:"messages"`
	CurrentXML string           `json:"currentXml"`
}

// HistoryPreview resume una conversación para el listado de historial.
type HistoryPreview struct {
	ID           string       `json:"id"`
	ChartType    string       `json:"chartType"`
	UserInput    string       `json:"userInput"`
	GeneratedXML string       `json:"generatedCode"`
	Config       *ModelConfig `json:"config,omitempty"`
	Timestamp    int64        `json:"timestamp"`
}
