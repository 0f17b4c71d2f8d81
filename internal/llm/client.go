package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// StreamClient abre el stream de generación para un turno.
type StreamClient interface {
	Stream(ctx context.Context, req GenerateRequest) (io.ReadCloser, error)
}

// ProviderConfig es la configuración de proveedor que puede venir por request.
type ProviderConfig struct {
	Name    string `json:"name,omitempty"`
	Model   string `json:"model,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`
	APIKey  string `json:"apiKey,omitempty"`
}

// HistoryEntry es un turno previo enviado como contexto. El contenido XML de
// assistant ya viene reemplazado por el placeholder antes de llegar acá.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EncodedImage es una imagen codificada en base64 para el payload.
type EncodedImage struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
	Name     string `json:"name"`
}

// UserInput serializa como string plano cuando solo hay texto, o como objeto
// cuando lleva imágenes o el XML de contexto del canvas actual.
type UserInput struct {
	Text       string
	Images     []EncodedImage
	ContextXML string
}

func (u UserInput) MarshalJSON() ([]byte, error) {
	if len(u.Images) == 0 && u.ContextXML == "" {
		return json.Marshal(u.Text)
	}
	return json.Marshal(struct {
		Text       string         `json:"text"`
		Images     []EncodedImage `json:"images,omitempty"`
		ContextXML string         `json:"contextXml,omitempty"`
	}{u.Text, u.Images, u.ContextXML})
}

// GenerateRequest es el request de la frontera de generación.
type GenerateRequest struct {
	Config         *ProviderConfig `json:"config"`
	UserInput      UserInput       `json:"userInput"`
	ChartType      string          `json:"chartType"`
	ConversationID string          `json:"conversationId"`
	History        []HistoryEntry  `json:"history"`
}

// HTTPStreamClient implementa StreamClient contra el endpoint de generación.
type HTTPStreamClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPStreamClient construye el cliente con credenciales por defecto del
// servidor; un request con config propia las sobreescribe.
func NewHTTPStreamClient(baseURL, apiKey string, logger *zap.Logger) *HTTPStreamClient {
	return &HTTPStreamClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		// Sin timeout global: el stream puede durar más que cualquier tope
		// razonable de request; la cancelación viene por contexto.
		client: &http.Client{},
		logger: logger,
	}
}

func (c *HTTPStreamClient) Stream(ctx context.Context, genReq GenerateRequest) (io.ReadCloser, error) {
	baseURL := c.baseURL
	apiKey := c.apiKey
	if genReq.Config != nil {
		if genReq.Config.BaseURL != "" {
			baseURL = strings.TrimRight(genReq.Config.BaseURL, "/")
		}
		if genReq.Config.APIKey != "" {
			apiKey = genReq.Config.APIKey
		}
	}

	bodyBytes, err := json.Marshal(genReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/generate", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, c.statusError(resp)
	}

	return resp.Body, nil
}

// statusError traduce un status no exitoso a un error por categoría,
// prefiriendo el mensaje {error} del body cuando existe.
func (c *HTTPStreamClient) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return &PipelineError{Message: payload.Error}
	}

	if c.logger != nil {
		c.logger.Warn("generation request failed",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrAuth
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= 500:
		return ErrServer
	default:
		return fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}
}
