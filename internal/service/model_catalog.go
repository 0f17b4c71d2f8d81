package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	modelCacheKey = "models:catalog"
	modelCacheTTL = time.Hour
)

// Model es una entrada del catálogo de modelos del proveedor.
type Model struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextLength int    `json:"context_length,omitempty"`
}

// Lista de respaldo cuando el proveedor no responde y no hay cache.
var fallbackModels = []Model{
	{ID: "anthropic/claude-3.5-sonnet", Name: "Claude 3.5 Sonnet"},
	{ID: "openai/gpt-4o", Name: "GPT-4o"},
	{ID: "google/gemini-2.0-flash-001", Name: "Gemini 2.0 Flash"},
	{ID: "deepseek/deepseek-chat", Name: "DeepSeek V3"},
}

// ModelCatalogService consulta el catálogo del proveedor y lo cachea con TTL.
type ModelCatalogService struct {
	logger  *zap.Logger
	cache   Cache
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewModelCatalogService(logger *zap.Logger, cache Cache, baseURL, apiKey string) *ModelCatalogService {
	return &ModelCatalogService{
		logger:  logger,
		cache:   cache,
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// List devuelve el catálogo, sirviendo desde cache mientras el TTL viva.
// Si el fetch falla se responde la lista de respaldo en vez de un error.
func (s *ModelCatalogService) List(ctx context.Context) ([]Model, error) {
	if s == nil || s.cache == nil {
		return nil, ErrGenerateNotConfigured
	}

	if cached, ok, err := s.cache.Get(ctx, modelCacheKey); err == nil && ok {
		var models []Model
		if err := json.Unmarshal([]byte(cached), &models); err == nil && len(models) > 0 {
			return models, nil
		}
	} else if err != nil {
		s.logger.Warn("model cache read failed", zap.Error(err))
	}

	models, err := s.fetch(ctx)
	if err != nil {
		s.logger.Warn("model catalog fetch failed, serving fallback list", zap.Error(err))
		return fallbackModels, nil
	}

	if encoded, err := json.Marshal(models); err == nil {
		if err := s.cache.Set(ctx, modelCacheKey, string(encoded), modelCacheTTL); err != nil {
			s.logger.Warn("model cache write failed", zap.Error(err))
		}
	}

	return models, nil
}

// Refresh invalida el cache y vuelve a consultar al proveedor.
func (s *ModelCatalogService) Refresh(ctx context.Context) ([]Model, error) {
	if s == nil || s.cache == nil {
		return nil, ErrGenerateNotConfigured
	}
	if err := s.cache.Invalidate(ctx, modelCacheKey); err != nil {
		s.logger.Warn("model cache invalidate failed", zap.Error(err))
	}
	return s.List(ctx)
}

func (s *ModelCatalogService) fetch(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("model catalog http error: status=%d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var payload struct {
		Data []Model `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(payload.Data) == 0 {
		return nil, fmt.Errorf("model catalog empty response")
	}

	return payload.Data, nil
}
