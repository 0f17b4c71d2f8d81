package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ctrlcxy/smart-draw/internal/diagram"
	"github.com/ctrlcxy/smart-draw/internal/domain"
	"github.com/ctrlcxy/smart-draw/internal/llm"
	"github.com/ctrlcxy/smart-draw/internal/service"
)

type memConvRepo struct {
	convs []domain.Conversation
}

func (m *memConvRepo) CreateIfMissing(_ context.Context, conv domain.Conversation) error {
	m.convs = append(m.convs, conv)
	return nil
}

func (m *memConvRepo) List(_ context.Context) ([]domain.Conversation, error) {
	return m.convs, nil
}

func (m *memConvRepo) DeleteCascade(_ context.Context, _ string) error { return nil }

func (m *memConvRepo) ClearAll(_ context.Context) error {
	m.convs = nil
	return nil
}

type memMsgRepo struct {
	msgs []domain.Message
}

func (m *memMsgRepo) Create(_ context.Context, msg domain.Message) error {
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *memMsgRepo) CreatePair(_ context.Context, user, assistant domain.Message) error {
	m.msgs = append(m.msgs, user, assistant)
	return nil
}

func (m *memMsgRepo) ListByConversationID(_ context.Context, id string) ([]domain.Message, error) {
	var out []domain.Message
	for _, msg := range m.msgs {
		if msg.ConversationID == id {
			out = append(out, msg)
		}
	}
	return out, nil
}

type memBlobRepo struct {
	blobs map[string]domain.BlobRecord
}

func (m *memBlobRepo) Put(_ context.Context, rec domain.BlobRecord) error {
	m.blobs[rec.ID] = rec
	return nil
}

func (m *memBlobRepo) Get(_ context.Context, id string) (*domain.BlobRecord, error) {
	rec, ok := m.blobs[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func setupGenerateRouter(client llm.StreamClient, accessPassword string) (*gin.Engine, *memMsgRepo) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	convs := &memConvRepo{}
	msgs := &memMsgRepo{}
	blobs := &memBlobRepo{blobs: make(map[string]domain.BlobRecord)}
	history := service.NewHistoryService(logger, convs, msgs, blobs)
	generator := service.NewGenerateService(logger, client, history, msgs)

	h := NewGenerateHandler(logger, generator, accessPassword, &llm.ProviderConfig{Name: "OpenRouter", Model: "openai/gpt-4o"})
	r := gin.New()
	r.POST("/generate", h.Generate)
	r.POST("/auth/password", h.ValidatePassword)
	return r, msgs
}

func performJSON(r http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestGenerateHandler_EmptyInputRejected(t *testing.T) {
	r, _ := setupGenerateRouter(&llm.MockStreamClient{}, "")

	rec := performJSON(r, http.MethodPost, "/generate", map[string]any{"userInput": ""}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestGenerateHandler_NoConfigWithoutPasswordIsUnauthorized(t *testing.T) {
	r, _ := setupGenerateRouter(&llm.MockStreamClient{}, "secret")

	rec := performJSON(r, http.MethodPost, "/generate", map[string]any{"userInput": "draw"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestGenerateHandler_PasswordUnlocksServerConfig(t *testing.T) {
	client := &llm.MockStreamClient{Body: "data: {\"content\":\"<mxfile/>\"}\n"}
	r, msgs := setupGenerateRouter(client, "secret")

	rec := performJSON(r, http.MethodPost, "/generate",
		map[string]any{"userInput": "draw a flow"},
		map[string]string{"x-access-password": "secret"},
	)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if client.LastReq.Config == nil || client.LastReq.Config.Model != "openai/gpt-4o" {
		t.Fatalf("expected server config substituted, got %+v", client.LastReq.Config)
	}
	if len(msgs.msgs) != 2 {
		t.Fatalf("expected persisted turn, got %d messages", len(msgs.msgs))
	}

	var res service.GenerateResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.XML != "<mxfile/>" || res.ConversationID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestGenerateHandler_ClientConfigSkipsPasswordGate(t *testing.T) {
	client := &llm.MockStreamClient{Body: "data: {\"content\":\"<mxfile/>\"}\n"}
	r, _ := setupGenerateRouter(client, "secret")

	rec := performJSON(r, http.MethodPost, "/generate", map[string]any{
		"userInput": "draw",
		"config":    map[string]string{"name": "Custom", "model": "deepseek/deepseek-chat", "apiKey": "k"},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if client.LastReq.Config == nil || client.LastReq.Config.Model != "deepseek/deepseek-chat" {
		t.Fatalf("expected client config forwarded, got %+v", client.LastReq.Config)
	}
}

func TestGenerateHandler_InvalidDocumentIs422(t *testing.T) {
	client := &llm.MockStreamClient{Body: "data: {\"content\":\"no diagram here\"}\n"}
	r, _ := setupGenerateRouter(client, "secret")

	rec := performJSON(r, http.MethodPost, "/generate",
		map[string]any{"userInput": "draw"},
		map[string]string{"x-access-password": "secret"},
	)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}
}

func TestGenerateErrorResponse_Taxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{llm.ErrAuth, http.StatusUnauthorized},
		{llm.ErrRateLimited, http.StatusTooManyRequests},
		{llm.ErrServer, http.StatusBadGateway},
		{llm.ErrMalformedStream, http.StatusBadGateway},
		{llm.ErrTransport, http.StatusBadGateway},
		{diagram.ErrInvalidDocument, http.StatusUnprocessableEntity},
		{&llm.PipelineError{Message: "quota exceeded"}, http.StatusBadGateway},
		{context.Canceled, http.StatusBadRequest},
	}
	for _, tc := range cases {
		status, msg := generateErrorResponse(tc.err)
		if status != tc.status {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.status, status)
		}
		if msg == "" {
			t.Fatalf("%v: expected a user-readable message", tc.err)
		}
	}

	if _, msg := generateErrorResponse(&llm.PipelineError{Message: "quota exceeded"}); msg != "quota exceeded" {
		t.Fatalf("pipeline error message must pass through verbatim, got %q", msg)
	}
}

func TestValidatePassword(t *testing.T) {
	r, _ := setupGenerateRouter(&llm.MockStreamClient{}, "secret")

	rec := performJSON(r, http.MethodPost, "/auth/password", map[string]string{"password": "secret"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	rec = performJSON(r, http.MethodPost, "/auth/password", map[string]string{"password": "wrong"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestValidatePassword_NotEnabled(t *testing.T) {
	r, _ := setupGenerateRouter(&llm.MockStreamClient{}, "")

	rec := performJSON(r, http.MethodPost, "/auth/password", map[string]string{"password": "anything"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}
