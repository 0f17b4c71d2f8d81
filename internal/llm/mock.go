package llm

import (
	"context"
	"io"
	"strings"
)

// MockStreamClient permite tests sin abrir un stream real.
type MockStreamClient struct {
	Body    string
	Err     error
	LastReq GenerateRequest
}

func (m *MockStreamClient) Stream(ctx context.Context, req GenerateRequest) (io.ReadCloser, error) {
	m.LastReq = req
	if m.Err != nil {
		return nil, m.Err
	}
	return io.NopCloser(strings.NewReader(m.Body)), nil
}
