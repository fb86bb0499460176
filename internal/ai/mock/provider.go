package mock

import (
	"context"
	"sync"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/ai"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
)

// DefaultReview is the canned reply of NewMockProvider for review prompts.
const DefaultReview = `{"quality_score": 7.5, "strengths": ["Clear structure"], "improvements": ["Add tests"],
"key_suggestions": ["Introduce CI"], "full_review": "Mock review for testing", "metrics": {"readability": 8}}`

// MockProvider satisfies models.LLMProvider for testing. It records every request.
type MockProvider struct {
	Name_        string
	CompleteFunc func(ctx context.Context, req models.CompletionRequest) ([]byte, error)

	mu       sync.Mutex
	requests []models.CompletionRequest
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) CompleteJSON(ctx context.Context, req models.CompletionRequest) ([]byte, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return []byte("{}"), nil
}

// Requests returns a copy of the recorded requests.
func (m *MockProvider) Requests() []models.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CompletionRequest(nil), m.requests...)
}

// NewMockProvider returns a MockProvider answering every prompt with DefaultReview.
func NewMockProvider() *MockProvider {
	return NewStaticProvider(DefaultReview)
}

// NewStaticProvider returns a MockProvider that always replies with body.
func NewStaticProvider(body string) *MockProvider {
	return &MockProvider{
		Name_: "mock",
		CompleteFunc: func(_ context.Context, _ models.CompletionRequest) ([]byte, error) {
			return []byte(body), nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		CompleteFunc: func(_ context.Context, _ models.CompletionRequest) ([]byte, error) {
			return nil, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		CompleteFunc: func(ctx context.Context, _ models.CompletionRequest) ([]byte, error) {
			<-ctx.Done()
			return nil, ai.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements LLMProvider.
var _ models.LLMProvider = (*MockProvider)(nil)
