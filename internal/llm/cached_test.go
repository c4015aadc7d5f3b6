package llm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type fakeClient struct {
	mu    sync.Mutex
	calls int
	out   string
	err   error
	model string
}

func (f *fakeClient) GenerateCompletion(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.out, f.err
}

func (f *fakeClient) HealthCheck(ctx context.Context) bool          { return true }
func (f *fakeClient) EnsureModelAvailable(ctx context.Context) bool { return true }
func (f *fakeClient) SetModel(name string)                          { f.model = name }
func (f *fakeClient) Model() string                                 { return f.model }

type memStore struct {
	mu      sync.Mutex
	data    map[string]string
	readErr error
}

func (m *memStore) GetCompletion(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return "", false, m.readErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) SetCompletion(ctx context.Context, key, completion string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = completion
	return nil
}

func TestCachedClient_HitSkipsModel(t *testing.T) {
	inner := &fakeClient{out: "{}", model: "llama3.2:3b"}
	store := &memStore{data: map[string]string{}}
	c := NewCachedClient(inner, store, zap.NewNop())

	for i := 0; i < 3; i++ {
		out, err := c.GenerateCompletion(context.Background(), "pasta", CompletionOptions{Temperature: 0.1})
		if err != nil || out != "{}" {
			t.Fatalf("unexpected result %q, %v", out, err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 model call, got %d", inner.calls)
	}
}

func TestCachedClient_ErrorsAreNotCached(t *testing.T) {
	inner := &fakeClient{err: ErrTimeout, model: "m"}
	store := &memStore{data: map[string]string{}}
	c := NewCachedClient(inner, store, zap.NewNop())

	if _, err := c.GenerateCompletion(context.Background(), "x", CompletionOptions{}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if len(store.data) != 0 {
		t.Errorf("failed completions must not be cached: %v", store.data)
	}
}

func TestCachedClient_StoreErrorFallsThrough(t *testing.T) {
	inner := &fakeClient{out: "ok", model: "m"}
	store := &memStore{data: map[string]string{}, readErr: errors.New("redis down")}
	c := NewCachedClient(inner, store, zap.NewNop())

	out, err := c.GenerateCompletion(context.Background(), "x", CompletionOptions{})
	if err != nil || out != "ok" {
		t.Errorf("expected pass-through to model, got %q, %v", out, err)
	}
}

func TestCachedClient_DelegatesModel(t *testing.T) {
	inner := &fakeClient{model: "a"}
	c := NewCachedClient(inner, &memStore{data: map[string]string{}}, zap.NewNop())
	c.SetModel("b")
	if c.Model() != "b" {
		t.Errorf("expected delegated model, got %s", c.Model())
	}
}
