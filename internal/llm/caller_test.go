package llm

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"go.uber.org/zap"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"wrapped deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), ErrTimeout},
		{"econnrefused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), ErrConnectionRefused},
		{"refused text", errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), ErrConnectionRefused},
		{"memory", errors.New("model requires more system memory than is available"), ErrMemoryExceeded},
		{"already classified", fmt.Errorf("%w: x", ErrUnavailable), ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	if classify(nil) != nil {
		t.Error("classify(nil) should be nil")
	}
	plain := errors.New("bad json")
	if got := classify(plain); got != plain {
		t.Errorf("unclassified errors should pass through, got %v", got)
	}
}

func TestErrorStatus(t *testing.T) {
	if s := errorStatus(fmt.Errorf("%w: x", ErrTimeout)); s != "timeout" {
		t.Errorf("expected timeout, got %s", s)
	}
	if s := errorStatus(errors.New("x")); s != "error" {
		t.Errorf("expected error, got %s", s)
	}
}

func TestNew_SelectsProvider(t *testing.T) {
	cfg := testLLMConfig("http://localhost:11434")

	c, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*OllamaClient); !ok {
		t.Errorf("expected *OllamaClient, got %T", c)
	}

	cfg.Provider = "openai"
	c, err = New(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*OpenAIClient); !ok {
		t.Errorf("expected *OpenAIClient, got %T", c)
	}

	cfg.Provider = "other"
	if _, err := New(cfg, zap.NewNop()); err == nil {
		t.Error("expected error for unknown provider")
	}
}
