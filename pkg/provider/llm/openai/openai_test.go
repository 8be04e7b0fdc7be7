package openai

import (
	"testing"

	"github.com/voxbridge-ai/voxbridge/pkg/provider/llm"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("empty API key accepted")
	}
}

func TestCountTokens_Approximation(t *testing.T) {
	p := &Provider{}

	tests := []struct {
		name string
		msgs []llm.Message
		want int
	}{
		{"empty", nil, 0},
		{"single short", []llm.Message{{Role: "user", Content: "hola"}}, 1 + 4},
		{"rounds up", []llm.Message{{Role: "user", Content: "hello"}}, 2 + 4},
		{"two messages", []llm.Message{
			{Role: "user", Content: "12345678"},
			{Role: "assistant", Content: "1234"},
		}, (2 + 4) + (1 + 4)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.CountTokens(tc.msgs); got != tc.want {
				t.Errorf("CountTokens = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestBuildParams(t *testing.T) {
	params, err := buildParams(llm.CompletionRequest{
		Model:        "gpt-4o-mini",
		SystemPrompt: "Eres Ana.",
		Messages: []llm.Message{
			{Role: "user", Content: "hola"},
			{Role: "assistant", Content: "Hola, dígame."},
			{Role: "user", Content: "quiero información"},
		},
		Temperature: 0.5,
		MaxTokens:   250,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}

	if string(params.Model) != "gpt-4o-mini" {
		t.Errorf("model = %q", params.Model)
	}
	// System prompt plus the three history messages.
	if len(params.Messages) != 4 {
		t.Errorf("messages = %d, want 4", len(params.Messages))
	}
	if !params.Temperature.Valid() || params.Temperature.Value != 0.5 {
		t.Errorf("temperature = %+v", params.Temperature)
	}
	if !params.MaxCompletionTokens.Valid() || params.MaxCompletionTokens.Value != 250 {
		t.Errorf("max completion tokens = %+v", params.MaxCompletionTokens)
	}
}

func TestBuildParams_RejectsMissingModel(t *testing.T) {
	if _, err := buildParams(llm.CompletionRequest{}); err == nil {
		t.Fatal("empty model accepted")
	}
}

func TestBuildParams_RejectsUnknownRole(t *testing.T) {
	_, err := buildParams(llm.CompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []llm.Message{{Role: "narrator", Content: "..."}},
	})
	if err == nil {
		t.Fatal("unknown role accepted")
	}
}

func TestBuildParams_ZeroTemperatureIsSentExplicitly(t *testing.T) {
	params, err := buildParams(llm.CompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []llm.Message{{Role: "user", Content: "hola"}},
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if !params.Temperature.Valid() || params.Temperature.Value != 0 {
		t.Errorf("temperature = %+v, want explicit 0", params.Temperature)
	}
}
