package provider

import "context"

/*
CompletionRequest is the normalized request every adapter accepts. Each
adapter is responsible for clamping sampling parameters into its vendor's
valid range before dispatch.
*/
type CompletionRequest struct {
	Model        string  `json:"model"`
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"systemPrompt,omitempty"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int64   `json:"maxTokens"`
}

/*
CompletionResult is the normalized completion every adapter returns.
TokensUsed comes from the vendor's own accounting when reported,
otherwise from a character-length estimate.
*/
type CompletionResult struct {
	Content    string `json:"content"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	TokensUsed int64  `json:"tokensUsed"`
}

type Interface interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// Embedder represents a service capable of generating embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EstimateTokens approximates token usage for providers that do not
// report it. Roughly 4 characters per token for English text.
func EstimateTokens(text string) int64 {
	n := int64(len(text)) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

func clampTemperature(t, lo, hi float64) float64 {
	if t < lo {
		return lo
	}
	if t > hi {
		return hi
	}
	return t
}

func convertToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
