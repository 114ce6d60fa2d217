package provider

import (
	"context"
	stderrors "errors"

	"github.com/charmbracelet/log"
	"google.golang.org/genai"

	"github.com/Nitinref/R8R-sub001/pkg/errors"
)

/*
GoogleProvider is a provider for the Gemini API.
*/
type GoogleProvider struct {
	client *genai.Client
}

type GoogleProviderOption func(*GoogleProvider)

func NewGoogleProvider(options ...GoogleProviderOption) *GoogleProvider {
	prvdr := &GoogleProvider{}

	for _, option := range options {
		option(prvdr)
	}

	if prvdr.client == nil {
		WithGoogleClient()(prvdr)
	}

	return prvdr
}

func (prvdr *GoogleProvider) Name() string { return "google" }

func (prvdr *GoogleProvider) Complete(
	ctx context.Context, req CompletionRequest,
) (*CompletionResult, error) {
	config := &genai.GenerateContentConfig{
		// Gemini accepts [0, 2].
		Temperature:     genai.Ptr(float32(clampTemperature(req.Temperature, 0, 2))),
		MaxOutputTokens: int32(req.MaxTokens),
	}

	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}

	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: req.Prompt}}},
	}

	response, err := prvdr.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		var apierr genai.APIError
		if stderrors.As(err, &apierr) {
			return nil, errors.NewProviderError(
				prvdr.Name(), errors.KindFromStatus(apierr.Code), err,
			)
		}
		return nil, errors.NewProviderError(prvdr.Name(), errors.KindTransient, err)
	}

	// A safety block surfaces as a response with no usable candidates
	// rather than a transport error.
	if len(response.Candidates) == 0 {
		return nil, errors.NewProviderError(
			prvdr.Name(), errors.KindSafety,
			errors.NewError("response blocked: no candidates returned"),
		)
	}

	content := response.Text()

	var tokens int64
	if response.UsageMetadata != nil {
		tokens = int64(response.UsageMetadata.TotalTokenCount)
	}
	if tokens == 0 {
		tokens = EstimateTokens(req.Prompt + content)
	}

	return &CompletionResult{
		Content:    content,
		Provider:   prvdr.Name(),
		Model:      req.Model,
		TokensUsed: tokens,
	}, nil
}

func WithGoogleClient() GoogleProviderOption {
	return func(prvdr *GoogleProvider) {
		// Relies on GOOGLE_API_KEY / GEMINI_API_KEY in the environment.
		client, err := genai.NewClient(context.Background(), nil)
		if err != nil {
			log.Error("failed to create genai client", "error", err)
			return
		}

		prvdr.client = client
	}
}
