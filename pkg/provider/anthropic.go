package provider

import (
	"context"
	stderrors "errors"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Nitinref/R8R-sub001/pkg/errors"
)

/*
AnthropicProvider is a provider for the Anthropic API.
*/
type AnthropicProvider struct {
	client *anthropic.Client
}

type AnthropicProviderOption func(*AnthropicProvider)

func NewAnthropicProvider(options ...AnthropicProviderOption) *AnthropicProvider {
	prvdr := &AnthropicProvider{}

	for _, option := range options {
		option(prvdr)
	}

	if prvdr.client == nil {
		WithAnthropicClient()(prvdr)
	}

	return prvdr
}

func (prvdr *AnthropicProvider) Name() string { return "anthropic" }

func (prvdr *AnthropicProvider) Complete(
	ctx context.Context, req CompletionRequest,
) (*CompletionResult, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: req.MaxTokens,
		// Anthropic's valid temperature range is [0, 1].
		Temperature: anthropic.Float(clampTemperature(req.Temperature, 0, 1)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	response, err := prvdr.client.Messages.New(ctx, params)
	if err != nil {
		return nil, prvdr.wrapError(err)
	}

	builder := &strings.Builder{}

	for _, block := range response.Content {
		switch contentBlock := block.AsAny().(type) {
		case anthropic.TextBlock:
			builder.WriteString(contentBlock.Text)
		}
	}

	content := builder.String()

	tokens := response.Usage.InputTokens + response.Usage.OutputTokens
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

func (prvdr *AnthropicProvider) wrapError(err error) error {
	var apierr *anthropic.Error

	if stderrors.As(err, &apierr) {
		return errors.NewProviderError(
			prvdr.Name(), errors.KindFromStatus(apierr.StatusCode), err,
		)
	}

	return errors.NewProviderError(prvdr.Name(), errors.KindTransient, err)
}

func WithAnthropicClient() AnthropicProviderOption {
	return func(prvdr *AnthropicProvider) {
		client := anthropic.NewClient(
			option.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")),
		)

		prvdr.client = &client
	}
}
