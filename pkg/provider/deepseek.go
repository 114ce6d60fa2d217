package provider

import (
	"context"
	"os"

	deepseek "github.com/cohesion-org/deepseek-go"

	"github.com/Nitinref/R8R-sub001/pkg/errors"
)

/*
DeepseekProvider is a provider for the Deepseek API.
*/
type DeepseekProvider struct {
	client *deepseek.Client
}

type DeepseekProviderOption func(*DeepseekProvider)

func NewDeepseekProvider(options ...DeepseekProviderOption) *DeepseekProvider {
	prvdr := &DeepseekProvider{}

	for _, option := range options {
		option(prvdr)
	}

	if prvdr.client == nil {
		WithDeepseekClient()(prvdr)
	}

	return prvdr
}

func (prvdr *DeepseekProvider) Name() string { return "deepseek" }

func (prvdr *DeepseekProvider) Complete(
	ctx context.Context, req CompletionRequest,
) (*CompletionResult, error) {
	messages := make([]deepseek.ChatCompletionMessage, 0, 2)

	if req.SystemPrompt != "" {
		messages = append(messages, deepseek.ChatCompletionMessage{
			Role:    deepseek.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}

	messages = append(messages, deepseek.ChatCompletionMessage{
		Role:    deepseek.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	response, err := prvdr.client.CreateChatCompletion(ctx, &deepseek.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		// Deepseek accepts [0, 2] like OpenAI.
		Temperature: float32(clampTemperature(req.Temperature, 0, 2)),
		MaxTokens:   int(req.MaxTokens),
	})
	if err != nil {
		return nil, errors.NewProviderError(prvdr.Name(), errors.KindTransient, err)
	}

	if len(response.Choices) == 0 {
		return nil, errors.NewProviderError(
			prvdr.Name(), errors.KindTransient,
			errors.NewError("empty choices in completion response"),
		)
	}

	content := response.Choices[0].Message.Content

	tokens := int64(response.Usage.TotalTokens)
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

func WithDeepseekClient() DeepseekProviderOption {
	return func(prvdr *DeepseekProvider) {
		prvdr.client = deepseek.NewClient(os.Getenv("DEEPSEEK_API_KEY"))
	}
}
