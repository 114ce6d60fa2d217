package provider

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Nitinref/R8R-sub001/pkg/errors"
)

/*
ModelRef selects a provider/model pair. The primary ref carries the full
sampling configuration; fallback refs inherit it.
*/
type ModelRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

/*
GenerateRequest is one orchestrated completion: a primary choice plus an
ordered fallback chain tried after the primary fails.
*/
type GenerateRequest struct {
	Primary      ModelRef   `json:"primary"`
	Fallbacks    []ModelRef `json:"fallbacks,omitempty"`
	Prompt       string     `json:"prompt"`
	SystemPrompt string     `json:"systemPrompt,omitempty"`
	Temperature  float64    `json:"temperature"`
	MaxTokens    int64      `json:"maxTokens"`
}

/*
Attempt records one provider invocation so callers can audit ordering
and count under test.
*/
type Attempt struct {
	Ref ModelRef
	Err error
}

/*
Orchestrator fans a completion request across an ordered attempt list.
The first success wins; fallback order encodes preference, not load
balancing. Construct one per configuration and pass it by reference so
independent runs can use independently configured instances.
*/
type Orchestrator struct {
	providers map[string]Interface
	backoff   time.Duration
}

type OrchestratorOption func(*Orchestrator)

func NewOrchestrator(options ...OrchestratorOption) *Orchestrator {
	orch := &Orchestrator{
		providers: make(map[string]Interface),
		backoff:   100 * time.Millisecond,
	}

	for _, option := range options {
		option(orch)
	}

	return orch
}

/*
Generate walks [primary] + fallbacks in order. Between attempts it waits
backoff × attemptIndex — linear, not exponential, since each attempt
already costs a full provider round trip. A safety block aborts the
chain immediately: retrying will not change the verdict.
*/
func (orch *Orchestrator) Generate(
	ctx context.Context, req GenerateRequest,
) (*CompletionResult, []Attempt, error) {
	refs := append([]ModelRef{req.Primary}, req.Fallbacks...)
	attempts := make([]Attempt, 0, len(refs))

	var lastErr error

	for idx, ref := range refs {
		if idx > 0 {
			wait := orch.backoff * time.Duration(idx)

			select {
			case <-ctx.Done():
				return nil, attempts, errors.ErrRunCancelled.WithMessagef(
					"cancelled while waiting to try %s/%s", ref.Provider, ref.Model,
				)
			case <-time.After(wait):
			}
		}

		prvdr, ok := orch.providers[ref.Provider]
		if !ok {
			err := errors.ErrUnknownProvider.WithMessagef(
				"provider %q is not configured", ref.Provider,
			)
			attempts = append(attempts, Attempt{Ref: ref, Err: err})
			lastErr = err
			continue
		}

		result, err := prvdr.Complete(ctx, CompletionRequest{
			Model:        ref.Model,
			Prompt:       req.Prompt,
			SystemPrompt: req.SystemPrompt,
			Temperature:  req.Temperature,
			MaxTokens:    req.MaxTokens,
		})

		attempts = append(attempts, Attempt{Ref: ref, Err: err})

		if err == nil {
			if result.TokensUsed == 0 {
				result.TokensUsed = EstimateTokens(req.Prompt + result.Content)
			}
			return result, attempts, nil
		}

		log.Warn("provider attempt failed",
			"provider", ref.Provider, "model", ref.Model, "attempt", idx+1, "error", err)

		lastErr = err

		var prvdrErr *errors.ProviderError
		if stderrors.As(err, &prvdrErr) && !prvdrErr.Retryable() {
			return nil, attempts, err
		}
	}

	return nil, attempts, errors.NewError(
		errors.ErrAttemptsExhausted.WithMessagef("%d attempts failed", len(refs)),
		lastErr,
	)
}

/*
HealthCheck probes every configured provider independently. One
provider's failure never affects another's reported status.
*/
func (orch *Orchestrator) HealthCheck(ctx context.Context) map[string]error {
	status := make(map[string]error, len(orch.providers))

	for name, prvdr := range orch.providers {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)

		_, err := prvdr.Complete(probeCtx, CompletionRequest{
			Model:     defaultProbeModel(name),
			Prompt:    "ping",
			MaxTokens: 1,
		})
		cancel()

		status[name] = err
	}

	return status
}

// Providers returns the names of the configured providers.
func (orch *Orchestrator) Providers() []string {
	names := make([]string, 0, len(orch.providers))
	for name := range orch.providers {
		names = append(names, name)
	}
	return names
}

func defaultProbeModel(provider string) string {
	switch provider {
	case "openai":
		return "gpt-4o-mini"
	case "anthropic":
		return "claude-3-5-haiku-latest"
	case "cohere":
		return "command-r"
	case "deepseek":
		return "deepseek-chat"
	case "google":
		return "gemini-2.0-flash"
	default:
		return "default"
	}
}

func WithProvider(prvdr Interface) OrchestratorOption {
	return func(orch *Orchestrator) {
		orch.providers[prvdr.Name()] = prvdr
	}
}

func WithBackoff(backoff time.Duration) OrchestratorOption {
	return func(orch *Orchestrator) {
		orch.backoff = backoff
	}
}
