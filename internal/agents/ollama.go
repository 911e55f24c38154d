package agents

import (
	"context"
	"fmt"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/while-basic/celaya-parachain-sub000/internal/config"
)

// ModelFactory creates a langchaingo model client for a model name.
type ModelFactory func(model string) (llms.Model, error)

// Ollama invokes participants through a local Ollama server.
//
// Calls share one rate limiter, and one client is kept per model.
type Ollama struct {
	defaultModel string
	temperature  float64
	limiter      *rate.Limiter
	factory      ModelFactory
	logger       *zap.Logger

	mu     sync.Mutex
	models map[string]llms.Model
}

// NewOllama builds an Ollama invoker from cfg.
func NewOllama(cfg config.AgentsConfig, logger *zap.Logger) *Ollama {
	serverURL := cfg.OllamaURL
	return NewOllamaWithFactory(cfg, logger, func(model string) (llms.Model, error) {
		return ollama.New(ollama.WithModel(model), ollama.WithServerURL(serverURL))
	})
}

// NewOllamaWithFactory is NewOllama with a custom client factory.
func NewOllamaWithFactory(cfg config.AgentsConfig, logger *zap.Logger, factory ModelFactory) *Ollama {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(cfg.RatePerMinute / 60)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Ollama{
		defaultModel: cfg.DefaultModel,
		temperature:  cfg.Temperature,
		limiter:      rate.NewLimiter(limit, burst),
		factory:      factory,
		logger:       logger,
		models:       make(map[string]llms.Model),
	}
}

// Invoke prompts the participant's model and returns its completion.
func (o *Ollama) Invoke(ctx context.Context, req Request) (Invocation, error) {
	modelName := ModelFor(req.Participant, o.defaultModel)

	if err := o.limiter.Wait(ctx); err != nil {
		return Invocation{}, fmt.Errorf("rate limiter error: %w", err)
	}

	model, err := o.model(modelName)
	if err != nil {
		return Invocation{}, err
	}

	o.logger.Debug("invoking agent",
		zap.String("agent", req.Participant.Name),
		zap.String("model", modelName),
		zap.String("phase_id", req.Phase.ID))

	out, err := llms.GenerateFromSinglePrompt(ctx, model, BuildPrompt(req), llms.WithTemperature(o.temperature))
	if err != nil {
		return Invocation{}, fmt.Errorf("ollama %s: %w", modelName, err)
	}
	return Invocation{Output: out, Model: modelName}, nil
}

func (o *Ollama) model(name string) (llms.Model, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if m, ok := o.models[name]; ok {
		return m, nil
	}
	m, err := o.factory(name)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client for %s: %w", name, err)
	}
	o.models[name] = m
	return m, nil
}

var _ Invoker = (*Ollama)(nil)
