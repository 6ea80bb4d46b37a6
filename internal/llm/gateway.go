package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/lioarce01/prompt-version-hub/internal/config"
)

// Gateway routes calls to the configured providers with retry and an
// optional fallback provider.
type Gateway struct {
	providers        map[string]Provider
	defaultProvider  string
	defaultModel     string
	fallbackProvider string
	embeddingModel   string
	maxRetries       int
	retryDelay       time.Duration
}

func NewGateway(ctx context.Context, cfg config.LLMConfig) *Gateway {
	g := newGateway(cfg)

	if cfg.GeminiKey != "" {
		gp, err := NewGeminiProvider(ctx, cfg.GeminiKey)
		if err != nil {
			slog.Warn("gemini provider unavailable", "error", err)
		} else {
			g.Register(gp)
		}
	}
	if cfg.OpenAIKey != "" {
		g.Register(NewOpenAIProvider(cfg.OpenAIKey))
	}
	if cfg.AnthropicKey != "" {
		g.Register(NewAnthropicProvider(cfg.AnthropicKey))
	}
	if cfg.OllamaURL != "" {
		g.Register(NewOllamaProvider(cfg.OllamaURL))
	}

	return g
}

func newGateway(cfg config.LLMConfig) *Gateway {
	return &Gateway{
		providers:        make(map[string]Provider),
		defaultProvider:  cfg.DefaultProvider,
		defaultModel:     cfg.DefaultModel,
		fallbackProvider: cfg.FallbackProvider,
		embeddingModel:   cfg.EmbeddingModel,
		maxRetries:       cfg.MaxRetries,
		retryDelay:       500 * time.Millisecond,
	}
}

func (g *Gateway) Register(p Provider) {
	g.providers[p.Name()] = p
}

func (g *Gateway) Provider(name string) (Provider, error) {
	p, ok := g.providers[name]
	if !ok {
		return nil, configError(name, "provider %q not configured", name)
	}
	return p, nil
}

func (g *Gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = g.defaultProvider
	}

	resp, err := g.chatWithRetry(ctx, providerName, req)
	if err != nil && g.fallbackProvider != "" && g.fallbackProvider != providerName && ctx.Err() == nil {
		slog.Warn("primary provider failed, trying fallback",
			"primary", providerName,
			"fallback", g.fallbackProvider,
			"error", err,
		)
		fallbackReq := req
		fallbackReq.Model = ""
		return g.chatWithRetry(ctx, g.fallbackProvider, fallbackReq)
	}
	return resp, err
}

func (g *Gateway) modelFor(p Provider, requested string) string {
	if requested != "" {
		return requested
	}
	if p.Name() == g.defaultProvider && g.defaultModel != "" {
		return g.defaultModel
	}
	if models := p.Models(); len(models) > 0 {
		return models[0]
	}
	return ""
}

func (g *Gateway) chatWithRetry(ctx context.Context, providerName string, req ChatRequest) (*ChatResponse, error) {
	p, err := g.Provider(providerName)
	if err != nil {
		return nil, err
	}
	req.Model = g.modelFor(p, req.Model)

	var resp *ChatResponse
	err = retry.Do(
		func() error {
			r, err := p.ChatCompletion(ctx, req)
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(max(g.maxRetries, 0)+1)),
		retry.Delay(g.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return KindOf(err) == KindCall }),
		retry.OnRetry(func(n uint, err error) {
			slog.Debug("retrying LLM call", "provider", providerName, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

var embeddingProviders = []string{"openai", "gemini", "ollama"}

func (g *Gateway) embeddingProvider() string {
	for _, name := range embeddingProviders {
		if _, ok := g.providers[name]; ok {
			return name
		}
	}
	return ""
}

// CanEmbed reports whether any configured provider serves embeddings.
func (g *Gateway) CanEmbed() bool { return g.embeddingProvider() != "" }

// Embed uses the requested provider, or the first configured provider with
// an embeddings endpoint.
func (g *Gateway) Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = g.embeddingProvider()
	}

	p, err := g.Provider(providerName)
	if err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = g.embeddingModel
	}
	return p.GenerateEmbedding(ctx, req)
}

func (g *Gateway) ListModels() []ModelInfo {
	var models []ModelInfo
	for _, p := range g.providers {
		for _, m := range p.Models() {
			models = append(models, ModelInfo{
				Provider: p.Name(),
				Model:    m,
				Type:     "chat",
			})
		}
	}
	return models
}
