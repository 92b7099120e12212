package provider

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/opencode-ai/core/internal/logging"
	"github.com/opencode-ai/core/pkg/types"
)

var log = logging.Logger

// Registry manages all available providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	config    *types.Config
}

// NewRegistry creates a new provider registry.
func NewRegistry(config *types.Config) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		config:    config,
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.ID()] = provider
}

// Get retrieves a provider by ID.
func (r *Registry) Get(providerID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", providerID)
	}
	return provider, nil
}

// List returns all available providers.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	return providers
}

// GetModel retrieves a specific model from a provider.
func (r *Registry) GetModel(providerID, modelID string) (*types.Model, error) {
	provider, err := r.Get(providerID)
	if err != nil {
		return nil, err
	}

	for _, model := range provider.Models() {
		if model.ID == modelID {
			return &model, nil
		}
	}

	return nil, fmt.Errorf("model not found: %s/%s", providerID, modelID)
}

// AllModels returns all models from all providers.
func (r *Registry) AllModels() []types.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var models []types.Model
	for _, p := range r.providers {
		models = append(models, p.Models()...)
	}

	sort.Slice(models, func(i, j int) bool {
		return modelPriority(models[i].ID) > modelPriority(models[j].ID)
	})

	return models
}

// DefaultModel returns the default model.
func (r *Registry) DefaultModel() (*types.Model, error) {
	if r.config != nil && r.config.Model != "" {
		providerID, modelID := ParseModelString(r.config.Model)
		return r.GetModel(providerID, modelID)
	}

	model, err := r.GetModel("anthropic", "claude-sonnet-4-20250514")
	if err == nil {
		return model, nil
	}

	models := r.AllModels()
	if len(models) == 0 {
		return nil, fmt.Errorf("no models available")
	}
	return &models[0], nil
}

// ParseModelString parses "provider/model" format.
func ParseModelString(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}

// modelPriority returns sorting priority for models.
func modelPriority(modelID string) int {
	switch {
	case strings.Contains(modelID, "gpt-5"):
		return 100
	case strings.Contains(modelID, "claude-sonnet-4"):
		return 90
	case strings.Contains(modelID, "claude-opus"):
		return 85
	case strings.Contains(modelID, "gpt-4o"):
		return 80
	case strings.Contains(modelID, "gemini-2"):
		return 70
	case strings.Contains(modelID, "o3"):
		return 65
	default:
		return 50
	}
}

// Provider wire-protocol kinds, keyed by ProviderConfig.Type.
const (
	TypeAnthropic       = "anthropic"
	TypeOpenAI          = "openai"
	TypeOpenAIResponses = "openai-responses"
	TypeGemini          = "gemini"
	TypeOllama          = "ollama"
)

// InitializeProviders creates and registers all providers from config.
func InitializeProviders(config *types.Config) (*Registry, error) {
	registry := NewRegistry(config)
	configuredProviders := make(map[string]bool)

	for name, cfg := range config.Provider {
		if cfg.Disable {
			continue
		}
		configuredProviders[name] = true

		apiKey, baseURL := getProviderCredentials(cfg)
		kind := cfg.Type
		if kind == "" {
			kind = inferTypeFromProviderName(name)
		}

		provider, err := buildProvider(kind, name, cfg.Model, apiKey, baseURL)
		if err != nil {
			log.Warn().Err(err).Str("provider", name).Str("type", kind).Msg("failed to build provider")
			continue
		}
		if provider != nil {
			registry.Register(provider)
		}
	}

	autoRegister(registry, configuredProviders, "anthropic", TypeAnthropic, "ANTHROPIC_API_KEY")
	autoRegister(registry, configuredProviders, "openai", TypeOpenAI, "OPENAI_API_KEY")
	autoRegister(registry, configuredProviders, "gemini", TypeGemini, "GEMINI_API_KEY")
	if !configuredProviders["ollama"] {
		if p, err := buildProvider(TypeOllama, "ollama", "", "", ""); err == nil {
			registry.Register(p)
			log.Debug().Str("provider", "ollama").Msg("auto-registered local default")
		}
	}

	return registry, nil
}

func buildProvider(kind, name, model, apiKey, baseURL string) (Provider, error) {
	switch kind {
	case TypeAnthropic:
		return NewAnthropicProvider(&AnthropicConfig{ID: name, APIKey: apiKey, BaseURL: baseURL, Model: model, MaxTokens: 8192})
	case TypeOpenAI:
		return NewOpenAIProvider(&OpenAIConfig{ID: name, APIKey: apiKey, BaseURL: baseURL, Model: model, MaxTokens: 4096})
	case TypeOpenAIResponses:
		return NewOpenAIResponsesProvider(&OpenAIResponsesConfig{ID: name, APIKey: apiKey, BaseURL: baseURL, Model: model, MaxTokens: 8192})
	case TypeGemini:
		return NewGeminiProvider(&GeminiConfig{ID: name, APIKey: apiKey, BaseURL: baseURL, Model: model, MaxTokens: 8192})
	case TypeOllama:
		return NewOllamaProvider(&OllamaConfig{ID: name, BaseURL: baseURL, Model: model, MaxTokens: 4096})
	default:
		return nil, fmt.Errorf("unknown provider type %q for %q", kind, name)
	}
}

func autoRegister(registry *Registry, configured map[string]bool, name, kind, envVar string) {
	if configured[name] {
		return
	}
	apiKey := os.Getenv(envVar)
	if apiKey == "" {
		return
	}
	provider, err := buildProvider(kind, name, "", apiKey, "")
	if err != nil {
		log.Warn().Err(err).Str("provider", name).Msg("auto-register failed")
		return
	}
	registry.Register(provider)
	log.Debug().Str("provider", name).Msg("auto-registered from environment")
}

// inferTypeFromProviderName maps well-known provider names to wire types.
func inferTypeFromProviderName(name string) string {
	switch name {
	case "anthropic", "claude":
		return TypeAnthropic
	case "openai":
		return TypeOpenAI
	case "openai-responses":
		return TypeOpenAIResponses
	case "gemini", "vertex":
		return TypeGemini
	case "ollama":
		return TypeOllama
	default:
		return ""
	}
}

// getProviderCredentials extracts API key and base URL from provider config.
func getProviderCredentials(cfg types.ProviderConfig) (apiKey, baseURL string) {
	apiKey, baseURL = cfg.APIKey, cfg.BaseURL
	if cfg.Options != nil {
		if cfg.Options.APIKey != "" {
			apiKey = cfg.Options.APIKey
		}
		if cfg.Options.BaseURL != "" {
			baseURL = cfg.Options.BaseURL
		}
	}
	return apiKey, baseURL
}
