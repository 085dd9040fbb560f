package openai

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"

	defaultAzureAPIVersion = "2024-08-01-preview"
)

// Config for the OpenAI client.
type Config struct {
	Provider   string        // openai | azure
	APIKey     string        // if empty, falls back to env OPENAI_API_KEY
	BaseURL    string        // default https://api.openai.com/v1; Azure resource endpoint for azure
	APIVersion string        // azure only
	Timeout    time.Duration // http client timeout
}

type Client struct {
	cfg    Config
	api    *openai.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderOpenAI
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	var clientCfg openai.ClientConfig
	switch cfg.Provider {
	case ProviderOpenAI:
		clientCfg = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
	case ProviderAzure:
		if cfg.BaseURL == "" {
			return nil, errors.New("azure: endpoint is required")
		}
		if cfg.APIVersion == "" {
			cfg.APIVersion = defaultAzureAPIVersion
		}
		clientCfg = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		clientCfg.APIVersion = cfg.APIVersion
		// model names are deployment names verbatim
		clientCfg.AzureModelMapperFunc = func(model string) string { return model }
	default:
		return nil, errors.New("openai: unknown provider " + cfg.Provider)
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		cfg:    cfg,
		api:    openai.NewClientWithConfig(clientCfg),
		logger: logger,
	}, nil
}
