package common

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/docbench/constants"
)

// Config holds all application configuration
type Config struct {
	Bench    BenchConfig
	OCR      OCRConfig
	LLM      LLMConfig
	Database DatabaseConfig
}

// BenchConfig holds the parameters of a benchmark run. The yaml tags are the
// keys accepted by an overlay file.
type BenchConfig struct {
	DatasetsDir    string        `yaml:"datasets_dir"`
	OutputDir      string        `yaml:"output_dir"`
	PromptsDir     string        `yaml:"prompts_dir"`
	Dataset        string        `yaml:"dataset"`
	Model          string        `yaml:"model"`
	Temperature    float64       `yaml:"temperature"`
	KVThreshold    float64       `yaml:"kv_threshold"`
	CanonicalTau   float64       `yaml:"canonical_tau"`
	OCRWorkers     int           `yaml:"ocr_workers"`
	LLMWorkers     int           `yaml:"llm_workers"`
	OCRTimeout     time.Duration `yaml:"ocr_timeout"`
	LLMTimeout     time.Duration `yaml:"llm_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	OCRMinInterval time.Duration `yaml:"ocr_min_interval"`
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Engine       string // gosseract | tesseract
	Language     string
	TessdataDir  string
	TesseractBin string
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Provider   string // openai | azure
	APIKey     string
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
}

// DatabaseConfig holds run ledger configuration. An empty DSN disables the
// ledger.
type DatabaseConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Bench: BenchConfig{
			DatasetsDir:    getEnv("DOCBENCH_DATASETS_DIR", "datasets"),
			OutputDir:      getEnv("DOCBENCH_OUTPUT_DIR", "benchmarks"),
			PromptsDir:     getEnv("DOCBENCH_PROMPTS_DIR", "prompts"),
			Dataset:        getEnv("DOCBENCH_DATASET", "cord"),
			Model:          getEnv("DOCBENCH_MODEL", "gpt-4o-mini"),
			Temperature:    getEnvAsFloat("DOCBENCH_TEMPERATURE", 0.3),
			KVThreshold:    getEnvAsFloat("DOCBENCH_KV_THRESHOLD", 0.20),
			CanonicalTau:   getEnvAsFloat("DOCBENCH_CANONICAL_TAU", 0.80),
			OCRWorkers:     getEnvAsInt("DOCBENCH_OCR_WORKERS", 30),
			LLMWorkers:     getEnvAsInt("DOCBENCH_LLM_WORKERS", 30),
			OCRTimeout:     getEnvAsDuration("DOCBENCH_OCR_TIMEOUT", 120*time.Second),
			LLMTimeout:     getEnvAsDuration("DOCBENCH_LLM_TIMEOUT", 90*time.Second),
			MaxRetries:     getEnvAsInt("DOCBENCH_MAX_RETRIES", constants.MaxStageRetries),
			PollInterval:   getEnvAsDuration("DOCBENCH_POLL_INTERVAL", 200*time.Millisecond),
			OCRMinInterval: getEnvAsDuration("DOCBENCH_OCR_MIN_INTERVAL", 100*time.Millisecond),
		},
		OCR: OCRConfig{
			Engine:       getEnv("OCR_ENGINE", "gosseract"),
			Language:     getEnv("OCR_LANGUAGE", "eng"),
			TessdataDir:  getEnv("TESSDATA_PREFIX", ""),
			TesseractBin: getEnv("TESSERACT_BIN", "tesseract"),
		},
		LLM: LLMConfig{
			Provider:   getEnv("LLM_PROVIDER", "openai"),
			APIKey:     getEnv("OPENAI_API_KEY", getEnv("AZUREOPENAI_API_TOKEN", "")),
			BaseURL:    getEnv("OPENAI_BASE_URL", getEnv("AZUREOPENAI_BASE_URI", "")),
			APIVersion: getEnv("AZUREOPENAI_API_VERSION", ""),
			Timeout:    getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DOCBENCH_LEDGER_DSN", ""),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 4),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
	}
}

// ApplyOverlay reads a YAML file and overrides the Bench fields it sets.
// Environment references like ${VAR} are expanded first; unknown keys are
// rejected.
func (c *Config) ApplyOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config overlay: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&c.Bench); err != nil && !errors.Is(err, io.EOF) {
		return NewAppError("CONFIG_ERROR", "failed to parse config overlay "+path, err)
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks the settings a benchmark run depends on.
func (c *Config) Validate() error {
	b := c.Bench
	if b.Dataset == "" {
		return NewAppError("CONFIG_ERROR", "DOCBENCH_DATASET is required", ErrInvalidInput)
	}
	if b.Model == "" {
		return NewAppError("CONFIG_ERROR", "DOCBENCH_MODEL is required", ErrInvalidInput)
	}
	if b.OCRWorkers <= 0 || b.LLMWorkers <= 0 {
		return NewAppError("CONFIG_ERROR", "worker counts must be positive", ErrInvalidInput)
	}
	if b.OCRTimeout <= 0 || b.LLMTimeout <= 0 {
		return NewAppError("CONFIG_ERROR", "stage timeouts must be positive", ErrInvalidInput)
	}
	if b.MaxRetries < 0 || b.MaxRetries > constants.MaxStageRetries {
		return NewAppError("CONFIG_ERROR",
			fmt.Sprintf("DOCBENCH_MAX_RETRIES must be in [0,%d]", constants.MaxStageRetries), ErrInvalidInput)
	}
	if b.KVThreshold < 0 || b.KVThreshold > 1 {
		return NewAppError("CONFIG_ERROR", "DOCBENCH_KV_THRESHOLD must be in [0,1]", ErrInvalidInput)
	}
	if b.CanonicalTau < 0 || b.CanonicalTau > 1 {
		return NewAppError("CONFIG_ERROR", "DOCBENCH_CANONICAL_TAU must be in [0,1]", ErrInvalidInput)
	}
	switch c.OCR.Engine {
	case "gosseract", "tesseract":
	default:
		return NewAppError("CONFIG_ERROR", "OCR_ENGINE must be gosseract or tesseract", ErrInvalidInput)
	}
	switch c.LLM.Provider {
	case "openai":
	case "azure":
		if c.LLM.BaseURL == "" || c.LLM.APIVersion == "" {
			return NewAppError("CONFIG_ERROR", "azure provider needs AZUREOPENAI_BASE_URI and AZUREOPENAI_API_VERSION", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "LLM_PROVIDER must be openai or azure", ErrInvalidInput)
	}
	return nil
}

// ValidateLLM reports a missing API key; only commands that call the model
// need one.
func (c *Config) ValidateLLM() error {
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	return nil
}
