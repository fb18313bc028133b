// Package config provides configuration management for the FinBot chat
// gateway. It covers the HTTP server, completion providers, speech
// services, conversation archiving, and runtime behavior customization.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration. It combines server
// settings, provider configuration, company identity, speech and archive
// settings, logging preferences, and route definitions into a single
// structure.
type Config struct {
	Server             ServerConfig              `yaml:"server"`
	LLM                LLMConfig                 `yaml:"llm"`
	Company            CompanyConfig             `yaml:"company"`
	Speech             SpeechConfig              `yaml:"speech"`
	Archive            ArchiveConfig             `yaml:"archive"`
	Analysis           AnalysisConfig            `yaml:"analysis"`
	Processing         ProcessingConfig          `yaml:"processing"`
	Logging            LoggingConfig             `yaml:"logging"`
	Routes             []RouteConfig             `yaml:"routes"`
	Providers          map[string]ProviderConfig `yaml:"providers"`
	ProviderPreference []string                  `yaml:"provider_preference"` // Order of provider preference
	CircuitBreaker     CircuitBreakerConfig      `yaml:"circuit_breaker"`
	Queue              QueueConfig               `yaml:"queue"`
	TestMode           bool                      `yaml:"-"` // Skip provider initialization in tests
}

// ServerConfig holds server-specific configuration for the HTTP server.
// It defines timeouts, limits, and operational parameters.
type ServerConfig struct {
	// Port specifies the HTTP server port (default: 8080)
	Port int `yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body (default: 30s)
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response (default: 45s)
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header's keys and values (default: 2MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// ShutdownTimeout specifies how long to wait for the server to shut down
	// gracefully before forcing termination (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// APIKeys lists the X-API-Key values accepted by routes carrying the
	// "auth" middleware. Empty keeps the development behavior of
	// accepting any non-empty key.
	APIKeys []string `yaml:"api_keys"`
}

// LLMConfig holds completion-provider configuration. It supports multiple
// providers (OpenAI, Anthropic, Ollama) and includes settings for token
// validation and generation parameters.
type LLMConfig struct {
	// Provider specifies the completion provider (e.g., "openai",
	// "anthropic", "ollama")
	Provider string `yaml:"provider"`

	// Model is the name of the model to use (e.g., "gpt-4o-mini")
	Model string `yaml:"model"`

	// APIKey is the authentication key for the provider's API.
	// Use environment variables (e.g., ${OPENAI_API_KEY}) for secure
	// configuration.
	APIKey string `yaml:"api_key"`

	// Endpoint is the API endpoint URL.
	// For Ollama, this is typically "http://localhost:11434".
	Endpoint string `yaml:"endpoint"`

	// MaxContextTokens is the maximum number of tokens accepted in a single
	// request's transcript, enforced before the provider call.
	MaxContextTokens int `yaml:"max_context_tokens"`

	// Retry configuration (optional)
	Retry *RetryConfig `yaml:"retry,omitempty"`

	// Options contains provider-specific generation parameters
	Options map[string]interface{} `yaml:"options"`

	// BackupProviders defines failover providers (optional)
	BackupProviders []BackupProvider `yaml:"backup_providers,omitempty"`

	// HealthCheck defines provider health monitoring settings (optional)
	HealthCheck *ProviderHealthCheck `yaml:"health_check,omitempty"`
}

// BackupProvider defines a fallback completion provider
type BackupProvider struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
}

// ProviderHealthCheck defines health check settings
type ProviderHealthCheck struct {
	Enabled          bool          `yaml:"enabled"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

// RetryConfig defines the retry behavior for provider health probes.
// Chat completions themselves are never retried by the gateway; transient
// failures surface to the caller, who decides whether to retry.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (default: 3)
	MaxRetries int `yaml:"max_retries"`

	// InitialDelay is the delay before the first retry (default: 1s)
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay caps the maximum delay between retries (default: 30s)
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier increases the delay after each retry (default: 2).
	// The delay pattern is: initial_delay * (multiplier ^ retry_count).
	Multiplier float64 `yaml:"multiplier"`
}

// ProviderConfig holds configuration for a completion provider
type ProviderConfig struct {
	Type   string `yaml:"type"`    // Provider type (e.g., openai, anthropic)
	Model  string `yaml:"model"`   // Model name
	APIKey string `yaml:"api_key"` // API key for authentication
}

// CompanyConfig identifies the business the agent collects on behalf of.
// These values are substituted into the context prompt template.
type CompanyConfig struct {
	// Name is the company name presented by the agent
	Name string `yaml:"name"`

	// AgentName is the persona name the agent introduces itself with
	AgentName string `yaml:"agent_name"`

	// PaymentPortal is the URL quoted to customers for settling balances
	PaymentPortal string `yaml:"payment_portal"`

	// SupportPhone is the callback number quoted for disputes
	SupportPhone string `yaml:"support_phone"`
}

// SpeechConfig holds speech-to-text and text-to-speech settings.
type SpeechConfig struct {
	// Enabled turns the speech endpoints and response audio on/off
	Enabled bool `yaml:"enabled"`

	// APIKey authenticates against the speech provider.
	// Defaults to the completion provider's key when empty.
	APIKey string `yaml:"api_key"`

	// Endpoint overrides the speech provider base URL (optional)
	Endpoint string `yaml:"endpoint"`

	// TranscriptionModel is the speech-to-text model (default: whisper-1)
	TranscriptionModel string `yaml:"transcription_model"`

	// SynthesisModel is the text-to-speech model (default: tts-1)
	SynthesisModel string `yaml:"synthesis_model"`

	// Voice selects the synthesis voice (default: alloy)
	Voice string `yaml:"voice"`

	// MaxUploadBytes limits the size of uploaded audio (default: 10MB)
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// RequestTimeout bounds each speech provider call (default: 30s)
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ArchiveConfig holds conversation archive settings. Archiving is
// fire-and-forget: a failed write never fails the chat request.
type ArchiveConfig struct {
	// Enabled turns conversation archiving on/off
	Enabled bool `yaml:"enabled"`

	// Table is the DynamoDB table name
	Table string `yaml:"table"`

	// Region is the AWS region; falls back to the SDK's default resolution
	// chain when empty
	Region string `yaml:"region"`

	// Endpoint overrides the DynamoDB endpoint (useful for local testing)
	Endpoint string `yaml:"endpoint"`

	// TTL is how long archived turns are retained (default: 90 days).
	// Zero disables expiry.
	TTL time.Duration `yaml:"ttl"`

	// WriteTimeout bounds each background archive write (default: 5s)
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AnalysisConfig holds message analysis settings. Analysis is best-effort
// advisory input to the context prompt; it never fails a request.
type AnalysisConfig struct {
	// Enabled turns sentiment and entity analysis on/off
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level sets logging verbosity: debug, info, warn, error
	Level string `yaml:"level"`

	// Format specifies log output format: json or text
	Format string `yaml:"format"`
}

// RouteConfig holds route-specific configuration.
type RouteConfig struct {
	// Path is the URL path to match
	Path string `yaml:"path"`

	// Handler specifies which handler to use for this route
	Handler string `yaml:"handler"`

	// Version specifies the API version (e.g., "v1", "v2")
	Version string `yaml:"version"`

	// Methods specifies the allowed HTTP methods for this route
	Methods []string `yaml:"methods"`

	// Headers specifies the required headers for this route
	Headers map[string]string `yaml:"headers,omitempty"`

	// Middleware specifies the route-specific middleware
	Middleware []string `yaml:"middleware,omitempty"`

	// HealthCheck specifies the health check configuration for this route
	HealthCheck *HealthCheck `yaml:"health_check,omitempty"`
}

// HealthCheck defines health check configuration for a route
type HealthCheck struct {
	// Enabled specifies whether health checks are enabled for this route
	Enabled bool `yaml:"enabled"`

	// Interval specifies the interval between health checks
	Interval time.Duration `yaml:"interval"`

	// Timeout specifies the timeout for health checks
	Timeout time.Duration `yaml:"timeout"`

	// Threshold specifies the number of failures before marking the route
	// as unhealthy
	Threshold int `yaml:"threshold"`

	// Checks specifies the map of check name to check type
	Checks map[string]string `yaml:"checks"`
}

type CircuitBreakerConfig struct {
	// MaxRequests is maximum number of requests allowed to pass through
	// when in half-open state
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state for the circuit
	// breaker
	Interval time.Duration `yaml:"interval"`

	// Timeout is the period of the open state until it becomes half-open
	Timeout time.Duration `yaml:"timeout"`

	// FailureThreshold is the number of failures needed to trip the circuit
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// TestMode indicates whether to skip Prometheus metric registration
	// (for testing)
	TestMode bool `yaml:"test_mode"`
}

// QueueConfig defines the configuration for the request queue middleware.
// It controls queue size, persistence, and state management.
type QueueConfig struct {
	// Enabled determines if the queue middleware is active
	Enabled bool `yaml:"enabled"`

	// InitialSize is the starting maximum size of the queue
	InitialSize int64 `yaml:"initial_size"`

	// StatePath is the file path where queue state is persisted.
	// If empty, persistence is disabled.
	StatePath string `yaml:"state_path"`

	// SaveInterval is how often the queue state is saved.
	// If 0, periodic saving is disabled.
	SaveInterval time.Duration `yaml:"save_interval"`
}

// DefaultConfig returns a configuration suitable for local development:
// a single OpenAI-compatible provider, speech enabled, archiving disabled.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    45 * time.Second,
			MaxHeaderBytes:  2 << 20,
			ShutdownTimeout: 30 * time.Second,
		},

		LLM: LLMConfig{
			Provider:         "openai",
			Model:            "gpt-4o-mini",
			APIKey:           "${OPENAI_API_KEY}",
			MaxContextTokens: 16384,

			BackupProviders: []BackupProvider{
				{
					Provider: "anthropic",
					Model:    "claude-3-haiku",
					APIKey:   "${ANTHROPIC_API_KEY}",
				},
			},

			HealthCheck: &ProviderHealthCheck{
				Enabled:          true,
				Interval:         15 * time.Second,
				Timeout:          5 * time.Second,
				FailureThreshold: 2,
			},

			Retry: &RetryConfig{
				MaxRetries:   3,
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     5 * time.Second,
				Multiplier:   2,
			},

			Options: map[string]interface{}{
				"temperature": 0.7,
				"top_p":       0.9,
			},
		},

		Company: CompanyConfig{
			Name:          "Asset Telematics",
			AgentName:     "FinBot",
			PaymentPortal: "https://pay.assettelematics.example/portal",
			SupportPhone:  "1-800-555-0134",
		},

		Speech: SpeechConfig{
			Enabled:            true,
			TranscriptionModel: "whisper-1",
			SynthesisModel:     "tts-1",
			Voice:              "alloy",
			MaxUploadBytes:     10 << 20,
			RequestTimeout:     30 * time.Second,
		},

		Archive: ArchiveConfig{
			Enabled:      false,
			Table:        "finbot-conversations",
			TTL:          90 * 24 * time.Hour,
			WriteTimeout: 5 * time.Second,
		},

		Analysis: AnalysisConfig{
			Enabled: true,
		},

		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      100,
			Interval:         30 * time.Second,
			Timeout:          10 * time.Second,
			FailureThreshold: 5,
			TestMode:         false,
		},

		ProviderPreference: []string{
			"openai",
			"anthropic",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},

		Routes: []RouteConfig{
			{
				Path:    "/v1/chat",
				Handler: "chat",
				Version: "v1",
				Methods: []string{"POST", "OPTIONS"},
				Middleware: []string{
					"timeout",
					"rate-limit",
					"cors",
					"logging",
				},
			},
			{
				Path:    "/v1/transcribe",
				Handler: "transcribe",
				Version: "v1",
				Methods: []string{"POST", "OPTIONS"},
				Middleware: []string{
					"timeout",
					"rate-limit",
					"cors",
					"logging",
				},
			},
			{
				Path:    "/v1/customers",
				Handler: "customers",
				Version: "v1",
				Methods: []string{"GET", "OPTIONS"},
				Middleware: []string{
					"cors",
					"logging",
				},
			},
			{
				Path:       "/v1/conversations/{id}",
				Handler:    "history",
				Version:    "v1",
				Methods:    []string{"GET"},
				Middleware: []string{"auth", "logging"},
			},
			{
				Path:    "/health",
				Handler: "health",
				Methods: []string{"GET"},
			},
			{
				Path:       "/metrics",
				Handler:    "metrics",
				Methods:    []string{"GET"},
				Middleware: []string{"auth"},
			},
		},

		Queue: QueueConfig{
			Enabled:      false,
			InitialSize:  1000,
			StatePath:    "",
			SaveInterval: 30 * time.Second,
		},
	}
}

// LoadFile loads configuration from a YAML file
func LoadFile(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// expandEnvVars resolves environment variable references within
// configuration strings before YAML decoding. It supports:
//
//   - Standard substitution: "${DB_HOST}" → "localhost"
//   - Default value syntax: "${PORT:-8080}" → "8080" (if PORT is unset)
//   - Nested references, resolved recursively until stable
func expandEnvVars(s string) (string, error) {
	result := os.Expand(s, func(key string) string {
		// ${VAR:-default} falls back when the variable is unset or empty
		if i := strings.Index(key, ":-"); i >= 0 {
			if val := os.Getenv(key[:i]); val != "" {
				return val
			}
			return key[i+2:]
		}
		return os.Getenv(key)
	})

	// Resolve nested references until no further substitution happens
	prev := ""
	for prev != result {
		prev = result
		result = os.Expand(result, os.Getenv)
	}

	// Reject references that open but never close
	if i := strings.LastIndex(s, "${"); i >= 0 && !strings.Contains(s[i:], "}") {
		return "", fmt.Errorf("unterminated variable reference at offset %d", i)
	}

	return result, nil
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expandedData, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expand environment variables: %w", err)
	}

	// Start with defaults, decode YAML on top
	config := DefaultConfig()

	dec := yaml.NewDecoder(strings.NewReader(expandedData))
	if err := dec.Decode(config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("negative read timeout: %v", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("negative write timeout: %v", c.Server.WriteTimeout)
	}
	if c.Server.MaxHeaderBytes < 0 {
		return fmt.Errorf("negative max header bytes: %d", c.Server.MaxHeaderBytes)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("negative shutdown timeout: %v", c.Server.ShutdownTimeout)
	}

	// Provider validation
	if c.LLM.Provider == "" {
		return fmt.Errorf("empty completion provider")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("empty completion model")
	}
	if c.LLM.MaxContextTokens < 0 {
		return fmt.Errorf("negative max context tokens: %d", c.LLM.MaxContextTokens)
	}

	// Company validation
	if c.Company.Name == "" {
		return fmt.Errorf("empty company name")
	}
	if c.Company.AgentName == "" {
		return fmt.Errorf("empty agent name")
	}

	// Speech validation
	if c.Speech.Enabled {
		if c.Speech.MaxUploadBytes <= 0 {
			return fmt.Errorf("speech max upload bytes must be positive: %d", c.Speech.MaxUploadBytes)
		}
		if c.Speech.RequestTimeout <= 0 {
			return fmt.Errorf("speech request timeout must be positive: %v", c.Speech.RequestTimeout)
		}
	}

	// Archive validation
	if c.Archive.Enabled {
		if c.Archive.Table == "" {
			return fmt.Errorf("archive enabled but table not specified")
		}
		if c.Archive.TTL < 0 {
			return fmt.Errorf("negative archive TTL: %v", c.Archive.TTL)
		}
		if c.Archive.WriteTimeout <= 0 {
			return fmt.Errorf("archive write timeout must be positive: %v", c.Archive.WriteTimeout)
		}
	}

	// Logging validation
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	// Route validation
	for i, route := range c.Routes {
		if route.Path == "" {
			return fmt.Errorf("empty path in route %d", i)
		}
		if route.Handler == "" {
			return fmt.Errorf("empty handler in route %d", i)
		}
		if route.Version == "" {
			return fmt.Errorf("empty version in route %d", i)
		}
	}

	return nil
}
