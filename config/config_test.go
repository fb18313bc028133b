package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadValidConfig(t *testing.T) {
	yamlConfig := `
server:
  port: 9090
  read_timeout: 45s
  write_timeout: 45s
  max_header_bytes: 2097152
  shutdown_timeout: 45s

llm:
  provider: openai
  model: gpt-4o-mini
  endpoint: https://api.openai.com/v1
  options:
    temperature: 0.8
    max_tokens: 4000

company:
  name: Asset Telematics
  agent_name: FinBot

speech:
  enabled: true
  transcription_model: whisper-1
  voice: nova

archive:
  enabled: true
  table: finbot-conversations
  region: us-east-1
  ttl: 2160h

logging:
  level: debug
  format: json

routes:
  - path: /v1/chat
    handler: chat
  - path: /v1/transcribe
    handler: transcribe
  - path: /health
    handler: health
`

	config, err := Load(strings.NewReader(yamlConfig))
	if err != nil {
		t.Fatalf("Failed to load valid config: %v", err)
	}

	// Check server config
	if config.Server.Port != 9090 {
		t.Errorf("unexpected port: got %d, want %d", config.Server.Port, 9090)
	}
	if config.Server.ReadTimeout != 45*time.Second {
		t.Errorf("unexpected read timeout: got %v, want %v", config.Server.ReadTimeout, 45*time.Second)
	}

	// Check provider config
	if config.LLM.Provider != "openai" {
		t.Errorf("unexpected provider: got %s, want %s", config.LLM.Provider, "openai")
	}
	if config.LLM.Model != "gpt-4o-mini" {
		t.Errorf("unexpected model: got %s, want %s", config.LLM.Model, "gpt-4o-mini")
	}

	// Check company config
	if config.Company.Name != "Asset Telematics" {
		t.Errorf("unexpected company name: got %s", config.Company.Name)
	}

	// Check speech config
	if !config.Speech.Enabled {
		t.Error("expected speech to be enabled")
	}
	if config.Speech.Voice != "nova" {
		t.Errorf("unexpected voice: got %s, want %s", config.Speech.Voice, "nova")
	}
	// Unset speech fields keep their defaults
	if config.Speech.SynthesisModel != "tts-1" {
		t.Errorf("unexpected synthesis model: got %s, want %s", config.Speech.SynthesisModel, "tts-1")
	}

	// Check archive config
	if !config.Archive.Enabled {
		t.Error("expected archive to be enabled")
	}
	if config.Archive.TTL != 2160*time.Hour {
		t.Errorf("unexpected archive TTL: got %v", config.Archive.TTL)
	}

	// Check logging config
	if config.Logging.Level != "debug" {
		t.Errorf("unexpected log level: got %s, want %s", config.Logging.Level, "debug")
	}
	if config.Logging.Format != "json" {
		t.Errorf("unexpected log format: got %s, want %s", config.Logging.Format, "json")
	}

	// Check routes
	if len(config.Routes) != 3 {
		t.Errorf("unexpected number of routes: got %d, want %d", len(config.Routes), 3)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config string
		want   string
	}{
		{
			name: "invalid port",
			config: `
server:
  port: -1
`,
			want: "invalid port",
		},
		{
			name: "invalid log level",
			config: `
logging:
  level: invalid
`,
			want: "invalid log level",
		},
		{
			name: "empty provider",
			config: `
llm:
  provider: ""
`,
			want: "empty completion provider",
		},
		{
			name: "empty company name",
			config: `
company:
  name: ""
`,
			want: "empty company name",
		},
		{
			name: "archive without table",
			config: `
archive:
  enabled: true
  table: ""
`,
			want: "archive enabled but table not specified",
		},
		{
			name: "empty route path",
			config: `
routes:
  - path: ""
    handler: test
`,
			want: "empty path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.config))
			if err == nil {
				t.Error("expected error, got nil")
			} else if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("unexpected error: got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	// Check server defaults
	if config.Server.Port != 8080 {
		t.Errorf("unexpected default port: got %d, want %d", config.Server.Port, 8080)
	}
	if config.Server.ReadTimeout != 30*time.Second {
		t.Errorf("unexpected default read timeout: got %v, want %v", config.Server.ReadTimeout, 30*time.Second)
	}

	// Check provider defaults
	if config.LLM.Provider != "openai" {
		t.Errorf("unexpected default provider: got %s, want %s", config.LLM.Provider, "openai")
	}
	if config.LLM.Model != "gpt-4o-mini" {
		t.Errorf("unexpected default model: got %s, want %s", config.LLM.Model, "gpt-4o-mini")
	}

	// Check company defaults
	if config.Company.Name == "" || config.Company.AgentName == "" {
		t.Error("default company identity must be populated")
	}

	// Speech on, archive off by default
	if !config.Speech.Enabled {
		t.Error("expected speech enabled by default")
	}
	if config.Archive.Enabled {
		t.Error("expected archive disabled by default")
	}

	// Check logging defaults
	if config.Logging.Level != "info" {
		t.Errorf("unexpected default log level: got %s, want %s", config.Logging.Level, "info")
	}
	if config.Logging.Format != "json" {
		t.Errorf("unexpected default log format: got %s, want %s", config.Logging.Format, "json")
	}

	// Check default routes
	if len(config.Routes) != 4 {
		t.Errorf("unexpected number of default routes: got %d, want %d", len(config.Routes), 4)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}
