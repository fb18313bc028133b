package config

// ProcessingConfig defines the configuration for request/response processing
type ProcessingConfig struct {
	// PromptTemplate overrides the built-in context prompt template.
	// Empty means the compiled-in default is used.
	PromptTemplate string `yaml:"prompt_template"`

	// ResponseFormatting configures how agent replies are formatted
	ResponseFormatting ResponseFormattingConfig `yaml:"response_formatting"`
}

// ResponseFormattingConfig defines response formatting options
type ResponseFormattingConfig struct {
	// TrimWhitespace removes extra whitespace from replies
	TrimWhitespace bool `yaml:"trim_whitespace"`

	// MaxLength limits the reply length in characters; 0 means unlimited
	MaxLength int `yaml:"max_length"`
}
