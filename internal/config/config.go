// Package config provides the configuration schema and loader for the
// voxbridge relay.
package config

// LogLevel controls log verbosity for the relay.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Mode is the deployment mode reported by the health endpoint.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModeDevelopment || m == ModeProduction
}

// Config is the root configuration structure for voxbridge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader],
// then overlaid with environment variables via [ApplyEnv].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	AgentAPI  AgentAPIConfig  `yaml:"agent_api"`
	Costs     CostsConfig     `yaml:"costs"`
}

// ServerConfig holds network and logging settings for the relay server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// Mode is reported by /health and selects log output format.
	Mode Mode `yaml:"mode"`
}

// ProvidersConfig holds per-stage provider credentials and model selection.
type ProvidersConfig struct {
	STT STTConfig `yaml:"stt"`
	LLM LLMConfig `yaml:"llm"`
	TTS TTSConfig `yaml:"tts"`
}

// STTConfig configures the speech-to-text provider.
type STTConfig struct {
	// APIKey authenticates against the transcription API.
	APIKey string `yaml:"api_key"`

	// Model selects the transcription model (e.g., "nova-2").
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`
}

// LLMConfig configures the chat completion provider.
type LLMConfig struct {
	// APIKey authenticates against the completion API.
	APIKey string `yaml:"api_key"`

	// SmallModel handles ordinary prompts.
	SmallModel string `yaml:"small_model"`

	// LargeModel handles prompts over the context threshold.
	LargeModel string `yaml:"large_model"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`
}

// TTSConfig configures the text-to-speech provider.
type TTSConfig struct {
	// APIKey authenticates against the synthesis API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`
}

// AgentAPIConfig points at the backend that serves agent configuration and
// receives call-log reports.
type AgentAPIConfig struct {
	// BaseURL is the backend root (e.g., "https://api.example.com/internal").
	BaseURL string `yaml:"base_url"`

	// Secret is sent as X-Api-Secret on every request.
	Secret string `yaml:"secret"`
}

// CostsConfig overrides the per-unit cost model used for the estimated_cost
// field of the call report. Zero values fall back to the documented defaults.
type CostsConfig struct {
	STTPerMinute     float64 `yaml:"stt_per_minute"`
	LLMInputPerMTok  float64 `yaml:"llm_input_per_mtok"`
	LLMOutputPerMTok float64 `yaml:"llm_output_per_mtok"`
	TTSPerMChar      float64 `yaml:"tts_per_mchar"`
}
