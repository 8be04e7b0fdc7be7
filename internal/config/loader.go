package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Validate] when the corresponding field is empty.
const (
	DefaultListenAddr = ":8080"
	DefaultSmallModel = "gpt-4o-mini"
	DefaultLargeModel = "gpt-4o"
	DefaultSTTModel   = "nova-2"
)

// Load reads the YAML configuration file at path, overlays environment
// variables, and returns a validated [Config]. A missing file is not an
// error; the config is then built from environment variables alone.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{}
			ApplyEnv(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, overlays environment
// variables, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays well-known environment variables onto cfg. Environment
// values win over file values so that secrets never need to live on disk.
func ApplyEnv(cfg *Config) {
	setIfEnv(&cfg.Providers.STT.APIKey, "DEEPGRAM_API_KEY")
	setIfEnv(&cfg.Providers.LLM.APIKey, "OPENAI_API_KEY")
	setIfEnv(&cfg.Providers.TTS.APIKey, "ELEVENLABS_API_KEY")
	setIfEnv(&cfg.AgentAPI.BaseURL, "AGENT_API_BASE_URL")
	setIfEnv(&cfg.AgentAPI.Secret, "AGENT_API_SECRET")

	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.ListenAddr = ":" + port
	}
}

func setIfEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults for empty fields. It returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	} else if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = ModeDevelopment
	} else if !cfg.Server.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("server.mode %q is invalid; valid values: development, production", cfg.Server.Mode))
	}

	if cfg.Providers.STT.Model == "" {
		cfg.Providers.STT.Model = DefaultSTTModel
	}
	if cfg.Providers.LLM.SmallModel == "" {
		cfg.Providers.LLM.SmallModel = DefaultSmallModel
	}
	if cfg.Providers.LLM.LargeModel == "" {
		cfg.Providers.LLM.LargeModel = DefaultLargeModel
	}

	if cfg.Providers.LLM.APIKey == "" {
		errs = append(errs, errors.New("providers.llm.api_key is required (or set OPENAI_API_KEY)"))
	}
	if cfg.Providers.TTS.APIKey == "" {
		errs = append(errs, errors.New("providers.tts.api_key is required (or set ELEVENLABS_API_KEY)"))
	}
	if cfg.AgentAPI.BaseURL == "" {
		errs = append(errs, errors.New("agent_api.base_url is required (or set AGENT_API_BASE_URL)"))
	}

	// The STT key is checked per call so the server can come up without it
	// and fail calls explicitly; see the session start handshake.

	return errors.Join(errs...)
}
