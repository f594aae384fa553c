package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies the profile named
// by the BOT_PROFILE environment variable (if any), and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies the BOT_PROFILE
// selection, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	// Secrets are usually referenced as ${VAR} rather than written into the
	// file. Only the secret-bearing fields are expanded.
	cfg.LLM.APIKey = os.ExpandEnv(cfg.LLM.APIKey)
	cfg.CallLog.PostgresDSN = os.ExpandEnv(cfg.CallLog.PostgresDSN)

	if name := os.Getenv(BotProfileEnv); name != "" {
		if err := cfg.ApplyProfile(name); err != nil {
			return nil, err
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyProfile overlays the named profile onto the LLM and welcome settings.
// Empty profile fields leave the base values untouched.
func (cfg *Config) ApplyProfile(name string) error {
	profile, ok := cfg.Profiles[name]
	if !ok {
		return fmt.Errorf("config: profile %q not found", name)
	}
	if profile.Instructions != "" {
		cfg.LLM.Instructions = profile.Instructions
	}
	if profile.InstructionsAddendum != "" {
		cfg.LLM.InstructionsAddendum = profile.InstructionsAddendum
	}
	if profile.WelcomeText != "" {
		cfg.Welcome.Text = profile.WelcomeText
	}
	slog.Info("config: profile applied", "profile", name)
	return nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.VAD.SpeechThreshold < 0 || cfg.VAD.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.speech_threshold %.2f is out of range [0, 1]", cfg.VAD.SpeechThreshold))
	}
	for _, d := range []struct {
		name  string
		value int
	}{
		{"vad.start_ms", cfg.VAD.StartMs},
		{"vad.end_ms", cfg.VAD.EndMs},
		{"vad.pre_roll_ms", cfg.VAD.PreRollMs},
		{"vad.max_speech_ms", cfg.VAD.MaxSpeechMs},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}

	if cfg.STT.ModelPath == "" {
		errs = append(errs, errors.New("stt.model_path is required"))
	}

	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if cfg.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key is required"))
	}
	if t := cfg.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f is out of range [0, 2]", *t))
	}
	if m := cfg.LLM.MaxTokens; m != nil && *m < 0 {
		errs = append(errs, errors.New("llm.max_tokens must not be negative"))
	}

	if cfg.TTS.ServerURL == "" {
		errs = append(errs, errors.New("tts.server_url is required"))
	}
	if cfg.TTS.SampleRate < 0 {
		errs = append(errs, errors.New("tts.sample_rate must not be negative"))
	}

	seen := make(map[string]int, len(cfg.Extensions))
	for i, ext := range cfg.Extensions {
		prefix := fmt.Sprintf("extensions[%d]", i)
		if ext.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[ext.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of extensions[%d]", prefix, ext.Name, prev))
			}
			seen[ext.Name] = i
		}
		if ext.Address == "" {
			errs = append(errs, fmt.Errorf("%s.address is required", prefix))
		}
	}

	if cfg.Welcome.Text == "" {
		slog.Warn("welcome.text is empty; calls will be answered silently")
	}
	if cfg.CallLog.PostgresDSN == "" {
		slog.Info("call_log.postgres_dsn is empty; call records will not be persisted")
	}

	return errors.Join(errs...)
}
