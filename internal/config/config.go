// Package config provides the configuration schema and YAML loader for the
// voice bot.
package config

import (
	"github.com/calebtt/SipBotOpen/internal/tools"
)

// BotProfileEnv names the environment variable selecting a named profile
// from the profiles map at load time.
const BotProfileEnv = "BOT_PROFILE"

// LogLevel controls log verbosity.
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

// Config is the root configuration, typically loaded from a YAML file via
// [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig       `yaml:"server"`
	VAD        VADConfig          `yaml:"vad"`
	STT        STTConfig          `yaml:"stt"`
	LLM        LLMConfig          `yaml:"llm"`
	TTS        TTSConfig          `yaml:"tts"`
	Welcome    WelcomeConfig      `yaml:"welcome"`
	Extensions []tools.Extension  `yaml:"extensions"`
	Notify     NotifyConfig       `yaml:"notify"`
	CallLog    CallLogConfig      `yaml:"call_log"`
	Profiles   map[string]Profile `yaml:"profiles"`
}

// ServerConfig holds logging and observability settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the listen address for /metrics and /healthz
	// (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// VADConfig tunes utterance segmentation. Zero values keep the built-in
// defaults.
type VADConfig struct {
	SpeechThreshold      float64 `yaml:"speech_threshold"`
	StartMs              int     `yaml:"start_ms"`
	EndMs                int     `yaml:"end_ms"`
	PreRollMs            int     `yaml:"pre_roll_ms"`
	MaxSpeechMs          int     `yaml:"max_speech_ms"`
	ResetModelOnComplete bool    `yaml:"reset_model_on_complete"`
}

// STTConfig configures the speech recognizer.
type STTConfig struct {
	// ModelPath is the local path of the recognizer model file.
	ModelPath string `yaml:"model_path"`

	// ModelURL is where the model is downloaded from when ModelPath is
	// absent.
	ModelURL string `yaml:"model_url"`

	// Language is the transcription language code (default "en").
	Language string `yaml:"language"`
}

// LLMConfig configures the language model and prompt.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	Instructions         string `yaml:"instructions"`
	InstructionsAddendum string `yaml:"instructions_addendum"`
	ToolGuidance         string `yaml:"tool_guidance"`

	// Temperature and MaxTokens override the engine's sampling defaults.
	// Absent keys keep the defaults; an explicit 0 is passed through.
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   *int     `yaml:"max_tokens"`
}

// TTSConfig configures the speech synthesizer client.
type TTSConfig struct {
	// ServerURL is the WebSocket endpoint of the synthesis server.
	ServerURL string `yaml:"server_url"`

	Voice string `yaml:"voice"`

	// SampleRate is the PCM rate requested from the server (default 22050).
	SampleRate int `yaml:"sample_rate"`
}

// WelcomeConfig configures the call-answer greeting.
type WelcomeConfig struct {
	// Text is spoken when a call is answered and seeded into history as the
	// first assistant turn.
	Text string `yaml:"text"`

	// AudioPath is where the pre-rendered greeting WAV lives. Rendered at
	// startup if missing.
	AudioPath string `yaml:"audio_path"`
}

// NotifyConfig configures operator notifications.
type NotifyConfig struct {
	// SMSNumber receives notification texts. Empty disables SMS dispatch.
	SMSNumber string `yaml:"sms_number"`
}

// CallLogConfig configures call-detail-record persistence.
type CallLogConfig struct {
	// PostgresDSN enables the call log when non-empty.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Profile is a named prompt/greeting override selected by the BOT_PROFILE
// environment variable.
type Profile struct {
	Instructions         string `yaml:"instructions"`
	InstructionsAddendum string `yaml:"instructions_addendum"`
	WelcomeText          string `yaml:"welcome_text"`
}
