package config_test

import (
	"strings"
	"testing"

	"github.com/calebtt/SipBotOpen/internal/config"
)

const validYAML = `
server:
  log_level: info
  metrics_addr: ":9090"
vad:
  speech_threshold: 0.3
  max_speech_ms: 7000
stt:
  model_path: /var/lib/sipbot/ggml-base.en.bin
  model_url: https://example.com/ggml-base.en.bin
llm:
  api_key: sk-test
  model: gpt-4o-mini
  instructions: You answer the phone.
  tool_guidance: "Use {extensions} when transferring."
tts:
  server_url: ws://localhost:8880/synthesize
  voice: amy
welcome:
  text: Thanks for calling.
  audio_path: /var/lib/sipbot/welcome.wav
extensions:
  - name: kitchen
    number: "101"
    address: sip:kitchen@pbx.local
    description: Kitchen staff
profiles:
  after_hours:
    instructions: You answer the phone after hours.
    welcome_text: We are closed right now.
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("llm.model = %q", cfg.LLM.Model)
	}
	if len(cfg.Extensions) != 1 || cfg.Extensions[0].Address != "sip:kitchen@pbx.local" {
		t.Errorf("extensions = %+v", cfg.Extensions)
	}
	if cfg.Welcome.Text != "Thanks for calling." {
		t.Errorf("welcome.text = %q", cfg.Welcome.Text)
	}
}

func TestLoadFromReader_ExpandsSecretEnvRefs(t *testing.T) {
	t.Setenv("SIPBOT_TEST_KEY", "sk-from-env")

	yaml := strings.Replace(validYAML, "api_key: sk-test", "api_key: ${SIPBOT_TEST_KEY}", 1)
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.LLM.APIKey != "sk-from-env" {
		t.Errorf("llm.api_key = %q, want the expanded env value", cfg.LLM.APIKey)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	yaml := validYAML + "\nnot_a_field: true\n"
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("unknown top-level field must be rejected")
	}
}

func TestLoadFromReader_ProfileFromEnv(t *testing.T) {
	t.Setenv(config.BotProfileEnv, "after_hours")

	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.LLM.Instructions != "You answer the phone after hours." {
		t.Errorf("profile instructions not applied: %q", cfg.LLM.Instructions)
	}
	if cfg.Welcome.Text != "We are closed right now." {
		t.Errorf("profile welcome not applied: %q", cfg.Welcome.Text)
	}
	// Fields the profile leaves empty keep their base values.
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("base llm.model lost: %q", cfg.LLM.Model)
	}
}

func TestLoadFromReader_UnknownProfile(t *testing.T) {
	t.Setenv(config.BotProfileEnv, "missing")

	if _, err := config.LoadFromReader(strings.NewReader(validYAML)); err == nil {
		t.Fatal("unknown profile must be an error")
	}
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.LogLevel = "loud"
	cfg.VAD.SpeechThreshold = 1.5
	cfg.VAD.StartMs = -1

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	for _, want := range []string{
		"server.log_level",
		"vad.speech_threshold",
		"vad.start_ms",
		"stt.model_path is required",
		"llm.model is required",
		"llm.api_key is required",
		"tts.server_url is required",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("joined error missing %q:\n%s", want, msg)
		}
	}
}

func TestValidate_DuplicateExtensionNames(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	cfg.Extensions = append(cfg.Extensions, cfg.Extensions[0])

	verr := config.Validate(cfg)
	if verr == nil || !strings.Contains(verr.Error(), "duplicate") {
		t.Fatalf("duplicate extension names must fail validation, got %v", verr)
	}
}

func TestValidate_ExtensionRequiresAddress(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	cfg.Extensions[0].Address = ""

	verr := config.Validate(cfg)
	if verr == nil || !strings.Contains(verr.Error(), "address is required") {
		t.Fatalf("missing address must fail validation, got %v", verr)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error("\"verbose\" should be invalid")
	}
}
