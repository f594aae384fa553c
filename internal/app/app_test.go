package app

import (
	"context"
	"testing"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/calebtt/SipBotOpen/internal/calllog"
	"github.com/calebtt/SipBotOpen/internal/config"
	"github.com/calebtt/SipBotOpen/internal/stt"
	"github.com/calebtt/SipBotOpen/pkg/audio"
)

type staticRecognizer struct{}

func (staticRecognizer) Recognize(context.Context, []byte) ([]stt.Segment, error) {
	return []stt.Segment{{Text: "hello"}}, nil
}

type staticSynth struct{}

func (staticSynth) Synthesize(context.Context, string) ([]byte, int, error) {
	return make([]byte, 320), audio.TelephonyRate, nil
}

type staticCompleter struct{}

func (staticCompleter) New(context.Context, oai.ChatCompletionNewParams, ...option.RequestOption) (*oai.ChatCompletion, error) {
	return &oai.ChatCompletion{
		Choices: []oai.ChatCompletionChoice{
			{Message: oai.ChatCompletionMessage{Content: "Hello."}},
		},
	}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		STT:    config.STTConfig{ModelPath: "unused.bin"},
		LLM:    config.LLMConfig{Model: "gpt-4o-mini", APIKey: "test"},
		TTS:    config.TTSConfig{ServerURL: "ws://localhost:5002/tts"},
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	a, err := New(context.Background(), testConfig(),
		WithRecognizer(staticRecognizer{}),
		WithSynthesizer(staticSynth{}),
		WithCompleter(staticCompleter{}),
		WithCallLog(calllog.NewMemoryStore()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func TestCallManager_BeginAndEnd(t *testing.T) {
	a := newTestApp(t)

	ctrl, err := a.Calls().Begin("call-1", Transport{Send: func(int, []byte) {}})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if ctrl == nil {
		t.Fatal("Begin returned a nil controller")
	}

	if _, err := a.Calls().Begin("call-1", Transport{Send: func(int, []byte) {}}); err == nil {
		t.Fatal("duplicate Begin must fail")
	}

	active := a.Calls().Active()
	if len(active) != 1 || active[0].CallID != "call-1" {
		t.Fatalf("active = %+v, want one entry for call-1", active)
	}

	a.Calls().End("call-1")
	if got := a.Calls().Active(); len(got) != 0 {
		t.Fatalf("active after End = %+v, want none", got)
	}

	// Ending an unknown call is a no-op.
	a.Calls().End("call-1")
	a.Calls().End("never-began")
}

func TestCallManager_ActiveOrdering(t *testing.T) {
	a := newTestApp(t)

	for _, id := range []string{"first", "second", "third"} {
		if _, err := a.Calls().Begin(id, Transport{Send: func(int, []byte) {}}); err != nil {
			t.Fatalf("Begin(%s): %v", id, err)
		}
		time.Sleep(time.Millisecond)
	}

	active := a.Calls().Active()
	if len(active) != 3 {
		t.Fatalf("active = %d calls, want 3", len(active))
	}
	for i, want := range []string{"first", "second", "third"} {
		if active[i].CallID != want {
			t.Fatalf("active[%d] = %s, want %s", i, active[i].CallID, want)
		}
	}
}

func TestShutdown_EndsActiveCalls(t *testing.T) {
	a := newTestApp(t)

	if _, err := a.Calls().Begin("call-1", Transport{Send: func(int, []byte) {}}); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := a.Calls().Active(); len(got) != 0 {
		t.Fatalf("active after Shutdown = %+v, want none", got)
	}

	// Shutdown is idempotent.
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestRun_ReturnsOnCancel(t *testing.T) {
	a := newTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
