// Package app wires the voice pipeline subsystems into a running application.
//
// The App struct owns the shared, call-independent resources: the speech
// recognizer, the synthesis client, the chat completions client, metrics, and
// the call-record store. New creates and connects them, Run serves the
// observability endpoint until the context is cancelled, and Shutdown tears
// everything down in order. Per-call pipelines are built on demand through
// [App.Calls].
//
// For testing, inject mock implementations via functional options
// (WithRecognizer, WithSynthesizer, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/calebtt/SipBotOpen/internal/call"
	"github.com/calebtt/SipBotOpen/internal/calllog"
	"github.com/calebtt/SipBotOpen/internal/config"
	"github.com/calebtt/SipBotOpen/internal/health"
	"github.com/calebtt/SipBotOpen/internal/observe"
	"github.com/calebtt/SipBotOpen/internal/stt"
	"github.com/calebtt/SipBotOpen/internal/tools"
	"github.com/calebtt/SipBotOpen/internal/tts"
	"github.com/calebtt/SipBotOpen/internal/turn"
)

// App owns the shared subsystem lifetimes behind every call.
type App struct {
	cfg *config.Config

	recognizer  stt.Recognizer
	synth       tts.Synthesizer
	completions turn.Completer
	sms         tools.SMSFunc
	metrics     *observe.Metrics
	records     calllog.Store

	calls *CallManager

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRecognizer injects a speech recognizer instead of loading the whisper
// model from config.
func WithRecognizer(r stt.Recognizer) Option {
	return func(a *App) { a.recognizer = r }
}

// WithSynthesizer injects a speech synthesizer instead of dialing the
// configured synthesis server.
func WithSynthesizer(s tts.Synthesizer) Option {
	return func(a *App) { a.synth = s }
}

// WithCompleter injects a chat completions client instead of constructing one
// from the configured endpoint and key.
func WithCompleter(c turn.Completer) Option {
	return func(a *App) { a.completions = c }
}

// WithSMS injects the notification text dispatcher. Without one,
// send_notification only logs.
func WithSMS(fn tools.SMSFunc) Option {
	return func(a *App) { a.sms = fn }
}

// WithCallLog injects a call-record store instead of connecting to the
// configured database.
func WithCallLog(s calllog.Store) Option {
	return func(a *App) { a.records = s }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring the shared subsystems together: metrics, the
// speech recognizer (downloading its model if needed), the synthesis client,
// the welcome greeting audio, the completions client, and the call-record
// store. Use Option functions to inject test doubles for any of them.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}
	a.metrics = m

	if err := a.initRecognizer(); err != nil {
		return nil, fmt.Errorf("app: init recognizer: %w", err)
	}
	if err := a.initSynthesizer(ctx); err != nil {
		return nil, fmt.Errorf("app: init synthesizer: %w", err)
	}
	a.initCompletions()
	if err := a.initCallLog(ctx); err != nil {
		return nil, fmt.Errorf("app: init call log: %w", err)
	}

	a.calls = newCallManager(a)
	return a, nil
}

// initRecognizer loads the whisper model unless a recognizer was injected.
func (a *App) initRecognizer() error {
	if a.recognizer != nil {
		return nil
	}

	var opts []stt.WhisperOption
	if a.cfg.STT.Language != "" {
		opts = append(opts, stt.WithLanguage(a.cfg.STT.Language))
	}
	if a.cfg.STT.ModelURL != "" {
		opts = append(opts, stt.WithModelURL(a.cfg.STT.ModelURL))
	}
	rec, err := stt.NewWhisperRecognizer(a.cfg.STT.ModelPath, opts...)
	if err != nil {
		return err
	}
	a.recognizer = rec
	a.closers = append(a.closers, rec.Close)
	return nil
}

// initSynthesizer builds the synthesis client and renders the welcome
// greeting once, so answering a call never waits on synthesis.
func (a *App) initSynthesizer(ctx context.Context) error {
	if a.synth == nil {
		var opts []tts.WSOption
		if a.cfg.TTS.Voice != "" {
			opts = append(opts, tts.WithVoice(a.cfg.TTS.Voice))
		}
		if a.cfg.TTS.SampleRate > 0 {
			opts = append(opts, tts.WithSampleRate(a.cfg.TTS.SampleRate))
		}
		s, err := tts.NewWSSynthesizer(a.cfg.TTS.ServerURL, opts...)
		if err != nil {
			return err
		}
		a.synth = s
	}

	if a.cfg.Welcome.AudioPath == "" {
		return nil
	}
	if err := call.EnsureWelcomeAudio(ctx, a.synth, a.cfg.Welcome.Text, a.cfg.Welcome.AudioPath); err != nil {
		// Calls can still answer; the greeting is just text-only history.
		slog.Warn("app: welcome audio unavailable", "err", err)
	}
	return nil
}

// initCompletions builds the OpenAI-wire completions client unless one was
// injected.
func (a *App) initCompletions() {
	if a.completions != nil {
		return
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(a.cfg.LLM.APIKey),
	}
	if a.cfg.LLM.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(a.cfg.LLM.BaseURL))
	}
	client := oai.NewClient(reqOpts...)
	a.completions = &client.Chat.Completions
}

// initCallLog connects the call-record store when a DSN is configured.
// Without one, calls simply leave no records.
func (a *App) initCallLog(ctx context.Context) error {
	if a.records != nil || a.cfg.CallLog.PostgresDSN == "" {
		return nil
	}

	store, err := calllog.NewPostgresStore(ctx, a.cfg.CallLog.PostgresDSN)
	if err != nil {
		return err
	}
	a.records = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("app: call log connected")
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Calls returns the per-call pipeline factory. The telephony transport layer
// begins a session here for each answered call.
func (a *App) Calls() *CallManager {
	return a.calls
}

// Run serves the /metrics and /healthz endpoint (when configured) and blocks
// until ctx is cancelled. It returns context.Canceled on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Server.MetricsAddr == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	var checkers []health.Checker
	if a.records != nil {
		checkers = append(checkers, health.Checker{
			Name: "call_log",
			Check: func(ctx context.Context) error {
				_, err := a.records.Recent(ctx, time.Minute)
				return err
			},
		})
	}
	health.New(checkers...).Register(mux)

	srv := &http.Server{
		Addr:    a.cfg.Server.MetricsAddr,
		Handler: observe.Middleware(a.metrics)(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("app: metrics endpoint up", "addr", a.cfg.Server.MetricsAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: metrics endpoint: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Warn("app: metrics endpoint shutdown error", "err", err)
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends all active calls, then tears down the shared subsystems in
// init order. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.calls.shutdown()

		slog.Info("app: shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}
		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}
