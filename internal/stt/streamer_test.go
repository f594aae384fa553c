package stt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// stubRecognizer returns canned segment batches in order, one batch per call.
type stubRecognizer struct {
	mu      sync.Mutex
	batches [][]Segment
	err     error
	calls   int
}

func (r *stubRecognizer) Recognize(ctx context.Context, pcm []byte) ([]Segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if len(r.batches) == 0 {
		return nil, nil
	}
	batch := r.batches[0]
	r.batches = r.batches[1:]
	return batch, nil
}

func segs(texts ...string) []Segment {
	out := make([]Segment, len(texts))
	for i, t := range texts {
		out[i] = Segment{Text: t}
	}
	return out
}

func TestNewStreamer_NilRecognizer(t *testing.T) {
	t.Parallel()

	if _, err := NewStreamer(nil); err == nil {
		t.Fatal("expected error for nil recognizer")
	}
}

func TestProcessAudioChunk_AggregatesAndFires(t *testing.T) {
	t.Parallel()

	rec := &stubRecognizer{batches: [][]Segment{segs(" Hello there. ", "How are you?")}}
	s, err := NewStreamer(rec)
	if err != nil {
		t.Fatalf("NewStreamer: %v", err)
	}

	var mu sync.Mutex
	var got []string
	s.OnTranscriptionComplete = func(text string) {
		mu.Lock()
		got = append(got, text)
		mu.Unlock()
	}

	if err := s.ProcessAudioChunk(context.Background(), make([]byte, 640)); err != nil {
		t.Fatalf("ProcessAudioChunk: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("completions = %d, want 1", len(got))
	}
	if got[0] != "Hello there. How are you?" {
		t.Fatalf("transcript = %q", got[0])
	}
}

func TestProcessAudioChunk_FiltersAnnotations(t *testing.T) {
	t.Parallel()

	rec := &stubRecognizer{batches: [][]Segment{
		segs("[BLANK_AUDIO]", "(coughs)", "  ", "Real words."),
	}}
	s, _ := NewStreamer(rec)

	var mu sync.Mutex
	var got []string
	s.OnTranscriptionComplete = func(text string) {
		mu.Lock()
		got = append(got, text)
		mu.Unlock()
	}

	if err := s.ProcessAudioChunk(context.Background(), make([]byte, 640)); err != nil {
		t.Fatalf("ProcessAudioChunk: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "Real words." {
		t.Fatalf("got %v, want [\"Real words.\"]", got)
	}
}

func TestProcessAudioChunk_AllAnnotationsNoEvent(t *testing.T) {
	t.Parallel()

	rec := &stubRecognizer{batches: [][]Segment{segs("[MUSIC]", "(laughter)")}}
	s, _ := NewStreamer(rec)

	fired := false
	s.OnTranscriptionComplete = func(string) { fired = true }

	if err := s.ProcessAudioChunk(context.Background(), make([]byte, 640)); err != nil {
		t.Fatalf("ProcessAudioChunk: %v", err)
	}
	if fired {
		t.Fatal("completion fired with no speakable segments")
	}
}

func TestProcessAudioChunk_RecognizerError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("inference failed")
	s, _ := NewStreamer(&stubRecognizer{err: wantErr})

	err := s.ProcessAudioChunk(context.Background(), make([]byte, 640))
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped %v", err, wantErr)
	}
}

func TestProcessAudioChunk_CanceledDuringSettle(t *testing.T) {
	t.Parallel()

	s, _ := NewStreamer(&stubRecognizer{batches: [][]Segment{segs("hi")}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.ProcessAudioChunk(ctx, make([]byte, 640))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestWaitForComplete_ReceivesTranscript(t *testing.T) {
	t.Parallel()

	s, _ := NewStreamer(&stubRecognizer{batches: [][]Segment{segs("done now")}})

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = s.ProcessAudioChunk(context.Background(), make([]byte, 640))
	}()

	text, ok := s.WaitForComplete(context.Background())
	if !ok || text != "done now" {
		t.Fatalf("got (%q, %v), want (\"done now\", true)", text, ok)
	}
}

func TestWaitForComplete_FallbackToPending(t *testing.T) {
	t.Parallel()

	s, _ := NewStreamer(&stubRecognizer{})

	// Stage pending segments directly, then cancel so the wait falls through
	// immediately instead of sleeping out the full timeout.
	s.mu.Lock()
	s.pending = []queuedSegment{
		{text: "left", processedAt: time.Now()},
		{text: "behind", processedAt: time.Now()},
		{text: "ancient", processedAt: time.Now().Add(-time.Minute)},
	}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	text, ok := s.WaitForComplete(ctx)
	if !ok || text != "left behind" {
		t.Fatalf("got (%q, %v), want (\"left behind\", true)", text, ok)
	}
}

func TestWaitForComplete_NothingHeard(t *testing.T) {
	t.Parallel()

	s, _ := NewStreamer(&stubRecognizer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	text, ok := s.WaitForComplete(ctx)
	if ok || text != "" {
		t.Fatalf("got (%q, %v), want (\"\", false)", text, ok)
	}
}

func TestSpeakable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want bool
	}{
		{"", false},
		{"[BLANK_AUDIO]", false},
		{"(coughs)", false},
		{"[inaudible", true},
		{"hello", true},
		{"a (parenthetical) inside", true},
	}
	for _, tc := range cases {
		if got := speakable(tc.text); got != tc.want {
			t.Errorf("speakable(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestEnsureModel_ExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "model.bin")
	if err := os.WriteFile(path, []byte("model"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := EnsureModel(path, ""); err != nil {
		t.Fatalf("EnsureModel with existing file: %v", err)
	}
}

func TestEnsureModel_Downloads(t *testing.T) {
	t.Parallel()

	payload := []byte("ggml model bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "models", "model.bin")
	if err := EnsureModel(path, srv.URL); err != nil {
		t.Fatalf("EnsureModel: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read downloaded model: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("downloaded %q, want %q", got, payload)
	}
}

func TestEnsureModel_HTTPErrorWrapsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "model.bin")
	err := EnsureModel(path, srv.URL)
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("err = %v, want ErrModelUnavailable", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatal("failed download must not leave a model file behind")
	}
}

func TestEnsureModel_MissingWithoutURL(t *testing.T) {
	t.Parallel()

	err := EnsureModel(filepath.Join(t.TempDir(), "model.bin"), "")
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("err = %v, want ErrModelUnavailable", err)
	}
}
