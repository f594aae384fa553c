package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// getReport issues a GET against one health handler and decodes the JSON
// report.
func getReport(t *testing.T, h http.HandlerFunc, path string) (*httptest.ResponseRecorder, report) {
	t.Helper()

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", path, nil))

	var rep report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("health response is not JSON: %v", err)
	}
	return rec, rep
}

func TestHealthz_AliveWithUptime(t *testing.T) {
	t.Parallel()

	rec, rep := getReport(t, New().Healthz, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rep.Status != "ok" {
		t.Fatalf("report status = %q, want ok", rep.Status)
	}
	if rep.Uptime == "" {
		t.Fatal("liveness report missing uptime")
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadyz_DependencyOutcomes(t *testing.T) {
	t.Parallel()

	callLog := Checker{Name: "call_log", Check: func(context.Context) error { return nil }}
	sttModel := Checker{Name: "stt_model", Check: func(context.Context) error {
		return errors.New("model file missing")
	}}

	cases := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no dependencies registered",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all dependencies pass",
			checkers:   []Checker{callLog},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"call_log": "ok"},
		},
		{
			name:       "one dependency down",
			checkers:   []Checker{callLog, sttModel},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{
				"call_log":  "ok",
				"stt_model": "fail: model file missing",
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec, rep := getReport(t, New(tc.checkers...).Readyz, "/readyz")
			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantCode)
			}
			if rep.Status != tc.wantStatus {
				t.Fatalf("report status = %q, want %q", rep.Status, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := rep.Checks[name]; got != want {
					t.Fatalf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_StalledDependencyFailsClosed(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "call_log", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestRegister_MountsEndpoints(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New().Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200", path, rec.Code)
		}
	}

	// The endpoints are read-only; other methods stay unrouted.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/readyz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /readyz = %d, want 405", rec.Code)
	}
}
