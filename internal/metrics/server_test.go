package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHealthz(t *testing.T) {
	e := NewServer(func() any {
		return map[string]string{"state": "running"}
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["state"] != "running" {
		t.Errorf("expected state running, got %q", body["state"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ShellRestarts.Inc()
	SetShellState("running", []string{"starting", "running"})

	e := NewServer(func() any { return nil })
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"shellrelay_shell_restarts_total",
		`shellrelay_shell_state{state="running"} 1`,
		`shellrelay_shell_state{state="starting"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
