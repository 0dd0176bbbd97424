package monitor

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/banshee-data/deviation.report/internal/monitoring"
	"github.com/banshee-data/deviation.report/internal/testutil"
)

func TestLoggingMiddlewarePassesThrough(t *testing.T) {
	var logged []string
	orig := monitoring.Logf
	monitoring.Logf = func(format string, v ...interface{}) {
		logged = append(logged, fmt.Sprintf(format, v...))
	}
	defer func() { monitoring.Logf = orig }()

	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, testutil.NewTestRequest(http.MethodPost, "/api/objects"))

	testutil.AssertStatusCode(t, rec, http.StatusCreated)
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want ok", rec.Body.String())
	}
	if len(logged) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(logged))
	}
	if !strings.Contains(logged[0], "201") || !strings.Contains(logged[0], "/api/objects") {
		t.Errorf("log line %q should contain status and path", logged[0])
	}
}

func TestLoggingMiddlewareDefaultsToOK(t *testing.T) {
	var line string
	orig := monitoring.Logf
	monitoring.Logf = func(format string, v ...interface{}) {
		line = fmt.Sprintf(format, v...)
	}
	defer func() { monitoring.Logf = orig }()

	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("implicit 200"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/health"))

	testutil.AssertStatusCode(t, rec, http.StatusOK)
	if !strings.Contains(line, "200") {
		t.Errorf("log line %q should report implicit 200", line)
	}
}

func TestStatusCodeColor(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, colorBoldGreen},
		{301, colorYellow},
		{404, colorBoldRed},
		{500, colorBoldRed},
	}
	for _, tt := range tests {
		if got := statusCodeColor(tt.code); !strings.HasPrefix(got, tt.want) {
			t.Errorf("statusCodeColor(%d) = %q, want prefix %q", tt.code, got, tt.want)
		}
	}
}
