package main

import (
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/deviation.report/internal/httputil"
	"github.com/banshee-data/deviation.report/internal/perception"
	"github.com/banshee-data/deviation.report/internal/perception/sim"
)

func TestPostBatchSendsJSON(t *testing.T) {
	scenario := sim.NewScenario(sim.ScenarioStraight)
	scenario.SetStart(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	batch := scenario.NextBatch()

	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(202, `{"status":"accepted"}`)

	if err := postBatch(mock, "http://localhost:8080/api/objects", batch); err != nil {
		t.Fatalf("postBatch failed: %v", err)
	}
	if mock.RequestCount() != 1 {
		t.Fatalf("expected 1 request, got %d", mock.RequestCount())
	}

	req := mock.GetRequest(0)
	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("failed to read request body: %v", err)
	}
	var decoded perception.Batch
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("request body is not a valid batch: %v", err)
	}
	if !decoded.Stamp.Equal(batch.Stamp) {
		t.Errorf("decoded stamp %v, want %v", decoded.Stamp, batch.Stamp)
	}
	if len(decoded.Objects) != len(batch.Objects) {
		t.Errorf("decoded %d objects, want %d", len(decoded.Objects), len(batch.Objects))
	}
}

func TestPostBatchReportsServerError(t *testing.T) {
	scenario := sim.NewScenario(sim.ScenarioStraight)
	batch := scenario.NextBatch()

	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(503, "queue full")

	err := postBatch(mock, "http://localhost:8080/api/objects", batch)
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "queue full") {
		t.Errorf("error %q should mention status and body", err)
	}
}
