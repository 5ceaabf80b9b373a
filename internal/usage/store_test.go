package usage

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/ctonline/salesagent/internal/config"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "usage_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPricing() map[string]config.PricingEntry {
	return map[string]config.PricingEntry{
		"gpt-4o":      {InputPer1K: 0.0025, OutputPer1K: 0.01},
		"gpt-4o-mini": {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	}
}

func TestCost(t *testing.T) {
	pricing := testPricing()

	got := Cost(pricing, "gpt-4o", 1000, 500)
	want := 0.0025 + 0.005
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Cost = %v, want %v", got, want)
	}

	if got := Cost(pricing, "modelo-desconocido", 1000, 500); got != 0 {
		t.Errorf("unknown model cost = %v, want 0", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("12345678"); got != 2 {
		t.Errorf("EstimateTokens = %d, want 2", got)
	}
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens empty = %d, want 0", got)
	}
	// Accented text counts runes, not UTF-8 bytes (which would be 16).
	if got := EstimateTokens("áéíóúñ¿¡"); got != 2 {
		t.Errorf("EstimateTokens accented = %d, want 2", got)
	}
}

func TestTokensPerSecond(t *testing.T) {
	if got := TokensPerSecond(100, 4*time.Second); got != 25 {
		t.Errorf("TokensPerSecond = %v, want 25", got)
	}
	if got := TokensPerSecond(100, 0); got != 0 {
		t.Errorf("TokensPerSecond zero elapsed = %v, want 0", got)
	}
}

func TestRecord_And_BySession(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	recs := []Record{
		{
			SessionID:    "C123_abc",
			Question:     "¿venden laptops?",
			Answer:       "Sí, tenemos varias opciones.",
			Model:        "gpt-4.1",
			InputTokens:  120,
			OutputTokens: 45,
			CostUSD:      0.0006,
			DurationSecs: 2.4,
			TokensPerSec: 18.75,
			Relevant:     true,
		},
		{
			SessionID: "C123_abc",
			Question:  "¿qué ceno hoy?",
			Answer:    "canned",
			Model:     "gpt-4.1",
			Relevant:  false,
		},
		{
			SessionID: "07CTIN55",
			Question:  "estatus F-1",
			Answer:    "en proceso",
			Model:     "gpt-4.1",
			Relevant:  true,
		},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.BySession(ctx, "C123_abc", 10)
	if err != nil {
		t.Fatalf("BySession: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
	for _, rec := range got {
		if rec.ID == "" {
			t.Error("record persisted without generated ID")
		}
		if rec.SessionID != "C123_abc" {
			t.Errorf("foreign session record returned: %+v", rec)
		}
	}

	var irrelevant int
	for _, rec := range got {
		if !rec.Relevant {
			irrelevant++
		}
	}
	if irrelevant != 1 {
		t.Errorf("irrelevant records = %d, want 1", irrelevant)
	}
}

func TestSummaryRange(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		err := s.Record(ctx, Record{
			Timestamp:    now,
			SessionID:    "C1_a",
			Question:     "q",
			Answer:       "a",
			Model:        "gpt-4o",
			InputTokens:  100,
			OutputTokens: 50,
			CostUSD:      0.001,
			Relevant:     true,
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.SummaryRange(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryRange: %v", err)
	}
	if sum.TotalRecords != 3 || sum.TotalInputTokens != 300 || sum.TotalOutputTokens != 150 {
		t.Errorf("summary = %+v", sum)
	}
	if math.Abs(sum.TotalCostUSD-0.003) > 1e-9 {
		t.Errorf("total cost = %v, want 0.003", sum.TotalCostUSD)
	}

	empty, err := s.SummaryRange(ctx, now.Add(-2*time.Hour), now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("SummaryRange empty: %v", err)
	}
	if empty.TotalRecords != 0 || empty.TotalCostUSD != 0 {
		t.Errorf("empty summary = %+v", empty)
	}
}
