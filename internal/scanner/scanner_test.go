package scanner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"rebound-trader/internal/broker"
	"rebound-trader/internal/model"
	"rebound-trader/internal/predictor"
)

type fakeQuotes struct {
	quotes map[string]broker.Quote
}

func (f *fakeQuotes) GetQuote(_ context.Context, symbol string) (broker.Quote, error) {
	q, ok := f.quotes[symbol]
	if !ok {
		return broker.Quote{}, &broker.TransientError{Op: "quote", Err: fmt.Errorf("no data for %s", symbol)}
	}
	return q, nil
}

type fakePredictor struct {
	scores map[string]float64 // keyed by rounded crash rate, see scoreKey
	err    error
}

func scoreKey(crashRate float64) string { return fmt.Sprintf("%.1f", crashRate) }

func (f *fakePredictor) Predict(_ context.Context, fv model.FeatureVector) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.scores[scoreKey(fv.CrashRate)], nil
}

var scanTime = time.Date(2026, 3, 10, 10, 30, 0, 0, time.FixedZone("KST", 9*3600))

func TestScanner_ThresholdBoundaries(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]broker.Quote{
		"000001": {Symbol: "000001", Price: 9000, PrevClose: 10000}, // -10.0%, on the line
		"000002": {Symbol: "000002", Price: 9010, PrevClose: 10000}, // -9.9%, too shallow
		"000003": {Symbol: "000003", Price: 8500, PrevClose: 10000}, // -15.0%
	}}
	pred := &fakePredictor{scores: map[string]float64{
		"-10.0": 0.60, // on the confidence line, must pass
		"-15.0": 0.59, // just under, must drop
	}}

	s := New(quotes, pred, Config{CrashThresholdPct: -10.0, MinConfidence: 0.60, Workers: 2})
	defer s.Close()

	cands, err := s.Scan(context.Background(), []WatchItem{
		{Symbol: "000001", Name: "A"},
		{Symbol: "000002", Name: "B"},
		{Symbol: "000003", Name: "C"},
	}, scanTime)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("candidates = %d, want 1 (threshold and confidence are inclusive)", len(cands))
	}
	if cands[0].Symbol != "000001" {
		t.Errorf("kept %s, want 000001", cands[0].Symbol)
	}
	if cands[0].CrashRate != -10.0 {
		t.Errorf("CrashRate = %v, want -10.0", cands[0].CrashRate)
	}
}

func TestScanner_RankByScoreThenDepth(t *testing.T) {
	cands := []model.CrashCandidate{
		{Symbol: "S1", ModelScore: 0.70, CrashRate: -11},
		{Symbol: "S2", ModelScore: 0.85, CrashRate: -10},
		{Symbol: "S3", ModelScore: 0.70, CrashRate: -14},
	}
	Rank(cands)

	want := []string{"S2", "S3", "S1"}
	for i, sym := range want {
		if cands[i].Symbol != sym {
			t.Errorf("rank[%d] = %s, want %s", i, cands[i].Symbol, sym)
		}
	}
}

func TestScanner_ModelUnavailableAbortsScan(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]broker.Quote{
		"000001": {Symbol: "000001", Price: 8800, PrevClose: 10000},
	}}
	pred := &fakePredictor{err: fmt.Errorf("%w: connection refused", predictor.ErrUnavailable)}

	s := New(quotes, pred, Config{CrashThresholdPct: -10.0, MinConfidence: 0.60, Workers: 2})
	defer s.Close()

	cands, err := s.Scan(context.Background(), []WatchItem{{Symbol: "000001"}}, scanTime)
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("err = %v, want ErrModelUnavailable", err)
	}
	if len(cands) != 0 {
		t.Errorf("no candidates may survive a model outage, got %d", len(cands))
	}
}

func TestScanner_QuoteFailureSkipsSymbolOnly(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]broker.Quote{
		"000001": {Symbol: "000001", Price: 8800, PrevClose: 10000}, // -12%
	}}
	pred := &fakePredictor{scores: map[string]float64{"-12.0": 0.9}}

	s := New(quotes, pred, Config{CrashThresholdPct: -10.0, MinConfidence: 0.60, Workers: 2})
	defer s.Close()

	cands, err := s.Scan(context.Background(), []WatchItem{
		{Symbol: "000001", Name: "A"},
		{Symbol: "999999", Name: "Missing"},
	}, scanTime)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(cands) != 1 || cands[0].Symbol != "000001" {
		t.Fatalf("candidates = %+v, want only 000001", cands)
	}
}

func TestScanner_ZeroPrevCloseExcluded(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]broker.Quote{
		"000001": {Symbol: "000001", Price: 8800, PrevClose: 0},
	}}
	pred := &fakePredictor{scores: map[string]float64{"0.0": 0.99}}

	s := New(quotes, pred, Config{CrashThresholdPct: -10.0, MinConfidence: 0.60, Workers: 1})
	defer s.Close()

	cands, err := s.Scan(context.Background(), []WatchItem{{Symbol: "000001"}}, scanTime)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(cands) != 0 {
		t.Errorf("symbol without a previous close must not qualify, got %+v", cands)
	}
}
