// Package scanner finds crash candidates across the watchlist. Quotes are
// fetched in parallel with a bounded worker pool; candidates that clear the
// crash threshold are scored by the rebound predictor and ranked.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond"

	"rebound-trader/internal/broker"
	"rebound-trader/internal/model"
	"rebound-trader/internal/predictor"
)

// ErrModelUnavailable aborts a scan when the predictor cannot score. A
// cycle without scores places no entries.
var ErrModelUnavailable = errors.New("scanner: rebound model unavailable")

// WatchItem is one watchlist entry.
type WatchItem struct {
	Symbol string
	Name   string
}

// Config tunes the scan.
type Config struct {
	// CrashThresholdPct admits symbols whose change from the previous
	// close is at or below this value. Negative, e.g. -10.0.
	CrashThresholdPct float64
	// MinConfidence admits candidates whose model score is at or above
	// this value.
	MinConfidence float64
	// Workers bounds parallel quote fetches.
	Workers int
}

// Scanner runs the per-cycle crash scan. Safe to reuse across cycles; the
// worker pool lives for the scanner's lifetime.
type Scanner struct {
	quotes broker.QuoteSource
	pred   predictor.Predictor
	cfg    Config
	pool   *pond.WorkerPool
}

// New creates a Scanner with its own quote-fetch pool.
func New(quotes broker.QuoteSource, pred predictor.Predictor, cfg Config) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	pool := pond.New(cfg.Workers, cfg.Workers*4,
		pond.MinWorkers(1),
		pond.IdleTimeout(30*time.Second),
		pond.PanicHandler(func(v any) {
			log.Printf("[scanner] quote worker panic: %v", v)
		}),
	)
	return &Scanner{quotes: quotes, pred: pred, cfg: cfg, pool: pool}
}

// Close stops the worker pool, waiting for in-flight fetches.
func (s *Scanner) Close() {
	s.pool.StopAndWait()
}

// Scan fetches quotes for every watchlist item, scores the crashes and
// returns candidates sorted best-first. Quote failures skip the symbol;
// a predictor outage fails the whole scan so no unscored entry happens.
func (s *Scanner) Scan(ctx context.Context, watchlist []WatchItem, now time.Time) ([]model.CrashCandidate, error) {
	var (
		mu         sync.Mutex
		candidates []model.CrashCandidate
	)

	group, gctx := s.pool.GroupContext(ctx)
	for _, item := range watchlist {
		item := item
		group.Submit(func() error {
			q, err := s.quotes.GetQuote(gctx, item.Symbol)
			if err != nil {
				log.Printf("[scanner] quote %s failed: %v", item.Symbol, err)
				return nil
			}

			crashRate := q.CrashRate()
			if crashRate > s.cfg.CrashThresholdPct {
				return nil
			}

			score, err := s.pred.Predict(gctx, featuresFor(q, crashRate, now))
			if err != nil {
				if errors.Is(err, predictor.ErrUnavailable) {
					return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
				}
				log.Printf("[scanner] predict %s failed: %v", item.Symbol, err)
				return nil
			}
			if score < s.cfg.MinConfidence {
				log.Printf("[scanner] %s crash=%.2f%% score=%.3f below confidence", item.Symbol, crashRate, score)
				return nil
			}

			mu.Lock()
			candidates = append(candidates, model.CrashCandidate{
				Symbol:      item.Symbol,
				Name:        item.Name,
				Price:       q.Price,
				PrevClose:   q.PrevClose,
				CrashRate:   crashRate,
				ModelScore:  score,
				Volume:      q.Volume,
				VolumeSpike: q.VolumeRate / 100,
				ScannedAt:   now,
			})
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	Rank(candidates)
	if len(candidates) > 0 {
		log.Printf("[scanner] %d candidates from %d symbols, best %s score=%.3f",
			len(candidates), len(watchlist), candidates[0].Symbol, candidates[0].ModelScore)
	}
	return candidates, nil
}

// Rank orders candidates by model score descending, then by deeper crash.
func Rank(cands []model.CrashCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].ModelScore != cands[j].ModelScore {
			return cands[i].ModelScore > cands[j].ModelScore
		}
		return cands[i].CrashRate < cands[j].CrashRate
	})
}

func featuresFor(q broker.Quote, crashRate float64, now time.Time) model.FeatureVector {
	priceVsPrev := 0.0
	if q.PrevClose > 0 {
		priceVsPrev = float64(q.Price) / float64(q.PrevClose)
	}
	return model.FeatureVector{
		CrashRate:   crashRate,
		VolumeSpike: q.VolumeRate / 100,
		PriceVsPrev: priceVsPrev,
		Hour:        float64(now.Hour()),
	}
}
