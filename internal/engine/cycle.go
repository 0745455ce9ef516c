package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"rebound-trader/internal/broker"
	"rebound-trader/internal/exits"
	"rebound-trader/internal/model"
	"rebound-trader/internal/notification"
	"rebound-trader/internal/scanner"
)

// RunCycle executes one full decision cycle: exits first so freed capital
// and slots are available to entries in the same cycle, then the crash
// scan and entry placement, then a state snapshot.
func (e *Engine) RunCycle(ctx context.Context, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()

	e.runExits(ctx, now)
	e.runEntries(ctx, now)
	e.saveSnapshot(ctx)

	if err := e.ledger.CheckInvariants(); err != nil {
		e.notify.Send(ctx, notification.Alert{
			Level:   notification.AlertCritical,
			Title:   "LEDGER CORRUPTED",
			Message: err.Error(),
		})
		log.Fatalf("[engine] %v", err)
	}

	if e.mtr != nil {
		e.mtr.CycleDur.Observe(time.Since(start).Seconds())
		e.mtr.OpenPositions.Set(float64(e.store.Len()))
		e.mtr.AvailableCapital.Set(float64(e.ledger.Available()))
		e.mtr.AllocatedCapital.Set(float64(e.ledger.TotalCapital() - e.ledger.Available()))
	}
	if e.health != nil {
		e.health.SetLastCycleTime(time.Now())
		e.health.SetOpenPositions(e.store.Len())
	}
}

// runExits evaluates every open position against the exit policy. Pending
// exits from failed sells go first. A failure on one symbol never stops
// the others.
func (e *Engine) runExits(ctx context.Context, now time.Time) {
	positions := e.store.All()
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].ExitPending != positions[j].ExitPending {
			return positions[i].ExitPending
		}
		return positions[i].Symbol < positions[j].Symbol
	})

	for _, pos := range positions {
		if e.halted[pos.Symbol] {
			continue
		}

		price, err := e.broker.GetCurrentPrice(ctx, pos.Symbol)
		if err != nil {
			log.Printf("[engine] price %s failed, skipping exit check: %v", pos.Symbol, err)
			continue
		}
		e.store.UpdatePrice(pos.Symbol, price)

		d := e.policy.Evaluate(&pos, price, now)
		switch {
		case d.Action == exits.ActionNone:

		case d.Action.IsSell():
			if d.Action == exits.ActionRetryExit && e.mtr != nil {
				e.mtr.ExitRetriesTotal.Inc()
			}
			e.sellAll(ctx, pos, price, d.Reason, d.Action.String(), now)

		case d.Action == exits.ActionAverageDown:
			e.averageDown(ctx, pos, price, d.Reason, now)
		}
	}
}

// sellAll liquidates the whole position. On success the position is
// removed and its capital released; on failure it is flagged exit-pending
// and retried next cycle.
func (e *Engine) sellAll(ctx context.Context, pos model.Position, price int64, reason, label string, now time.Time) error {
	order, err := e.broker.SellMarketOrder(ctx, pos.Symbol, pos.Qty)
	if err != nil {
		e.store.SetExitPending(pos.Symbol, true, reason)
		e.countOrderFailure(err)
		log.Printf("[engine] SELL %s failed, flagged for retry: %v", pos.Symbol, err)
		e.notify.Send(ctx, notification.ExitStuckAlert(pos.Symbol, reason, err))
		return err
	}

	fill := order.Price
	if fill <= 0 {
		fill = price
	}

	if _, err := e.store.Remove(pos.Symbol); err != nil {
		log.Printf("[engine] remove %s after sell: %v", pos.Symbol, err)
	}
	e.ledger.Release(pos.Symbol)

	trade := model.Trade{
		OrderNo:    order.OrderNo,
		Symbol:     pos.Symbol,
		Name:       pos.Name,
		Side:       model.SideSell,
		Qty:        pos.Qty,
		Price:      fill,
		Reason:     reason,
		ProfitAmt:  (fill - pos.AvgPrice) * pos.Qty,
		ProfitRate: pos.ProfitRate(fill),
		ExecutedAt: now,
	}
	e.recordTrade(ctx, trade)
	e.notify.Send(ctx, notification.ExitAlert(trade))
	if e.mtr != nil {
		e.mtr.ExitsTotal.WithLabelValues(label).Inc()
	}
	log.Printf("[engine] SELL %s qty=%d fill=%d pnl=%+d (%s)", pos.Symbol, pos.Qty, fill, trade.ProfitAmt, reason)
	return nil
}

// averageDown buys the symbol's remaining cap as the one allowed second
// tranche.
func (e *Engine) averageDown(ctx context.Context, pos model.Position, price int64, reason string, now time.Time) {
	amount := e.ledger.RemainingCap(pos.Symbol)
	qty := amount / price
	if qty <= 0 {
		log.Printf("[engine] %s average-down skipped: remaining cap %d below price %d", pos.Symbol, amount, price)
		return
	}
	cost := qty * price

	resv, err := e.ledger.Authorize(pos.Symbol, cost)
	if err != nil {
		log.Printf("[engine] %s average-down not authorized: %v", pos.Symbol, err)
		return
	}

	order, err := e.broker.BuyMarketOrder(ctx, pos.Symbol, qty)
	if err != nil {
		e.ledger.Refund(resv)
		e.countOrderFailure(err)
		log.Printf("[engine] BUY %s (average down) failed: %v", pos.Symbol, err)
		return
	}

	fill := order.Price
	if fill <= 0 {
		fill = price
	}
	if _, err := e.store.UpsertEntry(pos.Symbol, fill, qty, cost, now, e.paramsFor(pos.Symbol, pos.Name)); err != nil {
		// Fill already happened; keep the ledger allocation and surface it.
		log.Printf("[engine] record average-down %s: %v", pos.Symbol, err)
		return
	}

	trade := model.Trade{
		OrderNo:    order.OrderNo,
		Symbol:     pos.Symbol,
		Name:       pos.Name,
		Side:       model.SideBuy,
		Qty:        qty,
		Price:      fill,
		Reason:     reason,
		ExecutedAt: now,
	}
	e.recordTrade(ctx, trade)
	e.notify.Send(ctx, notification.EntryAlert(trade))
	if e.mtr != nil {
		e.mtr.EntriesTotal.WithLabelValues("average_down").Inc()
	}
	log.Printf("[engine] BUY %s qty=%d fill=%d (average down)", pos.Symbol, qty, fill)
}

// runEntries scans the watchlist and opens first-stage positions in ranked
// order until capital or slots run out.
func (e *Engine) runEntries(ctx context.Context, now time.Time) {
	if e.mtr != nil {
		e.mtr.ScansTotal.Inc()
	}

	scanStart := time.Now()
	cands, err := e.scan.Scan(ctx, e.scanList, now)
	if e.mtr != nil {
		e.mtr.QuoteFetchDur.Observe(time.Since(scanStart).Seconds())
	}
	if err != nil {
		if errors.Is(err, scanner.ErrModelUnavailable) {
			if e.mtr != nil {
				e.mtr.ModelOutages.Inc()
			}
			log.Printf("[engine] entries skipped: %v", err)
			return
		}
		log.Printf("[engine] scan failed: %v", err)
		return
	}
	if e.mtr != nil {
		e.mtr.CandidatesTotal.Add(float64(len(cands)))
		for _, c := range cands {
			e.mtr.ModelScore.Observe(c.ModelScore)
		}
	}

	for _, cand := range cands {
		if e.store.Has(cand.Symbol) || e.halted[cand.Symbol] {
			continue
		}
		e.enterFirstStage(ctx, cand, now)
	}
}

// enterFirstStage buys the first tranche of a candidate: half the
// per-symbol cap, leaving room for one averaging-down buy.
func (e *Engine) enterFirstStage(ctx context.Context, cand model.CrashCandidate, now time.Time) {
	budget := int64(float64(e.ledger.PerSymbolCap()) * e.cfg.FirstStageFraction)
	qty := budget / cand.Price
	if qty <= 0 {
		log.Printf("[engine] %s skipped: price %d above first-stage budget %d", cand.Symbol, cand.Price, budget)
		return
	}
	cost := qty * cand.Price

	resv, err := e.ledger.Authorize(cand.Symbol, cost)
	if err != nil {
		log.Printf("[engine] %s entry not authorized: %v", cand.Symbol, err)
		return
	}

	order, err := e.broker.BuyMarketOrder(ctx, cand.Symbol, qty)
	if err != nil {
		e.ledger.Refund(resv)
		e.countOrderFailure(err)
		log.Printf("[engine] BUY %s failed: %v", cand.Symbol, err)
		return
	}

	fill := order.Price
	if fill <= 0 {
		fill = cand.Price
	}
	params := e.paramsFor(cand.Symbol, cand.Name)
	if _, err := e.store.UpsertEntry(cand.Symbol, fill, qty, cost, now, params); err != nil {
		log.Printf("[engine] record entry %s: %v", cand.Symbol, err)
		return
	}

	trade := model.Trade{
		OrderNo:    order.OrderNo,
		Symbol:     cand.Symbol,
		Name:       cand.Name,
		Side:       model.SideBuy,
		Qty:        qty,
		Price:      fill,
		Reason:     entryReason(cand),
		ExecutedAt: now,
	}
	e.recordTrade(ctx, trade)
	e.notify.Send(ctx, notification.EntryAlert(trade))
	if e.mtr != nil {
		e.mtr.EntriesTotal.WithLabelValues("first").Inc()
	}
	log.Printf("[engine] BUY %s qty=%d fill=%d crash=%.2f%% score=%.3f",
		cand.Symbol, qty, fill, cand.CrashRate, cand.ModelScore)
}

func entryReason(cand model.CrashCandidate) string {
	return fmt.Sprintf("crash %.2f%%, rebound score %.3f", cand.CrashRate, cand.ModelScore)
}

func (e *Engine) recordTrade(ctx context.Context, t model.Trade) {
	if e.journ == nil {
		return
	}
	if err := e.journ.Record(ctx, t); err != nil {
		log.Printf("[engine] journal %s %s: %v", t.Side, t.Symbol, err)
	}
}

func (e *Engine) countOrderFailure(err error) {
	if e.mtr == nil {
		return
	}
	switch {
	case broker.IsRejected(err):
		e.mtr.OrdersFailed.WithLabelValues("rejected").Inc()
	case broker.IsTransient(err):
		e.mtr.OrdersFailed.WithLabelValues("transient").Inc()
	default:
		e.mtr.OrdersFailed.WithLabelValues("other").Inc()
	}
}
