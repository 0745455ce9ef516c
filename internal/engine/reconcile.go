package engine

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"time"

	"rebound-trader/internal/markethours"
	"rebound-trader/internal/model"
	"rebound-trader/internal/notification"
)

// Reconcile rebuilds in-memory state at startup. The broker is the
// authority on quantity and average price; the snapshot supplies what the
// broker cannot: entry stage, open time, exit targets and pending flags.
// A quantity mismatch between the two halts that symbol and raises a
// critical alert instead of guessing.
func (e *Engine) Reconcile(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	holdings, err := e.broker.GetHoldings(ctx)
	if err != nil {
		return fmt.Errorf("engine: reconcile holdings: %w", err)
	}

	var saved []model.Position
	if e.snap != nil {
		saved, err = e.snap.LoadPositions(ctx)
		if err != nil {
			log.Printf("[engine] snapshot unavailable, adopting broker state only: %v", err)
		}
	}
	savedBySym := make(map[string]model.Position, len(saved))
	for _, p := range saved {
		savedBySym[p.Symbol] = p
	}

	now := time.Now().In(markethours.KST)
	for _, h := range holdings {
		pos := model.Position{
			Symbol:    h.Symbol,
			Name:      h.Name,
			Stage:     model.StageFirst,
			Qty:       h.Qty,
			AvgPrice:  h.AvgPrice,
			LastPrice: h.AvgPrice,
			OpenedAt:  now,
		}
		params := e.paramsFor(h.Symbol, h.Name)
		pos.TakeProfitPct = params.TakeProfitPct
		pos.StopLossPct = params.StopLossPct
		pos.RebuyDropPct = params.RebuyDropPct
		pos.AllocatedCapital = h.Qty * h.AvgPrice

		if snap, ok := savedBySym[h.Symbol]; ok {
			if snap.Qty != h.Qty {
				e.haltSymbol(ctx, h.Symbol, fmt.Sprintf("snapshot qty %d != broker qty %d", snap.Qty, h.Qty))
				continue
			}
			pos.Stage = snap.Stage
			pos.OpenedAt = snap.OpenedAt
			pos.TakeProfitPct = snap.TakeProfitPct
			pos.StopLossPct = snap.StopLossPct
			pos.RebuyDropPct = snap.RebuyDropPct
			pos.AllocatedCapital = snap.AllocatedCapital
			pos.ExitPending = snap.ExitPending
			pos.ExitPendingReason = snap.ExitPendingReason
		} else {
			log.Printf("[engine] adopting %s from broker with default exit targets", h.Symbol)
		}

		if pos.AllocatedCapital > e.ledger.PerSymbolCap() {
			pos.AllocatedCapital = e.ledger.PerSymbolCap()
		}
		if _, err := e.ledger.Authorize(h.Symbol, pos.AllocatedCapital); err != nil {
			e.haltSymbol(ctx, h.Symbol, fmt.Sprintf("cannot re-reserve capital: %v", err))
			continue
		}
		if err := e.store.Restore(pos); err != nil {
			e.ledger.Release(h.Symbol)
			e.haltSymbol(ctx, h.Symbol, err.Error())
			continue
		}
		log.Printf("[engine] restored %s qty=%d avg=%d stage=%s", pos.Symbol, pos.Qty, pos.AvgPrice, pos.Stage)
	}

	for sym := range savedBySym {
		if _, ok := e.store.Get(sym); !ok && !e.halted[sym] {
			log.Printf("[engine] snapshot position %s no longer held at broker, dropping", sym)
		}
	}

	if err := e.ledger.CheckInvariants(); err != nil {
		return fmt.Errorf("engine: reconcile: %w", err)
	}
	log.Printf("[engine] reconciled %d positions, %d halted", e.store.Len(), len(e.halted))
	return nil
}

// haltSymbol excludes a symbol from all trading for the session.
func (e *Engine) haltSymbol(ctx context.Context, symbol, reason string) {
	e.halted[symbol] = true
	log.Printf("[engine] HALT %s: %s", symbol, reason)
	e.notify.Send(ctx, notification.Alert{
		Level:   notification.AlertCritical,
		Title:   fmt.Sprintf("DATA INTEGRITY %s", symbol),
		Message: reason + "; symbol halted until restart",
	})
}

// HaltedSymbols returns the symbols excluded by reconciliation.
func (e *Engine) HaltedSymbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.halted))
	for sym := range e.halted {
		out = append(out, sym)
	}
	return out
}

// saveSnapshot persists positions and ledger allocations. Best-effort;
// failures degrade crash recovery, not trading. Caller holds e.mu.
func (e *Engine) saveSnapshot(ctx context.Context) {
	if e.snap == nil {
		return
	}
	if err := e.snap.SavePositions(ctx, e.store.All()); err != nil {
		log.Printf("[engine] snapshot positions: %v", err)
	}
	if err := e.snap.SaveLedger(ctx, e.ledger.Snapshot()); err != nil {
		log.Printf("[engine] snapshot ledger: %v", err)
	}
}

// PublishDailyReport builds today's report and sends it to the alert
// channels. Wired to the 15:40 KST scheduler slot.
func (e *Engine) PublishDailyReport(ctx context.Context, now time.Time) {
	e.setState(StateReporting)
	defer e.setState(StateIdle)

	report, err := e.Report(ctx, now)
	if err != nil {
		log.Printf("[engine] daily report: %v", err)
		return
	}
	log.Printf("[engine] daily report %s: sells=%d wins=%d losses=%d net=%+d",
		report.Date, report.Sells, report.Wins, report.Losses, report.NetProfit)
	e.notify.Send(ctx, notification.ReportAlert(report))
}

// RetrainHook announces the weekly model retrain window and, when a
// retrain command is configured, launches it. The retrain itself runs in
// the model pipeline; the engine only flags the handoff.
// Wired to the Saturday 01:00 KST scheduler slot.
func (e *Engine) RetrainHook(ctx context.Context, now time.Time) {
	log.Printf("[engine] weekly retrain window opened at %s", now.Format(time.RFC3339))
	e.notify.Send(ctx, notification.Alert{
		Level:   notification.AlertInfo,
		Title:   "Model retrain window",
		Message: "weekly rebound model retrain may begin; trading is idle until Monday open",
	})

	if e.cfg.RetrainCmd == "" {
		return
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", e.cfg.RetrainCmd)
	out, err := cmd.CombinedOutput()
	if err != nil {
		log.Printf("[engine] retrain command failed: %v: %s", err, out)
		e.notify.Send(ctx, notification.Alert{
			Level:   notification.AlertWarning,
			Title:   "Model retrain failed",
			Message: err.Error(),
		})
		return
	}
	log.Printf("[engine] retrain command finished: %s", out)
}
