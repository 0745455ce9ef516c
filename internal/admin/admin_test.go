package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"rebound-trader/internal/model"
)

type fakeEngine struct {
	positions  []model.Position
	liquidated []string
	liqErr     error
}

func (f *fakeEngine) Positions() []model.Position { return f.positions }

func (f *fakeEngine) Ledger() LedgerView {
	return LedgerView{TotalCapital: 300000, PerSymbolCap: 100000, Available: 200000, OpenSlots: 2,
		Allocated: map[string]int64{"005930": 100000}}
}

func (f *fakeEngine) Report(ctx context.Context, day time.Time) (model.DailyReport, error) {
	return model.DailyReport{Date: day.Format("2006-01-02"), Sells: 1, Wins: 1}, nil
}

func (f *fakeEngine) Liquidate(ctx context.Context, symbol string) error {
	if f.liqErr != nil {
		return f.liqErr
	}
	f.liquidated = append(f.liquidated, symbol)
	return nil
}

const testSecret = "JBSWY3DPEHPK3PXP"

func TestHandler_Positions(t *testing.T) {
	eng := &fakeEngine{positions: []model.Position{{Symbol: "005930", Qty: 10, AvgPrice: 62000}}}
	h := New(eng, testSecret)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []model.Position
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Symbol != "005930" {
		t.Errorf("positions = %+v", got)
	}
}

func TestHandler_PositionsEmptyIsArray(t *testing.T) {
	h := New(&fakeEngine{}, testSecret)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("body = %q, want JSON array", body)
	}
}

func TestHandler_LiquidateRequiresValidOTP(t *testing.T) {
	eng := &fakeEngine{positions: []model.Position{{Symbol: "005930"}}}
	h := New(eng, testSecret)
	mux := h.Routes()

	// Missing OTP.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/liquidate?symbol=005930", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no OTP: status = %d, want 401", rec.Code)
	}
	if len(eng.liquidated) != 0 {
		t.Fatal("liquidation ran without OTP")
	}

	// Valid OTP.
	code, err := totp.GenerateCode(testSecret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/liquidate?symbol=005930", nil)
	req.Header.Set("X-Admin-OTP", code)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid OTP: status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(eng.liquidated) != 1 || eng.liquidated[0] != "005930" {
		t.Errorf("liquidated = %v", eng.liquidated)
	}
}

func TestHandler_LiquidateDisabledWithoutSecret(t *testing.T) {
	h := New(&fakeEngine{}, "")

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/liquidate?symbol=005930", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 when no TOTP secret configured", rec.Code)
	}
}

func TestHandler_LiquidateUnknownSymbol(t *testing.T) {
	eng := &fakeEngine{liqErr: fmt.Errorf("no open position for 999999")}
	h := New(eng, testSecret)

	code, _ := totp.GenerateCode(testSecret, time.Now())
	req := httptest.NewRequest(http.MethodPost, "/api/liquidate?symbol=999999", nil)
	req.Header.Set("X-Admin-OTP", code)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestHandler_ReportDateValidation(t *testing.T) {
	h := New(&fakeEngine{}, testSecret)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/report?date=not-a-date", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/report?date=2026-03-10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var report model.DailyReport
	json.Unmarshal(rec.Body.Bytes(), &report)
	if report.Date != "2026-03-10" {
		t.Errorf("Date = %q", report.Date)
	}
}
