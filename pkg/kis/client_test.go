package kis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"rebound-trader/internal/broker"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		AppKey:    "test-key",
		AppSecret: "test-secret",
		AccountNo: "12345678-01",
		BaseURL:   srv.URL,
		Paper:     true,
	})
}

func tokenResponse(w http.ResponseWriter) {
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": "tok",
		"expires_in":   86400,
	})
}

func TestClient_BuyOrderSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case routes["token"]:
			tokenResponse(w)
		case routes["order"]:
			if got := r.Header.Get("tr_id"); got != "VTTC0802U" {
				t.Errorf("tr_id = %q, want paper buy VTTC0802U", got)
			}
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["CANO"] != "12345678" || body["ACNT_PRDT_CD"] != "01" {
				t.Errorf("account split wrong: %v", body)
			}
			if body["ORD_QTY"] != "10" || body["ORD_UNPR"] != "0" {
				t.Errorf("order fields wrong: %v", body)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"rt_cd":  "0",
				"msg1":   "ok",
				"output": map[string]string{"ODNO": "0001234567"},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	res, err := c.BuyMarketOrder(context.Background(), "005930", 10)
	if err != nil {
		t.Fatalf("BuyMarketOrder: %v", err)
	}
	if res.OrderNo != "0001234567" {
		t.Errorf("OrderNo = %q, want 0001234567", res.OrderNo)
	}
}

func TestClient_OrderRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == routes["token"] {
			tokenResponse(w)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"rt_cd": "1",
			"msg1":  "insufficient cash",
		})
	})

	_, err := c.SellMarketOrder(context.Background(), "005930", 5)
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if !broker.IsRejected(err) {
		t.Errorf("error %v not classified as rejection", err)
	}
	if broker.IsTransient(err) {
		t.Errorf("rejection must not be transient")
	}
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == routes["token"] {
			tokenResponse(w)
			return
		}
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.GetCurrentPrice(context.Background(), "005930")
	if err == nil {
		t.Fatal("expected error")
	}
	if !broker.IsTransient(err) {
		t.Errorf("5xx should classify as transient, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts with retries, got %d", calls)
	}
}

func TestClient_GetHoldingsFiltersZeroQty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == routes["token"] {
			tokenResponse(w)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"rt_cd": "0",
			"output1": []map[string]string{
				{"pdno": "005930", "prdt_name": "SamsungElec", "hldg_qty": "10", "pchs_avg_pric": "71200.0000"},
				{"pdno": "000660", "prdt_name": "SKHynix", "hldg_qty": "0", "pchs_avg_pric": "0"},
			},
		})
	})

	holdings, err := c.GetHoldings(context.Background())
	if err != nil {
		t.Fatalf("GetHoldings: %v", err)
	}
	if len(holdings) != 1 {
		t.Fatalf("len = %d, want 1", len(holdings))
	}
	if holdings[0].Symbol != "005930" || holdings[0].AvgPrice != 71200 {
		t.Errorf("holding = %+v", holdings[0])
	}
}

func TestParseWon(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"71200", 71200},
		{"71200.0000", 71200},
		{" 300000 ", 300000},
		{"", 0},
		{"abc", 0},
	}
	for _, tc := range cases {
		if got := parseWon(tc.in); got != tc.want {
			t.Errorf("parseWon(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
