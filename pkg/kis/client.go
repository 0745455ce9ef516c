// Package kis is a client for the Korea Investment & Securities OpenAPI,
// covering the order, balance and quote endpoints the trading engine needs.
// It handles OAuth token issuance/refresh, TR-ID selection for paper vs live
// accounts, and wraps every call in a bounded retry pipeline.
package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"rebound-trader/internal/broker"
)

const defaultBaseURL = "https://openapi.koreainvestment.com:9443"

// TR IDs differ between the paper-trading (V...) and live (T...) account.
var trIDs = map[string][2]string{
	// name: {live, paper}
	"order.buy":  {"TTTC0802U", "VTTC0802U"},
	"order.sell": {"TTTC0801U", "VTTC0801U"},
	"balance":    {"TTTC8908R", "VTTC8908R"},
	"holdings":   {"TTTC8434R", "VTTC8434R"},
}

var routes = map[string]string{
	"token":    "/oauth2/tokenP",
	"approval": "/oauth2/Approval",
	"order":    "/uapi/domestic-stock/v1/trading/order-cash",
	"balance":  "/uapi/domestic-stock/v1/trading/inquire-psbl-order",
	"holdings": "/uapi/domestic-stock/v1/trading/inquire-balance",
	"price":    "/uapi/domestic-stock/v1/quotations/inquire-price",
}

// Config holds KIS credentials and client options.
type Config struct {
	AppKey    string
	AppSecret string
	AccountNo string // "XXXXXXXX-XX"
	BaseURL   string // default: openapi.koreainvestment.com:9443
	Paper     bool   // paper-trading account (V-series TR IDs)
	Timeout   time.Duration
}

// Client talks to the KIS REST API. It is safe for concurrent read calls;
// the engine serializes order placement on its own.
type Client struct {
	cfg        Config
	httpClient *http.Client
	pipeline   failsafe.Executor[*http.Response]

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	// SessionExpiryHook is called when the API reports an expired token
	// outside the normal refresh window.
	SessionExpiryHook func()
}

// NewClient creates a Client. The token is issued lazily on first use.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}

	// Retry on network errors, 5xx and rate limits; rejections come back
	// with HTTP 200 + rt_cd != 0 and are never retried here.
	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		}).
		WithBackoff(200*time.Millisecond, 2*time.Second).
		WithMaxRetries(2). // 3 attempts total
		Build()

	mode := "live"
	if cfg.Paper {
		mode = "paper"
	}
	log.Printf("[kis] client ready base=%s account=%s mode=%s", cfg.BaseURL, cfg.AccountNo, mode)

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		pipeline:   failsafe.With[*http.Response](retryPolicy),
	}
}

func (c *Client) trID(name string) string {
	pair := trIDs[name]
	if c.cfg.Paper {
		return pair[1]
	}
	return pair[0]
}

func (c *Client) accountParts() (cano, prdt string) {
	parts := strings.SplitN(c.cfg.AccountNo, "-", 2)
	if len(parts) != 2 {
		return c.cfg.AccountNo, "01"
	}
	return parts[0], parts[1]
}

// ensureToken issues or refreshes the OAuth access token. KIS tokens live
// 24h; refresh an hour early to avoid mid-session expiry.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-time.Hour)) {
		return c.accessToken, nil
	}

	body, _ := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.cfg.AppKey,
		"appsecret":  c.cfg.AppSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+routes["token"], bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("kis: token request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &broker.TransientError{Op: "token", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", &broker.TransientError{Op: "token", Err: fmt.Errorf("status %d: %s", resp.StatusCode, raw)}
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("kis: token decode: %w", err)
	}
	if out.AccessToken == "" {
		return "", &broker.TransientError{Op: "token", Err: fmt.Errorf("empty access token")}
	}

	c.accessToken = out.AccessToken
	if out.ExpiresIn > 0 {
		c.tokenExpiry = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	} else {
		c.tokenExpiry = time.Now().Add(24 * time.Hour)
	}
	log.Printf("[kis] access token issued, expires %s", c.tokenExpiry.Format("15:04:05"))
	return c.accessToken, nil
}

func (c *Client) headers(ctx context.Context, trID string) (http.Header, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("content-type", "application/json; charset=utf-8")
	h.Set("authorization", "Bearer "+token)
	h.Set("appkey", c.cfg.AppKey)
	h.Set("appsecret", c.cfg.AppSecret)
	h.Set("tr_id", trID)
	return h, nil
}

// apiEnvelope is the common KIS response frame: rt_cd "0" means success.
type apiEnvelope struct {
	RtCd    string          `json:"rt_cd"`
	Msg     string          `json:"msg1"`
	MsgCd   string          `json:"msg_cd"`
	Output  json.RawMessage `json:"output"`
	Output1 json.RawMessage `json:"output1"`
}

func (c *Client) call(ctx context.Context, method, route, trID string, query map[string]string, body any) (*apiEnvelope, error) {
	hdr, err := c.headers(ctx, trID)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("kis: marshal body: %w", err)
		}
	}

	resp, err := c.pipeline.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, reqErr := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+route, rd)
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header = hdr.Clone()
		if query != nil {
			q := req.URL.Query()
			for k, v := range query {
				q.Set(k, v)
			}
			req.URL.RawQuery = q.Encode()
		}
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, &broker.TransientError{Op: route, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden && c.SessionExpiryHook != nil {
		c.SessionExpiryHook()
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, &broker.TransientError{Op: route, Err: fmt.Errorf("status %d: %s", resp.StatusCode, raw)}
	}

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("kis: decode response: %w", err)
	}
	return &env, nil
}

// placeOrder submits a market order; side is "order.buy" or "order.sell".
func (c *Client) placeOrder(ctx context.Context, side, symbol string, qty int64) (broker.OrderResult, error) {
	cano, prdt := c.accountParts()
	env, err := c.call(ctx, http.MethodPost, routes["order"], c.trID(side), nil, map[string]string{
		"CANO":         cano,
		"ACNT_PRDT_CD": prdt,
		"PDNO":         symbol,
		"ORD_DVSN":     "01", // market order
		"ORD_QTY":      strconv.FormatInt(qty, 10),
		"ORD_UNPR":     "0",
	})
	if err != nil {
		return broker.OrderResult{}, err
	}
	if env.RtCd != "0" {
		return broker.OrderResult{}, &broker.RejectedError{Op: side, Symbol: symbol, Reason: env.Msg}
	}

	var out struct {
		OrderNo string `json:"ODNO"`
	}
	if err := json.Unmarshal(env.Output, &out); err != nil {
		return broker.OrderResult{}, fmt.Errorf("kis: order output: %w", err)
	}
	return broker.OrderResult{OrderNo: out.OrderNo, Symbol: symbol, Qty: qty, Message: env.Msg}, nil
}

// BuyMarketOrder places a market buy.
func (c *Client) BuyMarketOrder(ctx context.Context, symbol string, qty int64) (broker.OrderResult, error) {
	return c.placeOrder(ctx, "order.buy", symbol, qty)
}

// SellMarketOrder places a market sell.
func (c *Client) SellMarketOrder(ctx context.Context, symbol string, qty int64) (broker.OrderResult, error) {
	return c.placeOrder(ctx, "order.sell", symbol, qty)
}

// GetBalance reports orderable cash and net assets.
func (c *Client) GetBalance(ctx context.Context) (broker.Balance, error) {
	cano, prdt := c.accountParts()
	env, err := c.call(ctx, http.MethodGet, routes["balance"], c.trID("balance"), map[string]string{
		"CANO":                 cano,
		"ACNT_PRDT_CD":         prdt,
		"PDNO":                 "005930", // required field, unused for cash inquiry
		"ORD_UNPR":             "0",
		"ORD_DVSN":             "01",
		"CMA_EVLU_AMT_ICLD_YN": "Y",
		"OVRS_ICLD_YN":         "N",
	}, nil)
	if err != nil {
		return broker.Balance{}, err
	}
	if env.RtCd != "0" {
		return broker.Balance{}, &broker.RejectedError{Op: "balance", Reason: env.Msg}
	}

	var out struct {
		Cash   string `json:"ord_psbl_cash"`
		Assets string `json:"nass_amt"`
	}
	if err := json.Unmarshal(env.Output, &out); err != nil {
		return broker.Balance{}, fmt.Errorf("kis: balance output: %w", err)
	}
	return broker.Balance{Cash: parseWon(out.Cash), TotalAssets: parseWon(out.Assets)}, nil
}

// GetHoldings reports all broker-side positions with qty > 0.
func (c *Client) GetHoldings(ctx context.Context) ([]broker.Holding, error) {
	cano, prdt := c.accountParts()
	env, err := c.call(ctx, http.MethodGet, routes["holdings"], c.trID("holdings"), map[string]string{
		"CANO":                  cano,
		"ACNT_PRDT_CD":          prdt,
		"AFHR_FLPR_YN":          "N",
		"OFL_YN":                "",
		"INQR_DVSN":             "02",
		"UNPR_DVSN":             "01",
		"FUND_STTL_ICLD_YN":     "N",
		"FNCG_AMT_AUTO_RDPT_YN": "N",
		"PRCS_DVSN":             "01",
		"CTX_AREA_FK100":        "",
		"CTX_AREA_NK100":        "",
	}, nil)
	if err != nil {
		return nil, err
	}
	if env.RtCd != "0" {
		return nil, &broker.RejectedError{Op: "holdings", Reason: env.Msg}
	}

	var rows []struct {
		Symbol   string `json:"pdno"`
		Name     string `json:"prdt_name"`
		Qty      string `json:"hldg_qty"`
		AvgPrice string `json:"pchs_avg_pric"`
	}
	if err := json.Unmarshal(env.Output1, &rows); err != nil {
		return nil, fmt.Errorf("kis: holdings output: %w", err)
	}

	var holdings []broker.Holding
	for _, row := range rows {
		qty := parseWon(row.Qty)
		if qty <= 0 {
			continue
		}
		holdings = append(holdings, broker.Holding{
			Symbol:   row.Symbol,
			Name:     row.Name,
			Qty:      qty,
			AvgPrice: parseWon(row.AvgPrice),
		})
	}
	return holdings, nil
}

// GetCurrentPrice returns the latest traded price for a KRX symbol.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (int64, error) {
	env, err := c.call(ctx, http.MethodGet, routes["price"], "FHKST01010100", map[string]string{
		"FID_COND_MRKT_DIV_CODE": "J",
		"FID_INPUT_ISCD":         symbol,
	}, nil)
	if err != nil {
		return 0, err
	}
	if env.RtCd != "0" {
		return 0, &broker.RejectedError{Op: "price", Symbol: symbol, Reason: env.Msg}
	}

	var out struct {
		Price string `json:"stck_prpr"`
	}
	if err := json.Unmarshal(env.Output, &out); err != nil {
		return 0, fmt.Errorf("kis: price output: %w", err)
	}
	price := parseWon(out.Price)
	if price <= 0 {
		return 0, &broker.TransientError{Op: "price", Err: fmt.Errorf("no price for %s", symbol)}
	}
	return price, nil
}

// GetQuote returns the full crash-scan quote: last price, previous close
// (the session base price) and volume relative to the prior session.
func (c *Client) GetQuote(ctx context.Context, symbol string) (broker.Quote, error) {
	env, err := c.call(ctx, http.MethodGet, routes["price"], "FHKST01010100", map[string]string{
		"FID_COND_MRKT_DIV_CODE": "J",
		"FID_INPUT_ISCD":         symbol,
	}, nil)
	if err != nil {
		return broker.Quote{}, err
	}
	if env.RtCd != "0" {
		return broker.Quote{}, &broker.RejectedError{Op: "quote", Symbol: symbol, Reason: env.Msg}
	}

	var out struct {
		Price      string `json:"stck_prpr"`
		BasePrice  string `json:"stck_sdpr"`
		Volume     string `json:"acml_vol"`
		VolumeRate string `json:"prdy_vrss_vol_rate"`
	}
	if err := json.Unmarshal(env.Output, &out); err != nil {
		return broker.Quote{}, fmt.Errorf("kis: quote output: %w", err)
	}
	q := broker.Quote{
		Symbol:    symbol,
		Price:     parseWon(out.Price),
		PrevClose: parseWon(out.BasePrice),
		Volume:    parseWon(out.Volume),
	}
	if rate, perr := strconv.ParseFloat(strings.TrimSpace(out.VolumeRate), 64); perr == nil {
		q.VolumeRate = rate
	}
	if q.Price <= 0 {
		return broker.Quote{}, &broker.TransientError{Op: "quote", Err: fmt.Errorf("no price for %s", symbol)}
	}
	return q, nil
}

// parseWon parses KIS numeric strings ("12345", "12345.0000") into won.
func parseWon(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

var _ broker.Broker = (*Client)(nil)
var _ broker.QuoteSource = (*Client)(nil)
