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

	"github.com/gorilla/websocket"
)

const (
	defaultWSURL = "ws://ops.koreainvestment.com:21000"
	trIDRealtime = "H0STCNT0" // domestic stock execution ticks
)

// Tick is a single realtime trade report from the exchange feed.
type Tick struct {
	Symbol string
	Price  int64
	Volume int64
	At     time.Time
}

// RealtimeFeed maintains a websocket subscription to KIS execution ticks
// and publishes the latest price per symbol. It reconnects with backoff
// and re-subscribes the full symbol set after every reconnect.
type RealtimeFeed struct {
	cfg   Config
	wsURL string

	mu      sync.RWMutex
	symbols map[string]bool
	latest  map[string]Tick

	conn   *websocket.Conn
	connMu sync.Mutex

	// OnTick, if set, is invoked for every parsed tick. Must not block.
	OnTick func(Tick)
}

// NewRealtimeFeed creates a feed for the given symbols. Run must be called
// to start receiving.
func NewRealtimeFeed(cfg Config, symbols []string) *RealtimeFeed {
	f := &RealtimeFeed{
		cfg:     cfg,
		wsURL:   defaultWSURL,
		symbols: make(map[string]bool, len(symbols)),
		latest:  make(map[string]Tick),
	}
	for _, s := range symbols {
		f.symbols[s] = true
	}
	return f
}

// approvalKey requests the websocket approval key. Unlike the REST token
// it uses the secretkey field name.
func (f *RealtimeFeed) approvalKey(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     f.cfg.AppKey,
		"secretkey":  f.cfg.AppSecret,
	})
	base := f.cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+routes["approval"], bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("content-type", "application/json")

	resp, err := (&http.Client{Timeout: 7 * time.Second}).Do(req)
	if err != nil {
		return "", fmt.Errorf("kis: approval key: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("kis: approval key: status %d: %s", resp.StatusCode, raw)
	}

	var out struct {
		ApprovalKey string `json:"approval_key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("kis: approval key decode: %w", err)
	}
	if out.ApprovalKey == "" {
		return "", fmt.Errorf("kis: empty approval key")
	}
	return out.ApprovalKey, nil
}

// Run connects and consumes ticks until ctx is cancelled. Connection
// failures trigger reconnects with capped backoff.
func (f *RealtimeFeed) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.runOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[kisws] connection lost: %v, reconnecting in %s", err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}
		backoff = time.Second
	}
}

func (f *RealtimeFeed) runOnce(ctx context.Context) error {
	key, err := f.approvalKey(ctx)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer conn.Close()

	f.mu.RLock()
	syms := make([]string, 0, len(f.symbols))
	for s := range f.symbols {
		syms = append(syms, s)
	}
	f.mu.RUnlock()

	for _, sym := range syms {
		if err := f.subscribe(conn, key, sym); err != nil {
			return fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}
	log.Printf("[kisws] connected, subscribed %d symbols", len(syms))

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(conn, raw)
	}
}

func (f *RealtimeFeed) subscribe(conn *websocket.Conn, approvalKey, symbol string) error {
	msg := map[string]any{
		"header": map[string]string{
			"approval_key": approvalKey,
			"custtype":     "P",
			"tr_type":      "1",
			"content-type": "utf-8",
		},
		"body": map[string]any{
			"input": map[string]string{
				"tr_id":  trIDRealtime,
				"tr_key": symbol,
			},
		},
	}
	return conn.WriteJSON(msg)
}

// handleMessage routes a raw frame. Tick frames start with '0' and are
// pipe-delimited; everything else is a JSON control message.
func (f *RealtimeFeed) handleMessage(conn *websocket.Conn, raw []byte) {
	if len(raw) == 0 {
		return
	}
	if raw[0] == '0' || raw[0] == '1' {
		f.handleTick(string(raw))
		return
	}

	// Control frame: answer PINGPONG, log subscription acks.
	var ctrl struct {
		Header struct {
			TrID string `json:"tr_id"`
		} `json:"header"`
		Body struct {
			Msg string `json:"msg1"`
		} `json:"body"`
	}
	if err := json.Unmarshal(raw, &ctrl); err != nil {
		return
	}
	switch ctrl.Header.TrID {
	case "PINGPONG":
		conn.WriteMessage(websocket.PongMessage, raw)
	default:
		if ctrl.Body.Msg != "" {
			log.Printf("[kisws] %s: %s", ctrl.Header.TrID, ctrl.Body.Msg)
		}
	}
}

// handleTick parses "0|H0STCNT0|001|<caret-joined fields>". The symbol and
// per-field values live in the caret-delimited fourth segment.
func (f *RealtimeFeed) handleTick(msg string) {
	parts := strings.Split(msg, "|")
	if len(parts) < 4 || parts[1] != trIDRealtime {
		return
	}
	fields := strings.Split(parts[3], "^")
	if len(fields) < 14 {
		return
	}

	symbol := fields[0]
	price, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || price <= 0 {
		return
	}
	volume, _ := strconv.ParseInt(fields[13], 10, 64)

	tick := Tick{Symbol: symbol, Price: price, Volume: volume, At: time.Now()}

	f.mu.Lock()
	f.latest[symbol] = tick
	f.mu.Unlock()

	if f.OnTick != nil {
		f.OnTick(tick)
	}
}

// Latest returns the most recent tick for symbol, if any has arrived.
func (f *RealtimeFeed) Latest(symbol string) (Tick, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.latest[symbol]
	return t, ok
}
