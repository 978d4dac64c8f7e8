package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"gridbot/internal/core"
	"gridbot/internal/logger"
)

const (
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
	reconnectBackoff = 5 * time.Second
)

// BinanceFeed streams live trade ticks from the Binance aggTrade websocket.
// The connection is re-dialed with a fixed backoff when it drops; Close stops
// the feed for good.
type BinanceFeed struct {
	url    string
	symbol string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	stop   chan struct{}
}

type aggTradeMessage struct {
	Price     string `json:"p"`
	TradeTime int64  `json:"T"`
}

func NewBinanceFeed(wsURL, symbol string) (*BinanceFeed, error) {
	if wsURL == "" || symbol == "" {
		return nil, errors.New("ws url and symbol required")
	}
	f := &BinanceFeed{
		url:    fmt.Sprintf("%s/%s@aggTrade", strings.TrimRight(wsURL, "/"), strings.ToLower(symbol)),
		symbol: strings.ToUpper(symbol),
		stop:   make(chan struct{}),
	}
	if err := f.dial(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *BinanceFeed) dial() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	go f.pingLoop(conn)
	return nil
}

func (f *BinanceFeed) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-f.stop:
			return
		}
	}
}

// Next blocks until the next trade arrives. It never returns io.EOF; a
// closed feed reports an error.
func (f *BinanceFeed) Next() (Observation, error) {
	for {
		f.mu.Lock()
		conn, closed := f.conn, f.closed
		f.mu.Unlock()
		if closed {
			return Observation{}, errors.New("feed closed")
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.isClosed() {
				return Observation{}, errors.New("feed closed")
			}
			logger.S().Warnw("stream read failed, reconnecting",
				"symbol", f.symbol, "err", err)
			_ = conn.Close()
			time.Sleep(reconnectBackoff)
			if err := f.dial(); err != nil {
				logger.S().Warnw("stream redial failed", "symbol", f.symbol, "err", err)
			}
			continue
		}

		var trade aggTradeMessage
		if err := json.Unmarshal(message, &trade); err != nil {
			continue
		}
		price, err := decimal.NewFromString(trade.Price)
		if err != nil {
			continue
		}
		return Observation{
			Time:  time.UnixMilli(trade.TradeTime),
			Price: price,
		}, nil
	}
}

func (f *BinanceFeed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *BinanceFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.stop)
	if f.conn == nil {
		return nil
	}
	_ = f.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return f.conn.Close()
}

var _ Feed = (*BinanceFeed)(nil)

// HistoryClient fetches historical klines over REST for replay files.
type HistoryClient struct {
	client *binance.Client
}

func NewHistoryClient(restURL, apiKey, apiSecret string) *HistoryClient {
	client := binance.NewClient(apiKey, apiSecret)
	if restURL != "" {
		client.BaseURL = restURL
	}
	return &HistoryClient{client: client}
}

// KlinesRange pages through the klines endpoint until the whole window is
// covered.
func (h *HistoryClient) KlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]core.Bar, error) {
	const maxLimit = 1000
	var bars []core.Bar
	from := start
	for {
		klines, err := h.client.NewKlinesService().
			Symbol(strings.ToUpper(symbol)).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxLimit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch klines %s %s: %w", symbol, interval, err)
		}
		if len(klines) == 0 {
			break
		}
		for _, k := range klines {
			bar, err := translateKline(k)
			if err != nil {
				return nil, err
			}
			bars = append(bars, bar)
		}
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.CloseTime)
		if from.After(end) || len(klines) < maxLimit {
			break
		}
	}
	return bars, nil
}

func translateKline(k *binance.Kline) (core.Bar, error) {
	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return core.Bar{}, fmt.Errorf("kline open %q: %w", k.Open, err)
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return core.Bar{}, fmt.Errorf("kline high %q: %w", k.High, err)
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return core.Bar{}, fmt.Errorf("kline low %q: %w", k.Low, err)
	}
	closePrice, err := decimal.NewFromString(k.Close)
	if err != nil {
		return core.Bar{}, fmt.Errorf("kline close %q: %w", k.Close, err)
	}
	volume, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return core.Bar{}, fmt.Errorf("kline volume %q: %w", k.Volume, err)
	}
	return core.Bar{
		Time:   time.UnixMilli(k.OpenTime),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: volume,
	}, nil
}
