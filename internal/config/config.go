package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"gridbot/internal/core"
	"gridbot/internal/logger"
)

type Mode string

type FeedSource string

const (
	ModeBacktest Mode = "backtest"
	ModeLive     Mode = "live"
)

const (
	FeedJSONL   FeedSource = "jsonl"
	FeedBinance FeedSource = "binance"
)

type Config struct {
	Mode    Mode          `yaml:"mode"`
	Symbol  string        `yaml:"symbol"`
	Grid    GridConfig    `yaml:"grid"`
	Risk    RiskConfig    `yaml:"risk"`
	Account AccountConfig `yaml:"account"`
	Rules   RulesConfig   `yaml:"rules"`
	Feed    FeedConfig    `yaml:"feed"`
	State   StateConfig   `yaml:"state"`
	Journal JournalConfig `yaml:"journal"`
	Log     logger.Config `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type GridConfig struct {
	Bottom  Decimal          `yaml:"bottom"`
	Top     Decimal          `yaml:"top"`
	Levels  int              `yaml:"levels"`
	Spacing core.SpacingMode `yaml:"spacing"`
	// OrderQty is optional: when zero the per-order quantity is derived from
	// account.initial_balance spread evenly across the levels.
	OrderQty Decimal `yaml:"order_qty"`
}

type RiskConfig struct {
	TakeProfitPrice    Decimal `yaml:"take_profit_price"`
	StopLossPrice      Decimal `yaml:"stop_loss_price"`
	MaxBadObservations int     `yaml:"max_bad_observations"`
}

type AccountConfig struct {
	InitialBalance Decimal `yaml:"initial_balance"`
	FeeRate        Decimal `yaml:"fee_rate"`
}

type RulesConfig struct {
	PriceTick Decimal `yaml:"price_tick"`
	QtyStep   Decimal `yaml:"qty_step"`
}

type FeedConfig struct {
	Source   FeedSource `yaml:"source"`
	DataPath string     `yaml:"data_path"`
	WSURL    string     `yaml:"ws_url"`
	RestURL  string     `yaml:"rest_url"`
}

type StateConfig struct {
	Dir string `yaml:"dir"`
}

type JournalConfig struct {
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("config must contain a single YAML document")
		}
		return Config{}, err
	}
	cfg.normalize()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Mode = Mode(strings.ToLower(strings.TrimSpace(string(c.Mode))))
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	c.Grid.Spacing = core.SpacingMode(strings.ToLower(strings.TrimSpace(string(c.Grid.Spacing))))
	c.Feed.Source = FeedSource(strings.ToLower(strings.TrimSpace(string(c.Feed.Source))))
	c.Feed.DataPath = strings.TrimSpace(c.Feed.DataPath)
	c.Feed.WSURL = strings.TrimSpace(c.Feed.WSURL)
	c.Feed.RestURL = strings.TrimSpace(c.Feed.RestURL)
	c.State.Dir = strings.TrimSpace(c.State.Dir)
	c.Journal.Path = strings.TrimSpace(c.Journal.Path)
	c.Metrics.ListenAddr = strings.TrimSpace(c.Metrics.ListenAddr)
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeBacktest
	}
	if c.Grid.Spacing == "" {
		c.Grid.Spacing = core.SpacingArithmetic
	}
	if c.Risk.MaxBadObservations == 0 {
		c.Risk.MaxBadObservations = 5
	}
	if c.Feed.Source == "" {
		c.Feed.Source = FeedJSONL
	}
	if c.State.Dir == "" {
		c.State.Dir = "state"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Output == "" {
		c.Log.Output = "console"
	}
	if c.Feed.Source == FeedBinance {
		if c.Feed.WSURL == "" {
			c.Feed.WSURL = "wss://stream.binance.com:9443/ws"
		}
		if c.Feed.RestURL == "" {
			c.Feed.RestURL = "https://api.binance.com"
		}
	}
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeBacktest, ModeLive:
	default:
		return fmt.Errorf("mode must be backtest or live")
	}
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !isValidSymbol(c.Symbol) {
		return fmt.Errorf("symbol must match [A-Z0-9], length 6..20")
	}
	if c.Grid.Levels < 2 {
		return fmt.Errorf("grid levels must be >= 2")
	}
	if c.Grid.Spacing != core.SpacingArithmetic && c.Grid.Spacing != core.SpacingGeometric {
		return fmt.Errorf("grid spacing must be arithmetic or geometric")
	}
	if c.Grid.Bottom.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("grid bottom must be > 0")
	}
	if c.Grid.Bottom.Cmp(c.Grid.Top.Decimal) >= 0 {
		return fmt.Errorf("grid bottom must be below top")
	}
	if c.Grid.OrderQty.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("grid order_qty must be >= 0")
	}
	if c.Grid.OrderQty.Cmp(decimal.Zero) == 0 && c.Account.InitialBalance.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("account initial_balance is required when order_qty is not set")
	}
	if c.Risk.StopLossPrice.Cmp(decimal.Zero) > 0 && c.Risk.StopLossPrice.Cmp(c.Grid.Bottom.Decimal) >= 0 {
		return fmt.Errorf("risk stop_loss_price must be below grid bottom")
	}
	if c.Risk.TakeProfitPrice.Cmp(decimal.Zero) > 0 && c.Risk.TakeProfitPrice.Cmp(c.Grid.Top.Decimal) <= 0 {
		return fmt.Errorf("risk take_profit_price must be above grid top")
	}
	if c.Risk.MaxBadObservations < 1 {
		return fmt.Errorf("risk max_bad_observations must be >= 1")
	}
	if c.Account.InitialBalance.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("account initial_balance must be >= 0")
	}
	if c.Account.FeeRate.Cmp(decimal.Zero) < 0 || c.Account.FeeRate.Cmp(decimal.NewFromInt(1)) >= 0 {
		return fmt.Errorf("account fee_rate must be in [0, 1)")
	}
	if c.Rules.PriceTick.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("rules price_tick must be >= 0")
	}
	if c.Rules.QtyStep.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("rules qty_step must be >= 0")
	}
	switch c.Feed.Source {
	case FeedJSONL:
		if c.Mode == ModeBacktest && c.Feed.DataPath == "" {
			return fmt.Errorf("feed data_path is required for jsonl source")
		}
	case FeedBinance:
		if err := validateURL(c.Feed.WSURL, "ws", "wss"); err != nil {
			return fmt.Errorf("feed ws_url %v", err)
		}
		if err := validateURL(c.Feed.RestURL, "http", "https"); err != nil {
			return fmt.Errorf("feed rest_url %v", err)
		}
	default:
		return fmt.Errorf("feed source must be jsonl or binance")
	}
	return nil
}

// CoreRules converts the instrument rounding rules to the engine's type.
func (c Config) CoreRules() core.Rules {
	return core.Rules{
		PriceTick: c.Rules.PriceTick.Decimal,
		QtyStep:   c.Rules.QtyStep.Decimal,
	}
}

// OrderQty resolves the per-order quantity: the explicit value when set,
// otherwise the initial balance split evenly across the levels at the
// reference price, rounded down to the quantity step.
func (c Config) OrderQty(refPrice decimal.Decimal) decimal.Decimal {
	if c.Grid.OrderQty.Cmp(decimal.Zero) > 0 {
		return c.CoreRules().RoundQty(c.Grid.OrderQty.Decimal)
	}
	if refPrice.Cmp(decimal.Zero) <= 0 || c.Grid.Levels < 1 {
		return decimal.Zero
	}
	qty := c.Account.InitialBalance.Decimal.
		Div(decimal.NewFromInt(int64(c.Grid.Levels))).
		Div(refPrice)
	return c.CoreRules().RoundQty(qty)
}

func isValidSymbol(v string) bool {
	if len(v) < 6 || len(v) > 20 {
		return false
	}
	for _, r := range v {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
}
