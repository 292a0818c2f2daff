package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/chidi150c/tradeguard/internal/logger"
)

// Config is the full bot configuration. Values come from, in increasing
// precedence: Default(), the YAML file, then the environment (.env included).
// Credentials are read from the environment only.
type Config struct {
	Mode   string `yaml:"mode" env:"MODE"`     // paper | binance
	Symbol string `yaml:"symbol" env:"SYMBOL"` // BASE/QUOTE, e.g. BTC/USDT

	SleepSeconds       int           `yaml:"sleep_seconds" env:"SLEEP_SECONDS"`
	ErrorCooldown      time.Duration `yaml:"error_cooldown" env:"ERROR_COOLDOWN"`
	ModelResetDays     int           `yaml:"model_reset_days" env:"MODEL_RESET_DAYS"`
	MinCandles         int           `yaml:"min_candles" env:"MIN_CANDLES"`
	CandleInterval     string        `yaml:"candle_interval" env:"CANDLE_INTERVAL"`
	CandleLimit        int           `yaml:"candle_limit" env:"CANDLE_LIMIT"`
	JournalPath        string        `yaml:"journal_path" env:"JOURNAL_PATH"`
	OpsListen          string        `yaml:"ops_listen" env:"OPS_LISTEN"`
	LockFile           string        `yaml:"lock_file" env:"LOCK_FILE"`

	Drawdown  DrawdownConfig  `yaml:"drawdown"`
	Risk      RiskConfig      `yaml:"risk"`
	Retry     RetryConfig     `yaml:"retry"`
	Execution ExecutionConfig `yaml:"execution"`
	Alerts    AlertConfig     `yaml:"alerts"`
	Sentiment SentimentConfig `yaml:"sentiment"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Log       logger.Config   `yaml:"log"`
}

type DrawdownConfig struct {
	MaxDrawdownPercent float64       `yaml:"max_drawdown_percent" env:"MAX_DRAWDOWN_PERCENT"`
	SaveFile           string        `yaml:"save_file" env:"DRAWDOWN_SAVE_FILE"`
	CheckpointCron     string        `yaml:"checkpoint_cron" env:"DRAWDOWN_CHECKPOINT_CRON"`
	HaltCooldown       time.Duration `yaml:"halt_cooldown" env:"DRAWDOWN_HALT_COOLDOWN"`
	DefaultPortfolio   float64       `yaml:"default_portfolio" env:"DRAWDOWN_DEFAULT_PORTFOLIO"`
}

type RiskConfig struct {
	RiskPercent      float64 `yaml:"risk_percent" env:"RISK_PERCENT"`
	MaxPositionSize  float64 `yaml:"max_position_size" env:"MAX_POSITION_SIZE"`
	MinRiskPercent   float64 `yaml:"min_risk_percent" env:"MIN_RISK_PERCENT"`
	RiskCeiling      float64 `yaml:"risk_ceiling" env:"RISK_CEILING"`
	AssumedPortfolio float64 `yaml:"assumed_portfolio" env:"ASSUMED_PORTFOLIO"`
	UseLivePortfolio bool    `yaml:"use_live_portfolio" env:"USE_LIVE_PORTFOLIO"`
	// DivergencePct is the relative gap between assumed and live portfolio
	// that triggers a warning.
	DivergencePct float64 `yaml:"divergence_pct" env:"PORTFOLIO_DIVERGENCE_PCT"`
}

type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialDelay   time.Duration `yaml:"initial_delay" env:"RETRY_INITIAL_DELAY"`
	RateLimitCodes []int         `yaml:"rate_limit_codes" env:"RATE_LIMIT_CODES" envSeparator:","`
}

type ExecutionConfig struct {
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown" env:"RATE_LIMIT_COOLDOWN"`
}

type AlertConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"ALERT_TIMEOUT"`
	Hub     bool          `yaml:"hub" env:"ALERT_HUB"`

	SendGridAPIKey string `yaml:"-" env:"SENDGRID_API_KEY"`
	Email          string `yaml:"email" env:"ALERT_EMAIL"`
	FromEmail      string `yaml:"from_email" env:"ALERT_FROM_EMAIL"`

	SlackWebhookURL   string `yaml:"-" env:"SLACK_WEBHOOK_URL"`
	DiscordWebhookURL string `yaml:"-" env:"DISCORD_WEBHOOK_URL"`

	TelegramBotToken string `yaml:"-" env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   int64  `yaml:"telegram_chat_id" env:"TELEGRAM_CHAT_ID"`
}

type SentimentConfig struct {
	Query   string        `yaml:"query" env:"SENTIMENT_QUERY"`
	Timeout time.Duration `yaml:"timeout" env:"SENTIMENT_TIMEOUT"`

	NewsAPIKey         string `yaml:"-" env:"NEWSAPI_KEY"`
	TwitterBearerToken string `yaml:"-" env:"TWITTER_BEARER_TOKEN"`
	RedditClientID     string `yaml:"-" env:"REDDIT_CLIENT_ID"`
	RedditClientSecret string `yaml:"-" env:"REDDIT_CLIENT_SECRET"`
	RedditUserAgent    string `yaml:"reddit_user_agent" env:"REDDIT_USER_AGENT"`
}

type ExchangeConfig struct {
	APIKey  string `yaml:"-" env:"BINANCE_API_KEY"`
	Secret  string `yaml:"-" env:"BINANCE_SECRET"`
	Testnet bool   `yaml:"testnet" env:"BINANCE_TESTNET"`

	PaperQuoteBalance float64 `yaml:"paper_quote_balance" env:"PAPER_QUOTE_BALANCE"`
	PaperPrice        float64 `yaml:"paper_price" env:"PAPER_PRICE"`
	PaperMinOrder     float64 `yaml:"paper_min_order" env:"PAPER_MIN_ORDER"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Mode:           "paper",
		Symbol:         "BTC/USDT",
		SleepSeconds:   300,
		ErrorCooldown:  60 * time.Second,
		ModelResetDays: 7,
		MinCandles:     50,
		CandleInterval: "1h",
		CandleLimit:    500,
		JournalPath:    "data/trades.db",
		OpsListen:      "127.0.0.1:9090",
		LockFile:       "data/bot.pid",
		Drawdown: DrawdownConfig{
			MaxDrawdownPercent: 10,
			SaveFile:           "data/drawdown_state.json",
			CheckpointCron:     "*/10 * * * *",
			HaltCooldown:       24 * time.Hour,
			DefaultPortfolio:   10000,
		},
		Risk: RiskConfig{
			RiskPercent:      1.0,
			MaxPositionSize:  0.01,
			MinRiskPercent:   0.01,
			RiskCeiling:      5.0,
			AssumedPortfolio: 10000,
			DivergencePct:    25,
		},
		Retry: RetryConfig{
			MaxRetries:     5,
			InitialDelay:   time.Second,
			RateLimitCodes: []int{429, -1003},
		},
		Execution: ExecutionConfig{RateLimitCooldown: 60 * time.Second},
		Alerts: AlertConfig{
			Timeout:   10 * time.Second,
			FromEmail: "system@example.com",
		},
		Sentiment: SentimentConfig{
			Query:           "bitcoin",
			Timeout:         15 * time.Second,
			RedditUserAgent: "tradeguard/1.0",
		},
		Exchange: ExchangeConfig{
			Testnet:           true,
			PaperQuoteBalance: 10000,
			PaperPrice:        50000,
			PaperMinOrder:     0.0001,
		},
		Log: logger.Config{Level: "info", MaxSize: 50, MaxBackups: 5, MaxAge: 30},
	}
}

// Load builds the configuration from an optional YAML file and the environment.
// A .env file in the working directory is loaded first without overriding
// variables that are already set.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, errors.Wrap(err, "load .env")
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the bot cannot run safely with.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Mode {
	case "paper", "binance":
	default:
		add("mode must be paper or binance, got %q", c.Mode)
	}
	if _, _, err := c.Assets(); err != nil {
		add("%v", err)
	}
	if c.SleepSeconds <= 0 {
		add("sleep_seconds must be > 0")
	}
	if c.Drawdown.MaxDrawdownPercent <= 0 || c.Drawdown.MaxDrawdownPercent >= 100 {
		add("max_drawdown_percent must be in (0, 100)")
	}
	if c.Drawdown.SaveFile == "" {
		add("drawdown save_file is required")
	}
	if c.Drawdown.DefaultPortfolio <= 0 {
		add("drawdown default_portfolio must be > 0")
	}
	gron := gronx.New()
	if !gron.IsValid(c.Drawdown.CheckpointCron) {
		add("invalid checkpoint_cron %q", c.Drawdown.CheckpointCron)
	}
	if c.Risk.RiskCeiling <= 0 || c.Risk.RiskCeiling > 100 {
		add("risk_ceiling must be in (0, 100]")
	}
	if c.Risk.MinRiskPercent <= 0 || c.Risk.MinRiskPercent > c.Risk.RiskCeiling {
		add("min_risk_percent must be in (0, risk_ceiling]")
	}
	if c.Risk.RiskPercent <= 0 || c.Risk.RiskPercent > c.Risk.RiskCeiling {
		add("risk_percent must be in (0, risk_ceiling]")
	}
	if c.Risk.MaxPositionSize <= 0 {
		add("max_position_size must be > 0")
	}
	if c.Retry.MaxRetries < 1 {
		add("retry max_retries must be >= 1")
	}
	if c.Retry.InitialDelay < 0 {
		add("retry initial_delay must be >= 0")
	}
	if c.Mode == "binance" && (c.Exchange.APIKey == "" || c.Exchange.Secret == "") {
		add("binance mode requires BINANCE_API_KEY and BINANCE_SECRET")
	}

	if len(problems) > 0 {
		return errors.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Assets splits Symbol into base and quote currencies.
func (c *Config) Assets() (base, quote string, err error) {
	parts := strings.Split(c.Symbol, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Errorf("symbol %q is not BASE/QUOTE", c.Symbol)
	}
	return parts[0], parts[1], nil
}

func (c *Config) SleepInterval() time.Duration {
	return time.Duration(c.SleepSeconds) * time.Second
}
