// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"

	EventsBackendNone  = "none"
	EventsBackendRedis = "redis"
	EventsBackendNATS  = "nats"

	NotifyTransportTelegram = "telegram"
	NotifyTransportWebhook  = "webhook"
	NotifyTransportLog      = "log"
)

type Config struct {
	DB       DBConfig
	Store    StoreConfig
	Ledger   LedgerConfig
	Monitor  MonitorConfig
	Alert    AlertConfig
	Telegram TelegramConfig
	Notify   NotifyConfig
	Registry RegistryConfig
	Events   EventsConfig
	Server   ServerConfig
	Log      LogConfig
	Tracing  TracingConfig
}

type DBConfig struct {
	URL               string
	MaxOpenConns      int
	MaxIdleConns      int
	ConnMaxLifetime   time.Duration
	PoolStatsInterval time.Duration
}

type StoreConfig struct {
	Backend string
}

type LedgerConfig struct {
	RPCURL        string
	Timeout       time.Duration
	RPS           float64
	Burst         int
	PageLimit     int
	MaxPages      int
	RetryAttempts int
}

type MonitorConfig struct {
	CheckInterval     time.Duration
	Workers           int
	DispatchBatchSize int
	RunOnStart        bool
}

// AlertConfig thresholds are whole XRP.
type AlertConfig struct {
	DefaultThreshold  decimal.Decimal
	ExchangeThreshold decimal.Decimal
	CriticalThreshold decimal.Decimal
	ExplorerURL       string
}

type TelegramConfig struct {
	BotToken string
	APIURL   string
	// Channels holds the channel id per tier. Missing ids are not a startup
	// failure; dispatch to that tier reports ErrConfigurationMissing.
	Channels map[model.AlertTier]string
}

type NotifyConfig struct {
	// Transport is telegram, webhook or log (dry run).
	Transport               string
	WebhookURL              string
	SendAttempts            int
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration
	HealthAlertCooldown     time.Duration
	UnhealthyThreshold      int
}

type RegistryConfig struct {
	Path string
}

type EventsConfig struct {
	Backend           string
	RedisURL          string
	RedisStream       string
	NATSURL           string
	NATSSubjectPrefix string
}

type ServerConfig struct {
	Port int
	// ManualScanShare is the fraction of LEDGER_RPS that manual scan triggers may spend.
	ManualScanShare float64
	WritesPerMinute float64
}

type LogConfig struct {
	Level  string
	Format string
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// Load reads an optional .env file (ENV_FILE, default ".env") and then the
// process environment. Variables already set in the environment win.
func Load() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{
		DB: DBConfig{
			URL:               getEnv("DB_URL", ""),
			MaxOpenConns:      getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:      getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:   time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
			PoolStatsInterval: time.Duration(getEnvInt("DB_POOL_STATS_INTERVAL_SEC", 15)) * time.Second,
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
		},
		Ledger: LedgerConfig{
			RPCURL:        getEnv("LEDGER_RPC_URL", "https://xrplcluster.com"),
			Timeout:       time.Duration(getEnvInt("LEDGER_TIMEOUT_SEC", 15)) * time.Second,
			RPS:           getEnvFloat("LEDGER_RPS", 5),
			Burst:         getEnvInt("LEDGER_BURST", 5),
			PageLimit:     getEnvInt("LEDGER_PAGE_LIMIT", 200),
			MaxPages:      getEnvInt("LEDGER_MAX_PAGES", 10),
			RetryAttempts: getEnvInt("LEDGER_RETRY_ATTEMPTS", 4),
		},
		Monitor: MonitorConfig{
			CheckInterval:     time.Duration(getEnvInt("MONITOR_CHECK_INTERVAL_SEC", 60)) * time.Second,
			Workers:           getEnvInt("MONITOR_WORKERS", 4),
			DispatchBatchSize: getEnvInt("MONITOR_DISPATCH_BATCH_SIZE", 100),
			RunOnStart:        getEnvBool("MONITOR_RUN_ON_START", true),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			APIURL:   getEnv("TELEGRAM_API_URL", ""),
			Channels: map[model.AlertTier]string{},
		},
		Notify: NotifyConfig{
			Transport:               strings.ToLower(getEnv("NOTIFY_TRANSPORT", NotifyTransportTelegram)),
			WebhookURL:              getEnv("NOTIFY_WEBHOOK_URL", ""),
			SendAttempts:            getEnvInt("NOTIFY_SEND_ATTEMPTS", 4),
			BreakerFailureThreshold: getEnvInt("NOTIFY_BREAKER_FAILURES", 5),
			BreakerOpenTimeout:      time.Duration(getEnvInt("NOTIFY_BREAKER_OPEN_SEC", 30)) * time.Second,
			HealthAlertCooldown:     time.Duration(getEnvInt("HEALTH_ALERT_COOLDOWN_MIN", 15)) * time.Minute,
			UnhealthyThreshold:      getEnvInt("HEALTH_UNHEALTHY_THRESHOLD", 5),
		},
		Registry: RegistryConfig{
			Path: getEnv("REGISTRY_PATH", "config/registry.yaml"),
		},
		Events: EventsConfig{
			Backend:           strings.ToLower(getEnv("EVENTS_BACKEND", EventsBackendNone)),
			RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379"),
			RedisStream:       getEnv("EVENTS_REDIS_STREAM", "whalemon:alerts"),
			NATSURL:           getEnv("NATS_URL", "nats://localhost:4222"),
			NATSSubjectPrefix: getEnv("EVENTS_NATS_SUBJECT_PREFIX", "whalemon"),
		},
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 8080),
			ManualScanShare: getEnvFloat("SERVER_MANUAL_SCAN_SHARE", 0.1),
			WritesPerMinute: getEnvFloat("SERVER_WRITES_PER_MIN", 10),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio: getEnvFloat("OTEL_TRACES_SAMPLER_RATIO", 1),
		},
	}

	if getEnvBool("TELEGRAM_DRY_RUN", false) {
		cfg.Notify.Transport = NotifyTransportLog
	}

	for _, tier := range model.AllTiers {
		key := "TELEGRAM_CHANNEL_" + strings.ToUpper(tier.String())
		if id := strings.TrimSpace(getEnv(key, "")); id != "" {
			cfg.Telegram.Channels[tier] = id
		}
	}

	var err error
	if cfg.Alert.DefaultThreshold, err = getEnvDecimal("ALERT_DEFAULT_THRESHOLD", decimal.NewFromInt(10_000)); err != nil {
		return nil, err
	}
	if cfg.Alert.ExchangeThreshold, err = getEnvDecimal("ALERT_EXCHANGE_THRESHOLD", decimal.NewFromInt(50_000)); err != nil {
		return nil, err
	}
	if cfg.Alert.CriticalThreshold, err = getEnvDecimal("ALERT_CRITICAL_THRESHOLD", decimal.NewFromInt(1_000_000)); err != nil {
		return nil, err
	}
	cfg.Alert.ExplorerURL = getEnv("ALERT_EXPLORER_URL", "https://livenet.xrpl.org/transactions/")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case StoreBackendPostgres:
		if c.DB.URL == "" {
			return fmt.Errorf("DB_URL is required when STORE_BACKEND=postgres")
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be postgres or memory, got %q", c.Store.Backend)
	}

	if c.Ledger.RPCURL == "" {
		return fmt.Errorf("LEDGER_RPC_URL is required")
	}
	if c.Ledger.PageLimit <= 0 || c.Ledger.MaxPages <= 0 {
		return fmt.Errorf("LEDGER_PAGE_LIMIT and LEDGER_MAX_PAGES must be positive")
	}
	if c.Ledger.RPS <= 0 {
		return fmt.Errorf("LEDGER_RPS must be positive")
	}
	if c.Server.ManualScanShare <= 0 || c.Server.ManualScanShare > 1 {
		return fmt.Errorf("SERVER_MANUAL_SCAN_SHARE must be in (0, 1], got %v", c.Server.ManualScanShare)
	}
	if c.Server.WritesPerMinute <= 0 {
		return fmt.Errorf("SERVER_WRITES_PER_MIN must be positive")
	}
	if c.Monitor.CheckInterval <= 0 {
		return fmt.Errorf("MONITOR_CHECK_INTERVAL_SEC must be positive")
	}
	if c.Monitor.Workers <= 0 {
		return fmt.Errorf("MONITOR_WORKERS must be positive")
	}

	for name, v := range map[string]decimal.Decimal{
		"ALERT_DEFAULT_THRESHOLD":  c.Alert.DefaultThreshold,
		"ALERT_EXCHANGE_THRESHOLD": c.Alert.ExchangeThreshold,
		"ALERT_CRITICAL_THRESHOLD": c.Alert.CriticalThreshold,
	} {
		if !v.IsPositive() {
			return fmt.Errorf("%s must be positive, got %s", name, v)
		}
	}

	switch c.Notify.Transport {
	case NotifyTransportTelegram, NotifyTransportLog:
	case NotifyTransportWebhook:
		if c.Notify.WebhookURL == "" {
			return fmt.Errorf("NOTIFY_WEBHOOK_URL is required when NOTIFY_TRANSPORT=webhook")
		}
	default:
		return fmt.Errorf("NOTIFY_TRANSPORT must be telegram, webhook or log, got %q", c.Notify.Transport)
	}

	switch c.Events.Backend {
	case EventsBackendNone, EventsBackendRedis, EventsBackendNATS:
	default:
		return fmt.Errorf("EVENTS_BACKEND must be none, redis or nats, got %q", c.Events.Backend)
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}
	return nil
}

// MissingChannels lists tiers without a configured channel id.
func (c *Config) MissingChannels() []model.AlertTier {
	var out []model.AlertTier
	for _, tier := range model.AllTiers {
		if c.Telegram.Channels[tier] == "" {
			out = append(out, tier)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDecimal fails on malformed values: a silently ignored threshold would
// change which transfers alert.
func getEnvDecimal(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(v, "_", ""))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: invalid decimal %q: %w", key, v, err)
	}
	return d, nil
}
