// Package config loads the §6 config surface from the environment,
// grounded on config/loader.go's godotenv.Load() + os.Getenv parsing idiom,
// generalized from Binance-only credentials to per-venue credentials, the
// risk-gate constants, per-tier scheduler overrides, and per-service
// circuit-breaker defaults.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"whalecopy/internal/domain"
	"whalecopy/internal/scheduler"
)

// VenueCredentials carries one exchange's API credentials. Passphrase is
// only populated for OKX and Bitget, per §6.
type VenueCredentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// Config is the full process configuration.
type Config struct {
	Venues map[domain.Exchange]VenueCredentials

	ProxyList     []string
	ProxyPoolFile string

	RedisURL string
	DBPath   string

	MinTradingBalanceUSDT decimal.Decimal
	MinTradeSizeUSDT      decimal.Decimal
	MaxTradeSizeUSDT      decimal.Decimal
	TradeSizeBufferPct    decimal.Decimal

	// ExchangeMinNotional[exchange][marketType] overrides the adapter's own
	// NOTIONAL/MIN_NOTIONAL filter when the venue doesn't expose one, or
	// when a conservative floor above the venue's is desired.
	ExchangeMinNotional map[domain.Exchange]map[string]decimal.Decimal

	Tiers []scheduler.TierConfig

	BreakerDefaults BreakerDefaults

	SignalExpirySeconds int

	TelegramBotToken string
	TelegramChatID   int64
}

// BreakerDefaults are the §4.2 circuit-breaker constants, read from the
// global BREAKER_* environment variables. They apply to every service; no
// per-service variables are read here.
type BreakerDefaults struct {
	FailureThreshold int
	WindowSeconds    int
	OpenSeconds      int
	SuccessThreshold int
}

// ToCircuitConfig converts the env-sourced defaults into the shape
// breaker.NewRegistry expects.
func (b BreakerDefaults) ToCircuitConfig() domain.CircuitConfig {
	return domain.CircuitConfig{
		FailureThreshold: b.FailureThreshold,
		FailureWindow:    time.Duration(b.WindowSeconds) * time.Second,
		ResetTimeout:     time.Duration(b.OpenSeconds) * time.Second,
		SuccessThreshold: b.SuccessThreshold,
	}
}

// Load reads .env (if present) then the process environment, per the
// teacher's LoadConfig: a missing .env is a warning, never fatal.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found. Relying on system environment variables.")
	}

	cfg := &Config{
		Venues:              loadVenues(),
		ProxyList:           splitCSV(os.Getenv("PROXY_LIST")),
		ProxyPoolFile:       os.Getenv("PROXY_POOL_FILE"),
		RedisURL:            getString("REDIS_URL", ""),
		DBPath:              getString("DB_PATH", "whalecopy.db"),
		MinTradingBalanceUSDT: getDecimal("MIN_TRADING_BALANCE_USDT", "20"),
		MinTradeSizeUSDT:      getDecimal("MIN_TRADE_SIZE_USDT", "5"),
		MaxTradeSizeUSDT:      getDecimal("MAX_TRADE_SIZE_USDT", "5000"),
		TradeSizeBufferPct:    getDecimal("TRADE_SIZE_BUFFER_PERCENT", "0.02"),
		ExchangeMinNotional:   loadMinNotional(),
		Tiers:                 loadTiers(),
		BreakerDefaults:       loadBreakerDefaults(),
		SignalExpirySeconds:   getInt("SIGNAL_EXPIRY_SECONDS", 60),
		TelegramBotToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
	}
	if id := os.Getenv("TELEGRAM_CHAT_ID"); id != "" {
		if v, err := strconv.ParseInt(id, 10, 64); err == nil {
			cfg.TelegramChatID = v
		}
	}

	if cfg.RedisURL == "" {
		log.Println("⚠️  REDIS_URL not set; falling back to in-process shared state.")
	}
	return cfg
}

func loadVenues() map[domain.Exchange]VenueCredentials {
	venues := map[domain.Exchange]VenueCredentials{}
	for _, exch := range []domain.Exchange{domain.ExchangeBinance, domain.ExchangeBybit, domain.ExchangeOKX, domain.ExchangeBitget, domain.ExchangeHyperliquid} {
		prefix := string(exch)
		key := os.Getenv(prefix + "_API_KEY")
		secret := os.Getenv(prefix + "_API_SECRET")
		if secret == "" {
			secret = os.Getenv(prefix + "_SECRET_KEY")
		}
		pass := os.Getenv(prefix + "_PASSPHRASE")
		if key == "" && secret == "" {
			continue
		}
		venues[exch] = VenueCredentials{APIKey: key, APISecret: secret, Passphrase: pass}
	}
	return venues
}

// loadMinNotional populates the per-exchange/market-type override table
// from <EXCHANGE>_MIN_NOTIONAL_SPOT / <EXCHANGE>_MIN_NOTIONAL_FUTURES.
func loadMinNotional() map[domain.Exchange]map[string]decimal.Decimal {
	out := map[domain.Exchange]map[string]decimal.Decimal{}
	for _, exch := range []domain.Exchange{domain.ExchangeBinance, domain.ExchangeBybit, domain.ExchangeOKX, domain.ExchangeBitget, domain.ExchangeHyperliquid} {
		prefix := string(exch)
		perMarket := map[string]decimal.Decimal{}
		if v := os.Getenv(prefix + "_MIN_NOTIONAL_SPOT"); v != "" {
			if d, err := decimal.NewFromString(v); err == nil {
				perMarket["SPOT"] = d
			}
		}
		if v := os.Getenv(prefix + "_MIN_NOTIONAL_FUTURES"); v != "" {
			if d, err := decimal.NewFromString(v); err == nil {
				perMarket["FUTURES"] = d
			}
		}
		if len(perMarket) > 0 {
			out[exch] = perMarket
		}
	}
	return out
}

// loadTiers starts from scheduler.DefaultTiers and applies any
// <TIER>_INTERVAL_SECONDS / <TIER>_BATCH_CAP overrides, per §6 "per-tier
// polling intervals and batch caps (overridable)".
func loadTiers() []scheduler.TierConfig {
	tiers := scheduler.DefaultTiers()
	for i := range tiers {
		name := strings.ToUpper(string(tiers[i].Tier))
		if v := getInt(name+"_INTERVAL_SECONDS", 0); v > 0 {
			tiers[i].Interval = time.Duration(v) * time.Second
		}
		if v := getInt(name+"_BATCH_CAP", 0); v > 0 {
			tiers[i].BatchCap = v
		}
	}
	return tiers
}

func loadBreakerDefaults() BreakerDefaults {
	return BreakerDefaults{
		FailureThreshold: getInt("BREAKER_FAILURE_THRESHOLD", 5),
		WindowSeconds:    getInt("BREAKER_WINDOW_SECONDS", 60),
		OpenSeconds:      getInt("BREAKER_OPEN_SECONDS", 30),
		SuccessThreshold: getInt("BREAKER_SUCCESS_THRESHOLD", 2),
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDecimal(key, def string) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.RequireFromString(def)
	}
	return d
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
