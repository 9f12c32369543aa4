// Package config содержит логику чтения конфигурации кассового сервиса.
package config

import (
	"flag"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultRunAddress = "localhost:8080"
	defaultEpsilon    = "0.01"
	defaultLockTTL    = 10 * time.Second
	defaultPollPeriod = 30 * time.Second
)

// Config содержит параметры конфигурации кассового сервиса.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	DatabaseURI    string `env:"DATABASE_URI"`
	RedisAddress   string `env:"REDIS_ADDRESS"`
	BankAPIAddress string `env:"BANK_API_ADDRESS"`
	AuthSecret     string `env:"AUTH_SECRET"`

	TenderEpsilon          decimal.Decimal `env:"TENDER_EPSILON"`
	AuthorizationThreshold decimal.Decimal `env:"AUTHORIZATION_THRESHOLD"`

	LockTTL            time.Duration `env:"LOCK_TTL"`
	TreasuryPollPeriod time.Duration `env:"TREASURY_POLL_INTERVAL"`

	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// LoadDotEnv подгружает переменные из файла .env, если он есть. Уже заданные
// переменные окружения не перезаписываются.
func LoadDotEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.ParseWithOptions(cfg, env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(decimal.Decimal{}): parseDecimal,
		},
	}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddress := cfg.RedisAddress
	envBankAddress := cfg.BankAPIAddress
	envAuthSecret := cfg.AuthSecret
	envEpsilon := cfg.TenderEpsilon
	_, epsilonSet := os.LookupEnv("TENDER_EPSILON")
	envThreshold := cfg.AuthorizationThreshold
	_, thresholdSet := os.LookupEnv("AUTHORIZATION_THRESHOLD")
	envLockTTL := cfg.LockTTL
	envPollPeriod := cfg.TreasuryPollPeriod
	envOrigins := cfg.AllowedOrigins

	var (
		epsilon   string
		threshold string
		origins   string
	)

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address for distributed locks")
	flag.StringVar(&cfg.BankAPIAddress, "b", "", "bank API address for deposit confirmation")
	flag.StringVar(&cfg.AuthSecret, "s", "", "JWT signing secret")
	flag.StringVar(&epsilon, "e", defaultEpsilon, "tolerance for tender totals")
	flag.StringVar(&threshold, "t", "0", "movement amount requiring a second operator, 0 disables")
	flag.DurationVar(&cfg.LockTTL, "l", defaultLockTTL, "session lock TTL")
	flag.DurationVar(&cfg.TreasuryPollPeriod, "p", defaultPollPeriod, "bank polling interval")
	flag.StringVar(&origins, "o", "*", "comma separated CORS allowed origins")

	flag.Parse()

	var err error
	if cfg.TenderEpsilon, err = decimal.NewFromString(epsilon); err != nil {
		return nil, fmt.Errorf("parse tender epsilon: %w", err)
	}
	if cfg.AuthorizationThreshold, err = decimal.NewFromString(threshold); err != nil {
		return nil, fmt.Errorf("parse authorization threshold: %w", err)
	}
	cfg.AllowedOrigins = splitList(origins)

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}
	if envBankAddress != "" {
		cfg.BankAPIAddress = envBankAddress
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if epsilonSet {
		cfg.TenderEpsilon = envEpsilon
	}
	if thresholdSet {
		cfg.AuthorizationThreshold = envThreshold
	}
	if envLockTTL != 0 {
		cfg.LockTTL = envLockTTL
	}
	if envPollPeriod != 0 {
		cfg.TreasuryPollPeriod = envPollPeriod
	}
	if len(envOrigins) > 0 {
		cfg.AllowedOrigins = envOrigins
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.TenderEpsilon.IsNegative() {
		return nil, fmt.Errorf("tender epsilon must not be negative: %s", cfg.TenderEpsilon)
	}
	if cfg.AuthorizationThreshold.IsNegative() {
		return nil, fmt.Errorf("authorization threshold must not be negative: %s", cfg.AuthorizationThreshold)
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.TreasuryPollPeriod <= 0 {
		cfg.TreasuryPollPeriod = defaultPollPeriod
	}

	return cfg, nil
}

func parseDecimal(v string) (any, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return nil, fmt.Errorf("invalid decimal %q: %w", v, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var res []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			res = append(res, s)
		}
	}
	return res
}
