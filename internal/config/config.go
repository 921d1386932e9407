package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port       string
	DBAdapter  string
	SQLiteFile string
	LogLevel   string

	// Secrets
	AdminSecret string
	CronSecret  string
	JwtSecret   string

	// Admission layer
	AllowedOrigins    []string
	SignaturesFile    string
	RateLimitEntryCap int
	CheckoutRateMax   int
	CheckoutRateWin   time.Duration
	OrdersRateMax     int
	OrdersRateWin     time.Duration
	AdminRateMax      int
	AdminRateWin      time.Duration
	BurstWindow       time.Duration
	BurstMaxHits      int
	IdempotencyWindow time.Duration

	// Payment lifecycle
	HoldTTL       time.Duration
	SweepInterval time.Duration // 0 disables the in-process ticker
	ProcessorURL  string
	ProcessorKey  string

	// PostgreSQL connection settings
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", key, v)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", key, v)
	}
	return d, nil
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	// If DSN is provided directly, use it
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}

	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable" // Default to disable for local development
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)

	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}

	return dsn, nil
}

func New() (*Config, error) {
	c := &Config{
		Port:       getenv("PORT", "8080"),
		DBAdapter:  getenv("DB_ADAPTER", "postgres"),
		SQLiteFile: getenv("SQLITE_FILE", "./data/curbside.db"),
		LogLevel:   getenv("LOG_LEVEL", "info"),

		AdminSecret: getenv("ADMIN_SECRET", "change-me"),
		CronSecret:  getenv("CRON_SECRET", "change-me"),
		JwtSecret:   getenv("JWT_SECRET", "change-me"),

		SignaturesFile: getenv("BOT_SIGNATURES_FILE", ""),
		ProcessorURL:   getenv("PROCESSOR_URL", ""),
		ProcessorKey:   getenv("PROCESSOR_API_KEY", ""),

		PostgresDSN:      getenv("POSTGRES_DSN", ""),
		PostgresHost:     getenv("POSTGRES_HOST", getenv("DB_HOST", "localhost")),
		PostgresPort:     getenv("POSTGRES_PORT", getenv("DB_PORT", "5432")),
		PostgresUser:     getenv("POSTGRES_USER", getenv("DB_USER", "curbside")),
		PostgresPassword: getenv("POSTGRES_PASSWORD", getenv("DB_PASSWORD", "curbsidepass")),
		PostgresDB:       getenv("POSTGRES_DB", getenv("DB_NAME", "curbside")),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", getenv("DB_SSLMODE", "disable")),
	}

	if origins := getenv("ALLOWED_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, o)
			}
		}
	}

	var err error
	if c.RateLimitEntryCap, err = getenvInt("RATE_LIMIT_ENTRY_CAP", 50000); err != nil {
		return nil, err
	}
	if c.CheckoutRateMax, err = getenvInt("CHECKOUT_RATE_MAX", 5); err != nil {
		return nil, err
	}
	if c.CheckoutRateWin, err = getenvDuration("CHECKOUT_RATE_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if c.OrdersRateMax, err = getenvInt("ORDERS_RATE_MAX", 60); err != nil {
		return nil, err
	}
	if c.OrdersRateWin, err = getenvDuration("ORDERS_RATE_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if c.AdminRateMax, err = getenvInt("ADMIN_RATE_MAX", 30); err != nil {
		return nil, err
	}
	if c.AdminRateWin, err = getenvDuration("ADMIN_RATE_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if c.BurstWindow, err = getenvDuration("BURST_WINDOW", 10*time.Second); err != nil {
		return nil, err
	}
	if c.BurstMaxHits, err = getenvInt("BURST_MAX_HITS", 20); err != nil {
		return nil, err
	}
	if c.IdempotencyWindow, err = getenvDuration("IDEMPOTENCY_WINDOW", 10*time.Minute); err != nil {
		return nil, err
	}
	if c.HoldTTL, err = getenvDuration("HOLD_TTL", 72*time.Hour); err != nil {
		return nil, err
	}
	if c.SweepInterval, err = getenvDuration("SWEEP_INTERVAL", 0); err != nil {
		return nil, err
	}

	if c.DBAdapter == "postgres" {
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	}

	if c.DBAdapter == "sqlite" && c.SQLiteFile == "" {
		return nil, errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
	}

	// Default secrets never survive into production.
	env := strings.ToLower(getenv("ENV", ""))
	if env == "production" || env == "prod" {
		for name, v := range map[string]string{
			"ADMIN_SECRET": c.AdminSecret,
			"CRON_SECRET":  c.CronSecret,
			"JWT_SECRET":   c.JwtSecret,
		} {
			if v == "" || v == "change-me" {
				return nil, fmt.Errorf("%s must be set in production", name)
			}
		}
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT: %s", c.Port)
	}

	return c, nil
}
