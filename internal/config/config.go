package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultAppName         = "AfriTokeni"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultAccessTTL       = 15 * time.Minute
	defaultSessionTTL      = 5 * time.Minute
	defaultRateWindow      = time.Minute
	defaultTxRateWindow    = time.Hour
	defaultVerificationTTL = 10 * time.Minute
	defaultPINLockout      = 30 * time.Minute
	defaultAgentCodeTTL    = 24 * time.Hour
	defaultRatesTTL        = 5 * time.Minute
	defaultSMSURL          = "https://api.africastalking.com/version1/messaging"
	defaultBTCRateURL      = "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd"
	defaultFiatRateURL     = "https://api.exchangerate-api.com/v4/latest/USD"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	LogFormat      string
	DatabaseURL    string
	RedisURL       string
	RabbitMQURL    string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret      string
	AccessTokenTTL time.Duration

	SessionTTL      time.Duration
	RateLimit       int
	RateWindow      time.Duration
	TxRateLimit     int
	TxRateWindow    time.Duration
	VerificationTTL time.Duration
	PINMaxAttempts  int
	PINLockout      time.Duration
	AgentCodeTTL    time.Duration

	SMS   SMSConfig
	SMTP  SMTPConfig
	Rates RatesConfig
	Cron  CronConfig
}

// SMSConfig holds Africa's Talking credentials.
type SMSConfig struct {
	Username string
	APIKey   string
	SenderID string
	URL      string
}

// SMTPConfig holds outbound mail settings. An empty Addr disables delivery.
type SMTPConfig struct {
	Addr     string
	Username string
	Password string
	From     string
}

// RatesConfig points at the live price sources.
type RatesConfig struct {
	BTCURL  string
	FiatURL string
	TTL     time.Duration
}

// CronConfig holds the scheduler specs.
type CronConfig struct {
	ExpireCodes  string
	Sweep        string
	RefreshRates string
}

// Load reads configuration values from the environment (and an optional .env
// file) and populates a Config instance.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	cfg := Config{
		AppName:        v.GetString("APP_NAME"),
		AppEnv:         v.GetString("APP_ENV"),
		Port:           v.GetString("PORT"),
		LogLevel:       strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:      strings.ToLower(v.GetString("LOG_FORMAT")),
		DatabaseURL:    v.GetString("DATABASE_URL"),
		RedisURL:       v.GetString("REDIS_URL"),
		RabbitMQURL:    v.GetString("RABBITMQ_URL"),
		JWTSecret:      v.GetString("JWT_SECRET"),
		RateLimit:      v.GetInt("USSD_RATE_LIMIT"),
		TxRateLimit:    v.GetInt("TX_RATE_LIMIT"),
		PINMaxAttempts: v.GetInt("PIN_MAX_ATTEMPTS"),
		SMS: SMSConfig{
			Username: v.GetString("AT_USERNAME"),
			APIKey:   v.GetString("AT_API_KEY"),
			SenderID: v.GetString("AT_SENDER_ID"),
			URL:      v.GetString("AT_SMS_URL"),
		},
		SMTP: SMTPConfig{
			Addr:     v.GetString("SMTP_ADDR"),
			Username: v.GetString("SMTP_USERNAME"),
			Password: v.GetString("SMTP_PASSWORD"),
			From:     v.GetString("SMTP_FROM"),
		},
		Rates: RatesConfig{
			BTCURL:  v.GetString("RATES_BTC_URL"),
			FiatURL: v.GetString("RATES_FIAT_URL"),
		},
		Cron: CronConfig{
			ExpireCodes:  v.GetString("CRON_EXPIRE_CODES"),
			Sweep:        v.GetString("CRON_SWEEP"),
			RefreshRates: v.GetString("CRON_REFRESH_RATES"),
		},
	}

	durations := []struct {
		target   *time.Duration
		name     string
		fallback time.Duration
	}{
		{&cfg.ShutdownPeriod, "SHUTDOWN_TIMEOUT", defaultShutdownDelay},
		{&cfg.IdempotencyTTL, "IDEMPOTENCY_TTL", defaultIdempotencyTTL},
		{&cfg.AccessTokenTTL, "ACCESS_TOKEN_TTL", defaultAccessTTL},
		{&cfg.SessionTTL, "USSD_SESSION_TTL", defaultSessionTTL},
		{&cfg.RateWindow, "USSD_RATE_WINDOW", defaultRateWindow},
		{&cfg.TxRateWindow, "TX_RATE_WINDOW", defaultTxRateWindow},
		{&cfg.VerificationTTL, "VERIFICATION_TTL", defaultVerificationTTL},
		{&cfg.PINLockout, "PIN_LOCKOUT", defaultPINLockout},
		{&cfg.AgentCodeTTL, "AGENT_CODE_TTL", defaultAgentCodeTTL},
		{&cfg.Rates.TTL, "RATES_TTL", defaultRatesTTL},
	}
	for _, d := range durations {
		value, err := durationFromEnv(v, d.name, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.target = value
	}

	if cfg.RateLimit <= 0 {
		return Config{}, fmt.Errorf("invalid USSD_RATE_LIMIT: %d", cfg.RateLimit)
	}
	if cfg.TxRateLimit < 0 {
		return Config{}, fmt.Errorf("invalid TX_RATE_LIMIT: %d", cfg.TxRateLimit)
	}
	if cfg.PINMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("invalid PIN_MAX_ATTEMPTS: %d", cfg.PINMaxAttempts)
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
		if cfg.JWTSecret == "" {
			return Config{}, fmt.Errorf("JWT_SECRET must be set")
		}
	} else if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", defaultAppName)
	v.SetDefault("APP_ENV", defaultAppEnv)
	v.SetDefault("PORT", defaultPort)
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("LOG_FORMAT", defaultLogFormat)
	v.SetDefault("USSD_RATE_LIMIT", 10)
	v.SetDefault("TX_RATE_LIMIT", 20)
	v.SetDefault("PIN_MAX_ATTEMPTS", 3)
	v.SetDefault("AT_USERNAME", "sandbox")
	v.SetDefault("AT_SMS_URL", defaultSMSURL)
	v.SetDefault("RATES_BTC_URL", defaultBTCRateURL)
	v.SetDefault("RATES_FIAT_URL", defaultFiatRateURL)
	v.SetDefault("CRON_EXPIRE_CODES", "@every 1m")
	v.SetDefault("CRON_SWEEP", "@every 1m")
	v.SetDefault("CRON_REFRESH_RATES", "@every 5m")
}

// durationFromEnv accepts either NAME_SECONDS (integer) or NAME (Go duration).
func durationFromEnv(v *viper.Viper, name string, fallback time.Duration) (time.Duration, error) {
	secondsKey := name + "_SECONDS"
	if raw := v.GetString(secondsKey); raw != "" {
		seconds := v.GetInt(secondsKey)
		if seconds <= 0 {
			return 0, fmt.Errorf("invalid %s: %q", secondsKey, raw)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if raw := v.GetString(name); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		return d, nil
	}
	return fallback, nil
}

// IsDev reports whether in-memory backends are acceptable.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
