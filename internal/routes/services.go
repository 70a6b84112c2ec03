package routes

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/afritokeni/afritokeni/internal/admin"
	"github.com/afritokeni/afritokeni/internal/agent"
	"github.com/afritokeni/afritokeni/internal/auth"
	"github.com/afritokeni/afritokeni/internal/config"
	"github.com/afritokeni/afritokeni/internal/exchange"
	"github.com/afritokeni/afritokeni/internal/fraud"
	"github.com/afritokeni/afritokeni/internal/identity"
	"github.com/afritokeni/afritokeni/internal/ledger"
	"github.com/afritokeni/afritokeni/internal/middleware"
	"github.com/afritokeni/afritokeni/internal/notification"
	"github.com/afritokeni/afritokeni/internal/onboarding"
	"github.com/afritokeni/afritokeni/internal/payments"
	"github.com/afritokeni/afritokeni/internal/scheduler"
	"github.com/afritokeni/afritokeni/internal/sms"
	"github.com/afritokeni/afritokeni/internal/ussd"
	"github.com/afritokeni/afritokeni/internal/verification"
	"github.com/afritokeni/afritokeni/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes. DB, Cache and
// Bus may be nil in development, in which case in-memory backends are used.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Bus    *amqp091.Channel
	Logger *slog.Logger
}

// Services holds the wired application services.
type Services struct {
	Ledger       ledger.Ledger
	Users        *identity.Service
	Wallets      *wallet.Service
	Accounts     *onboarding.Service
	Payments     *payments.Service
	Agents       *agent.Service
	Exchange     *exchange.Service
	Fraud        *fraud.Policy
	Rates        *exchange.CachedProvider
	Sessions     ussd.SessionStore
	USSD         *ussd.Service
	SMS          *sms.Processor
	Verification *verification.Service
	Tokens       *auth.Tokens
	Auth         *auth.Service
	Admin        *admin.Service
	Notifier     notification.Notifier

	// Sweepers lists the in-memory stores in use. It is empty when Redis
	// backs every store.
	Sweepers map[string]scheduler.Sweeper
}

// NewServices builds every service on Postgres and Redis when they are
// configured and on in-memory backends otherwise.
func NewServices(d Deps) (*Services, error) {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	s := &Services{Sweepers: make(map[string]scheduler.Sweeper)}

	var (
		identityRepo identity.Repository
		walletRepo   wallet.Repository
		agentRepo    agent.Repository
	)
	if d.DB != nil {
		s.Ledger = ledger.NewPostgresLedger(d.DB)
		identityRepo = identity.NewPostgresRepository(d.DB)
		walletRepo = wallet.NewPostgresRepository(d.DB)
		agentRepo = agent.NewPostgresRepository(d.DB)
	} else {
		s.Ledger = ledger.NewInMemory()
		identityRepo = identity.NewMemoryRepository()
		walletRepo = wallet.NewMemoryRepository()
		agentRepo = agent.NewMemoryRepository()
	}

	var (
		attempts identity.AttemptStore
		codes    verification.Store
	)
	if d.Cache != nil {
		attempts = identity.NewRedisAttemptStore(d.Cache)
		codes = verification.NewRedisStore(d.Cache)
	} else {
		memAttempts, memCodes := identity.NewMemoryAttemptStore(), verification.NewMemoryStore()
		s.Sweepers["pin_attempts"] = memAttempts
		s.Sweepers["verification_codes"] = memCodes
		attempts, codes = memAttempts, memCodes
	}

	smsNotifier := notification.NewSMSNotifier(notification.SMSConfig(d.Cfg.SMS), nil, d.Logger)
	var email notification.Notifier = notification.NewLoggerNotifier(d.Logger)
	if d.Cfg.SMTP.Addr != "" {
		email = notification.NewEmailNotifier(notification.SMTPConfig(d.Cfg.SMTP))
	}
	var events notification.Notifier
	if d.Bus != nil {
		bus, err := notification.NewEventNotifier(d.Bus)
		if err != nil {
			return nil, fmt.Errorf("declare notification exchange: %w", err)
		}
		events = bus
	}
	s.Notifier = notification.NewDispatcher(smsNotifier, email, events, d.Logger)

	var upstream exchange.Provider = exchange.NewStaticProvider()
	if d.Cfg.Rates.BTCURL != "" && d.Cfg.Rates.FiatURL != "" {
		upstream = exchange.NewHTTPProvider(d.Cfg.Rates.BTCURL, d.Cfg.Rates.FiatURL, nil, d.Logger)
	}
	s.Rates = exchange.NewCachedProvider(upstream, d.Cache, d.Cfg.Rates.TTL, d.Logger)

	s.Users = identity.NewService(identityRepo, attempts, identity.PINPolicy{MaxAttempts: d.Cfg.PINMaxAttempts, Lockout: d.Cfg.PINLockout})
	s.Wallets = wallet.NewService(walletRepo, s.Ledger)
	s.Accounts = onboarding.NewService(s.Users, s.Wallets, d.Logger)
	var velocity fraud.Counter
	if d.Cfg.TxRateLimit > 0 {
		velocity = s.limiter(d, "tx_rate_limit", "rl:tx:", d.Cfg.TxRateLimit, d.Cfg.TxRateWindow)
	}
	s.Fraud = fraud.NewPolicy(nil, velocity, d.Logger)
	s.Payments = payments.NewService(s.Ledger, s.Accounts, s.Users, s.Notifier, d.Logger).WithFraud(s.Fraud)
	s.Agents = agent.NewService(agentRepo, s.Ledger, s.Accounts, s.Users, s.Notifier, d.Logger, d.Cfg.AgentCodeTTL).WithFraud(s.Fraud)
	s.Exchange = exchange.NewService(s.Ledger, s.Accounts, s.Users, s.Rates, s.Notifier, d.Logger).WithFraud(s.Fraud)
	s.Verification = verification.NewService(codes, smsNotifier, d.Cfg.VerificationTTL, d.Logger)
	s.SMS = sms.NewProcessor(s.Accounts, s.Wallets, s.Payments, s.Exchange, s.Notifier, d.Logger)
	s.Tokens = auth.NewTokens(d.Cfg.JWTSecret, d.Cfg.AppName, d.Cfg.AccessTokenTTL)
	s.Auth = auth.NewService(s.Users, s.Tokens, d.Logger)
	s.Admin = admin.NewService(s.Users, s.Agents, s.Ledger)

	s.Sessions = ussd.NewSessionStore(d.Cache, d.Cfg.SessionTTL)
	if mem, ok := s.Sessions.(scheduler.Sweeper); ok {
		s.Sweepers["ussd_sessions"] = mem
	}
	s.USSD = ussd.NewService(s.Sessions, ussd.Backends{
		Accounts: s.Accounts,
		Users:    s.Users,
		Wallets:  s.Wallets,
		Payments: s.Payments,
		Agents:   s.Agents,
		Exchange: s.Exchange,
	}, d.Logger, d.Cfg.SessionTTL)

	return s, nil
}

// limiter builds a limiter and registers it for sweeping when it is held in
// memory.
func (s *Services) limiter(d Deps, name, prefix string, limit int, window time.Duration) middleware.Limiter {
	l := middleware.NewLimiter(d.Cache, prefix, limit, window)
	if mem, ok := l.(scheduler.Sweeper); ok {
		s.Sweepers[name] = mem
	}
	return l
}
