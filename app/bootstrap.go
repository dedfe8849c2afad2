package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kimken5/nursery-auth/internal/auth"
	"github.com/kimken5/nursery-auth/internal/credential"
	"github.com/kimken5/nursery-auth/internal/db"
	"github.com/kimken5/nursery-auth/internal/identity"
	"github.com/kimken5/nursery-auth/internal/lockout"
	"github.com/kimken5/nursery-auth/internal/maintenance"
	"github.com/kimken5/nursery-auth/internal/observability"
	"github.com/kimken5/nursery-auth/internal/otp"
	"github.com/kimken5/nursery-auth/internal/ratelimit"
	"github.com/kimken5/nursery-auth/internal/session"
	"github.com/kimken5/nursery-auth/internal/token"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Logger  *zap.SugaredLogger
	Close   func() error
}

// Build wires the whole service from the environment. Both the long-running
// server and the serverless entry point go through here.
func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	environment := envOrDefault("APP_ENV", "development")
	logger, err := observability.NewLogger(environment == "development")
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), environment); err != nil {
		logger.Errorw("init_sentry_failed", "error", err.Error())
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	identityRepo := identity.NewRepository(database)
	credentialRepo := credential.NewRepository(database)
	lockoutRepo := lockout.NewRepository(database)
	sessionRepo := session.NewRepository(database)

	lockouts := lockout.NewTracker(
		lockoutRepo,
		envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		envMinutesOrDefault("LOGIN_LOCK_MINUTES", 30),
	)

	issuer := token.NewIssuer(
		jwtSecret,
		os.Getenv("JWT_SECRET_PREVIOUS"),
		envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
	)

	sessions := session.NewManager(
		sessionRepo,
		issuer,
		envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 14*24),
	)

	codes := otp.NewService(
		credentialRepo,
		identityRepo,
		buildSender(logger),
		logger,
		envMinutesOrDefault("OTP_TTL_MINUTES", 5),
		envIntOrDefault("OTP_MAX_ATTEMPTS", 5),
	)

	limiter, closeLimiter, err := buildLimiter(logger)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	authService := auth.NewService(identityRepo, credentialRepo, lockouts, codes, limiter, sessions, logger)
	authHandler := auth.NewHandler(authService)

	if err := authService.BootstrapFacilityAccount(
		context.Background(),
		envOrDefault("ADMIN_TENANT_ID", "default"),
		os.Getenv("ADMIN_LOGIN_ID"),
		os.Getenv("ADMIN_PASSWORD"),
	); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("bootstrap admin account: %w", err)
	}

	cleanupHandler := maintenance.NewCleanupHandler(
		[]maintenance.Sweeper{
			maintenance.SweeperFunc{SweepName: "refresh_tokens", Fn: sessionRepo.SweepStale},
			maintenance.SweeperFunc{SweepName: "lockouts", Fn: lockoutRepo.SweepStale},
			maintenance.SweeperFunc{SweepName: "otp_challenges", Fn: credentialRepo.SweepDeadChallenges},
		},
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("AUTH_RETENTION_DAYS", 14),
		envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", authHandler.Login)
	mux.HandleFunc("POST /auth/otp/request", authHandler.OTPRequest)
	mux.HandleFunc("POST /auth/otp/verify", authHandler.OTPVerify)
	mux.HandleFunc("POST /auth/refresh", authHandler.Refresh)
	mux.HandleFunc("POST /auth/logout", authHandler.Logout)
	mux.Handle("GET /auth/me", auth.Authorize(issuer, http.HandlerFunc(authHandler.Me)))
	mux.Handle("POST /admin/unlock", auth.RequireFacility(issuer, http.HandlerFunc(authHandler.AdminUnlock)))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Logger:  logger,
		Close: func() error {
			observability.FlushSentry()
			if closeLimiter != nil {
				_ = closeLimiter()
			}
			_ = logger.Sync()
			return database.Close()
		},
	}, nil
}

// buildSender prefers the configured SMS gateway behind a circuit breaker;
// without one, codes are only logged (development).
func buildSender(logger *zap.SugaredLogger) otp.Sender {
	endpoint := strings.TrimSpace(os.Getenv("SMS_GATEWAY_URL"))
	if endpoint == "" {
		return otp.NewLogSender(logger)
	}
	return otp.NewBreakerSender(otp.NewHTTPSender(endpoint, os.Getenv("SMS_GATEWAY_API_KEY")))
}

// buildLimiter uses a shared redis window when REDIS_URL is set (multiple
// instances), an in-process window otherwise.
func buildLimiter(logger *zap.SugaredLogger) (ratelimit.Limiter, func() error, error) {
	configs := limiterConfigs()

	redisURL := strings.TrimSpace(os.Getenv("REDIS_URL"))
	if redisURL == "" {
		return ratelimit.NewMemoryLimiter(configs), nil, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	logger.Infow("rate_limiter_backend", "backend", "redis")
	return ratelimit.NewRedisLimiter(client, configs), client.Close, nil
}

func limiterConfigs() map[ratelimit.Category]ratelimit.Config {
	return map[ratelimit.Category]ratelimit.Config{
		ratelimit.CategoryLogin: {
			Limit:      envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
			Window:     envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
			QueueLimit: envIntOrDefault("LOGIN_RATE_LIMIT_QUEUE", 5),
		},
		ratelimit.CategoryOTPSend: {
			Limit:      envIntOrDefault("OTP_SEND_RATE_LIMIT_MAX", 3),
			Window:     envMinutesOrDefault("OTP_SEND_RATE_LIMIT_WINDOW_MINUTES", 60),
			QueueLimit: envIntOrDefault("OTP_SEND_RATE_LIMIT_QUEUE", 1),
		},
		ratelimit.CategoryOTPVerify: {
			Limit:      envIntOrDefault("OTP_VERIFY_RATE_LIMIT_MAX", 5),
			Window:     envMinutesOrDefault("OTP_VERIFY_RATE_LIMIT_WINDOW_MINUTES", 5),
			QueueLimit: envIntOrDefault("OTP_VERIFY_RATE_LIMIT_QUEUE", 2),
		},
	}
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
