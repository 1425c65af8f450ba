package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/tradepost/sentinel/internal/activity"
	"github.com/tradepost/sentinel/internal/auth"
	"github.com/tradepost/sentinel/internal/background"
	"github.com/tradepost/sentinel/internal/config"
	"github.com/tradepost/sentinel/internal/database"
	"github.com/tradepost/sentinel/internal/guard"
	"github.com/tradepost/sentinel/internal/handlers"
	middlewareCustom "github.com/tradepost/sentinel/internal/middleware"
	"github.com/tradepost/sentinel/internal/models"
	"github.com/tradepost/sentinel/internal/ratelimit"
	"github.com/tradepost/sentinel/internal/repositories"
	"github.com/tradepost/sentinel/internal/routes"
	"github.com/tradepost/sentinel/internal/services"
	"github.com/tradepost/sentinel/internal/session"
	pkghttp "github.com/tradepost/sentinel/pkg/http"
	pkglogger "github.com/tradepost/sentinel/pkg/logger"
	"github.com/tradepost/sentinel/pkg/password"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	attemptRepo := repositories.NewAttemptRepository(db)
	activityRepo := repositories.NewActivityRepository(db)
	consentRepo := repositories.NewConsentRepository(db)
	retention := repositories.NewRetention(attemptRepo, activityRepo)

	// Session store; in-memory unless REDIS_ADDR points at a shared backend
	var backend session.Backend
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		backend = session.NewRedisBackend(rdb, cfg.Auth.SessionTTL)
		logger.Info("using redis session backend", slog.String("addr", cfg.Redis.Addr))
	} else {
		backend = session.NewMemoryBackend()
	}
	sessionStore := session.NewStore(backend, cfg.Auth.SessionTTL, logger)

	// Rate limiters and brute-force guards
	apiLimiter := ratelimit.New(ratelimit.Config{
		Limit:  cfg.Security.APIRequestLimit,
		Window: cfg.Security.APIRequestWindow,
	})
	loginLimiter := ratelimit.New(ratelimit.Config{
		Limit:  cfg.Security.APIRequestLimit,
		Window: cfg.Security.APIRequestWindow,
	})
	otpLimiter := ratelimit.New(ratelimit.Config{
		Limit:  cfg.Security.OTPRequestLimit,
		Window: cfg.Security.OTPRequestWindow,
	})
	loginGuard := guard.New(guard.Config{
		MaxAttempts:     cfg.Security.LoginMaxAttempts,
		LockoutDuration: cfg.Security.LoginLockout,
	}, logger)
	otpGuard := guard.New(guard.Config{
		MaxAttempts:     cfg.Security.OTPMaxAttempts,
		LockoutDuration: cfg.Security.OTPLockout,
	}, logger)

	// Activity log: bounded in-memory buffer backed by the database sink
	activityLog := activity.NewLogger(logger, activityRepo)
	secLogger := pkglogger.NewSecurityLogger(logger)

	// Token manager; refresh tokens outlive access tokens but never the day
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, 24*time.Hour)

	// Timing delay for auth responses
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   100,
		RandomDelayMs: 150,
	})

	// CSRF token manager
	csrfManager := auth.NewCSRFTokenManager()

	// TOTP is optional; without a key the MFA endpoints report unavailable
	var totpManager *auth.TOTPManager
	if cfg.Auth.TOTPEncryptionKey != "" {
		totpManager, err = auth.NewTOTPManager([]byte(cfg.Auth.TOTPEncryptionKey), cfg.Auth.TOTPIssuer)
		if err != nil {
			logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		logger.Warn("TOTP_ENCRYPTION_KEY not set, authenticator enrollment disabled")
	}

	// AWS SES email service
	emailService, err := services.NewAWSSESEmailService(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	authService := services.NewAuthService(
		userRepo,
		attemptRepo,
		sessionStore,
		loginLimiter,
		loginGuard,
		activityLog,
		tokenManager,
		timingDelay,
		secLogger,
		logger,
		cfg.Security.ActivityRetention,
	)
	otpService := services.NewOTPService(
		otpLimiter,
		otpGuard,
		emailService,
		activityLog,
		secLogger,
		logger,
		cfg.Auth.OTPCodeValidity,
	)
	privacyService := services.NewPrivacyService(
		userRepo,
		consentRepo,
		activityRepo,
		attemptRepo,
		sessionStore,
		activityLog,
		loginGuard,
		secLogger,
		logger,
	)

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	cookieConfig := auth.CookieConfig{
		Secure:   cfg.Server.Env == "production",
		SameSite: "strict",
	}

	// Initialize handlers
	h := routes.Handlers{
		Auth:     handlers.NewAuthHandler(authService, totpManager, csrfManager, cookieConfig, ipConfig),
		OTP:      handlers.NewOTPHandler(otpService, ipConfig),
		Password: handlers.NewPasswordHandler(),
		Session:  handlers.NewSessionHandler(sessionStore),
		Activity: handlers.NewActivityHandler(activityLog, activityRepo),
		Privacy:  handlers.NewPrivacyHandler(privacyService, ipConfig),
		MFA:      handlers.NewMFAHandler(userRepo, totpManager),
	}

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, h, tokenManager, sessionStore, apiLimiter, csrfManager, ipConfig, logger)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Background workers: inactivity watcher and periodic cleanup
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	watcher := session.NewWatcher(sessionStore, session.WatcherConfig{
		IdleTimeout:   cfg.Security.InactivityTimeout,
		GracePeriod:   cfg.Security.InactivityGrace,
		CheckInterval: time.Minute,
	}, logger, func(s *models.Session) {
		activityLog.Log(s.UserID, models.ActivitySessionExpired, "idle timeout", "", "", s.SessionID)
	})
	go watcher.Run(workerCtx)

	cleanupManager := background.NewCleanupManager(
		[]*ratelimit.Limiter{apiLimiter, loginLimiter, otpLimiter},
		[]*guard.Guard{loginGuard, otpGuard},
		sessionStore,
		otpService,
		retention,
		cfg.Security.ActivityRetention,
		logger,
		cfg.Auth.CleanupInterval,
	)
	go cleanupManager.Start(workerCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	workerCancel()
	cleanupManager.Stop()
	csrfManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	// Drain queued activity entries before exiting
	activityLog.Close()

	logger.Info("server stopped gracefully")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	// Check if admin already exists
	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hashedPassword, err := password.Hash(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.User{
		Email:        adminEmail,
		PasswordHash: hashedPassword,
		FirstName:    "Admin",
		Role:         models.RoleAdmin,
	}

	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
