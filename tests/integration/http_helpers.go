package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tradepost/sentinel/internal/activity"
	"github.com/tradepost/sentinel/internal/auth"
	"github.com/tradepost/sentinel/internal/database"
	"github.com/tradepost/sentinel/internal/guard"
	"github.com/tradepost/sentinel/internal/handlers"
	middlewareCustom "github.com/tradepost/sentinel/internal/middleware"
	"github.com/tradepost/sentinel/internal/ratelimit"
	"github.com/tradepost/sentinel/internal/routes"
	"github.com/tradepost/sentinel/internal/services"
	"github.com/tradepost/sentinel/internal/session"
	pkghttp "github.com/tradepost/sentinel/pkg/http"
	pkglogger "github.com/tradepost/sentinel/pkg/logger"
)

// SentEmail represents a captured one-time code email
type SentEmail struct {
	To   string
	Code string
}

// MockEmailService captures sent codes for test assertions
type MockEmailService struct {
	SentEmails []SentEmail
	mu         sync.Mutex
}

// SendOTPCode records the code instead of hitting SES
func (m *MockEmailService) SendOTPCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SentEmails = append(m.SentEmails, SentEmail{To: email, Code: code})
	return nil
}

// GetLastEmail returns the most recent email sent
func (m *MockEmailService) GetLastEmail() *SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.SentEmails) == 0 {
		return nil
	}
	return &m.SentEmails[len(m.SentEmails)-1]
}

// TestServer wraps httptest.Server with the full service stack over a real
// database and a mocked email sender.
type TestServer struct {
	Server       *httptest.Server
	DB           *database.DB
	EmailService *MockEmailService

	// Dependency references for inspection in tests
	SessionStore *session.Store
	TokenManager *auth.TokenManager
	CSRFManager  *auth.CSRFTokenManager
	ActivityLog  *activity.Logger
}

const testTOTPKey = "integration-totp-key-32-bytes!!!"

// NewTestServer initializes a complete HTTP server with real database + mocked email
func NewTestServer(db *database.DB) (*TestServer, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	userRepo, attemptRepo, activityRepo, consentRepo := InitializeRepositories(db)

	sessionStore := session.NewStore(session.NewMemoryBackend(), 2*time.Hour, logger)

	loginLimiter := ratelimit.New(ratelimit.StrictConfig())
	otpLimiter := ratelimit.New(ratelimit.OTPConfig())
	apiLimiter := ratelimit.New(ratelimit.Config{Limit: 10000, Window: time.Minute})
	loginGuard := guard.New(guard.LoginConfig(), logger)
	otpGuard := guard.New(guard.OTPConfig(), logger)

	activityLog := activity.NewLogger(logger, activityRepo)
	secLogger := pkglogger.NewSecurityLogger(logger)

	tokenManager := auth.NewTokenManager("test-secret-32-characters-long!!", 15*time.Minute, 24*time.Hour)

	// No artificial delay in tests
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{})
	csrfManager := auth.NewCSRFTokenManager()

	totpManager, err := auth.NewTOTPManager([]byte(testTOTPKey), "TradepostTest")
	if err != nil {
		return nil, fmt.Errorf("failed to create TOTP manager: %w", err)
	}

	mockEmail := &MockEmailService{}

	authService := services.NewAuthService(
		userRepo, attemptRepo, sessionStore, loginLimiter, loginGuard,
		activityLog, tokenManager, timingDelay, secLogger, logger, 90*24*time.Hour,
	)
	otpService := services.NewOTPService(
		otpLimiter, otpGuard, mockEmail, activityLog, secLogger, logger, 5*time.Minute,
	)
	privacyService := services.NewPrivacyService(
		userRepo, consentRepo, activityRepo, attemptRepo, sessionStore,
		activityLog, loginGuard, secLogger, logger,
	)

	ipConfig := &pkghttp.IPConfig{}
	cookieConfig := auth.CookieConfig{SameSite: "lax"}

	h := routes.Handlers{
		Auth:     handlers.NewAuthHandler(authService, totpManager, csrfManager, cookieConfig, ipConfig),
		OTP:      handlers.NewOTPHandler(otpService, ipConfig),
		Password: handlers.NewPasswordHandler(),
		Session:  handlers.NewSessionHandler(sessionStore),
		Activity: handlers.NewActivityHandler(activityLog, activityRepo),
		Privacy:  handlers.NewPrivacyHandler(privacyService, ipConfig),
		MFA:      handlers.NewMFAHandler(userRepo, totpManager),
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, h, tokenManager, sessionStore, apiLimiter, csrfManager, ipConfig, logger)

	server := httptest.NewServer(r)

	return &TestServer{
		Server:       server,
		DB:           db,
		EmailService: mockEmail,
		SessionStore: sessionStore,
		TokenManager: tokenManager,
		CSRFManager:  csrfManager,
		ActivityLog:  activityLog,
	}, nil
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
	if ts.CSRFManager != nil {
		ts.CSRFManager.Stop()
	}
	if ts.ActivityLog != nil {
		ts.ActivityLog.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request. State-changing methods
// also carry a freshly issued CSRF token for the token's user.
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
	}

	if method != http.MethodGet && method != http.MethodHead && method != http.MethodOptions {
		if claims, err := ts.TokenManager.ValidateToken(accessToken); err == nil {
			if csrfToken, err := ts.CSRFManager.GenerateToken(claims.UserID); err == nil {
				headers["X-CSRF-Token"] = csrfToken
			}
		}
	}

	return ts.Request(method, path, body, headers)
}

// ParseJSONResponse parses a JSON response body into the target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// ExtractTokensFromResponse extracts session credentials from an auth response
func ExtractTokensFromResponse(resp *http.Response) (accessToken, refreshToken, sessionID string, err error) {
	defer resp.Body.Close()

	var authResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return "", "", "", fmt.Errorf("failed to parse response: %w", err)
	}

	if access, ok := authResp["access_token"].(string); ok {
		accessToken = access
	}
	if refresh, ok := authResp["refresh_token"].(string); ok {
		refreshToken = refresh
	}
	if sess, ok := authResp["session_id"].(string); ok {
		sessionID = sess
	}

	return
}

// GetErrorCode extracts the machine-readable error code from an error response
func GetErrorCode(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var errResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return "", err
	}
	if code, ok := errResp["error"].(string); ok {
		return code, nil
	}
	return "", nil
}
