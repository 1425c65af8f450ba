package logger

import (
	"context"
	"log/slog"
	"time"
)

// SecurityEvent is a structured record of a security-relevant occurrence.
type SecurityEvent struct {
	EventType     string
	UserID        string
	Identifier    string // masked before logging
	IPAddress     string
	UserAgent     string
	SessionID     string
	Success       bool
	FailureReason string
}

// SecurityLogger emits security audit events as structured log lines.
type SecurityLogger struct {
	logger *slog.Logger
}

// NewSecurityLogger creates a security logger on top of the app logger.
func NewSecurityLogger(logger *slog.Logger) *SecurityLogger {
	return &SecurityLogger{logger: logger}
}

// LogAuthAttempt logs login and OTP verification outcomes. Failures are
// logged at warn so alerting can key on level.
func (sl *SecurityLogger) LogAuthAttempt(event SecurityEvent) {
	attrs := sl.baseAttrs(event)
	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	sl.logger.LogAttrs(context.Background(), level, "security_audit", attrs...)
}

// LogLockout logs a brute-force lockout being triggered.
func (sl *SecurityLogger) LogLockout(identifier, ipAddress string, retryAfter time.Duration) {
	sl.logger.LogAttrs(context.Background(), slog.LevelWarn, "security_audit",
		slog.String("event_type", "lockout_triggered"),
		slog.String("identifier", SanitizedEmail(identifier)),
		slog.String("ip_address", ipAddress),
		slog.Duration("retry_after", retryAfter),
		slog.Time("timestamp", time.Now().UTC()))
}

// LogRateLimit logs a rate-limit rejection.
func (sl *SecurityLogger) LogRateLimit(identifier, ipAddress string, resetAt time.Time) {
	sl.logger.LogAttrs(context.Background(), slog.LevelWarn, "security_audit",
		slog.String("event_type", "rate_limit_exceeded"),
		slog.String("identifier", SanitizedEmail(identifier)),
		slog.String("ip_address", ipAddress),
		slog.Time("reset_at", resetAt),
		slog.Time("timestamp", time.Now().UTC()))
}

// LogSessionEvent logs session lifecycle transitions.
func (sl *SecurityLogger) LogSessionEvent(eventType, sessionID, userID string) {
	sl.logger.LogAttrs(context.Background(), slog.LevelInfo, "security_audit",
		slog.String("event_type", eventType),
		slog.String("session_id", sessionID),
		slog.String("user_id", userID),
		slog.Time("timestamp", time.Now().UTC()))
}

// LogPrivacyAction logs GDPR export and erase operations.
func (sl *SecurityLogger) LogPrivacyAction(eventType, userID, ipAddress string) {
	sl.logger.LogAttrs(context.Background(), slog.LevelInfo, "security_audit",
		slog.String("event_type", eventType),
		slog.String("user_id", userID),
		slog.String("ip_address", ipAddress),
		slog.Time("timestamp", time.Now().UTC()))
}

func (sl *SecurityLogger) baseAttrs(event SecurityEvent) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.Time("timestamp", time.Now().UTC()),
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Identifier != "" {
		attrs = append(attrs, slog.String("identifier", SanitizedEmail(event.Identifier)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	return attrs
}
