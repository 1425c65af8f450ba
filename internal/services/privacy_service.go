package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tradepost/sentinel/internal/activity"
	"github.com/tradepost/sentinel/internal/guard"
	"github.com/tradepost/sentinel/internal/models"
	"github.com/tradepost/sentinel/internal/session"
	pkglogger "github.com/tradepost/sentinel/pkg/logger"
)

// ConsentRepository persists privacy preferences.
type ConsentRepository interface {
	Get(ctx context.Context, userID string) (*models.Consent, error)
	Upsert(ctx context.Context, consent *models.Consent) error
	Delete(ctx context.Context, userID string) error
}

// ActivityRepository is the durable activity store behind the in-memory log.
type ActivityRepository interface {
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.ActivityEntry, error)
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
}

// AttemptEraser removes a user's attempt audit rows.
type AttemptEraser interface {
	DeleteForIdentifier(ctx context.Context, identifier string) (int64, error)
}

// UserEraser anonymizes an account.
type UserEraser interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	Erase(ctx context.Context, id string) error
}

const exportActivityLimit = 1000

// PrivacyService implements the GDPR surface: consent preferences, data
// export, and the right-to-erasure flow. Erase clears every trace the
// security core holds, including live sessions and lockout state.
type PrivacyService struct {
	users       UserEraser
	consents    ConsentRepository
	activityDB  ActivityRepository
	attempts    AttemptEraser
	sessions    *session.Store
	activityLog *activity.Logger
	loginGuard  *guard.Guard
	secLogger   *pkglogger.SecurityLogger
	logger      *slog.Logger
}

// NewPrivacyService creates a new PrivacyService
func NewPrivacyService(
	users UserEraser,
	consents ConsentRepository,
	activityDB ActivityRepository,
	attempts AttemptEraser,
	sessions *session.Store,
	activityLog *activity.Logger,
	loginGuard *guard.Guard,
	secLogger *pkglogger.SecurityLogger,
	logger *slog.Logger,
) *PrivacyService {
	return &PrivacyService{
		users:       users,
		consents:    consents,
		activityDB:  activityDB,
		attempts:    attempts,
		sessions:    sessions,
		activityLog: activityLog,
		loginGuard:  loginGuard,
		secLogger:   secLogger,
		logger:      logger,
	}
}

// GetConsent returns the user's stored preferences. A user who has never
// expressed a preference gets the defaults: everything off.
func (s *PrivacyService) GetConsent(ctx context.Context, userID string) (*models.Consent, error) {
	consent, err := s.consents.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &models.Consent{UserID: userID}, nil
		}
		s.logger.Error("failed to get consent", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return consent, nil
}

// UpdateConsent stores the user's preferences and logs the change.
func (s *PrivacyService) UpdateConsent(ctx context.Context, consent *models.Consent, ipAddress, userAgent string) error {
	if consent.UserID == "" {
		return models.ErrBadRequest
	}

	if err := s.consents.Upsert(ctx, consent); err != nil {
		s.logger.Error("failed to update consent", slog.String("user_id", consent.UserID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.activityLog.Log(consent.UserID, models.ActivityConsentUpdated, "", ipAddress, userAgent, "")
	s.secLogger.LogPrivacyAction(models.ActivityConsentUpdated, consent.UserID, ipAddress)
	return nil
}

// Export bundles everything the security core holds about the user.
func (s *PrivacyService) Export(ctx context.Context, userID, ipAddress, userAgent string) (*models.DataExport, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, models.ErrInternalServer
	}
	user.PasswordHash = ""
	user.TOTPSecret = nil
	user.TOTPNonce = nil

	export := &models.DataExport{
		User:       user,
		ExportedAt: time.Now().UTC(),
	}

	consent, err := s.consents.Get(ctx, userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to load consent for export", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	export.Consent = consent

	sessions, err := s.sessions.ForUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to load sessions for export", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	export.Sessions = sessions

	entries, err := s.activityDB.GetByUserID(ctx, userID, exportActivityLimit, 0)
	if err != nil {
		s.logger.Error("failed to load activity for export", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	export.Activity = entries

	s.activityLog.Log(userID, models.ActivityDataExported, "", ipAddress, userAgent, "")
	s.secLogger.LogPrivacyAction(models.ActivityDataExported, userID, ipAddress)
	return export, nil
}

// Erase implements right-to-erasure. Order matters: sessions first so no
// live credential survives, then durable stores, then the account itself.
// The final erase event is emitted to the structured log only; the user's
// activity trail is already gone.
func (s *PrivacyService) Erase(ctx context.Context, userID, ipAddress string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return models.ErrInternalServer
	}

	cleared, err := s.sessions.ClearUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to clear sessions for erase", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.loginGuard.Clear(user.Email)
	s.activityLog.DropUser(userID)

	if _, err := s.activityDB.DeleteByUserID(ctx, userID); err != nil {
		s.logger.Error("failed to delete activity for erase", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if _, err := s.attempts.DeleteForIdentifier(ctx, user.Email); err != nil {
		s.logger.Error("failed to delete attempts for erase", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.consents.Delete(ctx, userID); err != nil {
		s.logger.Error("failed to delete consent for erase", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.users.Erase(ctx, userID); err != nil {
		s.logger.Error("failed to erase user", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("user data erased",
		slog.String("user_id", userID),
		slog.Int("sessions_cleared", cleared))
	s.secLogger.LogPrivacyAction(models.ActivityDataErased, userID, ipAddress)
	return nil
}
