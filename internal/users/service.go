package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultProvider = "default"

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service resolves session claims to canonical users and planned signer names to user ids.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// ResolveProfile returns the canonical profile for the session claims, recording the identity
// on first sight and refreshing its email and display name afterwards.
func (s *Service) ResolveProfile(ctx context.Context, claims auth.SessionClaims) (Profile, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return Profile{}, ErrInvalidIdentity
	}
	email := normalize(claims.UserEmail)
	displayName := normalize(claims.UserDisplayName)

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if profile, ok := cached.(Profile); ok && (displayName == "" || displayName == profile.DisplayName) && (email == "" || email == profile.Email) {
			return profile, nil
		}
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", provider, subject).
		First(&identity).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       email,
			DisplayName: displayName,
			LastSeenAt:  s.now(),
		}
		if err := s.db.WithContext(ctx).Create(&identity).Error; err != nil {
			return Profile{}, err
		}
	case err != nil:
		return Profile{}, err
	default:
		updates := map[string]interface{}{"last_seen_at": s.now()}
		if email != "" && email != identity.Email {
			updates["user_email"] = email
			identity.Email = email
		}
		if displayName != "" && displayName != identity.DisplayName {
			updates["user_display_name"] = displayName
			identity.DisplayName = displayName
		}
		if err := s.db.WithContext(ctx).Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).Error; err != nil {
			s.logger.Warn("identity refresh failed", zap.String("user_id", identity.UserID), zap.Error(err))
		}
	}

	profile := Profile{UserID: identity.UserID, DisplayName: identity.DisplayName, Email: identity.Email}
	s.cache.Store(cacheKey, profile)
	return profile, nil
}

// ResolveCanonicalUserID returns only the canonical user id of the claims.
func (s *Service) ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	profile, err := s.ResolveProfile(ctx, claims)
	if err != nil {
		return "", err
	}
	return profile.UserID, nil
}

// ResolveUserByDisplayName finds the user a planned signer name refers to: an exact match
// first, then a case-insensitive one. Names shared by several users resolve to the earliest
// registered one and the ambiguity is logged.
func (s *Service) ResolveUserByDisplayName(ctx context.Context, displayName string) (string, bool, error) {
	name := normalize(displayName)
	if name == "" {
		return "", false, nil
	}

	var matches []Identity
	if err := s.db.WithContext(ctx).
		Where("user_display_name = ?", name).
		Order("created_at ASC").
		Order("user_id ASC").
		Find(&matches).Error; err != nil {
		return "", false, err
	}
	if len(matches) == 0 {
		if err := s.db.WithContext(ctx).
			Where("LOWER(user_display_name) = ?", strings.ToLower(name)).
			Order("created_at ASC").
			Order("user_id ASC").
			Find(&matches).Error; err != nil {
			return "", false, err
		}
	}
	if len(matches) == 0 {
		return "", false, nil
	}

	distinct := make(map[string]struct{}, len(matches))
	for _, match := range matches {
		distinct[match.UserID] = struct{}{}
	}
	if len(distinct) > 1 {
		s.logger.Warn("display name matches several users",
			zap.String("display_name", name),
			zap.Int("users", len(distinct)),
			zap.String("selected_user_id", matches[0].UserID))
	}
	return matches[0].UserID, true, nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if before, after, found := strings.Cut(raw, ":"); found {
			if normalize(before) != "" && normalize(after) != "" {
				provider = normalize(before)
				subject = normalize(after)
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
