package account

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/asktech/accounts-api/internal/user"
)

// UserRepository is the persistence surface the service needs. Implemented by
// user.Repository; tests substitute an in-memory fake.
type UserRepository interface {
	Create(ctx context.Context, username, email, passwordHash string) (*user.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	List(ctx context.Context, limit, offset int) ([]*user.User, int, error)
	Activate(ctx context.Context, userID uuid.UUID) error
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error
	UpdateLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error
	ApplyProfileUpdate(ctx context.Context, userID uuid.UUID, upd user.ProfileUpdate, deactivate bool) error
	Delete(ctx context.Context, userID uuid.UUID) error
}

// EmailSender dispatches transactional account emails
type EmailSender interface {
	SendVerificationEmail(ctx context.Context, toEmail, token string) error
	SendPasswordResetEmail(ctx context.Context, toEmail, token string) error
}

// ObjectStore is the external storage holding avatar objects
type ObjectStore interface {
	DeleteObject(ctx context.Context, key string) error
}

// RefreshBlacklist records revoked refresh token ids
type RefreshBlacklist interface {
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	Contains(ctx context.Context, jti string) (bool, error)
}

// RateLimiter throttles the endpoints that trigger outbound mail.
// Implemented by ratelimit.Limiter.
type RateLimiter interface {
	CheckIPRateLimit(ctx context.Context, ip string) (bool, error)
	CheckIPRateLimitWithPurpose(ctx context.Context, ip, purpose string) (bool, error)
	RecordIPRequest(ctx context.Context, ip string) error
	RecordIPRequestWithPurpose(ctx context.Context, ip, purpose string) error
	CheckEmailCooldown(ctx context.Context, email string) (bool, error)
	SetEmailCooldown(ctx context.Context, email string) error
}
