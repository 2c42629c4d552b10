package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/asktech/accounts-api/internal/logging"
	"github.com/asktech/accounts-api/internal/token"
	"github.com/asktech/accounts-api/internal/user"
)

// Service implements the account lifecycle: registration, verification,
// credentials, session revocation and profile CRUD.
type Service struct {
	users       UserRepository
	verifier    *Verifier
	emailTokens *token.EmailTokenService
	sessions    *token.SessionTokenService
	blacklist   RefreshBlacklist
	mailer      EmailSender
	store       ObjectStore
	logger      *logging.Logger

	verificationTTL time.Duration
	resetTTL        time.Duration
}

func NewService(
	users UserRepository,
	emailTokens *token.EmailTokenService,
	sessions *token.SessionTokenService,
	blacklist RefreshBlacklist,
	mailer EmailSender,
	store ObjectStore,
	logger *logging.Logger,
	verificationTTL time.Duration,
	resetTTL time.Duration,
) *Service {
	return &Service{
		users:           users,
		verifier:        NewVerifier(emailTokens, users),
		emailTokens:     emailTokens,
		sessions:        sessions,
		blacklist:       blacklist,
		mailer:          mailer,
		store:           store,
		logger:          logger,
		verificationTTL: verificationTTL,
		resetTTL:        resetTTL,
	}
}

// Verifier exposes the token verifier for handlers that consume its tagged
// result directly.
func (s *Service) Verifier() *Verifier {
	return s.verifier
}

// Register creates an inactive account and dispatches the verification email
// once the insert has committed. The caller gets no indication of delivery;
// a lost email is recovered through resend-verification.
func (s *Service) Register(ctx context.Context, username, email, password string) (*user.User, error) {
	passwordHash, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	newUser, err := s.users.Create(ctx, username, email, passwordHash)
	if err != nil {
		return nil, err
	}

	s.sendVerification(newUser.ID, email)

	return newUser, nil
}

// VerifyAccount consumes a verification token and activates the referenced
// account. An already-active account is reported as a conflict and left
// untouched.
func (s *Service) VerifyAccount(ctx context.Context, tokenStr string) error {
	u, fail := s.verifier.Resolve(ctx, tokenStr, token.PurposeVerification)
	if fail != nil {
		return fail
	}

	if u.IsActive {
		return ErrAlreadyActive
	}

	if err := s.users.Activate(ctx, u.ID); err != nil {
		return fmt.Errorf("failed to activate account: %w", err)
	}

	return nil
}

// ResendVerification re-issues a fresh verification token by email.
// Always returns nil for unknown or already-active addresses so callers
// cannot probe which emails are registered.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil
		}
		s.logger.Warn("failed to look up user for resend verification", "error", err)
		return nil
	}

	if u.IsActive {
		return nil
	}

	s.sendVerification(u.ID, u.Email)
	return nil
}

// Login authenticates a user and mints a session token pair
func (s *Service) Login(ctx context.Context, email, password string) (*token.TokenPair, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !verifyPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	if !u.IsActive {
		return nil, ErrAccountInactive
	}

	pair, err := s.sessions.IssuePair(u.ID, u.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	if err := s.users.UpdateLastLogin(ctx, u.ID, time.Now()); err != nil {
		s.logger.Warn("failed to update last login", "user_id", u.ID, "error", err)
	}

	return pair, nil
}

// Refresh exchanges a refresh token for a new pair. The used token is
// blacklisted so it cannot be replayed; a previously blocked token is
// rejected permanently.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*token.TokenPair, error) {
	claims, err := s.sessions.ParseRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	blocked, err := s.blacklist.Contains(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check blacklist: %w", err)
	}
	if blocked {
		return nil, ErrRefreshBlacklisted
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, token.ErrInvalidToken
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, token.ErrInvalidToken
	}
	if !u.IsActive {
		return nil, ErrAccountInactive
	}

	if err := s.blacklist.Add(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	pair, err := s.sessions.IssuePair(u.ID, u.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	return pair, nil
}

// BlockToken blacklists a refresh token. The operation is idempotent:
// blocking a token twice leaves it in the same terminal state.
func (s *Service) BlockToken(ctx context.Context, refreshToken string) error {
	claims, err := s.sessions.ParseRefresh(refreshToken)
	if err != nil {
		return err
	}

	return s.blacklist.Add(ctx, claims.ID, claims.ExpiresAt.Time)
}

// ChangePassword sets a new password for an authenticated user after
// re-checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if !verifyPassword(u.PasswordHash, currentPassword) {
		return ErrInvalidCredentials
	}

	passwordHash, err := hashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.users.UpdatePassword(ctx, userID, passwordHash)
}

// RequestPasswordReset dispatches a reset-purpose token by email.
// Unlike resend-verification this discloses nonexistence: an unknown email
// is an error the caller sees as 404.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}

	resetToken, err := s.emailTokens.Issue(u.ID, token.PurposeResetPassword, s.resetTTL)
	if err != nil {
		return fmt.Errorf("failed to issue reset token: %w", err)
	}

	s.dispatch(func(ctx context.Context) error {
		return s.mailer.SendPasswordResetEmail(ctx, u.Email, resetToken)
	})

	return nil
}

// SetPassword consumes a reset token and sets the new password. The token
// itself is the authorization; no current-password check happens here.
func (s *Service) SetPassword(ctx context.Context, tokenStr, newPassword string) error {
	u, fail := s.verifier.Resolve(ctx, tokenStr, token.PurposeResetPassword)
	if fail != nil {
		return fail
	}

	passwordHash, err := hashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.users.UpdatePassword(ctx, u.ID, passwordHash)
}

// GetProfile returns an active user's public record. Inactive accounts are
// indistinguishable from missing ones.
func (s *Service) GetProfile(ctx context.Context, id uuid.UUID) (*user.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, user.ErrNotFound
	}
	return u, nil
}

// UpdateProfile merges the supplied fields. Changing the email deactivates
// the account in the same transaction as the save and sends a fresh
// verification link to the new address afterwards, best-effort.
// Returns whether the email changed so callers can adjust their message.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, upd user.ProfileUpdate) (bool, error) {
	current, err := s.GetProfile(ctx, id)
	if err != nil {
		return false, err
	}

	emailChanged := upd.ChangesEmail(current.Email)

	if err := s.users.ApplyProfileUpdate(ctx, id, upd, emailChanged); err != nil {
		return false, err
	}

	if emailChanged {
		s.sendVerification(id, *upd.Email)
	}

	return emailChanged, nil
}

// DeleteAccount removes a user. A stored avatar is purged from the object
// store first; when that fails the row stays so the blob never orphans.
func (s *Service) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	u, err := s.GetProfile(ctx, id)
	if err != nil {
		return err
	}

	if u.Profile != nil && u.Profile.AvatarKey != nil {
		if err := s.store.DeleteObject(ctx, *u.Profile.AvatarKey); err != nil {
			return fmt.Errorf("failed to purge avatar: %w", err)
		}
	}

	return s.users.Delete(ctx, id)
}

// ListUsers returns a page of accounts for the admin surface
func (s *Service) ListUsers(ctx context.Context, page, pageSize int) ([]*user.User, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.users.List(ctx, pageSize, (page-1)*pageSize)
}

// sendVerification issues a verification token and mails it asynchronously
func (s *Service) sendVerification(userID uuid.UUID, email string) {
	verificationToken, err := s.emailTokens.Issue(userID, token.PurposeVerification, s.verificationTTL)
	if err != nil {
		s.logger.Warn("failed to issue verification token", "user_id", userID, "error", err)
		return
	}

	s.dispatch(func(ctx context.Context) error {
		return s.mailer.SendVerificationEmail(ctx, email, verificationToken)
	})
}

// dispatch runs an email send in the background with a fresh context, so the
// HTTP response never waits on SMTP and a cancelled request cannot abort the
// delivery. Failures are logged only; retries belong to the mail provider.
func (s *Service) dispatch(send func(ctx context.Context) error) {
	go func() {
		if err := send(context.Background()); err != nil {
			s.logger.Warn("failed to send email", "error", err)
		}
	}()
}
