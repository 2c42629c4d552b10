package token

import (
	"errors"
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
	ErrWrongPurpose = errors.New("token issued for a different purpose")
)

// Purpose scopes a single-use token to one flow so a verification token can
// never authorize a password reset and vice versa.
type Purpose string

const (
	PurposeVerification  Purpose = "verification"
	PurposeResetPassword Purpose = "reset_password"
)

// EmailClaims are the claims carried by a single-use email token
type EmailClaims struct {
	UserID    uuid.UUID
	Purpose   Purpose
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// EmailTokenService issues and verifies the single-use tokens embedded in
// verification and password reset links.
// Uses PASETO v4.local (symmetric encryption with XChaCha20-Poly1305), so a
// token is a self-contained capability with no server-side row behind it.
type EmailTokenService struct {
	symmetricKey paseto.V4SymmetricKey
}

func NewEmailTokenService(symmetricKey []byte) (*EmailTokenService, error) {
	if len(symmetricKey) != 32 {
		return nil, fmt.Errorf("symmetric key must be exactly 32 bytes, got %d", len(symmetricKey))
	}

	key, err := paseto.V4SymmetricKeyFromBytes(symmetricKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create symmetric key: %w", err)
	}

	return &EmailTokenService{symmetricKey: key}, nil
}

// Issue creates a token granting a one-time right over the given user for the
// given purpose.
func (s *EmailTokenService) Issue(userID uuid.UUID, purpose Purpose, ttl time.Duration) (string, error) {
	now := time.Now()

	t := paseto.NewToken()
	t.SetIssuedAt(now)
	t.SetExpiration(now.Add(ttl))
	t.SetString("user_id", userID.String())
	t.SetString("purpose", string(purpose))

	return t.V4Encrypt(s.symmetricKey, nil), nil
}

// Verify checks signature, expiry and purpose and returns the claims.
// Any failure means the token must not cause a mutation.
func (s *EmailTokenService) Verify(tokenStr string, expected Purpose) (*EmailClaims, error) {
	parser := paseto.NewParser()

	t, err := parser.ParseV4Local(s.symmetricKey, tokenStr, nil)
	if err != nil {
		// The parser enforces expiry by default; distinguish expired from invalid
		if errors.Is(err, &paseto.RuleError{}) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	userIDStr, err := t.GetString("user_id")
	if err != nil {
		return nil, ErrInvalidToken
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, ErrInvalidToken
	}

	purposeStr, err := t.GetString("purpose")
	if err != nil {
		return nil, ErrInvalidToken
	}
	if Purpose(purposeStr) != expected {
		return nil, ErrWrongPurpose
	}

	issuedAt, err := t.GetIssuedAt()
	if err != nil {
		return nil, ErrInvalidToken
	}
	expiresAt, err := t.GetExpiration()
	if err != nil {
		return nil, ErrInvalidToken
	}

	return &EmailClaims{
		UserID:    userID,
		Purpose:   Purpose(purposeStr),
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}
