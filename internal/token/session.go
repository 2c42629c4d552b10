package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrWrongTokenType = errors.New("wrong token type")

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// SessionClaims extends the registered JWT claims with the fields the API
// needs to identify the caller.
type SessionClaims struct {
	jwt.RegisteredClaims
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	TokenType string `json:"token_type"`
}

// TokenPair is what a successful login or refresh hands back
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// SessionTokenService mints and parses HS256 access/refresh tokens. Refresh
// tokens carry a jti so revocation can blacklist them individually.
type SessionTokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewSessionTokenService(secret []byte, accessTTL, refreshTTL time.Duration) *SessionTokenService {
	return &SessionTokenService{
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// IssuePair mints a fresh access/refresh token pair for the user
func (s *SessionTokenService) IssuePair(userID uuid.UUID, email string) (*TokenPair, error) {
	accessToken, err := s.sign(userID, email, typeAccess, s.accessTTL)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.sign(userID, email, typeRefresh, s.refreshTTL)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

func (s *SessionTokenService) sign(userID uuid.UUID, email, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:    userID.String(),
		Email:     email,
		TokenType: tokenType,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifyAccess parses an access token and returns its claims
func (s *SessionTokenService) VerifyAccess(tokenStr string) (*SessionClaims, error) {
	return s.parse(tokenStr, typeAccess)
}

// ParseRefresh parses a refresh token and returns its claims. Blacklist state
// is not checked here; that lives in the Blacklist store.
func (s *SessionTokenService) ParseRefresh(tokenStr string) (*SessionClaims, error) {
	return s.parse(tokenStr, typeRefresh)
}

func (s *SessionTokenService) parse(tokenStr, wantType string) (*SessionClaims, error) {
	claims := &SessionClaims{}

	t, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !t.Valid {
		return nil, ErrInvalidToken
	}

	if claims.TokenType != wantType {
		return nil, ErrWrongTokenType
	}
	if claims.ID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
