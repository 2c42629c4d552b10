package account

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/asktech/accounts-api/internal/logging"
	"github.com/asktech/accounts-api/internal/token"
	"github.com/asktech/accounts-api/internal/user"
)

// In-memory doubles for the service's collaborators. They mirror the
// repository semantics closely enough for the lifecycle properties to be
// exercised without a database.

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*user.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*user.User)}
}

func (r *fakeUserRepo) Create(_ context.Context, username, email, passwordHash string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Username == username {
			return nil, user.ErrDuplicateUsername
		}
		if u.Email == email {
			return nil, user.ErrDuplicateEmail
		}
	}

	id := uuid.New()
	u := &user.User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     false,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
		Profile:      &user.Profile{UserID: id},
	}
	r.users[id] = u
	return u, nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *fakeUserRepo) List(_ context.Context, limit, offset int) ([]*user.User, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]*user.User, 0, len(r.users))
	for _, u := range r.users {
		all = append(all, u)
	}
	total := len(all)

	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *fakeUserRepo) Activate(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return user.ErrNotFound
	}
	u.IsActive = true
	return nil
}

func (r *fakeUserRepo) UpdatePassword(_ context.Context, userID uuid.UUID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return user.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (r *fakeUserRepo) UpdateLastLogin(_ context.Context, userID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return user.ErrNotFound
	}
	u.LastLogin = &at
	return nil
}

func (r *fakeUserRepo) ApplyProfileUpdate(_ context.Context, userID uuid.UUID, upd user.ProfileUpdate, deactivate bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return user.ErrNotFound
	}

	if upd.Username != nil {
		u.Username = *upd.Username
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if deactivate {
		u.IsActive = false
	}
	if upd.DisplayName != nil {
		u.Profile.DisplayName = *upd.DisplayName
	}
	if upd.Bio != nil {
		u.Profile.Bio = *upd.Bio
	}
	if upd.AvatarKey != nil {
		u.Profile.AvatarKey = upd.AvatarKey
	}
	return nil
}

func (r *fakeUserRepo) Delete(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[userID]; !ok {
		return user.ErrNotFound
	}
	delete(r.users, userID)
	return nil
}

type sentEmail struct {
	To    string
	Token string
}

type fakeMailer struct {
	mu            sync.Mutex
	verifications []sentEmail
	resets        []sentEmail
}

func (m *fakeMailer) SendVerificationEmail(_ context.Context, toEmail, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications = append(m.verifications, sentEmail{To: toEmail, Token: token})
	return nil
}

func (m *fakeMailer) SendPasswordResetEmail(_ context.Context, toEmail, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, sentEmail{To: toEmail, Token: token})
	return nil
}

func (m *fakeMailer) Verifications() []sentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentEmail(nil), m.verifications...)
}

func (m *fakeMailer) Resets() []sentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentEmail(nil), m.resets...)
}

type fakeObjectStore struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (s *fakeObjectStore) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeObjectStore) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

type fakeBlacklist struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func newFakeBlacklist() *fakeBlacklist {
	return &fakeBlacklist{entries: make(map[string]time.Time)}
}

func (b *fakeBlacklist) Add(_ context.Context, jti string, expiresAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[jti] = expiresAt
	return nil
}

func (b *fakeBlacklist) Contains(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[jti]
	return ok, nil
}

type fakeRateLimiter struct {
	exceeded   bool
	onCooldown bool
}

func (l *fakeRateLimiter) CheckIPRateLimit(context.Context, string) (bool, error) {
	return l.exceeded, nil
}

func (l *fakeRateLimiter) CheckIPRateLimitWithPurpose(context.Context, string, string) (bool, error) {
	return l.exceeded, nil
}

func (l *fakeRateLimiter) RecordIPRequest(context.Context, string) error { return nil }

func (l *fakeRateLimiter) RecordIPRequestWithPurpose(context.Context, string, string) error {
	return nil
}

func (l *fakeRateLimiter) CheckEmailCooldown(context.Context, string) (bool, error) {
	return l.onCooldown, nil
}

func (l *fakeRateLimiter) SetEmailCooldown(context.Context, string) error { return nil }

type testEnv struct {
	service     *Service
	repo        *fakeUserRepo
	mailer      *fakeMailer
	store       *fakeObjectStore
	blacklist   *fakeBlacklist
	emailTokens *token.EmailTokenService
	sessions    *token.SessionTokenService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	emailTokens, err := token.NewEmailTokenService([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	sessions := token.NewSessionTokenService([]byte("test-session-secret"), 15*time.Minute, 7*24*time.Hour)

	repo := newFakeUserRepo()
	mailer := &fakeMailer{}
	store := &fakeObjectStore{}
	blacklist := newFakeBlacklist()

	service := NewService(
		repo,
		emailTokens,
		sessions,
		blacklist,
		mailer,
		store,
		logging.NewLogger(true),
		24*time.Hour,
		time.Hour,
	)

	return &testEnv{
		service:     service,
		repo:        repo,
		mailer:      mailer,
		store:       store,
		blacklist:   blacklist,
		emailTokens: emailTokens,
		sessions:    sessions,
	}
}

// registerUser registers a user through the service and returns the record
func (e *testEnv) registerUser(t *testing.T, username, email, password string) *user.User {
	t.Helper()
	u, err := e.service.Register(context.Background(), username, email, password)
	require.NoError(t, err)
	return u
}

// activateUser flips the account active directly in the fake repo
func (e *testEnv) activateUser(t *testing.T, id uuid.UUID) {
	t.Helper()
	require.NoError(t, e.repo.Activate(context.Background(), id))
}
