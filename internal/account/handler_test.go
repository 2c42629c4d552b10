package account

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asktech/accounts-api/internal/logging"
	"github.com/asktech/accounts-api/internal/token"
	"github.com/asktech/accounts-api/internal/user"
)

// setupTestRouter builds the same route tree the server mounts, minus CORS
// and swagger, so handler tests exercise real routing and middleware.
func setupTestRouter(env *testEnv, limiter RateLimiter) *chi.Mux {
	logger := logging.NewLogger(true)
	handler := NewHandler(env.service, limiter, logger)
	authMiddleware := NewMiddleware(env.sessions, env.repo)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(logger))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", handler.Register)
		r.Get("/verify/{token}", handler.VerifyAccount)
		r.Post("/resend-verification", handler.ResendVerification)
		r.Post("/login", handler.Login)
		r.Post("/refresh", handler.Refresh)
		r.Post("/set-password/{token}", handler.SetPassword)
		r.Post("/reset-password", handler.ResetPassword)
		r.Post("/block-token", handler.BlockToken)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Put("/change-password", handler.ChangePassword)
		})
	})

	r.Route("/users", func(r chi.Router) {
		r.With(authMiddleware.RequireAuth, authMiddleware.RequireAdmin).Get("/", handler.ListUsers)
		r.Get("/{id}", handler.GetProfile)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Patch("/{id}", handler.UpdateProfile)
			r.Delete("/{id}", handler.DeleteProfile)
		})
	})

	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, env *testEnv, u *user.User) map[string]string {
	t.Helper()
	pair, err := env.sessions.IssuePair(u.ID, u.Email)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + pair.AccessToken}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRegisterEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := setupTestRouter(env, &fakeRateLimiter{})

	rec := doJSON(t, router, http.MethodPost, "/auth/register", map[string]string{
		"username":         "alice",
		"email":            "alice@example.com",
		"password":         "password123",
		"password_confirm": "password123",
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "We've sent you an activation link via email.", body["message"])

	// duplicate username comes back as a field error
	rec = doJSON(t, router, http.MethodPost, "/auth/register", map[string]string{
		"username":         "alice",
		"email":            "other@example.com",
		"password":         "password123",
		"password_confirm": "password123",
	}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"errors": {"username": "this username is already taken"}}`, rec.Body.String())
}

func TestRegisterEndpointValidation(t *testing.T) {
	env := newTestEnv(t)
	router := setupTestRouter(env, &fakeRateLimiter{})

	rec := doJSON(t, router, http.MethodPost, "/auth/register", map[string]string{
		"username":         "al",
		"email":            "not-an-email",
		"password":         "short",
		"password_confirm": "different",
	}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Errors map[string]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Errors, "username")
	assert.Contains(t, body.Errors, "email")
	assert.Contains(t, body.Errors, "password")
	assert.Contains(t, body.Errors, "password_confirm")

	// malformed JSON is a generic 400, not a field map
	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewBufferString("{"))
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
	assert.Contains(t, rec2.Body.String(), "invalid_request_body")
}

func TestRegisterEndpointRateLimited(t *testing.T) {
	env := newTestEnv(t)
	router := setupTestRouter(env, &fakeRateLimiter{exceeded: true})

	rec := doJSON(t, router, http.MethodPost, "/auth/register", map[string]string{
		"username":         "bob",
		"email":            "bob@example.com",
		"password":         "password123",
		"password_confirm": "password123",
	}, nil)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "too_many_requests")
}

func TestVerifyEndpointLifecycle(t *testing.T) {
	env := newTestEnv(t)
	router := setupTestRouter(env, &fakeRateLimiter{})
	ctx := context.Background()

	u := env.registerUser(t, "carol", "carol@example.com", "password123")

	verificationToken, err := env.emailTokens.Issue(u.ID, token.PurposeVerification, time.Hour)
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/auth/verify/"+verificationToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Account activated successfully.", body["message"])

	got, err := env.repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	// second activation attempt conflicts
	rec = doJSON(t, router, http.MethodGet, "/auth/verify/"+verificationToken, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already_active")

	// garbage token
	rec = doJSON(t, router, http.MethodGet, "/auth/verify/garbage", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_token")
}

func TestResendVerificationEndpointOnCooldown(t *testing.T) {
	env := newTestEnv(t)
	router := setupTestRouter(env, &fakeRateLimiter{onCooldown: true})

	rec := doJSON(t, router, http.MethodPost, "/auth/resend-verification", map[string]string{
		"email": "carol@example.com",
	}, nil)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "cooldown_active")
}

func TestResendVerificationEndpointIsOpaque(t *testing.T) {
	env := newTestEnv(t)
	router := setupTestRouter(env, &fakeRateLimiter{})

	// unknown address gets the same 202 as a known one
	rec := doJSON(t, router, http.MethodPost, "/auth/resend-verification", map[string]string{
		"email": "nobody@example.com",
	}, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestLoginEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := setupTestRouter(env, &fakeRateLimiter{})

	u := env.registerUser(t, "dave", "dave@example.com", "password123")

	// not yet verified
	rec := doJSON(t, router, http.MethodPost, "/auth/login", map[string]string{
		"email":    "dave@example.com",
		"password": "password123",
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "account_inactive")

	env.activateUser(t, u.ID)

	rec = doJSON(t, router, http.MethodPost, "/auth/login", map[string]string{
		"email":    "dave@example.com",
		"password": "wrong-password",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_credentials")

	rec = doJSON(t, router, http.MethodPost, "/auth/login", map[string]string{
		"email":    "dave@example.com",
		"password": "password123",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var pair token.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "Bearer", pair.TokenType)
}

func TestRefreshEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := setupTestRouter(env, &fakeRateLimiter{})

	u := env.registerUser(t, "erin", "erin@example.com", "password123")
	env.activateUser(t, u.ID)

	pair, err := env.sessions.IssuePair(u.ID, u.Email)
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/auth/refresh", map[string]string{
		"refresh": pair.RefreshToken,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// replaying the consumed token fails
	rec = doJSON(t, router, http.MethodPost, "/auth/refresh", map[string]string{
		"refresh": pair.RefreshToken,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_refresh_token")

	// an access token is not a refresh token
	rec = doJSON(t, router, http.MethodPost, "/auth/refresh", map[string]string{
		"refresh": pair.AccessToken,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBlockTokenEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := setupTestRouter(env, &fakeRateLimiter{})

	u := env.registerUser(t, "frank", "frank@example.com", "password123")
	env.activateUser(t, u.ID)

	pair, err := env.sessions.IssuePair(u.ID, u.Email)
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/auth/block-token", map[string]string{
		"refresh": pair.RefreshToken,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Token blocked successfully!", body["message"])

	// blocking again stays 200
	rec = doJSON(t, router, http.MethodPost, "/auth/block-token", map[string]string{
		"refresh": pair.RefreshToken,
	}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// a bad token is a field-scoped 400
	rec = doJSON(t, router, http.MethodPost, "/auth/block-token", map[string]string{
		"refresh": "garbage",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"errors": {"refresh": "The provided token is invalid or has expired."}}`, rec.Body.String())
}

func TestResetPasswordEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := setupTestRouter(env, &fakeRateLimiter{})

	env.registerUser(t, "grace", "grace@example.com", "password123")

	// unknown email is disclosed as not found
	rec := doJSON(t, router, http.MethodPost, "/auth/reset-password", map[string]string{
		"email": "nobody@example.com",
	}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "user with this email not found")

	rec = doJSON(t, router, http.MethodPost, "/auth/reset-password", map[string]string{
		"email": "grace@example.com",
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		return len(env.mailer.Resets()) == 1
	}, emailWait, 10*time.Millisecond)
}

func TestSetPasswordEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := setupTestRouter(env, &fakeRateLimiter{})
	ctx := context.Background()

	u := env.registerUser(t, "heidi", "heidi@example.com", "password123")
	env.activateUser(t, u.ID)

	resetToken, err := env.emailTokens.Issue(u.ID, token.PurposeResetPassword, time.Hour)
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/auth/set-password/"+resetToken, map[string]string{
		"new_password":         "newpassword1",
		"new_password_confirm": "newpassword1",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Password changed successfully.", body["message"])

	_, err = env.service.Login(ctx, "heidi@example.com", "newpassword1")
	require.NoError(t, err)

	// expired token
	expired, err := env.emailTokens.Issue(u.ID, token.PurposeResetPassword, -time.Minute)
	require.NoError(t, err)

	rec = doJSON(t, router, http.MethodPost, "/auth/set-password/"+expired, map[string]string{
		"new_password":         "anotherpass1",
		"new_password_confirm": "anotherpass1",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "token_expired")
}

func TestChangePasswordEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := setupTestRouter(env, &fakeRateLimiter{})

	u := env.registerUser(t, "ivan", "ivan@example.com", "password123")
	env.activateUser(t, u.ID)

	payload := map[string]string{
		"current_password":     "password123",
		"new_password":         "newpassword1",
		"new_password_confirm": "newpassword1",
	}

	// no token
	rec := doJSON(t, router, http.MethodPut, "/auth/change-password", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_auth")

	// malformed header
	rec = doJSON(t, router, http.MethodPut, "/auth/change-password", payload,
		map[string]string{"Authorization": "Token abc"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_auth_header")

	headers := bearer(t, env, u)

	// wrong current password is field-scoped
	rec = doJSON(t, router, http.MethodPut, "/auth/change-password", map[string]string{
		"current_password":     "wrong",
		"new_password":         "newpassword1",
		"new_password_confirm": "newpassword1",
	}, headers)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"errors": {"current_password": "current password is incorrect"}}`, rec.Body.String())

	rec = doJSON(t, router, http.MethodPut, "/auth/change-password", payload, headers)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetProfileEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := setupTestRouter(env, &fakeRateLimiter{})

	u := env.registerUser(t, "judy", "judy@example.com", "password123")

	// inactive profiles read as missing
	rec := doJSON(t, router, http.MethodGet, "/users/"+u.ID.String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.activateUser(t, u.ID)

	rec = doJSON(t, router, http.MethodGet, "/users/"+u.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got user.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "judy", got.Username)
	assert.Empty(t, got.PasswordHash, "password hash must never serialize")

	// non-uuid path segment
	rec = doJSON(t, router, http.MethodGet, "/users/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateProfileEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := setupTestRouter(env, &fakeRateLimiter{})
	ctx := context.Background()

	owner := env.registerUser(t, "kate", "kate@example.com", "password123")
	env.activateUser(t, owner.ID)
	other := env.registerUser(t, "leo", "leo@example.com", "password123")
	env.activateUser(t, other.ID)

	// a non-owner cannot write
	rec := doJSON(t, router, http.MethodPatch, "/users/"+owner.ID.String(), map[string]string{
		"bio": "hijacked",
	}, bearer(t, env, other))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// unauthenticated write
	rec = doJSON(t, router, http.MethodPatch, "/users/"+owner.ID.String(), map[string]string{
		"bio": "anonymous",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// owner updates display fields
	rec = doJSON(t, router, http.MethodPatch, "/users/"+owner.ID.String(), map[string]string{
		"display_name": "Kate",
		"bio":          "hello there",
	}, bearer(t, env, owner))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Updated profile successfully.", body["message"])

	got, err := env.repo.GetByID(ctx, owner.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, "Kate", got.Profile.DisplayName)
}

func TestUpdateProfileEndpointEmailChange(t *testing.T) {
	env := newTestEnv(t)
	router := setupTestRouter(env, &fakeRateLimiter{})
	ctx := context.Background()

	owner := env.registerUser(t, "mallory", "mallory@example.com", "password123")
	env.activateUser(t, owner.ID)

	rec := doJSON(t, router, http.MethodPatch, "/users/"+owner.ID.String(), map[string]string{
		"email": "mallory-new@example.com",
	}, bearer(t, env, owner))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t,
		"Updated profile successfully. A verification link has been sent to your new email address.",
		body["message"])

	got, err := env.repo.GetByID(ctx, owner.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, "mallory-new@example.com", got.Email)
}

func TestDeleteProfileEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := setupTestRouter(env, &fakeRateLimiter{})
	ctx := context.Background()

	owner := env.registerUser(t, "nina", "nina@example.com", "password123")
	env.activateUser(t, owner.ID)
	other := env.registerUser(t, "oscar", "oscar@example.com", "password123")
	env.activateUser(t, other.ID)

	upd := user.ProfileUpdate{AvatarKey: strPtr("avatars/nina.png")}
	require.NoError(t, env.repo.ApplyProfileUpdate(ctx, owner.ID, upd, false))

	// a non-owner cannot delete
	rec := doJSON(t, router, http.MethodDelete, "/users/"+owner.ID.String(), nil, bearer(t, env, other))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/users/"+owner.ID.String(), nil, bearer(t, env, owner))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String(), "204 must carry no body")

	assert.Equal(t, []string{"avatars/nina.png"}, env.store.Deleted())

	_, err := env.repo.GetByID(ctx, owner.ID)
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func TestListUsersEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := setupTestRouter(env, &fakeRateLimiter{})
	ctx := context.Background()

	admin := env.registerUser(t, "root", "root@example.com", "password123")
	env.activateUser(t, admin.ID)
	adminRow, err := env.repo.GetByID(ctx, admin.ID)
	require.NoError(t, err)
	adminRow.IsAdmin = true

	regular := env.registerUser(t, "peggy", "peggy@example.com", "password123")
	env.activateUser(t, regular.ID)

	// anonymous
	rec := doJSON(t, router, http.MethodGet, "/users", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// authenticated but not admin
	rec = doJSON(t, router, http.MethodGet, "/users", nil, bearer(t, env, regular))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/users", nil, bearer(t, env, admin))
	require.Equal(t, http.StatusOK, rec.Code)

	var list UserListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)
	assert.Len(t, list.Results, 2)
}

func TestRequireAuthRejectsExpiredAccessToken(t *testing.T) {
	env := newTestEnv(t)
	router := setupTestRouter(env, &fakeRateLimiter{})

	u := env.registerUser(t, "quinn", "quinn@example.com", "password123")
	env.activateUser(t, u.ID)

	shortLived := token.NewSessionTokenService([]byte("test-session-secret"), -time.Minute, time.Hour)
	pair, err := shortLived.IssuePair(u.ID, u.Email)
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPut, "/auth/change-password", map[string]string{
		"current_password":     "password123",
		"new_password":         "newpassword1",
		"new_password_confirm": "newpassword1",
	}, map[string]string{"Authorization": "Bearer " + pair.AccessToken})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "token_expired")
}
