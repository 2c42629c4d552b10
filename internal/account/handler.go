package account

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/asktech/accounts-api/internal/httputil"
	"github.com/asktech/accounts-api/internal/logging"
	"github.com/asktech/accounts-api/internal/token"
	"github.com/asktech/accounts-api/internal/user"
)

// Handler contains the HTTP handlers for the accounts API
type Handler struct {
	service     *Service
	rateLimiter RateLimiter
	logger      *logging.Logger
}

func NewHandler(service *Service, rateLimiter RateLimiter, logger *logging.Logger) *Handler {
	return &Handler{
		service:     service,
		rateLimiter: rateLimiter,
		logger:      logger,
	}
}

// UserListResponse is the paginated admin listing
type UserListResponse struct {
	Count   int          `json:"count"`
	Page    int          `json:"page"`
	Results []*user.User `json:"results"`
}

// Register handles user registration
// @Summary      Register a new user
// @Description  Create an inactive account and send a verification email.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body RegisterRequest true "Registration payload"
// @Success      201 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.FieldErrorResponse "Validation error"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Router       /auth/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	ip := getClientIP(r)
	exceeded, err := h.rateLimiter.CheckIPRateLimitWithPurpose(r.Context(), ip, "register")
	if err != nil {
		logger.Error("failed to check IP rate limit", "error", err.Error())
	} else if exceeded {
		logger.Warn("IP rate limit exceeded for register", "ip", ip)
		httputil.RespondErrorWithCode(w, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid registration request body", "error", err.Error())
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if err := req.Validate(); err != nil {
		logger.Warn("registration failed: validation error", "error", err.Error())
		httputil.RespondFieldErrors(w, validationErrors(err), http.StatusBadRequest)
		return
	}

	if err := h.rateLimiter.RecordIPRequestWithPurpose(r.Context(), ip, "register"); err != nil {
		logger.Error("failed to record IP request", "error", err.Error())
	}

	newUser, err := h.service.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrDuplicateUsername) {
			logger.Warn("registration failed: username taken")
			httputil.RespondFieldErrors(w, map[string]string{"username": "this username is already taken"}, http.StatusBadRequest)
			return
		}
		if errors.Is(err, user.ErrDuplicateEmail) {
			logger.Warn("registration failed: email taken")
			httputil.RespondFieldErrors(w, map[string]string{"email": "a user with this email already exists"}, http.StatusBadRequest)
			return
		}
		logger.Error("registration failed: internal error", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to register", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("user registered", "user_id", newUser.ID)

	httputil.RespondMessage(w, "We've sent you an activation link via email.", http.StatusCreated)
}

// VerifyAccount handles account activation
// @Summary      Verify an account
// @Description  Activate an account using the verification token from the email link.
// @Tags         auth
// @Produce      json
// @Param        token path string true "Verification token"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid token"
// @Failure      401 {object} httputil.ErrorResponse "Expired token"
// @Failure      409 {object} httputil.ErrorResponse "Account already active"
// @Router       /auth/verify/{token} [get]
func (h *Handler) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	tokenStr := chi.URLParam(r, "token")

	if err := h.service.VerifyAccount(r.Context(), tokenStr); err != nil {
		var fail *Failure
		if errors.As(err, &fail) {
			logger.Warn("verification failed", "code", fail.Code)
			fail.WriteTo(w)
			return
		}
		if errors.Is(err, ErrAlreadyActive) {
			logger.Warn("verification failed: already active")
			httputil.RespondErrorWithCode(w, "this account is already active", httputil.CodeAlreadyActive, http.StatusConflict)
			return
		}
		logger.Error("verification failed: internal error", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to verify account", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("account activated")

	httputil.RespondMessage(w, "Account activated successfully.", http.StatusOK)
}

// ResendVerification handles re-sending the activation email
// @Summary      Resend verification email
// @Description  Send a fresh activation link. Responds identically whether or not the email is registered.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body ResendVerificationRequest true "Email address"
// @Success      202 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.FieldErrorResponse
// @Failure      429 {object} httputil.ErrorResponse
// @Router       /auth/resend-verification [post]
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ResendVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid resend verification request body", "error", err.Error())
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.RespondFieldErrors(w, validationErrors(err), http.StatusBadRequest)
		return
	}

	if h.emailRateLimited(w, r, req.Email) {
		return
	}

	// Always succeeds from the caller's point of view
	_ = h.service.ResendVerification(r.Context(), req.Email)

	httputil.RespondMessage(w, "We've resent the activation link to your email.", http.StatusAccepted)
}

// Login handles user login
// @Summary      User login
// @Description  Authenticate and receive an access/refresh token pair.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body LoginRequest true "Credentials"
// @Success      200 {object} token.TokenPair
// @Failure      400 {object} httputil.FieldErrorResponse
// @Failure      401 {object} httputil.ErrorResponse "Invalid credentials"
// @Failure      403 {object} httputil.ErrorResponse "Account not verified"
// @Router       /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid login request body", "error", err.Error())
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.RespondFieldErrors(w, validationErrors(err), http.StatusBadRequest)
		return
	}

	pair, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			logger.Warn("login failed: invalid credentials")
			httputil.RespondErrorWithCode(w, "invalid email or password", httputil.CodeInvalidCredentials, http.StatusUnauthorized)
			return
		}
		if errors.Is(err, ErrAccountInactive) {
			logger.Warn("login failed: account inactive")
			httputil.RespondErrorWithCode(w, "account not verified, please check your inbox", httputil.CodeAccountInactive, http.StatusForbidden)
			return
		}
		logger.Error("login failed: internal error", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to login", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("user logged in")

	httputil.RespondJSON(w, pair, http.StatusOK)
}

// Refresh handles access token refresh
// @Summary      Refresh tokens
// @Description  Exchange a refresh token for a new token pair. The used refresh token is rotated out.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body RefreshRequest true "Refresh token"
// @Success      200 {object} token.TokenPair
// @Failure      400 {object} httputil.FieldErrorResponse
// @Failure      401 {object} httputil.ErrorResponse "Invalid, expired or blocked token"
// @Router       /auth/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.RespondFieldErrors(w, validationErrors(err), http.StatusBadRequest)
		return
	}

	pair, err := h.service.Refresh(r.Context(), strings.TrimSpace(req.Refresh))
	if err != nil {
		if isTokenError(err) || errors.Is(err, ErrRefreshBlacklisted) || errors.Is(err, ErrAccountInactive) {
			logger.Warn("token refresh rejected", "error", err.Error())
			httputil.RespondErrorWithCode(w, "invalid or expired refresh token", httputil.CodeInvalidRefreshToken, http.StatusUnauthorized)
			return
		}
		logger.Error("token refresh failed: internal error", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to refresh token", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("access token refreshed")

	httputil.RespondJSON(w, pair, http.StatusOK)
}

// ChangePassword handles an authenticated password change
// @Summary      Change password
// @Description  Set a new password after checking the current one.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body ChangePasswordRequest true "Passwords"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.FieldErrorResponse
// @Failure      401 {object} httputil.ErrorResponse
// @Router       /auth/change-password [put]
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.RespondFieldErrors(w, validationErrors(err), http.StatusBadRequest)
		return
	}

	if err := h.service.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			logger.Warn("password change failed: wrong current password")
			httputil.RespondFieldErrors(w, map[string]string{"current_password": "current password is incorrect"}, http.StatusBadRequest)
			return
		}
		logger.Error("password change failed: internal error", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to change password", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("password changed")

	httputil.RespondMessage(w, "Your password changed successfully.", http.StatusOK)
}

// SetPassword handles setting a password with a reset token
// @Summary      Set password with reset token
// @Description  Set a new password; the reset token alone authorizes the change.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        token path string true "Reset token"
// @Param        request body SetPasswordRequest true "New password"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid token or payload"
// @Failure      401 {object} httputil.ErrorResponse "Expired token"
// @Router       /auth/set-password/{token} [post]
func (h *Handler) SetPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	tokenStr := chi.URLParam(r, "token")

	var req SetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.RespondFieldErrors(w, validationErrors(err), http.StatusBadRequest)
		return
	}

	if err := h.service.SetPassword(r.Context(), tokenStr, req.NewPassword); err != nil {
		var fail *Failure
		if errors.As(err, &fail) {
			logger.Warn("set password rejected", "code", fail.Code)
			fail.WriteTo(w)
			return
		}
		logger.Error("set password failed: internal error", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to set password", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("password set via reset token")

	httputil.RespondMessage(w, "Password changed successfully.", http.StatusOK)
}

// ResetPassword handles a password reset request
// @Summary      Request password reset
// @Description  Send a reset link to the given email. Unknown emails are reported as not found.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body ResetPasswordRequest true "Email address"
// @Success      202 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.FieldErrorResponse
// @Failure      404 {object} httputil.ErrorResponse "No account with this email"
// @Failure      429 {object} httputil.ErrorResponse
// @Router       /auth/reset-password [post]
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.RespondFieldErrors(w, validationErrors(err), http.StatusBadRequest)
		return
	}

	if h.emailRateLimited(w, r, req.Email) {
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			logger.Warn("password reset requested for unknown email")
			httputil.RespondErrorWithCode(w, "user with this email not found", httputil.CodeUserNotFound, http.StatusNotFound)
			return
		}
		logger.Error("password reset request failed: internal error", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to request password reset", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("password reset link dispatched")

	httputil.RespondMessage(w, "A password reset link has been sent to your email.", http.StatusAccepted)
}

// BlockToken handles refresh token revocation
// @Summary      Block a refresh token
// @Description  Permanently blacklist a refresh token. Blocking the same token twice is not an error.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body BlockTokenRequest true "Refresh token"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.FieldErrorResponse "Invalid or expired token"
// @Router       /auth/block-token [post]
func (h *Handler) BlockToken(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req BlockTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.RespondFieldErrors(w, validationErrors(err), http.StatusBadRequest)
		return
	}

	if err := h.service.BlockToken(r.Context(), strings.TrimSpace(req.Refresh)); err != nil {
		if isTokenError(err) {
			logger.Warn("block token rejected", "error", err.Error())
			httputil.RespondFieldErrors(w, map[string]string{"refresh": "The provided token is invalid or has expired."}, http.StatusBadRequest)
			return
		}
		logger.Error("block token failed: internal error", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to block token", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("refresh token blocked")

	httputil.RespondMessage(w, "Token blocked successfully!", http.StatusOK)
}

// ListUsers handles the admin user listing
// @Summary      List users
// @Description  Paginated listing of all accounts. Admin only.
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        page query int false "Page number"
// @Param        page_size query int false "Page size (max 100)"
// @Success      200 {object} UserListResponse
// @Failure      401 {object} httputil.ErrorResponse
// @Failure      403 {object} httputil.ErrorResponse
// @Router       /users [get]
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if page < 1 {
		page = 1
	}

	users, count, err := h.service.ListUsers(r.Context(), page, pageSize)
	if err != nil {
		logger.Error("failed to list users", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to list users", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	httputil.RespondJSON(w, UserListResponse{Count: count, Page: page, Results: users}, http.StatusOK)
}

// GetProfile handles the public profile read
// @Summary      Get a user profile
// @Description  Public read of an active user's profile.
// @Tags         users
// @Produce      json
// @Param        id path string true "User id"
// @Success      200 {object} user.User
// @Failure      404 {object} httputil.ErrorResponse
// @Router       /users/{id} [get]
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	u, err := h.service.GetProfile(r.Context(), id)
	if err != nil {
		h.respondProfileError(w, r, err)
		return
	}

	httputil.RespondJSON(w, u, http.StatusOK)
}

// UpdateProfile handles the owner's partial profile update
// @Summary      Update a profile
// @Description  Merge only the supplied fields. Changing the email deactivates the account until the new address is verified.
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "User id"
// @Param        request body UpdateProfileRequest true "Fields to update"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.FieldErrorResponse
// @Failure      403 {object} httputil.ErrorResponse "Not the owner"
// @Failure      404 {object} httputil.ErrorResponse
// @Router       /users/{id} [patch]
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if !h.requireOwner(w, r, id) {
		return
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.RespondFieldErrors(w, validationErrors(err), http.StatusBadRequest)
		return
	}

	upd := user.ProfileUpdate{
		Username:    req.Username,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
		AvatarKey:   req.AvatarKey,
	}

	emailChanged, err := h.service.UpdateProfile(r.Context(), id, upd)
	if err != nil {
		if errors.Is(err, user.ErrDuplicateUsername) {
			httputil.RespondFieldErrors(w, map[string]string{"username": "this username is already taken"}, http.StatusBadRequest)
			return
		}
		if errors.Is(err, user.ErrDuplicateEmail) {
			httputil.RespondFieldErrors(w, map[string]string{"email": "a user with this email already exists"}, http.StatusBadRequest)
			return
		}
		h.respondProfileError(w, r, err)
		return
	}

	logger.Info("profile updated", "user_id", id, "email_changed", emailChanged)

	message := "Updated profile successfully."
	if emailChanged {
		message += " A verification link has been sent to your new email address."
	}
	httputil.RespondMessage(w, message, http.StatusOK)
}

// DeleteProfile handles account deletion by the owner
// @Summary      Delete an account
// @Description  Purge the stored avatar, then delete the account and its profile.
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "User id"
// @Success      204 "No content"
// @Failure      403 {object} httputil.ErrorResponse "Not the owner"
// @Failure      404 {object} httputil.ErrorResponse
// @Router       /users/{id} [delete]
func (h *Handler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if !h.requireOwner(w, r, id) {
		return
	}

	if err := h.service.DeleteAccount(r.Context(), id); err != nil {
		h.respondProfileError(w, r, err)
		return
	}

	logger.Info("account deleted", "user_id", id)

	w.WriteHeader(http.StatusNoContent)
}

// pathID parses the {id} path parameter
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.RespondErrorWithCode(w, "user not found", httputil.CodeUserNotFound, http.StatusNotFound)
		return uuid.Nil, false
	}
	return id, true
}

// requireOwner enforces the owner-or-read-only rule for writes
func (h *Handler) requireOwner(w http.ResponseWriter, r *http.Request, id uuid.UUID) bool {
	callerID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return false
	}
	if callerID != id {
		httputil.RespondErrorWithCode(w, "you may only modify your own profile", httputil.CodeForbidden, http.StatusForbidden)
		return false
	}
	return true
}

func (h *Handler) respondProfileError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logging.GetLoggerFromContext(r.Context())

	if errors.Is(err, user.ErrNotFound) {
		httputil.RespondErrorWithCode(w, "user not found", httputil.CodeUserNotFound, http.StatusNotFound)
		return
	}
	logger.Error("profile operation failed: internal error", "error", err.Error())
	httputil.RespondErrorWithCode(w, "internal error", httputil.CodeInternalError, http.StatusInternalServerError)
}

// emailRateLimited applies the IP window and per-email cooldown shared by the
// endpoints that trigger outbound mail. Returns true when the response has
// already been written.
func (h *Handler) emailRateLimited(w http.ResponseWriter, r *http.Request, email string) bool {
	logger := logging.GetLoggerFromContext(r.Context())
	ip := getClientIP(r)

	exceeded, err := h.rateLimiter.CheckIPRateLimit(r.Context(), ip)
	if err != nil {
		// Continue despite limiter errors so Redis hiccups don't block
		// legitimate requests
		logger.Error("failed to check IP rate limit", "error", err.Error())
	} else if exceeded {
		logger.Warn("IP rate limit exceeded", "ip", ip)
		httputil.RespondErrorWithCode(w, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return true
	}

	onCooldown, err := h.rateLimiter.CheckEmailCooldown(r.Context(), email)
	if err != nil {
		logger.Error("failed to check email cooldown", "error", err.Error())
	} else if onCooldown {
		logger.Warn("email on cooldown", "email", email)
		httputil.RespondErrorWithCode(w, "please wait before requesting another email", httputil.CodeCooldownActive, http.StatusTooManyRequests)
		return true
	}

	if err := h.rateLimiter.RecordIPRequest(r.Context(), ip); err != nil {
		logger.Error("failed to record IP request", "error", err.Error())
	}
	if err := h.rateLimiter.SetEmailCooldown(r.Context(), email); err != nil {
		logger.Error("failed to set email cooldown", "error", err.Error())
	}

	return false
}

// isTokenError reports whether err is any of the token validation sentinels
func isTokenError(err error) bool {
	return errors.Is(err, token.ErrInvalidToken) ||
		errors.Is(err, token.ErrTokenExpired) ||
		errors.Is(err, token.ErrWrongTokenType)
}

// getClientIP extracts the client IP, preferring proxy headers
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
