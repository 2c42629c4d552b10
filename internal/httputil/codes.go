package httputil

// Machine-readable error codes returned alongside error messages so that
// clients can branch without parsing English text.
const (
	CodeInvalidRequestBody = "invalid_request_body"
	CodeValidationFailed   = "validation_failed"
	CodeInternalError      = "internal_error"
	CodeTooManyRequests    = "too_many_requests"
	CodeCooldownActive     = "cooldown_active"

	CodeInvalidCredentials = "invalid_credentials"
	CodeAccountInactive    = "account_inactive"
	CodeMissingAuth        = "missing_auth"
	CodeInvalidAuthHeader  = "invalid_auth_header"
	CodeForbidden          = "forbidden"

	CodeInvalidToken        = "invalid_token"
	CodeTokenExpired        = "token_expired"
	CodeAlreadyActive       = "already_active"
	CodeInvalidRefreshToken = "invalid_refresh_token"

	CodeUsernameTaken = "username_taken"
	CodeEmailTaken    = "email_taken"
	CodeUserNotFound  = "user_not_found"
)
