package account

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountInactive    = errors.New("account is not active")
	ErrAlreadyActive      = errors.New("account is already active")
	ErrRefreshBlacklisted = errors.New("refresh token has been blocked")
)
