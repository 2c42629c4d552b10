package account

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// Request payloads and their field-level rules. A request that fails
// Validate is answered with a 400 carrying the field error map; the service
// layer never sees it.

func stringEquals(expected, message string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s != expected {
			return errors.New(message)
		}
		return nil
	}
}

type RegisterRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(3, 50), is.Alphanumeric),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 128)),
		validation.Field(&r.PasswordConfirm,
			validation.Required,
			validation.By(stringEquals(r.Password, "passwords do not match")),
		),
	)
}

type ResendVerificationRequest struct {
	Email string `json:"email"`
}

func (r ResendVerificationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

func (r RefreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Refresh, validation.Required),
	)
}

type ChangePasswordRequest struct {
	CurrentPassword    string `json:"current_password"`
	NewPassword        string `json:"new_password"`
	NewPasswordConfirm string `json:"new_password_confirm"`
}

func (r ChangePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 128)),
		validation.Field(&r.NewPasswordConfirm,
			validation.Required,
			validation.By(stringEquals(r.NewPassword, "passwords do not match")),
		),
	)
}

type SetPasswordRequest struct {
	NewPassword        string `json:"new_password"`
	NewPasswordConfirm string `json:"new_password_confirm"`
}

func (r SetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 128)),
		validation.Field(&r.NewPasswordConfirm,
			validation.Required,
			validation.By(stringEquals(r.NewPassword, "passwords do not match")),
		),
	)
}

type ResetPasswordRequest struct {
	Email string `json:"email"`
}

func (r ResetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

type BlockTokenRequest struct {
	Refresh string `json:"refresh"`
}

func (r BlockTokenRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Refresh, validation.Required),
	)
}

// UpdateProfileRequest is a partial update; nil fields are ignored
type UpdateProfileRequest struct {
	Username    *string `json:"username"`
	Email       *string `json:"email"`
	DisplayName *string `json:"display_name"`
	Bio         *string `json:"bio"`
	AvatarKey   *string `json:"avatar_key"`
}

func (r UpdateProfileRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.NilOrNotEmpty, validation.Length(3, 50), is.Alphanumeric),
		validation.Field(&r.Email, validation.NilOrNotEmpty, validation.Length(6, 254), is.Email),
		validation.Field(&r.Bio, validation.Length(0, 2000)),
		validation.Field(&r.DisplayName, validation.Length(0, 100)),
	)
}

// validationErrors flattens an ozzo validation error into a field map for
// the 400 response body
func validationErrors(err error) map[string]string {
	var ve validation.Errors
	if errors.As(err, &ve) {
		out := make(map[string]string, len(ve))
		for field, ferr := range ve {
			out[field] = ferr.Error()
		}
		return out
	}
	return map[string]string{"detail": err.Error()}
}
