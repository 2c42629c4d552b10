package user

import (
	"time"

	"github.com/google/uuid"
)

// User is the domain model for an account. An inactive user cannot
// authenticate but can still be resolved through a valid email token.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // never expose the hash in JSON
	IsActive     bool       `json:"is_active"`
	IsAdmin      bool       `json:"is_admin"`
	IsSuperuser  bool       `json:"is_superuser"`
	LastLogin    *time.Time `json:"last_login"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	Profile *Profile `json:"profile,omitempty"`
}

// Profile holds the public-facing part of an account. AvatarKey points at an
// object in external storage.
type Profile struct {
	UserID      uuid.UUID `json:"-"`
	DisplayName string    `json:"display_name"`
	Bio         string    `json:"bio"`
	AvatarKey   *string   `json:"avatar_key,omitempty"`
}

// ProfileUpdate carries a partial update. Nil fields are left untouched.
type ProfileUpdate struct {
	Username    *string
	Email       *string
	DisplayName *string
	Bio         *string
	AvatarKey   *string
}

// ChangesEmail reports whether applying the update would change the user's
// email address.
func (u ProfileUpdate) ChangesEmail(current string) bool {
	return u.Email != nil && *u.Email != current
}
