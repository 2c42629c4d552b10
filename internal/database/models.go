package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the database row for an account.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Username     string     `bun:"username,notnull,unique"`
	Email        string     `bun:"email,notnull,unique"`
	PasswordHash string     `bun:"password_hash,notnull"`
	IsActive     bool       `bun:"is_active,notnull,default:false"`
	IsAdmin      bool       `bun:"is_admin,notnull,default:false"`
	IsSuperuser  bool       `bun:"is_superuser,notnull,default:false"`
	LastLogin    *time.Time `bun:"last_login"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:current_timestamp"`

	Profile *Profile `bun:"rel:has-one,join:id=user_id"`
}

// Profile is the one-to-one companion row of a user. The avatar column holds
// the object-storage key, not the blob itself. The row is removed by the
// users_id foreign key cascade when the owning user is deleted.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:p"`

	UserID      uuid.UUID `bun:"user_id,pk,type:uuid"`
	DisplayName string    `bun:"display_name"`
	Bio         string    `bun:"bio"`
	AvatarKey   *string   `bun:"avatar_key"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
