package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/asktech/accounts-api/internal/database"
)

var (
	ErrNotFound          = errors.New("user not found")
	ErrDuplicateUsername = errors.New("username already exists")
	ErrDuplicateEmail    = errors.New("email already exists")
)

// Repository handles user and profile persistence
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new inactive user together with an empty profile row.
// Both inserts run in one transaction so a half-created account never exists.
func (r *Repository) Create(ctx context.Context, username, email, passwordHash string) (*User, error) {
	dbUser := &database.User{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     false,
	}

	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().
			Model(dbUser).
			Returning("*").
			Exec(ctx); err != nil {
			return err
		}

		profile := &database.Profile{UserID: dbUser.ID}
		if _, err := tx.NewInsert().
			Model(profile).
			Returning("*").
			Exec(ctx); err != nil {
			return err
		}

		dbUser.Profile = profile
		return nil
	})
	if err != nil {
		return nil, mapInsertError(err)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByID retrieves a user with its profile by id
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Relation("Profile").
		Where("u.id = ?", id).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByEmail retrieves a user with its profile by email
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Relation("Profile").
		Where("email = ?", email).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// List returns a page of users plus the total count, newest first
func (r *Repository) List(ctx context.Context, limit, offset int) ([]*User, int, error) {
	var dbUsers []*database.User
	count, err := r.db.NewSelect().
		Model(&dbUsers).
		Relation("Profile").
		Order("u.created_at DESC").
		Limit(limit).
		Offset(offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}

	users := make([]*User, 0, len(dbUsers))
	for _, dbu := range dbUsers {
		users = append(users, mapDBUserToModel(dbu))
	}
	return users, count, nil
}

// Activate flips is_active to true
func (r *Repository) Activate(ctx context.Context, userID uuid.UUID) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("is_active = ?", true).
		Set("updated_at = NOW()").
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to activate user: %w", err)
	}

	return requireRowsAffected(result)
}

// UpdatePassword replaces a user's password hash
func (r *Repository) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = NOW()").
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	return requireRowsAffected(result)
}

// UpdateLastLogin stamps the user's last successful login
func (r *Repository) UpdateLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	_, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("last_login = ?", at).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// ApplyProfileUpdate merges the supplied fields into the user and profile
// rows. When the email changes the account is deactivated in the same
// transaction as the save, so a partially applied email change cannot leave
// the old address verified.
func (r *Repository) ApplyProfileUpdate(ctx context.Context, userID uuid.UUID, upd ProfileUpdate, deactivate bool) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		userQ := tx.NewUpdate().
			Model((*database.User)(nil)).
			Set("updated_at = NOW()").
			Where("id = ?", userID)
		if upd.Username != nil {
			userQ.Set("username = ?", *upd.Username)
		}
		if upd.Email != nil {
			userQ.Set("email = ?", *upd.Email)
		}
		if deactivate {
			userQ.Set("is_active = ?", false)
		}

		result, err := userQ.Exec(ctx)
		if err != nil {
			return mapInsertError(err)
		}
		if err := requireRowsAffected(result); err != nil {
			return err
		}

		if upd.DisplayName == nil && upd.Bio == nil && upd.AvatarKey == nil {
			return nil
		}

		profileQ := tx.NewUpdate().
			Model((*database.Profile)(nil)).
			Set("updated_at = NOW()").
			Where("user_id = ?", userID)
		if upd.DisplayName != nil {
			profileQ.Set("display_name = ?", *upd.DisplayName)
		}
		if upd.Bio != nil {
			profileQ.Set("bio = ?", *upd.Bio)
		}
		if upd.AvatarKey != nil {
			profileQ.Set("avatar_key = ?", *upd.AvatarKey)
		}

		if _, err := profileQ.Exec(ctx); err != nil {
			return fmt.Errorf("failed to update profile: %w", err)
		}
		return nil
	})
}

// Delete removes a user row. The profile row goes with it via the foreign key
// cascade.
func (r *Repository) Delete(ctx context.Context, userID uuid.UUID) error {
	result, err := r.db.NewDelete().
		Model((*database.User)(nil)).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	return requireRowsAffected(result)
}

func requireRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// mapInsertError translates Postgres unique violations into sentinel errors
func mapInsertError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "duplicate key value violates unique constraint") {
		if strings.Contains(msg, "username") {
			return ErrDuplicateUsername
		}
		return ErrDuplicateEmail
	}
	return fmt.Errorf("failed to save user: %w", err)
}

// mapDBUserToModel converts the database row to the domain model
func mapDBUserToModel(dbu *database.User) *User {
	u := &User{
		ID:           dbu.ID,
		Username:     dbu.Username,
		Email:        dbu.Email,
		PasswordHash: dbu.PasswordHash,
		IsActive:     dbu.IsActive,
		IsAdmin:      dbu.IsAdmin,
		IsSuperuser:  dbu.IsSuperuser,
		LastLogin:    dbu.LastLogin,
		CreatedAt:    dbu.CreatedAt,
		UpdatedAt:    dbu.UpdatedAt,
	}
	if dbu.Profile != nil {
		u.Profile = &Profile{
			UserID:      dbu.Profile.UserID,
			DisplayName: dbu.Profile.DisplayName,
			Bio:         dbu.Profile.Bio,
			AvatarKey:   dbu.Profile.AvatarKey,
		}
	}
	return u
}
