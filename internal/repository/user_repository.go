package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/contract-lifecycle/internal/model"
)

// UserRepo reads user profiles maintained by the auth platform.
type UserRepo struct {
	db *sql.DB
}

// NewUserRepo returns a new UserRepo bound to the given database.
func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

// FirstByRoles returns the oldest user holding any of the given roles, or
// ErrNotFound when nobody does.
func (r *UserRepo) FirstByRoles(ctx context.Context, roles ...model.Role) (*model.User, error) {
	if len(roles) == 0 {
		return nil, fmt.Errorf("no roles given: %w", ErrNotFound)
	}
	q := `SELECT id, name, email, role, created_at FROM user_profiles
	      WHERE role IN (?` + strings.Repeat(", ?", len(roles)-1) + `)
	      ORDER BY created_at, id LIMIT 1`
	args := make([]any, len(roles))
	for i, role := range roles {
		args[i] = string(role)
	}
	var u model.User
	err := r.db.QueryRowContext(ctx, q, args...).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user with role %v: %w", roles, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find user by role: %w", err)
	}
	return &u, nil
}
