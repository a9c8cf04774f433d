package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ventro/backend/internal/core"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) Create(ctx context.Context, u *core.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, org_id, email, password_hash, role, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.OrgID, u.Email, u.PasswordHash, u.Role, u.Active, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return core.E(core.KindConflict, "email already registered")
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (r *UserRepo) ByEmail(ctx context.Context, email string) (*core.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT id, org_id, email, password_hash, role, active, revoked_at, created_at
		FROM users WHERE email = $1`, email))
}

func (r *UserRepo) ByID(ctx context.Context, id string) (*core.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT id, org_id, email, password_hash, role, active, revoked_at, created_at
		FROM users WHERE id = $1`, id))
}

func (r *UserRepo) ListByOrg(ctx context.Context, orgID string) ([]core.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, org_id, email, password_hash, role, active, revoked_at, created_at
		FROM users WHERE org_id = $1 ORDER BY created_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		var u core.User
		if err := rows.Scan(&u.ID, &u.OrgID, &u.Email, &u.PasswordHash, &u.Role,
			&u.Active, &u.RevokedAt, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepo) UpdateRole(ctx context.Context, id, role string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET role = $2 WHERE id = $1`, id, role)
	if err != nil {
		return fmt.Errorf("updating role: %w", err)
	}
	return requireRow(res, "user")
}

// MarkRevoked records a credential revocation timestamp. Tokens issued
// before this instant are rejected at authentication time.
func (r *UserRepo) MarkRevoked(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET revoked_at = $2, active = FALSE WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("revoking user: %w", err)
	}
	return requireRow(res, "user")
}

func (r *UserRepo) scanOne(row *sql.Row) (*core.User, error) {
	var u core.User
	err := row.Scan(&u.ID, &u.OrgID, &u.Email, &u.PasswordHash, &u.Role,
		&u.Active, &u.RevokedAt, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, core.E(core.KindNotFound, "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &u, nil
}

// ===== Refresh tokens =====

func (r *UserRepo) StoreRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("storing refresh token: %w", err)
	}
	return nil
}

// ConsumeRefreshToken deletes the token and returns its owner, enforcing
// single use. Expired or unknown tokens fail with an auth error.
func (r *UserRepo) ConsumeRefreshToken(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	var expiresAt time.Time
	err := r.db.QueryRowContext(ctx, `
		DELETE FROM refresh_tokens WHERE token_hash = $1
		RETURNING user_id, expires_at`, tokenHash).Scan(&userID, &expiresAt)
	if err == sql.ErrNoRows {
		return "", core.E(core.KindAuth, "invalid refresh token")
	}
	if err != nil {
		return "", fmt.Errorf("consuming refresh token: %w", err)
	}
	if time.Now().After(expiresAt) {
		return "", core.E(core.KindAuth, "refresh token expired")
	}
	return userID, nil
}

// DeleteRefreshTokens drops all refresh tokens for a user (logout
// everywhere, revocation).
func (r *UserRepo) DeleteRefreshTokens(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("deleting refresh tokens: %w", err)
	}
	return nil
}
