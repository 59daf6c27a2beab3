package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/survey-access/internal/apperror"
	"github.com/sakif/survey-access/internal/model"
	"github.com/sakif/survey-access/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the credential store backed by the users table.
type UserDB struct {
	conn *sql.DB
}

const userColumns = `id, name, email, password_hash, role, approved,
	access_token, access_token_expires_at, created_at, updated_at`

// Create inserts a new user. ID and timestamps are generated here and
// written back into user. A duplicate email yields apperror.ErrConflict.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Role == "" {
		user.Role = model.RoleParticipant
	}

	_, err := u.conn.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, role, approved,
			access_token, access_token_expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		user.Approved,
		user.AccessToken,
		user.AccessTokenExpiresAt,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.AlreadyExists("user already exists")
		}
		return fmt.Errorf("sqlite: inserting user (email=%s): %w", user.Email, err)
	}

	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (u *UserDB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return user, nil
}

// GetByEmail looks a user up by email. Emails are stored normalised, so the
// argument is normalised the same way before the lookup.
func (u *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	row := u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return user, nil
}

// GetByAccessToken finds the user whose stored token equals token exactly
// (SQLite's default BINARY collation, no case folding) and whose expiry is
// strictly after now.
//
// The expiry is checked in Go rather than in SQL: DATETIME values are stored
// as text and do not compare reliably as strings.
func (u *UserDB) GetByAccessToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	if token == "" {
		return nil, apperror.NotFound("access token", "")
	}

	row := u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE access_token = ?`, token)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("access token", "")
		}
		return nil, fmt.Errorf("sqlite: getting user by access token: %w", err)
	}

	if !user.HasSurveyAccess(now) {
		return nil, apperror.NotFound("access token", "")
	}
	return user, nil
}

// GrantAccess approves the user and stores their new access token.
func (u *UserDB) GrantAccess(ctx context.Context, id, token string, expiresAt time.Time) error {
	res, err := u.conn.ExecContext(ctx,
		`UPDATE users
		 SET approved = 1, access_token = ?, access_token_expires_at = ?, updated_at = ?
		 WHERE id = ?`,
		token,
		expiresAt.UTC(),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: granting access to user %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: granting access to user %s: %w", id, err)
	}
	if n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// List returns users, newest first.
func (u *UserDB) List(ctx context.Context, opts repository.UserListOptions) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	if opts.PendingOnly {
		query += ` WHERE approved = 0 AND role = 'participant'`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := u.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating user rows: %w", err)
	}

	return users, nil
}

// Delete removes a user. Their survey, if any, stays behind.
func (u *UserDB) Delete(ctx context.Context, id string) error {
	res, err := u.conn.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %s: %w", id, err)
	}
	if n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		user      model.User
		role      string
		token     sql.NullString
		expiresAt sql.NullTime
	)

	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&role,
		&user.Approved,
		&token,
		&expiresAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.Role = model.Role(role)
	if token.Valid {
		user.AccessToken = &token.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		user.AccessTokenExpiresAt = &t
	}
	return &user, nil
}
