// internal/users/store.go
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	commonerrors "humanizer-api/internal/common/errors"
	"humanizer-api/internal/common/logger"
)

var (
	ErrDuplicateEmail     = errors.New("DUPLICATE_EMAIL")
	ErrUserNotFound       = errors.New("USER_NOT_FOUND")
	ErrInvalidCredentials = errors.New("INVALID_CREDENTIALS")
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	bcryptCost = 10

	uniqueViolation = "23505"
)

// User is an account row. PasswordHash never leaves this package.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`

	passwordHash string
}

// Store persists accounts in Postgres.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

func NewStore(db *sql.DB, log logger.Logger) *Store {
	return &Store{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "users"}),
	}
}

// Register creates an account with a bcrypt-hashed password. A duplicate
// email maps to ErrDuplicateEmail via the unique constraint, so concurrent
// registrations cannot race past an existence check.
func (s *Store) Register(ctx context.Context, name, email, password, phone, role string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &User{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		Phone:     phone,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, phone, role, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Name, user.Email, string(hash), user.Phone, user.Role, user.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return nil, ErrDuplicateEmail
		}
		return nil, commonerrors.NewDatabaseQueryFailedError(fmt.Errorf("insert user: %w", err))
	}

	s.logger.Info("User registered", map[string]interface{}{
		"userId": user.ID,
		"role":   user.Role,
	})
	return user, nil
}

// Authenticate looks up the account by email and compares the password.
// Unknown email and wrong password both surface as ErrInvalidCredentials so
// the login endpoint cannot be used to probe for accounts.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.byEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.passwordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (s *Store) byEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, phone, role, created_at FROM users WHERE email = $1`,
		email,
	)

	user := &User{}
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.passwordHash, &user.Phone, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, commonerrors.NewDatabaseQueryFailedError(fmt.Errorf("query user: %w", err))
	}
	return user, nil
}

// List returns every account, newest first. Admin-only at the API layer.
func (s *Store) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, phone, role, created_at FROM users ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, commonerrors.NewDatabaseQueryFailedError(fmt.Errorf("list users: %w", err))
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.Phone, &user.Role, &user.CreatedAt); err != nil {
			return nil, commonerrors.NewDatabaseQueryFailedError(fmt.Errorf("scan user: %w", err))
		}
		out = append(out, user)
	}
	if err := rows.Err(); err != nil {
		return nil, commonerrors.NewDatabaseQueryFailedError(fmt.Errorf("iterate users: %w", err))
	}
	return out, nil
}

// Delete removes an account by id. Deleting an unknown id reports
// ErrUserNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return commonerrors.NewDatabaseQueryFailedError(fmt.Errorf("delete user: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return commonerrors.NewDatabaseQueryFailedError(fmt.Errorf("delete user: %w", err))
	}
	if affected == 0 {
		return ErrUserNotFound
	}

	s.logger.Info("User deleted", map[string]interface{}{"userId": id})
	return nil
}
