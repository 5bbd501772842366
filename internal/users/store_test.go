// internal/users/store_test.go
package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	commonerrors "humanizer-api/internal/common/errors"
	"humanizer-api/internal/common/logger"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, logger.NewTestLogger(t)), mock
}

func TestRegister(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(sqlmock.AnyArg(), "Test User", "user@example.com", sqlmock.AnyArg(), "5551234567", RoleUser, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	user, err := store.Register(context.Background(), "Test User", "user@example.com", "hunter22", "5551234567", RoleUser)
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "user@example.com", user.Email)
	assert.Equal(t, RoleUser, user.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterDuplicateEmail(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505"})

	user, err := store.Register(context.Background(), "Test User", "user@example.com", "hunter22", "", RoleUser)
	require.Error(t, err)
	assert.Nil(t, user)
	assert.True(t, errors.Is(err, ErrDuplicateEmail))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterQueryFailureIsRetryable(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(errors.New("connection reset"))

	_, err := store.Register(context.Background(), "Test User", "user@example.com", "hunter22", "", RoleUser)
	require.Error(t, err)
	assert.True(t, commonerrors.IsRetryable(err))
}

func TestAuthenticate(t *testing.T) {
	store, mock := newTestStore(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "phone", "role", "created_at"}).
		AddRow("user-1", "Test User", "user@example.com", string(hash), "", RoleUser, time.Now())
	mock.ExpectQuery(`SELECT id, name, email, password_hash, phone, role, created_at FROM users WHERE email`).
		WithArgs("user@example.com").
		WillReturnRows(rows)

	user, err := store.Authenticate(context.Background(), "user@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthenticateWrongPassword(t *testing.T) {
	store, mock := newTestStore(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "phone", "role", "created_at"}).
		AddRow("user-1", "Test User", "user@example.com", string(hash), "", RoleUser, time.Now())
	mock.ExpectQuery(`SELECT id, name, email, password_hash, phone, role, created_at FROM users WHERE email`).
		WithArgs("user@example.com").
		WillReturnRows(rows)

	user, err := store.Authenticate(context.Background(), "user@example.com", "wrong")
	require.Error(t, err)
	assert.Nil(t, user)
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestAuthenticateUnknownEmailLooksLikeWrongPassword(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT id, name, email, password_hash, phone, role, created_at FROM users WHERE email`).
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "phone", "role", "created_at"}))

	_, err := store.Authenticate(context.Background(), "ghost@example.com", "whatever")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestList(t *testing.T) {
	store, mock := newTestStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "name", "email", "phone", "role", "created_at"}).
		AddRow("user-2", "Second User", "second@example.com", "", RoleUser, now).
		AddRow("user-1", "First User", "first@example.com", "", RoleAdmin, now.Add(-time.Hour))
	mock.ExpectQuery(`SELECT id, name, email, phone, role, created_at FROM users ORDER BY created_at DESC`).
		WillReturnRows(rows)

	users, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "user-2", users[0].ID)
	assert.Equal(t, RoleAdmin, users[1].Role)
}

func TestDelete(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(`DELETE FROM users WHERE id`).
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), "user-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUnknownUser(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(`DELETE FROM users WHERE id`).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUserNotFound))
}
