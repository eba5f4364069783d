package users

import (
	"context"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/docsift/docsift/internal/auth"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&User{}))
	return db
}

func TestRegisterAndLogin(t *testing.T) {
	svc := NewService(NewRepo(openTestDB(t)), "test-secret", 50)
	ctx := context.Background()

	u, token, err := svc.Register(ctx, "Alice@Example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, RoleUser, u.Role)
	assert.Equal(t, 50, u.DailyQuota)
	assert.NotEmpty(t, token)

	claims, err := auth.ParseJWT(token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, RoleUser, claims.Role)

	logged, token2, err := svc.Login(ctx, "alice@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, logged.ID)
	assert.NotEmpty(t, token2)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc := NewService(NewRepo(openTestDB(t)), "test-secret", 50)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "bob@example.com", "hunter2hunter2")
	require.NoError(t, err)

	_, _, err = svc.Register(ctx, "bob@example.com", "hunter2hunter2")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_WeakPassword(t *testing.T) {
	svc := NewService(NewRepo(openTestDB(t)), "test-secret", 50)

	_, _, err := svc.Register(context.Background(), "carol@example.com", "short")
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestLogin_WrongPassword(t *testing.T) {
	svc := NewService(NewRepo(openTestDB(t)), "test-secret", 50)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "dave@example.com", "correct horse")
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "dave@example.com", "wrong horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.Login(ctx, "nobody@example.com", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestParseJWT_RejectsWrongSecret(t *testing.T) {
	svc := NewService(NewRepo(openTestDB(t)), "test-secret", 50)

	_, token, err := svc.Register(context.Background(), "eve@example.com", "correct horse")
	require.NoError(t, err)

	_, err = auth.ParseJWT(token, "other-secret")
	assert.Error(t, err)
}
