// ABOUTME: Tests for bcrypt password verification
// ABOUTME: Covers success, wrong password, unknown email and lookup failures

package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/taskbot/internal/store"
)

func newVerifierWithUser(t *testing.T) (*PasswordVerifier, *store.MockStore, *store.User) {
	t.Helper()
	s := store.NewMockStore()
	hash, err := bcrypt.GenerateFromPassword([]byte("dev123"), bcrypt.MinCost)
	require.NoError(t, err)
	u := &store.User{Name: "Dev One", Email: "dev1@example.com", PasswordHash: string(hash)}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return NewPasswordVerifier(s), s, u
}

func TestPasswordVerifier_Success(t *testing.T) {
	v, _, u := newVerifierWithUser(t)

	got, err := v.Authenticate(context.Background(), "  DEV1@example.com ", "dev123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestPasswordVerifier_Failures(t *testing.T) {
	v, _, _ := newVerifierWithUser(t)
	ctx := context.Background()

	_, err := v.Authenticate(ctx, "dev1@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = v.Authenticate(ctx, "nobody@example.com", "dev123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = v.Authenticate(ctx, "", "dev123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestPasswordVerifier_LookupError(t *testing.T) {
	v, s, _ := newVerifierWithUser(t)
	boom := errors.New("database is locked")
	s.FailOn("GetUserByEmail", boom)

	_, err := v.Authenticate(context.Background(), "dev1@example.com", "dev123")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("secret")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")))
}
