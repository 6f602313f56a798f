package auth

import (
	"context"
	"testing"
	"time"

	"github.com/pliu/huddle/internal/apperr"
	"github.com/pliu/huddle/internal/store/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *Service {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewService(st, "test-secret", time.Hour, nil)
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	user, token, err := svc.Register(ctx, "alice", "Alice@Example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEmpty(t, token)

	_, _, err = svc.Register(ctx, "alice", "", "password123")
	assert.True(t, apperr.Is(err, apperr.Conflict))
	_, _, err = svc.Register(ctx, "bob", "", "123")
	assert.True(t, apperr.Is(err, apperr.BadRequest))

	_, _, err = svc.Login(ctx, "alice", "wrong")
	assert.True(t, apperr.Is(err, apperr.Unauthorized))
	_, _, err = svc.Login(ctx, "nobody", "password123")
	assert.True(t, apperr.Is(err, apperr.Unauthorized))

	_, loginToken, err := svc.Login(ctx, "alice", "password123")
	require.NoError(t, err)
	got, err := svc.Authenticate(ctx, loginToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}

func TestRotateSessionInvalidatesTokens(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	user, token, err := svc.Register(ctx, "alice", "", "password123")
	require.NoError(t, err)

	require.NoError(t, svc.RotateSession(ctx, user.ID))

	_, err = svc.Authenticate(ctx, token)
	assert.True(t, apperr.Is(err, apperr.Unauthorized))

	_, fresh, err := svc.Login(ctx, "alice", "password123")
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, fresh)
	assert.NoError(t, err)

	assert.True(t, apperr.Is(svc.RotateSession(ctx, "ghost"), apperr.NotFound))
}

func TestChangePassword(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	user, _, err := svc.Register(ctx, "alice", "", "password123")
	require.NoError(t, err)

	tests := []struct {
		name    string
		current string
		next    string
	}{
		{"wrong current password", "nope", "newpassword"},
		{"same password", "password123", "password123"},
		{"too short", "password123", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.ChangePassword(ctx, user.ID, tt.current, tt.next)
			assert.True(t, apperr.Is(err, apperr.BadRequest), "got %v", err)
		})
	}

	require.NoError(t, svc.ChangePassword(ctx, user.ID, "password123", "newpassword"))
	_, _, err = svc.Login(ctx, "alice", "password123")
	assert.True(t, apperr.Is(err, apperr.Unauthorized))
	_, _, err = svc.Login(ctx, "alice", "newpassword")
	assert.NoError(t, err)

	assert.True(t, apperr.Is(svc.ChangePassword(ctx, "ghost", "x", "newpassword"), apperr.NotFound))
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	user, _, err := svc.Register(ctx, "alice", "", "password123")
	require.NoError(t, err)

	forged, err := signToken([]byte("other-secret"), user.ID, user.SessionToken, time.Hour, time.Now())
	require.NoError(t, err)
	expired, err := signToken(svc.secret, user.ID, user.SessionToken, time.Hour, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	ghost, err := signToken(svc.secret, "ghost", "", time.Hour, time.Now())
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":   "",
		"garbage": "not-a-jwt",
		"forged":  forged,
		"expired": expired,
		"unknown": ghost,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Authenticate(ctx, token)
			assert.True(t, apperr.Is(err, apperr.Unauthorized))
		})
	}
}
