package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CUknot/locshare/config"
	"github.com/CUknot/locshare/database"
	"github.com/CUknot/locshare/repository"
)

func newRevocations(t *testing.T) *BadgerRevocations {
	t.Helper()
	store, err := OpenBadgerRevocations("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestJWTProvider_IssueAndVerify(t *testing.T) {
	p := NewJWTProvider("test-secret", time.Hour, newRevocations(t))
	ctx := context.Background()

	token, err := p.Issue(User{ID: "u1", Email: "ana@example.com", Username: "ana"})
	require.NoError(t, err)

	claims, err := p.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "ana", claims.Username)
	assert.NotEmpty(t, claims.ID)

	user, err := p.CurrentUser(WithToken(ctx, token))
	require.NoError(t, err)
	assert.Equal(t, User{ID: "u1", Email: "ana@example.com", Username: "ana"}, user)
}

func TestJWTProvider_RejectsBadTokens(t *testing.T) {
	p := NewJWTProvider("test-secret", time.Hour, nil)
	other := NewJWTProvider("other-secret", time.Hour, nil)
	ctx := context.Background()

	foreign, err := other.Issue(User{ID: "u1"})
	require.NoError(t, err)
	_, err = p.Verify(ctx, foreign)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = p.Verify(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	expired := NewJWTProvider("test-secret", time.Hour, nil)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Issue(User{ID: "u1"})
	require.NoError(t, err)
	_, err = p.Verify(ctx, old)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Contains(t, err.Error(), "expired")

	_, err = p.CurrentUser(ctx)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestJWTProvider_SignOutRevokes(t *testing.T) {
	p := NewJWTProvider("test-secret", time.Hour, newRevocations(t))
	token, err := p.Issue(User{ID: "u1"})
	require.NoError(t, err)
	ctx := WithToken(context.Background(), token)

	require.NoError(t, p.SignOut(ctx))

	_, err = p.CurrentUser(ctx)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.ErrorIs(t, p.SignOut(ctx), ErrUnauthenticated)

	fresh, err := p.Issue(User{ID: "u1"})
	require.NoError(t, err)
	_, err = p.CurrentUser(WithToken(context.Background(), fresh))
	assert.NoError(t, err, "only the signed-out token is revoked")
}

func TestBadgerRevocations_PastExpiryIsNoop(t *testing.T) {
	store := newRevocations(t)
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "old", time.Now().Add(-time.Minute)))
	revoked, err := store.IsRevoked(ctx, "old")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, store.Revoke(ctx, "live", time.Now().Add(time.Minute)))
	revoked, err = store.IsRevoked(ctx, "live")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestAccounts_RegisterAndLogin(t *testing.T) {
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, "location_changes", false))

	tokens := NewJWTProvider("test-secret", time.Hour, nil)
	accounts := NewAccounts(repository.NewGormUserRepository(db), tokens)
	ctx := context.Background()

	user, token, err := accounts.Register(ctx, "ana", " Ana@Example.com ", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", user.Email)
	assert.NotEmpty(t, token)

	_, _, err = accounts.Register(ctx, "ana2", "ana@example.com", "secret2")
	assert.ErrorIs(t, err, ErrEmailTaken)

	logged, token, err := accounts.Login(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, logged.ID)
	current, err := tokens.CurrentUser(WithToken(ctx, token))
	require.NoError(t, err)
	assert.Equal(t, "ana", current.Username)

	_, _, err = accounts.Login(ctx, "ana@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = accounts.Login(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
