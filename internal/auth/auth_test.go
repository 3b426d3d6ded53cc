package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	keys, err := NewKeys("test-secret", time.Hour)
	require.NoError(t, err)

	token, err := keys.GenerateToken("user-1", "a@x.com", []string{RoleUser})
	require.NoError(t, err)

	claims, err := keys.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "a@x.com", claims.Email)
	assert.True(t, claims.HasRole(RoleUser))
	assert.False(t, claims.IsAdmin())
}

func TestValidateTokenRejects(t *testing.T) {
	keys, err := NewKeys("test-secret", time.Hour)
	require.NoError(t, err)
	other, err := NewKeys("other-secret", time.Hour)
	require.NoError(t, err)

	token, err := other.GenerateToken("user-1", "a@x.com", []string{RoleUser})
	require.NoError(t, err)
	_, err = keys.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	keys.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := keys.GenerateToken("user-1", "a@x.com", nil)
	require.NoError(t, err)
	keys.now = time.Now
	_, err = keys.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = keys.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequireRole(t *testing.T) {
	admin := Claims{Roles: []string{RoleUser, RoleAdmin}}
	user := Claims{Roles: []string{RoleUser}}

	assert.NoError(t, RequireRole(admin, RoleAdmin))
	assert.NoError(t, RequireRole(user, RoleAdmin, RoleUser))
	assert.ErrorIs(t, RequireRole(user, RoleAdmin), ErrForbidden)
	assert.ErrorIs(t, RequireRole(Claims{}, RoleUser), ErrForbidden)
}

func TestNewKeysNeedsSecret(t *testing.T) {
	_, err := NewKeys("", time.Hour)
	assert.Error(t, err)
}
