package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	token, exp, err := tm.GenerateToken("ops", RoleAdmin)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), exp, 5*time.Second)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestTokenRejectsWrongSecretAndExpiry(t *testing.T) {
	token, _, err := NewTokenManager("secret", 5).GenerateToken("ops", RoleViewer)
	require.NoError(t, err)

	_, err = NewTokenManager("other", 5).ParseToken(token)
	assert.Error(t, err)

	expired := NewTokenManager("secret", 5)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _, err := expired.GenerateToken("ops", RoleAdmin)
	require.NoError(t, err)
	_, err = expired.ParseToken(old)
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2", bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, PasswordMatches(hash, "hunter2"))
	assert.False(t, PasswordMatches(hash, "wrong"))
	assert.False(t, PasswordMatches("", "hunter2"))

	_, err = HashPassword("", bcrypt.MinCost)
	assert.ErrorIs(t, err, ErrEmptyPassword)
}
