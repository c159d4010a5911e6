package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	s := NewService("secret", time.Hour)
	s.RegisterAPICredentials("key", "pw")

	tok, err := s.GenerateToken(Credentials{APIKey: "key", APISecret: "pw"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiration, 5*time.Second)

	claims, err := s.ValidateToken(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "key", claims.ClientID)
	assert.True(t, claims.HasPermission(PermissionTrade))
	assert.True(t, claims.HasPermission(PermissionFund))
	assert.False(t, claims.HasPermission(PermissionAdmin))
}

func TestInvalidCredentials(t *testing.T) {
	s := NewService("secret", time.Hour)
	s.RegisterAPICredentials("key", "pw")

	_, err := s.GenerateToken(Credentials{APIKey: "key", APISecret: "nope"})
	assert.True(t, errors.Is(err, ErrInvalidCredentials))

	_, err = s.GenerateToken(Credentials{APIKey: "other", APISecret: "pw"})
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestAdminHasEveryPermission(t *testing.T) {
	claims := &Claims{Permissions: []string{PermissionAdmin}}
	assert.True(t, claims.HasPermission(PermissionTrade))
	assert.True(t, claims.HasPermission("anything"))
}

func TestValidateRejectsForeignAndExpiredTokens(t *testing.T) {
	s := NewService("secret", time.Hour)
	s.RegisterAPICredentials("key", "pw")

	other := NewService("different", time.Hour)
	other.RegisterAPICredentials("key", "pw")
	foreign, err := other.GenerateToken(Credentials{APIKey: "key", APISecret: "pw"})
	require.NoError(t, err)
	_, err = s.ValidateToken(foreign.Token)
	assert.Error(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
		ClientID:         "key",
	})
	signed, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = s.ValidateToken(signed)
	assert.Error(t, err)

	_, err = s.ValidateToken("not-a-token")
	assert.Error(t, err)
}
