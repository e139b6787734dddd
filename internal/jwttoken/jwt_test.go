package jwttoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "veriflow/pkg/domain-errors"
)

func TestService_GenerateAndValidate(t *testing.T) {
	svc := NewService("test-signing-key", "veriflow")

	token, err := svc.GenerateAccessToken("user-1", "wallet-app", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "wallet-app", claims.ClientID)
}

func TestService_ValidateToken_Failures(t *testing.T) {
	svc := NewService("test-signing-key", "veriflow")

	t.Run("expired token", func(t *testing.T) {
		token, err := svc.GenerateAccessToken("user-1", "wallet-app", -time.Minute)
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("wrong signing key", func(t *testing.T) {
		other := NewService("a-different-key", "veriflow")
		token, err := other.GenerateAccessToken("user-1", "wallet-app", time.Minute)
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := svc.ValidateToken("not.a.jwt")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}
