package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewService("test-secret", 60)

	token, err := svc.GenerateToken("user-1", "ana@example.com", "operator")
	require.NoError(t, err)

	identity, err := svc.VerifyToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", identity.UserID)
	require.Equal(t, "ana@example.com", identity.Email)
	require.Equal(t, "operator", identity.Role)
}

func TestVerifyTokenEmpty(t *testing.T) {
	svc := NewService("test-secret", 60)

	_, err := svc.VerifyToken("")
	require.ErrorIs(t, err, ErrTokenNotProvided)
	_, err = svc.VerifyToken("   ")
	require.ErrorIs(t, err, ErrTokenNotProvided)
}

func TestVerifyTokenGarbage(t *testing.T) {
	svc := NewService("test-secret", 60)

	_, err := svc.VerifyToken("not-a-jwt")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	issuer := NewService("secret-a", 60)
	verifier := NewService("secret-b", 60)

	token, err := issuer.GenerateToken("user-1", "", "")
	require.NoError(t, err)

	_, err = verifier.VerifyToken(token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyTokenExpired(t *testing.T) {
	svc := NewService("test-secret", -1)

	token, err := svc.GenerateToken("user-1", "", "")
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}
