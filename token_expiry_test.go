package appcore

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})

	got, ok := TokenExpiry(token)
	require.True(t, ok)
	assert.True(t, got.Equal(exp))
}

func TestTokenExpiryNoSignatureValidation(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})

	// Corrupt the signature segment; the expiry must still decode.
	corrupted := token[:len(token)-4] + "AAAA"
	got, ok := TokenExpiry(corrupted)
	require.True(t, ok)
	assert.True(t, got.Equal(exp))
}

func TestTokenExpiryMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"not a jwt":        "definitely-not-a-jwt",
		"two segments":     "abc.def",
		"four segments":    "a.b.c.d",
		"bad base64":       "a!!.b!!.c!!",
		"payload not json": "eyJhbGciOiJIUzI1NiJ9.bm90LWpzb24.sig",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := TokenExpiry(token)
			assert.False(t, ok)
		})
	}
}

func TestTokenExpiryMissingClaim(t *testing.T) {
	token := signedToken(t, jwt.RegisteredClaims{Subject: "user-1"})
	_, ok := TokenExpiry(token)
	assert.False(t, ok)
}
