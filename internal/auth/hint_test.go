package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiryHintJWT(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
		"sub": "U1",
	}).SignedString([]byte("not-our-key"))
	require.NoError(t, err)

	// The signature is not ours to verify; only the claim is read.
	assert.True(t, ExpiryHint(tok).Equal(exp))
}

func TestExpiryHintOpaque(t *testing.T) {
	assert.True(t, ExpiryHint("xoxp-1234-abcd").IsZero())
	assert.True(t, ExpiryHint("").IsZero())
}

func TestExpiryHintNoExpClaim(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "U1",
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	assert.True(t, ExpiryHint(tok).IsZero())
}
