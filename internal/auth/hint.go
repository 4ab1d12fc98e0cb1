package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiryHint extracts an expiry hint from an access token.
//
// Some backends hand out JWT-shaped tokens; for those we can read the exp
// claim without verifying the signature. We couldn't verify it anyway: we
// don't hold the issuer's key, and we aren't trusting the token, only
// guessing when the backend will stop accepting it. Opaque tokens return
// the zero time, meaning "no idea".
func ExpiryHint(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
