package appcore

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry decodes the expiration claim of an access token without
// verifying its signature. It is purely informational and only used for
// scheduling the proactive refresh. Any malformation (wrong segment count,
// bad base64url, unparseable JSON, missing or non-numeric exp) yields
// (zero, false): no information, never an error.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
