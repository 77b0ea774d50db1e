package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// tokenExpiry determines when an access token expires. The identity endpoint
// normally reports expires_in, but when it is missing or unparsable the JWT's
// own exp claim is the next best source. The signature is deliberately not
// verified; only the expiry is read. Falls back to now+fallbackTTL.
func tokenExpiry(token string, expiresIn int64, now time.Time, fallbackTTL time.Duration) time.Time {
	if expiresIn > 0 {
		return now.Add(time.Duration(expiresIn) * time.Second)
	}
	if exp, ok := jwtExpiry(token); ok && exp.After(now) {
		return exp
	}
	return now.Add(fallbackTTL)
}

func jwtExpiry(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
