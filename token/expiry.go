package token

import (
	"regexp"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultExpiresIn is assumed when the wire duration is missing or malformed.
const DefaultExpiresIn = 15 * time.Minute

var expiresInPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseExpiresIn converts the backend's relative duration grammar
// ({n}{s|m|h|d}) into a time.Duration. Anything it cannot parse falls back to
// DefaultExpiresIn rather than erroring: a wrong-but-short lifetime only
// causes an early refresh.
func ParseExpiresIn(expiresIn string) time.Duration {
	m := expiresInPattern.FindStringSubmatch(expiresIn)
	if m == nil {
		return DefaultExpiresIn
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return DefaultExpiresIn
	}
	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second
	case "m":
		return time.Duration(n) * time.Minute
	case "h":
		return time.Duration(n) * time.Hour
	case "d":
		return time.Duration(n) * 24 * time.Hour
	}
	return DefaultExpiresIn
}

// CalculateExpiry resolves the absolute deadline for a token received at now.
func CalculateExpiry(now time.Time, expiresIn string) time.Time {
	return now.Add(ParseExpiresIn(expiresIn))
}

// expiryFromAccessToken recovers a deadline from the access token's exp claim
// when the envelope carried no expiresIn. The signature is not verified; the
// client has no key material and validation is the server's job. Returns the
// zero time when the token is not a JWT or carries no exp.
func expiryFromAccessToken(accessToken string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
