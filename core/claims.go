package core

import (
	"encoding/json"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Claims is the decoded payload segment of a compact token. The core never
// verifies signatures — that is the resource server's job — so claims are
// identity hints for display and expiry decisions only.
type Claims map[string]any

// DecodeClaims parses the payload segment of a header.payload.signature
// token without verifying it. Malformed input yields nil; callers treat an
// undecodable token as absent.
func DecodeClaims(token string) Claims {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	return Claims(claims)
}

// Subject returns the "sub" claim, or "" when absent.
func (c Claims) Subject() string { return c.str("sub") }

// Email returns the "email" claim, or "" when absent.
func (c Claims) Email() string { return c.str("email") }

// Name returns the "name" claim, or "" when absent.
func (c Claims) Name() string { return c.str("name") }

// ExpiresAt returns the numeric "exp" claim in unix seconds. ok is false
// when the claim is missing or not a number.
func (c Claims) ExpiresAt() (int64, bool) {
	switch v := c["exp"].(type) {
	case float64:
		return int64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}

// ExpiredAt reports whether the claims are expired at now. A missing or
// non-numeric exp counts as expired: fail safe, not fail open.
func (c Claims) ExpiredAt(now time.Time) bool {
	exp, ok := c.ExpiresAt()
	if !ok {
		return true
	}
	return exp*1000 <= now.UnixMilli()
}

// TokenExpired decodes the token and applies ExpiredAt. Undecodable tokens
// are expired by definition.
func TokenExpired(token string, now time.Time) bool {
	return DecodeClaims(token).ExpiredAt(now)
}

func (c Claims) str(key string) string {
	s, _ := c[key].(string)
	return s
}

// User is the presentation-facing projection of an identity token.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// UserFromIDToken derives a User from the identity token currently at hand.
// ok is false when the token does not decode at all.
func UserFromIDToken(idToken string) (User, bool) {
	claims := DecodeClaims(idToken)
	if claims == nil {
		return User{}, false
	}
	return User{ID: claims.Subject(), Email: claims.Email(), Name: claims.Name()}, true
}
