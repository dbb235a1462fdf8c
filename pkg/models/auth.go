package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// APIClaims is the bearer token payload for service-to-service callers.
type APIClaims struct {
	ClientID string   `json:"client_id"`
	Scopes   []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token grants the named scope. An empty scope
// list grants nothing.
func (c *APIClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// RateLimitInfo is the sliding-window state returned with every rate-limit
// check and exposed in X-RateLimit response headers.
type RateLimitInfo struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetTime int64 `json:"reset_time"`
}
