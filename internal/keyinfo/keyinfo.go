// Package keyinfo inspects API keys before they are used.
//
// Keys are JWTs issued by the hosted backend. They are decoded without
// signature verification: the goal is to catch a wrong or stale key early,
// not to authenticate anything.
package keyinfo

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceRole is the role claim of a key that bypasses row-level security.
const ServiceRole = "service_role"

// Claims are the fields of interest in an API key.
type Claims struct {
	Role string `json:"role"`
	Ref  string `json:"ref"`
	jwt.RegisteredClaims
}

// Inspect decodes key without verifying its signature.
func Inspect(key string) (Claims, error) {
	var c Claims
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(key), &c); err != nil {
		return Claims{}, fmt.Errorf("decode api key: %w", err)
	}
	return c, nil
}

// Check returns human-readable warnings about claims for use against apiURL.
func Check(c Claims, apiURL string, now time.Time) []string {
	var warnings []string
	if c.Role != ServiceRole {
		warnings = append(warnings, fmt.Sprintf("key role is %q, not %q; row-level security will apply", c.Role, ServiceRole))
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
		warnings = append(warnings, fmt.Sprintf("key expired %s", c.ExpiresAt.Format(time.RFC3339)))
	}
	if c.Ref != "" && apiURL != "" {
		if u, err := url.Parse(apiURL); err == nil {
			label, _, _ := strings.Cut(u.Hostname(), ".")
			if label != "" && label != c.Ref {
				warnings = append(warnings, fmt.Sprintf("key is for project %q but the API URL points at %q", c.Ref, label))
			}
		}
	}
	return warnings
}
