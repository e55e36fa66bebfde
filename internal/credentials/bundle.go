// Package credentials loads the externally supplied cookie bundle and exports
// a live session's cookies back to disk.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shehryarbajwa/flowreel/pkg/models"
)

// rawCookie accepts the field names used by common browser-extension exports
type rawCookie struct {
	Name           string   `json:"name"`
	Value          string   `json:"value"`
	Domain         string   `json:"domain"`
	Path           string   `json:"path"`
	Expires        *float64 `json:"expires"`
	Expiry         *float64 `json:"expiry"`
	ExpirationDate *float64 `json:"expirationDate"`
	Secure         bool     `json:"secure"`
	HTTPOnly       bool     `json:"httpOnly"`
	SameSite       string   `json:"sameSite"`
	Session        bool     `json:"session"`
}

// Load reads a cookie bundle from a JSON file
func Load(path string) ([]models.Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie bundle: %w", err)
	}
	return Parse(data)
}

// Parse decodes and normalizes a JSON array of cookies. Entries without a
// name or domain are dropped.
func Parse(data []byte) ([]models.Cookie, error) {
	var raw []rawCookie
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid cookie bundle: %w", err)
	}

	cookies := make([]models.Cookie, 0, len(raw))
	for _, r := range raw {
		if r.Name == "" || r.Domain == "" {
			continue
		}
		c := models.Cookie{
			Name:     r.Name,
			Value:    r.Value,
			Domain:   r.Domain,
			Path:     r.Path,
			Secure:   r.Secure,
			HTTPOnly: r.HTTPOnly,
		}
		if !r.Session {
			switch {
			case r.ExpirationDate != nil:
				c.Expires = r.ExpirationDate
			case r.Expires != nil:
				c.Expires = r.Expires
			case r.Expiry != nil:
				c.Expires = r.Expiry
			}
		}
		cookies = append(cookies, Normalize(c))
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("cookie bundle has no usable cookies")
	}
	return cookies, nil
}

// Normalize fills the default path and maps sameSite onto a value the
// browser accepts. None is only valid on secure cookies.
func Normalize(c models.Cookie) models.Cookie {
	if strings.TrimSpace(c.Path) == "" {
		c.Path = "/"
	}
	c.SameSite = models.NormalizeSameSite(c.SameSite)
	if c.SameSite == models.SameSiteNone && !c.Secure {
		c.SameSite = models.SameSiteLax
	}
	return c
}
