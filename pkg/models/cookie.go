package models

import "time"

// SameSite values accepted by the browser
const (
	SameSiteStrict = "Strict"
	SameSiteLax    = "Lax"
	SameSiteNone   = "None"
)

// Cookie is one entry of an externally supplied credential bundle
type Cookie struct {
	Name     string   `json:"name"`
	Value    string   `json:"value"`
	Domain   string   `json:"domain"`
	Path     string   `json:"path,omitempty"`
	Expires  *float64 `json:"expires,omitempty"`
	Secure   bool     `json:"secure,omitempty"`
	HTTPOnly bool     `json:"httpOnly,omitempty"`
	SameSite string   `json:"sameSite,omitempty"`
}

// NormalizeSameSite maps captured sameSite values onto Strict, Lax or None.
// Exports from browser extensions use values like "no_restriction" or
// "unspecified"; anything unrecognized becomes Lax.
func NormalizeSameSite(v string) string {
	switch v {
	case SameSiteStrict, "strict":
		return SameSiteStrict
	case SameSiteNone, "none", "no_restriction":
		return SameSiteNone
	default:
		return SameSiteLax
	}
}

// CookieSnapshot records one export of a live session's cookie jar
type CookieSnapshot struct {
	ID        string    `json:"id"`
	BatchID   string    `json:"batchId,omitempty"`
	Path      string    `json:"path"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"createdAt"`
}
