package util

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"
)

// CanonicalURL lowercases scheme and host and drops query, fragment and any
// trailing slash, so the same product reached through tracking links maps to
// one key.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = ""
	u.ForceQuery = false
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

// ExternalIDFromURL derives a stable 16-hex-char id from the canonical URL.
func ExternalIDFromURL(raw string) string {
	c := CanonicalURL(raw)
	if c == "" {
		return ""
	}
	sum := sha1.Sum([]byte(c))
	return hex.EncodeToString(sum[:])[:16]
}

// Resolve makes ref absolute against base. Empty and unparsable refs give "".
func Resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return r.String()
	}
	return b.ResolveReference(r).String()
}
