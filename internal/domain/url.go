package domain

import (
	"fmt"
	"net/url"
)

// ResolveRedirect resolves a Location header against the URL that returned it.
// Absolute locations are returned as-is; relative ones take the base's scheme and host.
func ResolveRedirect(base, location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("redirect without Location header")
	}
	loc, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid Location %q: %w", location, err)
	}
	if loc.IsAbs() {
		return loc.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	return b.ResolveReference(loc).String(), nil
}

// IsRedirect reports whether status is one of the followed redirect codes
func IsRedirect(status int) bool {
	switch status {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}
