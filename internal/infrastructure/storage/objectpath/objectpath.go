// Package objectpath converts upload URLs and storage keys into the canonical
// /objects/<key> form stored on documents.
package objectpath

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/kirillkom/docvault/internal/core/domain"
)

const Prefix = "/objects/"

// Upload URL path prefixes that carry a key. Supabase prefixes are followed
// by the bucket name, which is not part of the key.
var (
	keyPrefixes = []string{Prefix, "/uploads/"}

	bucketPrefixes = []string{
		"/storage/v1/object/upload/sign/",
		"/storage/v1/object/sign/",
		"/storage/v1/object/public/",
		"/storage/v1/object/authenticated/",
		"/storage/v1/object/",
	}
)

func Canonical(key string) string {
	return Prefix + key
}

// Normalize returns the canonical path for a signed upload URL, a relative
// upload path or a bare key. Query strings and fragments are dropped. Keys
// taken from absolute URLs stay percent-encoded, so the result never contains
// a raw '?' or '#'. Absolute URLs with an unrecognized path are returned
// unchanged.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	if u, err := url.Parse(s); err == nil && u.Scheme != "" && u.Host != "" {
		if key, ok := keyFromPath(u.EscapedPath()); ok {
			return Canonical(key)
		}
		return s
	}

	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if key, ok := keyFromPath(s); ok {
		return Canonical(key)
	}
	if hasKnownPrefix(s) {
		return s
	}
	if key, ok := cleanKey(s); ok {
		return Canonical(key)
	}
	return s
}

// Key extracts the storage key from a canonical path.
func Key(canonical string) (string, error) {
	if !strings.HasPrefix(canonical, Prefix) {
		return "", domain.WrapError(domain.ErrInvalidInput, "object key", fmt.Errorf("path %q is not under %s", canonical, Prefix))
	}
	key, ok := cleanKey(strings.TrimPrefix(canonical, Prefix))
	if !ok {
		return "", domain.WrapError(domain.ErrInvalidInput, "object key", fmt.Errorf("path %q has no key", canonical))
	}
	return key, nil
}

func keyFromPath(p string) (string, bool) {
	for _, prefix := range keyPrefixes {
		if strings.HasPrefix(p, prefix) {
			return cleanKey(strings.TrimPrefix(p, prefix))
		}
	}
	for _, prefix := range bucketPrefixes {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		_, key, found := strings.Cut(strings.TrimPrefix(p, prefix), "/")
		if !found {
			return "", false
		}
		return cleanKey(key)
	}
	return "", false
}

func hasKnownPrefix(p string) bool {
	for _, prefix := range append(append([]string{}, keyPrefixes...), bucketPrefixes...) {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// cleanKey resolves dot segments without letting the key escape its root.
func cleanKey(raw string) (string, bool) {
	key := strings.TrimPrefix(path.Clean("/"+raw), "/")
	if key == "" || key == "." {
		return "", false
	}
	return key, true
}
