// Package paths builds and normalizes the logical, slash-separated paths that
// identify objects inside a storage.
package paths

import (
	"path"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/filegate/internal/common"
)

// Construct joins directory and filename with path.Join semantics. The
// result must be valid UTF-8, otherwise common.ErrorInvalidPath is returned.
// ".." segments are resolved lexically and not rejected here; see Normalize.
func Construct(directory, filename string) (string, error) {
	joined := path.Join(directory, filename)
	if !utf8.ValidString(joined) {
		return "", common.ErrorInvalidPath
	}
	return joined, nil
}

// Normalize turns a client-supplied path into the storage-relative key form:
// no leading "/", cleaned, and a trailing "/" kept when the input had one.
// An empty or root path normalizes to "". Paths that still climb above the
// storage root after cleaning are rejected with common.ErrorBadRequest.
func Normalize(p string) (string, error) {
	if !utf8.ValidString(p) {
		return "", common.ErrorInvalidPath
	}

	trailing := strings.HasSuffix(p, "/")
	cleaned := path.Clean("/" + p)

	// Clean of a rooted path never yields "..", so compare against the
	// unrooted form to detect escapes.
	if rel := path.Clean(strings.TrimLeft(p, "/")); rel == ".." || strings.HasPrefix(rel, "../") {
		return "", common.Errorf(common.ErrorBadRequest, "invalid path")
	}

	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" {
		return "", nil
	}
	if trailing {
		cleaned += "/"
	}
	return cleaned, nil
}

// Base returns the leaf name of p, or "" when p has none (empty, root, ".").
func Base(p string) string {
	leaf := path.Base(p)
	switch leaf {
	case ".", "/", "..":
		return ""
	}
	return leaf
}

// AsDir returns p with exactly one trailing "/" unless p is empty.
func AsDir(p string) string {
	if p == "" || strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}
