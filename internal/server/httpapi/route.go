package httpapi

import "strings"

// RouteToken names the operation selected by the first segment of a GET
// wildcard path.
type RouteToken int

const (
	RouteTree RouteToken = iota
	RouteDownload
	RouteSearch
)

func (t RouteToken) String() string {
	switch t {
	case RouteTree:
		return "tree"
	case RouteDownload:
		return "download"
	case RouteSearch:
		return "search"
	default:
		return "unknown"
	}
}

// ParseRoute maps a wildcard token to a RouteToken. ok is false for any
// token that names no operation.
func ParseRoute(token string) (RouteToken, bool) {
	switch token {
	case "tree":
		return RouteTree, true
	case "download":
		return RouteDownload, true
	case "search":
		return RouteSearch, true
	default:
		return 0, false
	}
}

// SplitWildcard splits a wildcard path on its first "/" into the route
// token and the remaining sub-path. A leading "/" is ignored.
//
//	SplitWildcard("/tree/a/b") // "tree", "a/b"
//	SplitWildcard("/tree")     // "tree", ""
func SplitWildcard(p string) (token, rest string) {
	token, rest, _ = strings.Cut(strings.TrimPrefix(p, "/"), "/")
	return token, rest
}
