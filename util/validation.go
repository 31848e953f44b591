package util

import (
	"regexp"
)

// Pre-compiled regex for username validation
var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_]{1,32}$`)

// Pre-compiled regex for strings composed into JSON paths or LIKE patterns
var queryLiteralRegex = regexp.MustCompile(`^[A-Za-z0-9_:./-]*$`)

// IsValidUsername validates a preferred username for local signup and
// remote actor documents: 1-32 characters from A-Z a-z 0-9 _.
//
// Anything else (Unicode, spaces, punctuation) must be rejected before the
// name reaches URIs, WebFinger subjects or SQL queries.
//
// Returns (true, "") if valid, or (false, "error message") if invalid.
func IsValidUsername(username string) (bool, string) {
	if len(username) == 0 {
		return false, "Username must be at least 1 character"
	}

	if len(username) > 32 {
		return false, "Username must be at most 32 characters"
	}

	if !usernameRegex.MatchString(username) {
		return false, "Username contains invalid characters. Only A-Z, a-z, 0-9 and _ are allowed"
	}

	return true, ""
}

// IsValidQueryLiteral reports whether a string is safe to compose into a
// JSON path expression or LIKE pattern. Only A-Z a-z 0-9 _ : . / - are
// allowed; everything else could change the meaning of the query.
func IsValidQueryLiteral(s string) bool {
	return queryLiteralRegex.MatchString(s)
}
