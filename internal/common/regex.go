package common

import (
	"regexp"
	"strings"
)

// CompilePattern compiles a user-supplied pattern. A leading "*" is read as a
// wildcard, so "*@example.com" behaves like ".*@example.com".
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	expr := pattern
	if strings.HasPrefix(expr, "*") {
		expr = "." + expr
	}
	return regexp.Compile(expr)
}

// MatchRegex compiles and matches a pattern against a string.
// Returns an error if the pattern is invalid.
func MatchRegex(pattern, text string) (bool, error) {
	re, err := CompilePattern(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(text), nil
}
