// Package validate holds the small textual validators shared by the cabinet
// and outlet forms.
package validate

import (
	"regexp"
	"strconv"
	"strings"
)

var digits = regexp.MustCompile(`^\d+$`)

// IPv4 reports whether s is a dotted-quad IPv4 address with every octet in 0..255.
func IPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		if len(part) == 0 || len(part) > 3 || !digits.MatchString(part) {
			return false
		}
		n, err := strconv.Atoi(part)
		if err != nil || n > 255 {
			return false
		}
	}
	return true
}

// Digits reports whether s is a non-empty run of ASCII digits.
func Digits(s string) bool {
	return digits.MatchString(s)
}

// IntInRange parses s as a decimal integer and checks lo <= n <= hi.
func IntInRange(s string, lo, hi int) (int, bool) {
	if !digits.MatchString(s) {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, false
	}
	return n, true
}
