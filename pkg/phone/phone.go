// Package phone performs syntactic validation of helpline phone numbers.
//
// Accepted shapes include 9999999999, 09999999999, +919999999999,
// +91-999-999-9999, (+91) 9999999999, 0091999999999, 999.999.9999 and
// 011-888-88888. No carrier or region lookup is performed.
package phone

import "strings"

var stripper = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "")

// length bounds per dialing prefix, inclusive of the prefix itself.
const (
	intlTrunkMin = 12
	intlTrunkMax = 15
	nationalLen  = 11
	plusMin      = 12
	plusMax      = 14
	localMin     = 8
	localMax     = 10
)

// IsValid reports whether s looks like a dialable phone number.
func IsValid(s string) bool {
	s = stripper.Replace(s)
	n := len(s)

	switch {
	case strings.HasPrefix(s, "00"):
		if n < intlTrunkMin || n > intlTrunkMax {
			return false
		}
	case strings.HasPrefix(s, "0"):
		if n != nationalLen {
			return false
		}
	case strings.HasPrefix(s, "+"):
		if n < plusMin || n > plusMax {
			return false
		}
	default:
		if n < localMin || n > localMax {
			return false
		}
	}

	for _, r := range strings.ReplaceAll(s, "+", "") {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IsValidValue is IsValid for loosely typed input; anything but a string is invalid.
func IsValidValue(v any) bool {
	s, ok := v.(string)
	return ok && IsValid(s)
}

// Split breaks a source field holding several numbers into its parts. Parts
// are separated by " / " when present, otherwise by spaces. Empty parts are
// dropped.
func Split(raw string) []string {
	var parts []string
	switch {
	case strings.Contains(raw, " / "):
		parts = strings.Split(raw, " / ")
	case strings.Contains(raw, " "):
		parts = strings.Split(raw, " ")
	default:
		parts = []string{raw}
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
