package service

import "strings"

const phoneSuffixLen = 9

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// phoneSuffix returns the last nine digits of a phone number in any format.
func phoneSuffix(phone string) string {
	d := digitsOnly(phone)
	if len(d) > phoneSuffixLen {
		return d[len(d)-phoneSuffixLen:]
	}
	return d
}

// PhonesMatch compares the nine-digit suffixes of two numbers and accepts
// containment in either direction, so 0712345678, 712345678 and
// +254712345678 all match each other.
func PhonesMatch(a, b string) bool {
	sa, sb := phoneSuffix(a), phoneSuffix(b)
	if sa == "" || sb == "" {
		return false
	}
	return strings.Contains(sa, sb) || strings.Contains(sb, sa)
}

// NormalizePhone rewrites local formats to the 254XXXXXXXXX form the push
// provider expects.
func NormalizePhone(phone string) string {
	d := digitsOnly(phone)
	switch {
	case strings.HasPrefix(d, "254"):
		return d
	case strings.HasPrefix(d, "0"):
		return "254" + d[1:]
	case len(d) == phoneSuffixLen:
		return "254" + d
	default:
		return d
	}
}
