// Package email holds small helpers for addressing people in outbound mail.
package email

import (
	"strings"
	"unicode"
)

// DisplayName returns fullName when present, otherwise a name derived from
// the local part of address ("rudo.moyo@x" -> "Rudo Moyo").
func DisplayName(fullName, address string) string {
	if name := strings.TrimSpace(fullName); name != "" {
		return name
	}
	first, last := deriveNameFromAddress(address)
	if last == "" {
		return first
	}
	return first + " " + last
}

func deriveNameFromAddress(address string) (string, string) {
	localPart := address
	if at := strings.IndexByte(address, '@'); at >= 0 {
		localPart = address[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return "Applicant", ""
	}
	if len(parts) == 1 {
		return capitalize(parts[0]), ""
	}
	return capitalize(parts[0]), capitalize(parts[len(parts)-1])
}

// Domain returns the lowercased domain of address, or "" if there is none.
func Domain(address string) string {
	at := strings.LastIndexByte(address, '@')
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
