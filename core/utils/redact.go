package utils

import "strings"

// RedactPath masks bot-token path segments ("<digits>:<secret>") before they
// reach logs. Only the numeric half of the token is kept.
func RedactPath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		idPart, secret, ok := strings.Cut(part, ":")
		if !ok || idPart == "" || secret == "" {
			continue
		}
		digits := true
		for _, c := range idPart {
			if c < '0' || c > '9' {
				digits = false
				break
			}
		}
		if digits {
			parts[i] = idPart + ":***"
		}
	}
	return strings.Join(parts, "/")
}
