package normalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CanonicalToken folds an ID token to NFKC and trims surrounding space so the
// same credential compares equal across chargers that encode it differently.
func CanonicalToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	return strings.TrimSpace(norm.NFKC.String(token))
}
