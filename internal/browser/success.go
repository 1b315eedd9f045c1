package browser

import "strings"

// Page markers that usually only render for a signed-in customer. They are
// plain substrings and can match on anonymous pages too.
var signedInMarkers = []string{"welcome", "logout", "sign out"}

// EvaluateSuccess decides whether a login attempt worked, from where the
// browser ended up and what it is showing.
func EvaluateSuccess(currentURL, loginURL, source string) bool {
	switch {
	case strings.Contains(currentURL, "/account"),
		strings.Contains(currentURL, "/challenge"),
		strings.Contains(currentURL, "/checkout"):
		return true
	case strings.Contains(currentURL, "/cart") && !strings.Contains(currentURL, loginURL):
		return true
	}

	lower := strings.ToLower(source)
	for _, marker := range signedInMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
