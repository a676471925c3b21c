package reasoner

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	timeSensitiveWords = []string{"today", "latest", "current", "currently", "now", "this week", "this month"}
	yearPattern        = regexp.MustCompile(`\b(\d{4})\b`)
)

// isTimeSensitive reports whether text contains a time-sensitive marker
// word or a 4-digit year at or above threshold (spec §4.3).
func isTimeSensitive(text string, threshold int) bool {
	lower := strings.ToLower(text)
	for _, w := range timeSensitiveWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	for _, match := range yearPattern.FindAllString(text, -1) {
		if year, err := strconv.Atoi(match); err == nil && year >= threshold {
			return true
		}
	}
	return false
}
