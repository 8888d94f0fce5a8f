package rating

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	MinRating = 0.0
	MaxRating = 10.0
)

var (
	// ratingPattern matches "N/10" with optional single spaces around the
	// slash. N may be signed and decimal. The match must start the text or
	// follow whitespace and end the text or precede whitespace or , . ! ?
	ratingPattern = regexp.MustCompile(`(?:^|\s)([-+]?(?:\d+(?:\.\d*)?|\.\d+))\s?/\s?10(?:$|[\s,.!?])`)

	// scorePattern matches a standalone +1 or -1 with the same boundaries.
	scorePattern = regexp.MustCompile(`(?:^|\s)([-+]1)(?:$|[\s,.!?])`)
)

// Extract returns the leftmost rating in text, clamped to [0, 10].
// Ratings between double quotes are ignored: quoting someone else's rating
// does not count as rating.
func Extract(text string) (float64, bool) {
	m := ratingPattern.FindStringSubmatch(maskQuoted(text))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return Clamp(v, MinRating, MaxRating), true
}

// ExtractScore returns the leftmost +1 or -1 in text, with the same quoting
// rule as Extract.
func ExtractScore(text string) (int, bool) {
	m := scorePattern.FindStringSubmatch(maskQuoted(text))
	if m == nil {
		return 0, false
	}
	if m[1][0] == '-' {
		return -1, true
	}
	return 1, true
}

func Clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

// maskQuoted blanks every closed "..." span, quotes included. An unpaired
// trailing quote masks nothing.
func maskQuoted(text string) string {
	if strings.Count(text, `"`) < 2 {
		return text
	}
	b := []byte(text)
	open := -1
	for i, c := range b {
		if c != '"' {
			continue
		}
		if open < 0 {
			open = i
			continue
		}
		for j := open; j <= i; j++ {
			b[j] = ' '
		}
		open = -1
	}
	return string(b)
}
