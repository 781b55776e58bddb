package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/z3i0/MusicBot/internal/errors"
)

// MaxQueryLength bounds what a user can submit to the resolver
const MaxQueryLength = 500

// SanitizeInput removes null bytes and surrounding whitespace
func SanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}

// ValidateQuery cleans a play query. Anything that looks like a link must
// parse as an absolute http(s) URL; free text is passed through as a search.
func ValidateQuery(query string) (string, error) {
	query = SanitizeInput(query)

	if query == "" {
		return "", fmt.Errorf("%w: query cannot be empty", errors.ErrInvalidInput)
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return "", fmt.Errorf("%w: query too long (max %d characters)", errors.ErrInvalidInput, MaxQueryLength)
	}

	if looksLikeURL(query) {
		if err := ValidateURL(query); err != nil {
			return "", err
		}
	}
	return query, nil
}

// ValidateURL validates if a string is an absolute http(s) URL
func ValidateURL(input string) error {
	if input == "" {
		return fmt.Errorf("%w: URL cannot be empty", errors.ErrInvalidURL)
	}

	u, err := url.ParseRequestURI(input)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", errors.ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", errors.ErrInvalidURL)
	}
	return nil
}

func looksLikeURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		(strings.Contains(lower, "://") && !strings.Contains(lower, " "))
}

// TruncateString safely truncates a string to max runes, preferring a word
// boundary
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}

	if maxLen > 3 {
		cut := string(r[:maxLen-3])
		if idx := strings.LastIndexAny(cut, " \t\n"); idx > 0 {
			cut = cut[:idx]
		}
		return cut + "..."
	}

	return string(r[:maxLen])
}
