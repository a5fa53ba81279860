package validation

import (
	"errors"
	"strings"
	"unicode"
)

// ErrCityEmpty is returned when the city name is empty after trimming.
var ErrCityEmpty = errors.New("city name is required")

// ErrCityTooShort is returned when the city name is below the minimum length.
var ErrCityTooShort = errors.New("city name too short")

// ErrCityTooLong is returned when the city name exceeds the maximum length.
var ErrCityTooLong = errors.New("city name too long")

// ErrCityInvalidChars is returned when the city name contains disallowed characters.
var ErrCityInvalidChars = errors.New("city name contains invalid characters")

// ValidateCityName trims the input, enforces length bounds (in runes), and
// restricts to characters seen in real city names: letters (Unicode),
// digits, space, comma, hyphen, apostrophe, period. Returns the trimmed
// string; case normalization is left to the service layer.
func ValidateCityName(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrCityEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrCityTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '\'', '.':
		return true
	}
	return false
}
