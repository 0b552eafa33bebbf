package validation

import (
	"errors"
	"unicode"
	"unicode/utf8"
)

// ErrCityTooLong is returned when the city exceeds the configured rune limit.
var ErrCityTooLong = errors.New("city too long")

// ErrCityInvalidChars is returned when the city contains control characters.
var ErrCityInvalidChars = errors.New("city contains invalid characters")

// ValidateCity checks a city received over HTTP before it reaches the fetcher.
// The city is otherwise free text and is returned unchanged (no trimming):
// an empty city is valid and makes the fetch a no-op. maxLen <= 0 disables
// the length check.
func ValidateCity(city string, maxLen int) (string, error) {
	if maxLen > 0 && utf8.RuneCountInString(city) > maxLen {
		return "", ErrCityTooLong
	}
	for _, r := range city {
		if unicode.IsControl(r) || r == utf8.RuneError {
			return "", ErrCityInvalidChars
		}
	}
	return city, nil
}
