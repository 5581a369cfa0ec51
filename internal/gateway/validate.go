package gateway

import (
	"strings"
	"unicode/utf8"
)

// MaxContentChars caps the length of a chat message.
const MaxContentChars = 4000

// validateContent checks that a chat message meets content requirements.
func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if !utf8.ValidString(content) {
		return ErrContentEncoding
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return ErrContentTooLong
	}
	return nil
}
