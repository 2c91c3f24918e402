package middleware

import (
	"errors"
	"unicode/utf8"
)

// ValidateMessageBody validates an inbound message body.
func ValidateMessageBody(body string) error {
	if len(body) == 0 {
		return errors.New("message body cannot be empty")
	}
	if len(body) > 100000 { // ~100KB limit
		return errors.New("message body exceeds maximum length")
	}
	if !utf8.ValidString(body) {
		return errors.New("message body must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if len(id) == 0 {
		return errors.New("conversation ID cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("conversation ID exceeds maximum length")
	}
	return nil
}

// ValidateClientID validates a client ID.
func ValidateClientID(id string) error {
	if len(id) == 0 {
		return errors.New("client ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("client ID exceeds maximum length")
	}
	return nil
}

// ValidateFirmID validates a firm ID.
func ValidateFirmID(id string) error {
	if len(id) == 0 {
		return errors.New("firm ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("firm ID exceeds maximum length")
	}
	return nil
}
