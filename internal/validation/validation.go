package validation

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	minPhoneDigits     = 8
	maxPhoneDigits     = 20
	maxInstanceNameLen = 64
	maxMessageIDLen    = 128
)

// ValidatePhone checks a destination phone number. Gateway jid suffixes
// and a leading + are tolerated; what remains must be digits of a
// plausible international length.
func ValidatePhone(phone string) error {
	if phone == "" {
		return fmt.Errorf("phone number cannot be empty")
	}

	cleaned := strings.TrimPrefix(phone, "+")
	if at := strings.Index(cleaned, "@"); at >= 0 {
		cleaned = cleaned[:at]
	}

	if len(cleaned) < minPhoneDigits {
		return fmt.Errorf("phone number must be at least %d digits", minPhoneDigits)
	}
	if len(cleaned) > maxPhoneDigits {
		return fmt.Errorf("phone number too long (max %d digits)", maxPhoneDigits)
	}
	for _, char := range cleaned {
		if !unicode.IsDigit(char) {
			return fmt.Errorf("phone number must contain only digits")
		}
	}
	return nil
}

// ValidateInstanceName checks a gateway instance name as carried on
// webhook events and API paths.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if len(name) > maxInstanceNameLen {
		return fmt.Errorf("instance name too long (max %d characters)", maxInstanceNameLen)
	}
	for _, char := range name {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '_' && char != '-' {
			return fmt.Errorf("instance name must contain only letters, numbers, underscores, and dashes")
		}
	}
	return nil
}

// ValidateMessageID rejects ids long or strange enough to be hostile.
func ValidateMessageID(id string) error {
	if len(id) > maxMessageIDLen {
		return fmt.Errorf("message id too long (max %d characters)", maxMessageIDLen)
	}
	for _, char := range id {
		if char < 0x20 {
			return fmt.Errorf("message id contains control characters")
		}
	}
	return nil
}
