package security

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// PrivacyLevel selects how an identified sensitive value is transformed.
type PrivacyLevel string

const (
	PrivacyBasic    PrivacyLevel = "basic"
	PrivacyEnhanced PrivacyLevel = "enhanced"
	PrivacyStrict   PrivacyLevel = "strict"
)

type sensitiveKind string

const (
	kindEmail   sensitiveKind = "email"
	kindPhone   sensitiveKind = "phone"
	kindGovID   sensitiveKind = "government_id"
	kindPayment sensitiveKind = "payment_card"
	kindName    sensitiveKind = "person_name"
)

var (
	emailPattern   = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern   = regexp.MustCompile(`^\+?[0-9][0-9()\-\s]{7,}[0-9]$`)
	govIDPattern   = regexp.MustCompile(`^\d{3}-\d{2}-\d{4}$`)
	paymentPattern = regexp.MustCompile(`^\d{13,19}$`)

	fieldNameHints = map[sensitiveKind][]string{
		kindEmail:   {"email", "e_mail"},
		kindPhone:   {"phone", "mobile", "telephone"},
		kindGovID:   {"ssn", "national_id", "passport"},
		kindPayment: {"card", "cc_number", "credit_card"},
		kindName:    {"name", "full_name", "first_name", "last_name"},
	}
)

// Anonymize scans field names and string values for sensitive data and
// transforms matches according to the requested privacy level.
func Anonymize(input map[string]interface{}, level PrivacyLevel) map[string]interface{} {
	output := make(map[string]interface{}, len(input))
	for key, value := range input {
		s, ok := value.(string)
		if !ok {
			output[key] = value
			continue
		}
		kind, matched := classify(key, s)
		if !matched {
			output[key] = value
			continue
		}
		output[key] = transform(s, kind, level)
	}
	return output
}

func classify(fieldName, value string) (sensitiveKind, bool) {
	lowerField := strings.ToLower(fieldName)
	for kind, hints := range fieldNameHints {
		for _, hint := range hints {
			if strings.Contains(lowerField, hint) {
				return kind, true
			}
		}
	}
	switch {
	case emailPattern.MatchString(value):
		return kindEmail, true
	case govIDPattern.MatchString(value):
		return kindGovID, true
	case paymentPattern.MatchString(strings.ReplaceAll(value, " ", "")):
		return kindPayment, true
	case phonePattern.MatchString(value):
		return kindPhone, true
	}
	return "", false
}

func transform(value string, kind sensitiveKind, level PrivacyLevel) string {
	switch level {
	case PrivacyStrict:
		return hashValue(value)
	case PrivacyEnhanced:
		return genericReplacement(kind)
	default:
		return partialMask(value)
	}
}

func partialMask(value string) string {
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	visible := value[len(value)-4:]
	return strings.Repeat("*", len(value)-4) + visible
}

func genericReplacement(kind sensitiveKind) string {
	switch kind {
	case kindEmail:
		return "[REDACTED_EMAIL]"
	case kindPhone:
		return "[REDACTED_PHONE]"
	case kindGovID:
		return "[REDACTED_ID]"
	case kindPayment:
		return "[REDACTED_CARD]"
	case kindName:
		return "[REDACTED_NAME]"
	default:
		return "[REDACTED]"
	}
}

func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}
