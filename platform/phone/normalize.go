// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when a number has no country prefix.
const DefaultRegion = "BR"

// NormalizeE164 formats a phone number to E.164 using DefaultRegion.
// If parsing fails, it returns the trimmed input.
func NormalizeE164(input string) string {
	return NormalizeE164ForRegion(input, DefaultRegion)
}

// NormalizeE164ForRegion formats a phone number to E.164, reading local numbers in region.
func NormalizeE164ForRegion(input, region string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}

	number, ok := parse(trimmed, region)
	if !ok {
		return trimmed
	}
	return phonenumbers.Format(number, phonenumbers.E164)
}

// IsValid reports whether input parses to a valid number in region.
func IsValid(input, region string) bool {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return false
	}
	_, ok := parse(trimmed, region)
	return ok
}

func parse(input, region string) (*phonenumbers.PhoneNumber, bool) {
	if region == "" {
		region = DefaultRegion
	}
	number, err := phonenumbers.Parse(input, region)
	if err != nil {
		return nil, false
	}
	if !phonenumbers.IsValidNumber(number) {
		return nil, false
	}
	return number, true
}
