// Package util provides utility functions shared across EventPulse components.
package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2; these IDs are not used for anything security-sensitive.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// GenerateMessageID generates a unique scheduled-message ID with "msg_" prefix.
func GenerateMessageID() string {
	return GenerateRandomID("msg_", 32)
}

// GenerateRoutingLogID generates a unique routing-log ID with "rlog_" prefix.
func GenerateRoutingLogID() string {
	return GenerateRandomID("rlog_", 32)
}

// GeneratePCRScoreID generates a unique PCR score row ID with "pcr_" prefix.
func GeneratePCRScoreID() string {
	return GenerateRandomID("pcr_", 32)
}
