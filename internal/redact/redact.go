// Package redact masks sensitive numeric patterns in free text before it
// leaves the gateway, covering payment card numbers for the major issuers.
package redact

import "regexp"

// Marker replaces every matched card number.
const Marker = "[CREDIT-CARD-REDACTED]"

// Ordered issuer patterns, most specific first. The final pattern is a generic
// fallback for formatted numbers (XXXX-XXXX-XXXX-XXXX or space separated).
var cardPatterns = []*regexp.Regexp{
	// Visa: starts with 4, 13 or 16 digits.
	regexp.MustCompile(`\b4[0-9]{12}(?:[0-9]{3})?\b`),
	// MasterCard: 51-55, 16 digits.
	regexp.MustCompile(`\b5[1-5][0-9]{14}\b`),
	// MasterCard: 2221-2720 range, 16 digits.
	regexp.MustCompile(`\b(?:222[1-9]|22[3-9][0-9]|2[3-6][0-9]{2}|27[01][0-9]|2720)[0-9]{12}\b`),
	// American Express: 34 or 37, 15 digits.
	regexp.MustCompile(`\b3[47][0-9]{13}\b`),
	// Discover: 6011 or 65, 16 digits.
	regexp.MustCompile(`\b6011[0-9]{12}\b`),
	regexp.MustCompile(`\b65[0-9]{14}\b`),
	// Generic grouped fallback.
	regexp.MustCompile(`\b\d{4}[\s\-]?\d{4}[\s\-]?\d{4}[\s\-]?\d{4}\b`),
}

// Filter returns text with all recognized card numbers replaced by Marker.
//
// Filter is pure and stateless, so it is applied to complete responses and to
// each streaming fragment independently. A number split exactly across a
// fragment boundary is not caught; incremental filtering accepts that
// tradeoff rather than buffering the stream.
func Filter(text string) string {
	if text == "" {
		return text
	}
	for _, p := range cardPatterns {
		text = p.ReplaceAllString(text, Marker)
	}
	return text
}
