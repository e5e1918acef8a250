// Package clarify picks the single clarification question a suppressed
// reply is replaced with when information is missing.
package clarify

import (
	"slices"

	"github.com/gzhole/replyshield/internal/messages"
)

// Field names as reported in missingFields.
const (
	FieldIdentifierType = "identifier_type"
	FieldOrderNumber    = "order_number"
	FieldPhoneLast4     = "phone_last4"
	FieldTicketNumber   = "ticket_number"
	FieldProductName    = "product_name"
	FieldName           = "name"
	FieldPhone          = "phone"
)

// Precedence is the fixed order in which missing fields are asked for.
// Disambiguation comes first: asking for an order number while the customer
// already sent an unclassified number would loop.
var Precedence = []string{
	FieldIdentifierType,
	FieldOrderNumber,
	FieldPhoneLast4,
	FieldTicketNumber,
	FieldProductName,
	FieldName,
	FieldPhone,
}

var questionKeys = map[string]string{
	FieldIdentifierType: messages.KeyAskIdentifierType,
	FieldOrderNumber:    messages.KeyAskOrderNumber,
	FieldPhoneLast4:     messages.KeyAskPhoneLast4,
	FieldTicketNumber:   messages.KeyAskTicketNumber,
	FieldProductName:    messages.KeyAskProductName,
	FieldName:           messages.KeyAskName,
	FieldPhone:          messages.KeyAskPhone,
}

// Next returns the highest-precedence field in missing that has not been
// asked yet, with its message key. ok is false when every missing field was
// already asked.
func Next(missing, asked []string) (field, key string, ok bool) {
	for _, f := range Precedence {
		if !slices.Contains(missing, f) || slices.Contains(asked, f) {
			continue
		}
		return f, questionKeys[f], true
	}
	return "", "", false
}

// Sort orders fields by precedence and drops unknown names and duplicates.
func Sort(fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range Precedence {
		if slices.Contains(fields, f) {
			out = append(out, f)
		}
	}
	return out
}

// Question is Next with the hand-off fallback: once every missing field has
// been asked, field is empty and key is the hand-off message.
func Question(missing, asked []string) (field, key string) {
	if field, key, ok := Next(missing, asked); ok {
		return field, key
	}
	return "", messages.KeyNotFoundHandoff
}
