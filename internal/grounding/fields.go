package grounding

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/gzhole/replyshield/internal/guardrail"
)

// field is one scalar found in tool output, keyed by its normalized name.
type field struct {
	key   string
	value any
}

// walk flattens data into fields. Keys are lower-cased with separators
// removed, so "tracking_number" and "trackingNumber" compare equal.
func walk(data any, fn func(field)) {
	switch t := data.(type) {
	case map[string]any:
		for k, v := range t {
			switch v.(type) {
			case map[string]any, []any:
				walk(v, fn)
			default:
				fn(field{key: normalizeKey(k), value: v})
			}
		}
	case []any:
		for _, e := range t {
			walk(e, fn)
		}
	}
}

func normalizeKey(k string) string {
	var b strings.Builder
	for _, r := range k {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// groundable returns the successful outputs that carry data.
func groundable(gctx *guardrail.Context) []guardrail.ToolOutput {
	var out []guardrail.ToolOutput
	for _, o := range gctx.ToolOutputs {
		if o.Success && len(o.Data) > 0 {
			out = append(out, o)
		}
	}
	return out
}

// collect gathers the non-empty string form of every field whose key
// satisfies match.
func collect(outputs []guardrail.ToolOutput, match func(key string) bool) []string {
	var out []string
	for _, o := range outputs {
		walk(o.Data, func(f field) {
			if !match(f.key) {
				return
			}
			if s := scalarString(f.value); s != "" {
				out = append(out, s)
			}
		})
	}
	return out
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	}
	return fmt.Sprint(v)
}

func keyHasAny(key string, parts ...string) bool {
	for _, p := range parts {
		if strings.Contains(key, p) {
			return true
		}
	}
	return false
}

func isStatusKey(key string) bool {
	return key == "status" || keyHasAny(key, "orderstatus", "shipmentstatus", "cargostatus", "deliverystatus", "durum")
}

func isTrackingKey(key string) bool {
	return keyHasAny(key, "tracking", "takip") && !keyHasAny(key, "url", "link", "status", "durum")
}

func isAddressKey(key string) bool {
	return keyHasAny(key, "address", "adres") && !keyHasAny(key, "email", "eposta", "ipaddress")
}

func isAmountKey(key string) bool {
	return keyHasAny(key, "amount", "total", "price", "balance", "refund", "cost", "fee", "tutar", "fiyat", "ucret", "ücret", "bakiye")
}

// hasKey reports whether any output carries a field matching match, even an
// empty one.
func hasKey(outputs []guardrail.ToolOutput, match func(key string) bool) bool {
	found := false
	for _, o := range outputs {
		walkKeys(o.Data, func(key string) {
			if match(key) {
				found = true
			}
		})
	}
	return found
}

func walkKeys(data any, fn func(string)) {
	switch t := data.(type) {
	case map[string]any:
		for k, v := range t {
			fn(normalizeKey(k))
			walkKeys(v, fn)
		}
	case []any:
		for _, e := range t {
			walkKeys(e, fn)
		}
	}
}
