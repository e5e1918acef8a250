package grounding

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gzhole/replyshield/internal/guardrail"
)

// ParseAmount converts a monetary string to cents. Both "1.299,90" and
// "1,299.90" are understood: a final separator followed by one or two digits
// is the decimal mark, any other separator groups thousands. More than
// maxAmountDigits integer digits is rejected.
func ParseAmount(raw string) (int64, bool) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	s := strings.Trim(b.String(), ".,")
	if s == "" {
		return 0, false
	}

	intPart, frac := s, ""
	if i := strings.LastIndexAny(s, ".,"); i >= 0 {
		if tail := s[i+1:]; len(tail) <= 2 {
			intPart, frac = s[:i], tail
		}
	}
	intPart = strings.NewReplacer(".", "", ",", "").Replace(intPart)
	if intPart == "" {
		intPart = "0"
	}
	if len(intPart) > maxAmountDigits {
		return 0, false
	}
	units, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, false
	}
	cents := int64(0)
	if frac != "" {
		if len(frac) == 1 {
			frac += "0"
		}
		c, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, false
		}
		cents = c
	}
	return units*100 + cents, true
}

// maxAmountDigits keeps units*100+cents inside int64.
const maxAmountDigits = 15

func formatCents(c int64) string {
	return fmt.Sprintf("%d.%02d", c/100, c%100)
}

// amountsOf collects every amount under an amount-like key, in cents.
func amountsOf(outputs []guardrail.ToolOutput) map[int64]bool {
	out := map[int64]bool{}
	for _, o := range outputs {
		walk(o.Data, func(f field) {
			if !isAmountKey(f.key) {
				return
			}
			switch v := f.value.(type) {
			case float64:
				out[int64(math.Round(v*100))] = true
			case int:
				out[int64(v)*100] = true
			case int64:
				out[v*100] = true
			case json.Number:
				if fl, err := v.Float64(); err == nil {
					out[int64(math.Round(fl*100))] = true
				}
			case string:
				if c, ok := ParseAmount(v); ok {
					out[c] = true
				}
			}
		})
	}
	return out
}
