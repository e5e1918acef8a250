package guardrail

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/gzhole/replyshield/internal/redact"
)

// Clock returns the evaluation time.
func (g *Context) Clock() time.Time {
	if g.Now.IsZero() {
		return time.Now()
	}
	return g.Now
}

// LastToolOutcome returns the outcome of the most recent tool output that
// reported one.
func (g *Context) LastToolOutcome() (ToolOutcome, bool) {
	for i := len(g.ToolOutputs) - 1; i >= 0; i-- {
		if o := g.ToolOutputs[i].Outcome; o != "" {
			return o, true
		}
	}
	return "", false
}

// ToolCalled reports whether any tool ran this turn.
func (g *Context) ToolCalled() bool {
	return len(g.ToolsCalled) > 0 || len(g.ToolOutputs) > 0
}

// CalledAny reports whether one of names was invoked, successful or not.
func (g *Context) CalledAny(names ...string) bool {
	for _, c := range g.ToolsCalled {
		if slices.Contains(names, c.Name) {
			return true
		}
	}
	for _, o := range g.ToolOutputs {
		if slices.Contains(names, o.Name) {
			return true
		}
	}
	return false
}

// SucceededAny reports whether one of names succeeded. With no names, any
// successful tool counts.
func (g *Context) SucceededAny(names ...string) bool {
	match := func(name string) bool {
		return len(names) == 0 || slices.Contains(names, name)
	}
	for _, c := range g.ToolsCalled {
		if c.Success && match(c.Name) {
			return true
		}
	}
	for _, o := range g.ToolOutputs {
		if o.Success && match(o.Name) {
			return true
		}
	}
	return false
}

// CustomerSupplied reports whether value is something the customer typed
// themselves (order number or callback phone). Echoing it back is no leak.
func (g *Context) CustomerSupplied(value string) bool {
	d := redact.Digits(value)
	if len(d) < 4 {
		return false
	}
	for _, own := range []string{g.Collected.OrderNumber, g.Collected.Phone, g.Collected.AmbiguousIdentifier} {
		od := redact.Digits(own)
		if len(od) < 4 {
			continue
		}
		if d == od || trimTRPrefix(d) == trimTRPrefix(od) {
			return true
		}
	}
	return false
}

// GroundedInTools reports whether value appears in the data of a successful
// tool output. With anchorOnly, only anchor-verified outputs count.
// Digit-bearing values compare by digits, others by folded substring.
func (g *Context) GroundedInTools(value string, anchorOnly bool) bool {
	d := redact.Digits(value)
	folded := strings.ToLower(strings.Join(strings.Fields(value), " "))
	if folded == "" {
		return false
	}
	for _, s := range g.ToolStrings(anchorOnly) {
		if len(d) >= 4 {
			if sd := redact.Digits(s); sd != "" && (strings.Contains(sd, trimTRPrefix(d)) || strings.Contains(sd, d)) {
				return true
			}
			continue
		}
		if strings.Contains(strings.ToLower(s), folded) {
			return true
		}
	}
	return false
}

// ToolStrings flattens every scalar value in successful tool outputs.
func (g *Context) ToolStrings(anchorOnly bool) []string {
	var out []string
	for _, o := range g.ToolOutputs {
		if !o.Success || (anchorOnly && !o.AnchorVerified()) {
			continue
		}
		out = appendScalars(out, o.Data)
	}
	return out
}

func appendScalars(out []string, v any) []string {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = appendScalars(out, t[k])
		}
	case []any:
		for _, e := range t {
			out = appendScalars(out, e)
		}
	case string:
		out = append(out, t)
	case nil:
	default:
		out = append(out, fmt.Sprint(t))
	}
	return out
}

func trimTRPrefix(d string) string {
	switch {
	case len(d) == 12 && strings.HasPrefix(d, "90"):
		return d[2:]
	case len(d) == 11 && strings.HasPrefix(d, "0"):
		return d[1:]
	}
	return d
}
