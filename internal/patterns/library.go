// Package patterns is the rule table every detector reads from. The table is
// partitioned by language, compiled once, and never mutated: packs produce a
// new Library.
package patterns

import (
	"slices"
	"sort"
	"sync"
)

// Rule keys.
const (
	KeyJSONKey          = "firewall.json_key"
	KeyJSONArray        = "firewall.json_array"
	KeyJSONFence        = "firewall.json_fence"
	KeyHTMLTag          = "firewall.html_tag"
	KeyHTMLDocument     = "firewall.html_document"
	KeyPromptDisclosure = "firewall.prompt_disclosure"
	KeySectionHeader    = "firewall.section_header"
	KeyToolInvocation   = "firewall.tool_invocation"
	KeyToolIdentifier   = "firewall.tool_identifier"
	KeyVendorTerms      = "firewall.vendor_terms"

	KeyHedges      = "confab.hedges"
	KeyNotFoundAck = "claimgate.not_found_ack"

	KeyTrackingClaim = "grounding.tracking_claim"
	KeyAddressClaim  = "grounding.address_claim"
	KeyAmountPrefix  = "grounding.amount_prefix"
	KeyAmountSuffix  = "grounding.amount_suffix"

	KeyLeakAddress = "leak.address"
	KeyLeakBalance = "leak.balance"

	KeyPIIAddress    = "pii.address"
	KeyPIIBalance    = "pii.balance"
	KeyPIIBirthLabel = "pii.birth_label"
)

// CategoryKey is the rule key of a semantic category.
func CategoryKey(name string) string { return "category." + name }

// EventKey is the rule key of an event-claim category.
func EventKey(name string) string { return "event." + name }

// StatusKey is the rule key of a canonical order status.
func StatusKey(status string) string { return "status." + status }

// ProtocolKey is the rule key of an internal-protocol signal.
func ProtocolKey(signal string) string { return "protocol." + signal }

// Semantic categories.
const (
	CategoryOrderStatus = "orderStatus"
	CategoryCustomerPII = "customerPII"
	CategoryPaymentInfo = "paymentInfo"
)

// SemanticCategory is reply content that may only come from a tool.
type SemanticCategory struct {
	Name          string
	RequiredTools []string
}

// Event-claim categories.
const (
	EventDelivery = "deliveryEvents"
	EventOrder    = "orderEvents"
	EventStock    = "stockEvents"
	EventService  = "serviceEvents"
	EventTime     = "timeAssertions"
)

// EventCategory is a class of real-world event the model may assert.
type EventCategory struct {
	Name string
	// KBBacked categories are also satisfied by a knowledge-base match.
	KBBacked bool
}

// Canonical order statuses.
const (
	StatusProcessing = "processing"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
	StatusReturned   = "returned"
)

// Internal-protocol signals.
const (
	SignalRulesDisclosure       = "rules_disclosure"
	SignalInstructionParaphrase = "instructions_paraphrase"
	SignalPromptReference       = "system_prompt_reference"
	SignalWorkflowNarration     = "workflow_narration"
)

// Library is the immutable rule table.
type Library struct {
	sets           map[string]Set
	categories     []SemanticCategory
	events         []EventCategory
	contradictions map[string][]string
	toolNames      []string
}

var defaultLibrary = sync.OnceValue(buildDefault)

// Default returns the built-in library. It is compiled on first use and
// shared by every caller.
func Default() *Library {
	return defaultLibrary()
}

// Set returns the patterns for key. Unknown keys return an empty Set.
func (l *Library) Set(key string) Set {
	return l.sets[key]
}

// Keys returns every rule key, sorted.
func (l *Library) Keys() []string {
	keys := make([]string, 0, len(l.sets))
	for k := range l.sets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Categories returns the semantic categories in evaluation order.
func (l *Library) Categories() []SemanticCategory {
	return l.categories
}

// Events returns the event-claim categories in evaluation order.
func (l *Library) Events() []EventCategory {
	return l.events
}

// Event returns the event category by name.
func (l *Library) Event(name string) (EventCategory, bool) {
	for _, e := range l.events {
		if e.Name == name {
			return e, true
		}
	}
	return EventCategory{}, false
}

// Statuses returns the canonical statuses that have claim patterns.
func (l *Library) Statuses() []string {
	return []string{StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled, StatusReturned}
}

// Contradicts reports whether a reply claiming claimed contradicts a tool
// that returned expected.
func (l *Library) Contradicts(expected, claimed string) bool {
	return slices.Contains(l.contradictions[expected], claimed)
}

// ToolNames returns the registered tool names that must never appear in a
// reply.
func (l *Library) ToolNames() []string {
	return l.toolNames
}

func (l *Library) clone() *Library {
	out := &Library{
		sets:           make(map[string]Set, len(l.sets)),
		categories:     l.categories,
		events:         l.events,
		contradictions: l.contradictions,
		toolNames:      append([]string(nil), l.toolNames...),
	}
	for k, s := range l.sets {
		out.sets[k] = s.clone()
	}
	return out
}
