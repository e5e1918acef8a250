// Package identity blocks replies built on a record that belongs to someone
// other than the verified requester.
package identity

import (
	"fmt"
	"strings"

	"github.com/gzhole/replyshield/internal/guardrail"
	"github.com/gzhole/replyshield/internal/messages"
	"github.com/gzhole/replyshield/internal/patterns"
	"github.com/gzhole/replyshield/internal/redact"
)

// StageName is recorded in guardrailsApplied.
const StageName = "identity_match_gate"

// Compared fields.
const (
	FieldCustomerID = "customer_id"
	FieldPhone      = "phone"
	FieldEmail      = "email"
	FieldName       = "name"
)

// Owner is the record owner found in a tool output.
type Owner struct {
	CustomerID string
	Name       string
	Phone      string
	Email      string
}

// Mismatch describes the first field that disagreed.
type Mismatch struct {
	Tool     string
	Field    string
	Expected string
	Claimed  string
}

// Gate is the identity match stage. It has no kill switch and no sanitize
// variant: a mismatch always blocks and locks the session.
type Gate struct{}

// New creates the gate.
func New() *Gate { return &Gate{} }

func (g *Gate) Name() string { return StageName }

func (g *Gate) Check(_ string, gctx *guardrail.Context) guardrail.StageOutcome {
	if gctx.VerifiedIdentity == nil || gctx.Verification != guardrail.VerificationVerified {
		return guardrail.Pass()
	}

	compared := 0
	for _, out := range gctx.ToolOutputs {
		if skip(out) {
			continue
		}
		owner, ok := OwnerOf(out.Data)
		if !ok {
			continue
		}
		compared++
		if field, ok := Compare(*gctx.VerifiedIdentity, owner); !ok {
			m := Mismatch{Tool: out.Name, Field: field}
			m.Expected, m.Claimed = fieldValues(field, *gctx.VerifiedIdentity, owner)
			return block(m)
		}
	}
	if compared == 0 {
		return guardrail.Pass()
	}
	return guardrail.Pass().WithTelemetry("owners_compared", compared)
}

// skip reports outputs the gate does not judge: failed calls, misses, and
// outputs the tool already checked against the record anchors.
func skip(out guardrail.ToolOutput) bool {
	if !out.Success || out.Outcome == guardrail.OutcomeNotFound {
		return true
	}
	return out.AnchorVerified()
}

func block(m Mismatch) guardrail.StageOutcome {
	return guardrail.Block(guardrail.ReasonIdentityMismatch, messages.KeyIdentityHardDeny).
		WithViolations(guardrail.Violation{
			Type:     string(guardrail.ReasonIdentityMismatch),
			Category: m.Tool,
			Field:    m.Field,
			Expected: m.Expected,
			Claimed:  m.Claimed,
			Severity: guardrail.SeverityCritical,
		}).
		WithEscalation(guardrail.LockEscalation(guardrail.ReasonIdentityMismatch))
}

// OwnerOf extracts the record owner from tool data: "owner", "customer", or
// "order.customer".
func OwnerOf(data map[string]any) (Owner, bool) {
	for _, candidate := range []any{data["owner"], data["customer"], nested(data, "order", "customer")} {
		m, ok := candidate.(map[string]any)
		if !ok {
			continue
		}
		o := Owner{
			CustomerID: str(m, "customerId", "customer_id", "id"),
			Name:       str(m, "name", "fullName", "full_name"),
			Phone:      str(m, "phone", "phoneNumber", "phone_number"),
			Email:      str(m, "email"),
		}
		if o != (Owner{}) {
			return o, true
		}
	}
	return Owner{}, false
}

// Compare checks owner against the verified identity. The customer id
// decides when both sides have one; otherwise any matching phone or email
// is enough, and names decide only when nothing stronger is comparable.
// Masked values are never compared. field names the disagreeing field.
func Compare(id guardrail.Identity, owner Owner) (field string, ok bool) {
	if comparable(id.CustomerID, owner.CustomerID) {
		if strings.EqualFold(strings.TrimSpace(id.CustomerID), strings.TrimSpace(owner.CustomerID)) {
			return "", true
		}
		return FieldCustomerID, false
	}

	strongMismatch := ""
	if comparable(id.Phone, owner.Phone) {
		a, b := last10(id.Phone), last10(owner.Phone)
		if len(a) == 10 && a == b {
			return "", true
		}
		strongMismatch = FieldPhone
	}
	if comparable(id.Email, owner.Email) {
		if strings.EqualFold(strings.TrimSpace(id.Email), strings.TrimSpace(owner.Email)) {
			return "", true
		}
		if strongMismatch == "" {
			strongMismatch = FieldEmail
		}
	}
	if strongMismatch != "" {
		return strongMismatch, false
	}

	if comparable(id.Name, owner.Name) && FoldName(id.Name) != FoldName(owner.Name) {
		return FieldName, false
	}
	return "", true
}

// FoldName lower-cases a name with Turkish rules, strips diacritics and
// collapses whitespace, so "AYŞE  Yılmaz" and "ayse yilmaz" compare equal.
func FoldName(name string) string {
	folded := nameASCII.Replace(patterns.Fold(name, patterns.Turkish))
	return strings.Join(strings.Fields(folded), " ")
}

var nameASCII = strings.NewReplacer("ç", "c", "ğ", "g", "ı", "i", "ö", "o", "ş", "s", "ü", "u", "â", "a", "î", "i", "û", "u")

func comparable(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && b != "" && !masked(a) && !masked(b)
}

func masked(v string) bool {
	return strings.ContainsAny(v, "*•") || strings.Contains(v, "[REDACTED]")
}

func last10(s string) string {
	d := redact.Digits(s)
	if len(d) > 10 {
		return d[len(d)-10:]
	}
	return d
}

func fieldValues(field string, id guardrail.Identity, o Owner) (expected, claimed string) {
	switch field {
	case FieldCustomerID:
		return id.CustomerID, o.CustomerID
	case FieldPhone:
		return id.Phone, o.Phone
	case FieldEmail:
		return id.Email, o.Email
	}
	return id.Name, o.Name
}

func nested(data map[string]any, keys ...string) any {
	var cur any = data
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[k]
	}
	return cur
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case nil:
		case string:
			if v != "" {
				return v
			}
		default:
			// JSON numbers arrive as float64; %v prints 12345 without a fraction.
			return fmt.Sprint(v)
		}
	}
	return ""
}
