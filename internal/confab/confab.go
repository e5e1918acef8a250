// Package confab flags replies that assert real-world events (a delivery, a
// refund, a repair, a delivery date) that nothing in the turn backs up.
package confab

import (
	"regexp"
	"strings"

	"github.com/gzhole/replyshield/internal/guardrail"
	"github.com/gzhole/replyshield/internal/messages"
	"github.com/gzhole/replyshield/internal/patterns"
)

// StageName is recorded in guardrailsApplied.
const StageName = "anti_confabulation_guard"

// Claim is the result of event-claim detection.
type Claim struct {
	HasClaim bool
	Category string
	// Hedged is true when the claim's sentence carries a hedging phrase.
	Hedged   bool
	Evidence string
	Sentence string
}

// Guard is the anti-confabulation stage.
type Guard struct {
	lib    *patterns.Library
	hedges patterns.Set
}

// New creates the stage. A nil library uses the built-in one.
func New(lib *patterns.Library) *Guard {
	if lib == nil {
		lib = patterns.Default()
	}
	return &Guard{lib: lib, hedges: lib.Set(patterns.KeyHedges)}
}

func (g *Guard) Name() string { return StageName }

// Terminal punctuation ends a sentence only before whitespace or the end of
// text, which keeps "14.30" and "1.299,90" intact.
var sentenceEnd = regexp.MustCompile(`[.!?\x{2026}]+(?:\s+|$)|\n+`)

// Sentences splits text into trimmed, non-empty sentences.
func Sentences(text string) []string {
	var out []string
	for _, s := range sentenceEnd.Split(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Claims returns every event claim, one per sentence, in reply order.
func (g *Guard) Claims(text string) []Claim {
	var out []Claim
	for _, sentence := range Sentences(text) {
		for _, ev := range g.lib.Events() {
			m, ok := g.lib.Set(patterns.EventKey(ev.Name)).Find(sentence)
			if !ok {
				continue
			}
			out = append(out, Claim{
				HasClaim: true,
				Category: ev.Name,
				Hedged:   g.hedges.MatchString(sentence),
				Evidence: m.Evidence,
				Sentence: sentence,
			})
			break
		}
	}
	return out
}

// DetectEventClaim returns the first unhedged claim, or the first hedged one
// when every claim is hedged. Every language partition is tried whatever
// lang says, since replies mix languages.
func (g *Guard) DetectEventClaim(text, lang string) Claim {
	claims := g.Claims(text)
	if len(claims) == 0 {
		return Claim{}
	}
	for _, c := range claims {
		if !c.Hedged {
			return c
		}
	}
	return claims[0]
}

// DetectEventClaim runs the built-in detector.
func DetectEventClaim(text, lang string) Claim {
	return New(nil).DetectEventClaim(text, lang)
}

func (g *Guard) Check(text string, gctx *guardrail.Context) guardrail.StageOutcome {
	claims := g.Claims(text)
	if len(claims) == 0 {
		return guardrail.Pass()
	}

	var (
		hedged    int
		violation *guardrail.Violation
		category  string
	)
	for _, c := range claims {
		if c.Hedged {
			hedged++
			continue
		}
		if violation != nil || g.backed(c.Category, gctx) {
			continue
		}
		category = c.Category
		violation = &guardrail.Violation{
			Type:     string(guardrail.ReasonConfabulation),
			Category: c.Category,
			Evidence: c.Evidence,
			Severity: guardrail.SeverityMedium,
		}
	}

	out := guardrail.Pass().
		WithTelemetry("claims", len(claims)).
		WithTelemetry("hedged", hedged)
	if violation == nil {
		return out
	}
	if gctx.Flags.ConfabulationLogOnly {
		violation.LogOnly = true
		return out.WithViolations(*violation).WithTelemetry("log_only", true)
	}
	return guardrail.Block(guardrail.ReasonConfabulation, messages.KeyCorrectionBarrier).
		WithViolations(*violation).
		WithCorrection(Constraint(category, gctx.Language)).
		WithTelemetryMap(out.Telemetry).
		WithTelemetry("category", category)
}

// backed reports whether a successful tool call, or for KB-backed
// categories a knowledge-base match, supports a claim.
func (g *Guard) backed(category string, gctx *guardrail.Context) bool {
	if gctx.SucceededAny() {
		return true
	}
	ev, ok := g.lib.Event(category)
	return ok && ev.KBBacked && gctx.HasKBMatch && gctx.KBConfidence != guardrail.KBLow
}

var constraints = map[string][2]string{
	patterns.EventDelivery: {
		"Teslimat ya da kargo durumu hakkında kesin bir ifade kullanma; bu bilgi bir sorgu sonucuyla doğrulanmadı. Durumu kontrol edebilmek için sipariş numarasını iste.",
		"Do not state that anything was shipped or delivered; no lookup confirmed it. Ask for the order number so the status can be checked.",
	},
	patterns.EventOrder: {
		"Siparişin, iadenin ya da talebin oluşturulduğunu veya onaylandığını söyleme; bunu doğrulayan bir işlem yok. Müşteriye hangi bilgiye ihtiyaç olduğunu söyle.",
		"Do not say an order, return or request was created or confirmed; no action confirmed it. Tell the customer what information is needed instead.",
	},
	patterns.EventStock: {
		"Stok durumu hakkında kesin bilgi verme; ürün sorgusu ya da bilgi bankası bunu doğrulamadı. Ürün adını isteyip kontrol edeceğini belirt.",
		"Do not state stock availability; neither a product lookup nor the knowledge base confirmed it. Ask for the product name and offer to check.",
	},
	patterns.EventService: {
		"Servis, tamir ya da randevu durumu hakkında kesin ifade kullanma; bunu doğrulayan bir kayıt yok. Kayıt numarasını iste.",
		"Do not state a repair, service or appointment outcome; no record confirmed it. Ask for the ticket number.",
	},
	patterns.EventTime: {
		"Kesin teslim tarihi ya da süre verme. Süre bilgisi yoksa bunu kontrol etmek için gerekli bilgiyi iste.",
		"Do not promise a delivery date or time frame. If no lookup provided one, ask for what is needed to check it.",
	},
}

// Constraint is the rewrite instruction for a category. Unknown categories
// get the delivery constraint.
func Constraint(category, lang string) string {
	c, ok := constraints[category]
	if !ok {
		c = constraints[patterns.EventDelivery]
	}
	if patterns.ParseLanguage(lang) == patterns.English {
		return c[1]
	}
	return c[0]
}
