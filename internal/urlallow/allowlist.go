// Package urlallow removes links the reply is not allowed to carry. A link
// survives only if its host is allowed for the channel or was returned as a
// knowledge-base source for the turn.
package urlallow

import (
	"regexp"
	"slices"
	"strings"

	"github.com/gzhole/replyshield/internal/guardrail"
)

// StageName is recorded in guardrailsApplied.
const StageName = "kb_only_url_allowlist"

// ViolationDisallowedURL is the violation type of a removed link.
const ViolationDisallowedURL = "DISALLOWED_URL"

// ChannelPhone is the voice channel. Links cannot be read out, so all of
// them are dropped there.
const ChannelPhone = "phone"

// Policy is the link policy of one channel.
type Policy struct {
	AllowedHosts []string `yaml:"allowed_hosts" json:"allowedHosts,omitempty"`
	StripAll     bool     `yaml:"strip_all" json:"stripAll,omitempty"`
}

// DefaultPolicies strips every link on the phone channel and allows only KB
// sources elsewhere.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		ChannelPhone: {StripAll: true},
	}
}

// Allowlist is the URL allowlist stage.
type Allowlist struct {
	policies map[string]Policy
}

// New creates the stage. A nil map uses DefaultPolicies.
func New(policies map[string]Policy) *Allowlist {
	if policies == nil {
		policies = DefaultPolicies()
	}
	normalized := make(map[string]Policy, len(policies))
	for channel, p := range policies {
		hosts := make([]string, 0, len(p.AllowedHosts))
		for _, h := range p.AllowedHosts {
			hosts = append(hosts, normalizeHost(strings.TrimSpace(h)))
		}
		normalized[strings.ToLower(channel)] = Policy{AllowedHosts: hosts, StripAll: p.StripAll}
	}
	return &Allowlist{policies: normalized}
}

func (a *Allowlist) Name() string { return StageName }

// Allowed reports whether host may appear on channel given the turn's KB
// source hosts. Subdomains of an allowed host are allowed.
func (a *Allowlist) Allowed(host, channel string, kbHosts []string) bool {
	p := a.policies[strings.ToLower(channel)]
	if p.StripAll || host == "" {
		return false
	}
	return matchesAny(host, kbHosts) || matchesAny(host, p.AllowedHosts)
}

func (a *Allowlist) Check(text string, gctx *guardrail.Context) guardrail.StageOutcome {
	links := ExtractLinks(text)
	if len(links) == 0 {
		return guardrail.Pass()
	}

	kbHosts := Hosts(gctx.KBSourceURLs)
	var removed []Link
	for _, l := range links {
		if !a.Allowed(l.Host, gctx.Channel, kbHosts) {
			removed = append(removed, l)
		}
	}

	out := guardrail.Pass().
		WithTelemetry("links", len(links)).
		WithTelemetry("removed", len(removed))
	if len(removed) == 0 {
		return out
	}

	violations := make([]guardrail.Violation, 0, len(removed))
	for _, l := range removed {
		violations = append(violations, guardrail.Violation{
			Type:     ViolationDisallowedURL,
			Category: gctx.Channel,
			Evidence: l.Host,
			Severity: guardrail.SeverityMedium,
			LogOnly:  gctx.Flags.URLAllowlistLogOnly,
		})
	}
	if gctx.Flags.URLAllowlistLogOnly {
		return out.WithViolations(violations...).WithTelemetry("log_only", true)
	}

	stripped := guardrail.Sanitize(strip(text, removed))
	stripped.Reason = guardrail.ReasonURLAllowlist
	return stripped.
		WithViolations(violations...).
		WithTelemetryMap(out.Telemetry)
}

var (
	spaceRun     = regexp.MustCompile(`[ \t]{2,}`)
	spaceBefore  = regexp.MustCompile(`[ \t]+([.,;:!?])`)
	emptyParens  = regexp.MustCompile(`\(\s*\)`)
	trailingOpen = regexp.MustCompile(`[ \t]*:[ \t]*(\n|$)`)
)

// strip cuts links out of text back to front and tidies the whitespace and
// punctuation they leave behind.
func strip(text string, links []Link) string {
	sorted := slices.Clone(links)
	slices.SortFunc(sorted, func(a, b Link) int { return b.Start - a.Start })
	for _, l := range sorted {
		text = text[:l.Start] + text[l.End:]
	}
	text = emptyParens.ReplaceAllString(text, "")
	text = trailingOpen.ReplaceAllString(text, ".$1")
	text = spaceBefore.ReplaceAllString(text, "$1")
	text = spaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func matchesAny(host string, allowed []string) bool {
	for _, a := range allowed {
		if a == "" {
			continue
		}
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}
