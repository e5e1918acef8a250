package urlallow

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	linkRegex = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"'\x60]+`)
	hostRegex = regexp.MustCompile(`(?i)^(?:https?://)?([^/\s'"?#]+)`)
)

// Link is one URL found in a reply.
type Link struct {
	Raw   string
	Host  string
	Start int
	End   int
}

// ExtractLinks returns the URLs in text with trailing sentence punctuation
// removed.
func ExtractLinks(text string) []Link {
	var links []Link
	for _, idx := range linkRegex.FindAllStringIndex(text, -1) {
		raw := strings.TrimRight(text[idx[0]:idx[1]], ".,;:!?)]}")
		if raw == "" {
			continue
		}
		links = append(links, Link{
			Raw:   raw,
			Host:  hostOf(raw),
			Start: idx[0],
			End:   idx[0] + len(raw),
		})
	}
	return links
}

// Hosts returns the distinct hosts of rawURLs.
func Hosts(rawURLs []string) []string {
	hosts := make([]string, 0, len(rawURLs))
	for _, u := range rawURLs {
		if h := hostOf(u); h != "" {
			hosts = append(hosts, h)
		}
	}
	return uniqueStrings(hosts)
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return normalizeHost(u.Hostname())
	}
	if m := hostRegex.FindStringSubmatch(raw); len(m) > 1 {
		host := m[1]
		if i := strings.LastIndex(host, "@"); i >= 0 {
			host = host[i+1:]
		}
		if i := strings.Index(host, ":"); i >= 0 {
			host = host[:i]
		}
		return normalizeHost(host)
	}
	return ""
}

func normalizeHost(h string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSuffix(h, ".")), "www.")
}

func uniqueStrings(input []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(input))
	for _, s := range input {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}
