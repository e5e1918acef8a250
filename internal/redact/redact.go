package redact

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var secretPatterns = []*regexp.Regexp{
	// AWS
	regexp.MustCompile(`(?i)(aws_access_key_id|aws_secret_access_key|aws_session_token)\s*[=:]\s*['"]?[A-Za-z0-9/+=]{20,}['"]?`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),

	// GitHub
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36}`),

	// LLM vendor keys
	regexp.MustCompile(`\bsk-(?:proj-|ant-)?[A-Za-z0-9_-]{20,}`),

	// Generic API keys
	regexp.MustCompile(`(?i)(api_key|apikey|api-key|secret_key|secretkey|secret-key|access_token|auth_token)\s*[=:]\s*['"]?[A-Za-z0-9_-]{16,}['"]?`),

	// Private keys
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----`),

	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_.-]{20,}`),

	// Basic auth in URLs
	regexp.MustCompile(`https?://[^:/\s]+:[^@/\s]+@`),

	// Slack tokens
	regexp.MustCompile(`xox[baprs]-[0-9]{10,13}-[0-9]{10,13}[a-zA-Z0-9-]*`),

	// Stripe
	regexp.MustCompile(`[sr]k_live_[0-9a-zA-Z]{24}`),

	// Connection strings
	regexp.MustCompile(`(?i)(postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis)://[^\s'"]+`),

	regexp.MustCompile(`(?i)(password|passwd|pwd|secret)\s*[=:]\s*['"]?[^\s'"]{8,}['"]?`),
}

var (
	emailPattern    = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	digitRunPattern = regexp.MustCompile(`\+?\d[\d \-]{5,}\d`)
)

const (
	redactedPlaceholder = "[REDACTED]"
	maxEvidenceRunes    = 80
)

// Redact removes credentials and connection strings from input.
func Redact(input string) string {
	result := input
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllString(result, redactedPlaceholder)
	}
	return result
}

// FindSecret returns the first credential-like token in input.
func FindSecret(input string) (string, bool) {
	for _, pattern := range secretPatterns {
		if m := pattern.FindString(input); m != "" {
			return m, true
		}
	}
	return "", false
}

// RedactPII masks emails and digit runs on top of Redact. Used for anything
// written to logs or stored as violation evidence.
func RedactPII(input string) string {
	result := Redact(input)
	result = emailPattern.ReplaceAllStringFunc(result, MaskEmail)
	result = digitRunPattern.ReplaceAllStringFunc(result, MaskDigits)
	return result
}

// RedactAll applies RedactPII to every element.
func RedactAll(values []string) []string {
	result := make([]string, len(values))
	for i, v := range values {
		result[i] = RedactPII(v)
	}
	return result
}

// Evidence prepares a matched fragment for storage: PII masked and
// truncated to a fixed number of runes.
func Evidence(fragment string) string {
	s := strings.TrimSpace(RedactPII(fragment))
	if utf8.RuneCountInString(s) <= maxEvidenceRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxEvidenceRunes]) + "…"
}

// Digits returns only the ASCII digits of s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MaskPhone renders a phone number as +90******1234. Numbers that are not
// Turkish keep no country prefix.
func MaskPhone(phone string) string {
	d := Digits(phone)
	if len(d) < 7 {
		return strings.Repeat("*", len(d))
	}
	last4 := d[len(d)-4:]
	if isTurkishNumber(d) {
		return "+90******" + last4
	}
	return "******" + last4
}

func isTurkishNumber(d string) bool {
	switch {
	case strings.HasPrefix(d, "90") && len(d) == 12:
		return true
	case strings.HasPrefix(d, "0") && len(d) == 11:
		return true
	case len(d) == 10 && (d[0] == '5' || d[0] == '2' || d[0] == '3' || d[0] == '4'):
		return true
	}
	return false
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return redactedPlaceholder
	}
	first, _ := utf8.DecodeRuneInString(email)
	return string(first) + "***" + email[at:]
}

// MaskDigits keeps the last four digits of a digit run.
func MaskDigits(s string) string {
	d := Digits(s)
	if len(d) <= 4 {
		return strings.Repeat("*", len(d))
	}
	return strings.Repeat("*", len(d)-4) + d[len(d)-4:]
}

// MaskCard renders a card number as **** **** **** 1234.
func MaskCard(s string) string {
	d := Digits(s)
	if len(d) < 4 {
		return "****"
	}
	return "**** **** **** " + d[len(d)-4:]
}
