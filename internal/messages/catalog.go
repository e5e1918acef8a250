// Package messages is the localized catalog of customer-facing texts the
// gateway substitutes for a suppressed reply: barrier messages and the
// deterministic clarification questions.
package messages

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Message keys.
const (
	KeyFirewallFallback  = "firewall_fallback"
	KeySecurityBarrier   = "security_barrier"
	KeyIdentityHardDeny  = "identity_hard_deny"
	KeyVerificationFirst = "verification_first"
	KeyCorrectionBarrier = "correction_barrier"
	KeyNotFoundHandoff   = "not_found_handoff"
	KeyLookupPending     = "lookup_pending"

	KeyAskIdentifierType = "ask_identifier_type"
	KeyAskOrderNumber    = "ask_order_number"
	KeyAskPhoneLast4     = "ask_phone_last4"
	KeyAskTicketNumber   = "ask_ticket_number"
	KeyAskProductName    = "ask_product_name"
	KeyAskName           = "ask_name"
	KeyAskPhone          = "ask_phone"
)

// DefaultLanguage is used when a key has no text for the requested language.
const DefaultLanguage = "tr"

// Catalog renders a message for a key, language and variant index.
type Catalog interface {
	Render(key, lang string, variant int) string
}

// StaticCatalog is an in-memory catalog: key -> language -> variants.
type StaticCatalog struct {
	texts map[string]map[string][]string
}

// Render picks variant modulo the number of variants. Region tags such as
// "en-US" use their base language. Missing languages fall back to
// DefaultLanguage, then English.
func (c *StaticCatalog) Render(key, lang string, variant int) string {
	byLang, ok := c.texts[key]
	if !ok {
		if key == KeyCorrectionBarrier {
			return ""
		}
		return c.Render(KeyCorrectionBarrier, lang, variant)
	}
	for _, l := range []string{BaseLanguage(lang), DefaultLanguage, "en"} {
		variants := byLang[l]
		if len(variants) == 0 {
			continue
		}
		if variant < 0 {
			variant = -variant
		}
		return variants[variant%len(variants)]
	}
	return ""
}

// BaseLanguage reduces a language tag to its lower-case base: "en-US",
// "en_GB" and "EN" all become "en".
func BaseLanguage(tag string) string {
	tag = strings.ReplaceAll(strings.TrimSpace(tag), "_", "-")
	if tag == "" {
		return ""
	}
	if t, err := language.Parse(tag); err == nil {
		if base, conf := t.Base(); conf == language.Exact {
			return base.String()
		}
	}
	if i := strings.IndexByte(tag, '-'); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

// Default returns the built-in Turkish and English catalog.
func Default() *StaticCatalog {
	return &StaticCatalog{texts: cloneTexts(defaultTexts)}
}

// Load reads YAML overrides (same shape as the built-in table) and merges
// them over base. A missing file returns base unchanged.
func Load(path string, base *StaticCatalog) (*StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return nil, err
	}

	var overrides map[string]map[string][]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse message catalog %s: %w", path, err)
	}

	merged := cloneTexts(base.texts)
	for key, byLang := range overrides {
		if merged[key] == nil {
			merged[key] = map[string][]string{}
		}
		for lang, variants := range byLang {
			if len(variants) == 0 {
				continue
			}
			merged[key][BaseLanguage(lang)] = append([]string(nil), variants...)
		}
	}
	return &StaticCatalog{texts: merged}, nil
}

func cloneTexts(in map[string]map[string][]string) map[string]map[string][]string {
	out := make(map[string]map[string][]string, len(in))
	for key, byLang := range in {
		out[key] = make(map[string][]string, len(byLang))
		for lang, variants := range byLang {
			out[key][lang] = append([]string(nil), variants...)
		}
	}
	return out
}

var defaultTexts = map[string]map[string][]string{
	KeyFirewallFallback: {
		"tr": {
			"Üzgünüm, bu yanıtı şu anda iletemiyorum. Size başka nasıl yardımcı olabilirim?",
			"Bu isteğe şu an yanıt veremiyorum. Başka bir konuda yardımcı olabilir miyim?",
		},
		"en": {
			"Sorry, I can't share that response right now. How else can I help you?",
			"I'm unable to answer that at the moment. Is there anything else I can help with?",
		},
	},
	KeySecurityBarrier: {
		"tr": {"Güvenliğiniz için bu bilgiyi bu kanal üzerinden paylaşamıyorum. Lütfen müşteri hizmetlerimizle iletişime geçin."},
		"en": {"For your security I can't share this information on this channel. Please contact our customer service team."},
	},
	KeyIdentityHardDeny: {
		"tr": {"Bu kayıtla ilgili bilgi paylaşamıyorum. Güvenliğiniz için bu görüşmeyi sonlandırıyorum."},
		"en": {"I can't share information about this record. For your security this conversation has been closed."},
	},
	KeyVerificationFirst: {
		"tr": {"Bu bilgiyi paylaşabilmem için önce kimliğinizi doğrulamam gerekiyor."},
		"en": {"I need to verify your identity before I can share this information."},
	},
	KeyCorrectionBarrier: {
		"tr": {
			"Üzgünüm, bu konuda şu an kesin bilgi veremiyorum. Kontrol edip size yardımcı olmamı ister misiniz?",
			"Bu konuda doğrulanmış bilgiye sahip değilim. Sizin için kontrol etmemi ister misiniz?",
		},
		"en": {
			"Sorry, I can't confirm that right now. Would you like me to check it for you?",
			"I don't have verified information about that. Shall I look it up for you?",
		},
	},
	KeyLookupPending: {
		"tr": {"Bilgilerinizi aldım, kaydınızı kontrol edip hemen dönüyorum."},
		"en": {"Thanks, I have your details. Let me check your record and get right back to you."},
	},
	KeyNotFoundHandoff: {
		"tr": {"Paylaştığınız bilgilerle eşleşen bir kayıt bulamadım. Sizi bir müşteri temsilcimize aktarıyorum."},
		"en": {"I couldn't find a record matching the details you shared. I'm transferring you to one of our agents."},
	},
	KeyAskIdentifierType: {
		"tr": {"Paylaştığınız numara sipariş numaranız mı, yoksa telefon numaranız mı?"},
		"en": {"Is the number you shared your order number or your phone number?"},
	},
	KeyAskOrderNumber: {
		"tr": {
			"Size yardımcı olabilmem için sipariş numaranızı paylaşır mısınız?",
			"Sipariş numaranızı yazar mısınız? Hemen kontrol edeyim.",
		},
		"en": {
			"Could you share your order number so I can help you?",
			"Please send me your order number and I'll check right away.",
		},
	},
	KeyAskPhoneLast4: {
		"tr": {"Doğrulama için kayıtlı telefon numaranızın son 4 hanesini paylaşır mısınız?"},
		"en": {"For verification, could you share the last 4 digits of your registered phone number?"},
	},
	KeyAskTicketNumber: {
		"tr": {"Talep numaranızı paylaşır mısınız?"},
		"en": {"Could you share your ticket number?"},
	},
	KeyAskProductName: {
		"tr": {"Hangi ürünü sorduğunuzu yazar mısınız?"},
		"en": {"Which product are you asking about?"},
	},
	KeyAskName: {
		"tr": {"Sizi geri arayabilmemiz için adınızı ve soyadınızı paylaşır mısınız?"},
		"en": {"Could you share your full name so we can call you back?"},
	},
	KeyAskPhone: {
		"tr": {"Sizi hangi telefon numarasından arayalım?"},
		"en": {"Which phone number should we call you on?"},
	},
}
