package messages

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRender_LanguageAndVariant(t *testing.T) {
	c := Default()

	tr0 := c.Render(KeyAskOrderNumber, "tr", 0)
	tr1 := c.Render(KeyAskOrderNumber, "tr", 1)
	if tr0 == tr1 {
		t.Error("expected different variants for index 0 and 1")
	}
	if got := c.Render(KeyAskOrderNumber, "tr", 2); got != tr0 {
		t.Errorf("expected variant index to wrap, got %q", got)
	}
	if en := c.Render(KeyAskOrderNumber, "EN", 0); !strings.Contains(en, "order number") {
		t.Errorf("expected English text, got %q", en)
	}
}

func TestRender_Fallbacks(t *testing.T) {
	c := Default()

	if got := c.Render(KeyAskPhoneLast4, "de", 0); got != c.Render(KeyAskPhoneLast4, "tr", 0) {
		t.Errorf("expected fallback to default language, got %q", got)
	}
	if got := c.Render("no_such_key", "en", 0); got != c.Render(KeyCorrectionBarrier, "en", 0) {
		t.Errorf("expected unknown key to render the correction barrier, got %q", got)
	}
	if got := c.Render(KeyAskName, "en", -3); got == "" {
		t.Error("expected negative variant to be handled")
	}
}

func TestRender_RegionTagsUseBaseLanguage(t *testing.T) {
	c := Default()
	en := c.Render(KeyAskOrderNumber, "en", 0)
	for _, lang := range []string{"en-US", "en_GB", "EN", " en "} {
		if got := c.Render(KeyAskOrderNumber, lang, 0); got != en {
			t.Errorf("lang %q: expected English text %q, got %q", lang, en, got)
		}
	}
	if got := c.Render(KeyAskOrderNumber, "tr-TR", 0); got != c.Render(KeyAskOrderNumber, "tr", 0) {
		t.Errorf("expected Turkish text for tr-TR, got %q", got)
	}
}

func TestBaseLanguage(t *testing.T) {
	tests := map[string]string{
		"en":    "en",
		"EN":    "en",
		"en-US": "en",
		"en_GB": "en",
		"tr-TR": "tr",
		"":      "",
	}
	for in, want := range tests {
		if got := BaseLanguage(in); got != want {
			t.Errorf("BaseLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoad_MergesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "messages.yaml")
	content := `
ask_order_number:
  tr:
    - "Sipariş numaranız nedir?"
custom_notice:
  en:
    - "Custom notice"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path, Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.Render(KeyAskOrderNumber, "tr", 1); got != "Sipariş numaranız nedir?" {
		t.Errorf("expected override to replace variants, got %q", got)
	}
	if got := c.Render("custom_notice", "en", 0); got != "Custom notice" {
		t.Errorf("expected new key, got %q", got)
	}
	if Default().Render(KeyAskOrderNumber, "tr", 0) == "Sipariş numaranız nedir?" {
		t.Error("override must not leak into the built-in table")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	base := Default()
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != base {
		t.Error("expected base catalog for a missing file")
	}
}
