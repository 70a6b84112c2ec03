package i18n

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Language is a supported interface language code.
type Language string

const (
	English Language = "en"
	Luganda Language = "lg"
	Swahili Language = "sw"
)

//go:embed catalog.yaml
var rawCatalog []byte

var catalog map[string]map[Language]string

func init() {
	parsed, err := parse(rawCatalog)
	if err != nil {
		panic(fmt.Sprintf("i18n: %v", err))
	}
	catalog = parsed
}

func parse(data []byte) (map[string]map[Language]string, error) {
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	out := make(map[string]map[Language]string, len(raw))
	for key, texts := range raw {
		entry := make(map[Language]string, len(texts))
		for lang, text := range texts {
			entry[Language(lang)] = text
		}
		out[key] = entry
	}
	return out, nil
}

// ParseLanguage maps a code to a Language, defaulting to English.
func ParseLanguage(code string) Language {
	switch Language(strings.ToLower(strings.TrimSpace(code))) {
	case Luganda:
		return Luganda
	case Swahili:
		return Swahili
	default:
		return English
	}
}

// Valid reports whether code names a supported language.
func Valid(code string) bool {
	switch Language(code) {
	case English, Luganda, Swahili:
		return true
	}
	return false
}

// T returns the text for key in lang, falling back to English. Unknown keys
// render as an empty string.
func T(lang Language, key string) string {
	entry, ok := catalog[key]
	if !ok {
		return ""
	}
	if text, ok := entry[lang]; ok && text != "" {
		return text
	}
	return entry[English]
}

// MainMenu renders the top-level USSD menu for a user holding currency.
func MainMenu(lang Language, currency string) string {
	return fmt.Sprintf("%s\n1. %s (%s)\n2. %s (ckBTC)\n3. %s (ckUSDC)\n4. %s\n5. %s\n6. %s\n7. %s",
		T(lang, "welcome"),
		T(lang, "local_currency"), currency,
		T(lang, "bitcoin"),
		T(lang, "usdc"),
		T(lang, "swap_crypto"),
		T(lang, "dao_governance"),
		T(lang, "help"),
		T(lang, "language_selection"),
	)
}
