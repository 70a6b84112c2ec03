package i18n

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogHasAllLanguages(t *testing.T) {
	for key, entry := range catalog {
		for _, lang := range []Language{English, Luganda, Swahili} {
			assert.NotEmptyf(t, entry[lang], "key %q missing %s", key, lang)
		}
	}
}

func TestTranslateFallsBackToEnglish(t *testing.T) {
	catalog["only_english"] = map[Language]string{English: "hello"}
	t.Cleanup(func() { delete(catalog, "only_english") })

	assert.Equal(t, "hello", T(Swahili, "only_english"))
	assert.Equal(t, "", T(English, "no_such_key"))
}

func TestParseLanguage(t *testing.T) {
	assert.Equal(t, Luganda, ParseLanguage("LG"))
	assert.Equal(t, Swahili, ParseLanguage(" sw "))
	assert.Equal(t, English, ParseLanguage("fr"))
	assert.True(t, Valid("sw"))
	assert.False(t, Valid("fr"))
}

func TestMainMenu(t *testing.T) {
	menu := MainMenu(English, "KES")
	lines := strings.Split(menu, "\n")
	require.Len(t, lines, 8)
	assert.Equal(t, "1. "+T(English, "local_currency")+" (KES)", lines[1])
	assert.Equal(t, "2. "+T(English, "bitcoin")+" (ckBTC)", lines[2])
	assert.Equal(t, "4. Swap Crypto", lines[4])
}
