package localization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/mchatbot/internal/domain"
)

func TestTextTotality(t *testing.T) {
	for _, lang := range domain.Languages {
		for _, key := range TextKeys() {
			got, err := Text(lang, key)
			require.NoErrorf(t, err, "lang=%s key=%s", lang, key)
			assert.NotEmptyf(t, got, "lang=%s key=%s", lang, key)
		}
	}
}

func TestButtonTotality(t *testing.T) {
	for _, lang := range domain.Languages {
		for _, btn := range ButtonKeys() {
			got, err := ButtonLabel(lang, btn)
			require.NoErrorf(t, err, "lang=%s button=%s", lang, btn)
			assert.NotEmptyf(t, got, "lang=%s button=%s", lang, btn)
		}
	}
}

func TestUnknownKeyAndLanguage(t *testing.T) {
	_, err := Text(domain.LangRU, TextKey("no_such_key"))
	assert.ErrorIs(t, err, ErrUnknownKey)

	_, err = Text(domain.Language("de"), KeyQuestionLabel)
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)

	_, err = ButtonLabel(domain.Language("fr"), ButtonYes)
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)

	_, err = ButtonLabel(domain.LangEN, ButtonKey("maybe"))
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestRiskText(t *testing.T) {
	low, err := RiskText(domain.LangEN, domain.RiskLow)
	require.NoError(t, err)
	assert.Equal(t, "Low risk", low)

	high, err := RiskText(domain.LangRU, domain.RiskHigh)
	require.NoError(t, err)
	assert.Equal(t, "Высокий риск", high)

	_, err = RiskText(domain.LangRU, domain.RiskTier("EXTREME"))
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestLanguageKeyboardLayout(t *testing.T) {
	kb := LanguageKeyboard()
	require.Len(t, kb, 2)
	assert.Equal(t, []string{"Русский (ru)", "Ўзбек (uz)"}, kb[0])
	assert.Equal(t, []string{"English (en)", "Qaraqalpaqsha (kk)"}, kb[1])
}
