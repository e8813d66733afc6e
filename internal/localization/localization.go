// Package localization is the fixed translation table of the bot. All
// user-facing text lives here; handlers never embed literal strings.
package localization

import (
	"errors"

	"github.com/m3rciful/mchatbot/internal/domain"
)

var (
	// ErrUnknownKey is returned for a text or button key outside the table.
	ErrUnknownKey = errors.New("localization: unknown key")
	// ErrUnsupportedLanguage is returned for a language outside ru/uz/en/kk.
	ErrUnsupportedLanguage = errors.New("localization: unsupported language")
)

// TextKey identifies a localized message.
type TextKey string

const (
	KeyQuestionLabel      TextKey = "question_label"
	KeyChooseLanguageHint TextKey = "choose_language_hint"
	KeySurveyStartButton  TextKey = "survey_start_button"
	KeySurveyCancelled    TextKey = "survey_cancelled"
	KeyFinishResult       TextKey = "finish_result"
	KeyRiskLow            TextKey = "risk_low"
	KeyRiskMedium         TextKey = "risk_medium"
	KeyRiskHigh           TextKey = "risk_high"
	KeyErrorGeneric       TextKey = "error_generic"
	KeyRateLimited        TextKey = "rate_limited"
)

// ButtonKey identifies a localized reply-keyboard label.
type ButtonKey string

const (
	ButtonYes     ButtonKey = "yes"
	ButtonNo      ButtonKey = "no"
	ButtonStart   ButtonKey = "start"
	ButtonRestart ButtonKey = "restart"
)

// LanguagePrompt is shown before a language is known, so it carries all four
// languages at once.
const LanguagePrompt = "Пожалуйста, выберите язык / Илтимос, тилни танланг / Please choose a language / Тілді таңдаңыз:"

// LanguageKeyboard is the fixed 2x2 reply keyboard for language selection.
// Each label embeds the language marker matched by the state machine.
func LanguageKeyboard() [][]string {
	return [][]string{
		{"Русский (ru)", "Ўзбек (uz)"},
		{"English (en)", "Qaraqalpaqsha (kk)"},
	}
}

var texts = map[TextKey]map[domain.Language]string{
	KeyQuestionLabel: {
		domain.LangRU: "Вопрос", domain.LangUZ: "Савол",
		domain.LangEN: "Question", domain.LangKK: "Сұрақ",
	},
	KeyChooseLanguageHint: {
		domain.LangRU: "Возвращаемся к выбору языка...",
		domain.LangUZ: "Тил танлашга қайтамиз...",
		domain.LangEN: "Returning to language selection...",
		domain.LangKK: "Тіл таңдауға ораламыз...",
	},
	KeySurveyStartButton: {
		domain.LangRU: "Нажмите 'Начать', чтобы начать опрос.",
		domain.LangUZ: "Сўровни бошлаш учун 'Сўров' тугмасини босинг",
		domain.LangEN: "Press the 'Start' button to start survey",
		domain.LangKK: "Сураўды бастаў үшін «Бастаў» дегенге басыңыз.",
	},
	KeySurveyCancelled: {
		domain.LangRU: "Опрос был прерван.", domain.LangUZ: "Сўров тухтатилди.",
		domain.LangEN: "The survey was cancelled.", domain.LangKK: "Сауалнама тоқтатылды.",
	},
	KeyFinishResult: {
		domain.LangRU: "Ваш результат:", domain.LangUZ: "Сизнинг натижангиз:",
		domain.LangEN: "Your result:", domain.LangKK: "Сиздиң натийжеңіз:",
	},
	KeyRiskLow: {
		domain.LangRU: "Низкий риск", domain.LangUZ: "Кам хавф",
		domain.LangEN: "Low risk", domain.LangKK: "Аз қауып",
	},
	KeyRiskMedium: {
		domain.LangRU: "Средний риск", domain.LangUZ: "Ўртача хавф",
		domain.LangEN: "Medium risk", domain.LangKK: "Орташа қауып",
	},
	KeyRiskHigh: {
		domain.LangRU: "Высокий риск", domain.LangUZ: "Юқори хавф",
		domain.LangEN: "High risk", domain.LangKK: "Жоғары қауып",
	},
	KeyErrorGeneric: {
		domain.LangRU: "Произошла ошибка. Попробуйте ещё раз.",
		domain.LangUZ: "Хатолик юз берди. Қайта уриниб кўринг.",
		domain.LangEN: "Something went wrong. Please try again.",
		domain.LangKK: "Қателик орын алды. Қайталап көріңіз.",
	},
	KeyRateLimited: {
		domain.LangRU: "Слишком быстро. Подождите немного и повторите ответ.",
		domain.LangUZ: "Жуда тез. Бироз кутинг ва жавобни қайтаринг.",
		domain.LangEN: "Too fast. Please wait a moment and repeat your answer.",
		domain.LangKK: "Тым жылдам. Сәл күтіп, жауапты қайталаңыз.",
	},
}

var buttons = map[ButtonKey]map[domain.Language]string{
	ButtonYes:     {domain.LangRU: "Да", domain.LangUZ: "Ха", domain.LangEN: "Yes", domain.LangKK: "Иә"},
	ButtonNo:      {domain.LangRU: "Нет", domain.LangUZ: "Йўк", domain.LangEN: "No", domain.LangKK: "Жоқ"},
	ButtonStart:   {domain.LangRU: "Начать", domain.LangUZ: "Бошлаш", domain.LangEN: "Start", domain.LangKK: "Бастау"},
	ButtonRestart: {domain.LangRU: "Завершить", domain.LangUZ: "Якунлаш", domain.LangEN: "Finish", domain.LangKK: "Аяқтау"},
}

// Text returns the message for the given key in the given language.
func Text(lang domain.Language, key TextKey) (string, error) {
	if !lang.Valid() {
		return "", ErrUnsupportedLanguage
	}
	byLang, ok := texts[key]
	if !ok {
		return "", ErrUnknownKey
	}
	return byLang[lang], nil
}

// ButtonLabel returns the reply-keyboard label for the given button.
func ButtonLabel(lang domain.Language, button ButtonKey) (string, error) {
	if !lang.Valid() {
		return "", ErrUnsupportedLanguage
	}
	byLang, ok := buttons[button]
	if !ok {
		return "", ErrUnknownKey
	}
	return byLang[lang], nil
}

// RiskText maps a risk tier to its localized label.
func RiskText(lang domain.Language, tier domain.RiskTier) (string, error) {
	switch tier {
	case domain.RiskLow:
		return Text(lang, KeyRiskLow)
	case domain.RiskMedium:
		return Text(lang, KeyRiskMedium)
	case domain.RiskHigh:
		return Text(lang, KeyRiskHigh)
	default:
		return "", ErrUnknownKey
	}
}

// TextKeys lists every message key (tests assert table totality over it).
func TextKeys() []TextKey {
	return []TextKey{
		KeyQuestionLabel, KeyChooseLanguageHint, KeySurveyStartButton,
		KeySurveyCancelled, KeyFinishResult, KeyRiskLow, KeyRiskMedium,
		KeyRiskHigh, KeyErrorGeneric, KeyRateLimited,
	}
}

// ButtonKeys lists every button key.
func ButtonKeys() []ButtonKey {
	return []ButtonKey{ButtonYes, ButtonNo, ButtonStart, ButtonRestart}
}
