// Package domain holds the shared types of the screening conversation:
// languages, conversation states, answers, risk tiers and the persisted
// entities they attach to.
package domain

import "time"

// Language is one of the four interface languages offered by the bot.
type Language string

const (
	LangRU Language = "ru"
	LangUZ Language = "uz"
	LangEN Language = "en"
	LangKK Language = "kk"
)

// Languages lists every supported language in presentation order.
var Languages = []Language{LangRU, LangUZ, LangEN, LangKK}

// Valid reports whether l is one of the supported languages.
func (l Language) Valid() bool {
	switch l {
	case LangRU, LangUZ, LangEN, LangKK:
		return true
	}
	return false
}

// State is the persisted position of a user inside the conversation.
type State string

const (
	// StateAwaitingLanguage means the user was shown the language keyboard
	// and the next message is interpreted as a language choice.
	StateAwaitingLanguage State = "awaiting_language"
	// StateAwaitingStart means the language is set and any next message
	// begins a new survey attempt.
	StateAwaitingStart State = "awaiting_start"
	// StateAskingQuestion means a survey attempt is in flight and messages
	// are interpreted as answers.
	StateAskingQuestion State = "asking_question"
)

// Valid reports whether s is a known conversation state.
func (s State) Valid() bool {
	switch s {
	case StateAwaitingLanguage, StateAwaitingStart, StateAskingQuestion:
		return true
	}
	return false
}

// AnswerValue is the binary outcome recorded for a single question.
type AnswerValue string

const (
	AnswerYes AnswerValue = "yes"
	AnswerNo  AnswerValue = "no"
)

// Answer records the response to one question of an attempt.
type Answer struct {
	QuestionNumber int         `json:"question_number" db:"question_number"`
	Value          AnswerValue `json:"value" db:"value"`
}

// RiskTier is the screening outcome bucket derived from the final score.
type RiskTier string

const (
	RiskLow    RiskTier = "LOW"
	RiskMedium RiskTier = "MEDIUM"
	RiskHigh   RiskTier = "HIGH"
)

// User is the durable conversation record, one row per Telegram account.
// It is the single source of truth for survey progress.
type User struct {
	ID             int64     `db:"id"`
	TelegramID     int64     `db:"telegram_id"`
	Username       string    `db:"username"`
	Language       Language  `db:"language"`
	State          State     `db:"state"`
	QuestionCursor int       `db:"question_cursor"`
	Answers        []Answer  `db:"-"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Question is one item of the screening questionnaire, ordered by Number.
type Question struct {
	ID     int64  `db:"id"`
	Number int    `db:"number"`
	TextRU string `db:"text_ru"`
	TextUZ string `db:"text_uz"`
	TextEN string `db:"text_en"`
	TextKK string `db:"text_kk"`
}

// Text returns the question text in the given language, falling back to
// Russian for anything unexpected.
func (q Question) Text(lang Language) string {
	switch lang {
	case LangUZ:
		return q.TextUZ
	case LangEN:
		return q.TextEN
	case LangKK:
		return q.TextKK
	default:
		return q.TextRU
	}
}

// SurveyResult is one completed attempt. Rows are append-only.
type SurveyResult struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Score     int       `db:"score"`
	RiskLevel RiskTier  `db:"risk_level"`
	CreatedAt time.Time `db:"created_at"`
}
