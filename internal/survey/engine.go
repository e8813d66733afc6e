// Package survey implements the conversation state machine: language
// selection, the question loop and attempt completion. The engine is
// transport-agnostic; it consumes inbound text and produces replies, and the
// caller is responsible for delivery.
package survey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"log/slog"

	"github.com/m3rciful/mchatbot/core/logger"
	"github.com/m3rciful/mchatbot/internal/domain"
	"github.com/m3rciful/mchatbot/internal/localization"
	"github.com/m3rciful/mchatbot/internal/scoring"
	"github.com/m3rciful/mchatbot/internal/storage"
)

// Store is the persistence surface the engine depends on.
type Store interface {
	GetOrCreate(ctx context.Context, telegramID int64, username string, lang domain.Language) (domain.User, error)
	Get(ctx context.Context, telegramID int64) (domain.User, error)
	SetState(ctx context.Context, telegramID int64, state domain.State) error
	ResetForNewAttempt(ctx context.Context, telegramID int64, nextState domain.State) error
	RecordAnswer(ctx context.Context, telegramID int64, expectedCursor int, answer domain.Answer) error
	ListQuestionsOrdered(ctx context.Context) ([]domain.Question, error)
	CreateResult(ctx context.Context, userID int64, score int, tier domain.RiskTier) error
}

// Options tune scoring; zero values fall back to the M-CHAT-R defaults.
type Options struct {
	ReverseScored []int
	LowMax        int
	MediumMax     int
}

// Inbound is one user message.
type Inbound struct {
	UserID   int64
	Username string
	Text     string
}

// Reply is one outbound message, optionally with a reply keyboard.
type Reply struct {
	Text     string
	Keyboard [][]string
}

// Engine drives the conversation. Turns for the same user are serialized by
// a keyed lock; different users proceed without contention.
type Engine struct {
	store Store
	opts  Options

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// New creates an Engine over the given store.
func New(store Store, opts Options) *Engine {
	if len(opts.ReverseScored) == 0 {
		opts.ReverseScored = scoring.DefaultReverseScored
	}
	if opts.LowMax <= 0 {
		opts.LowMax = scoring.DefaultLowMax
	}
	if opts.MediumMax <= opts.LowMax {
		opts.MediumMax = scoring.DefaultMediumMax
	}
	return &Engine{
		store: store,
		opts:  opts,
		locks: make(map[int64]*sync.Mutex),
	}
}

func (e *Engine) lockFor(userID int64) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	mu, ok := e.locks[userID]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[userID] = mu
	}
	return mu
}

// Handle processes one inbound message and returns the replies to send.
// Progress is durably persisted before any reply is returned.
func (e *Engine) Handle(ctx context.Context, in Inbound) ([]Reply, error) {
	mu := e.lockFor(in.UserID)
	mu.Lock()
	defer mu.Unlock()

	text := strings.TrimSpace(in.Text)
	if text == "/start" {
		return e.restart(ctx, in)
	}

	user, err := e.store.Get(ctx, in.UserID)
	if errors.Is(err, storage.ErrUserNotFound) {
		// First contact: provision the row and treat the message as a
		// language choice.
		user, err = e.store.GetOrCreate(ctx, in.UserID, in.Username, domain.LangRU)
	}
	if err != nil {
		return nil, fmt.Errorf("survey: load user: %w", err)
	}

	switch user.State {
	case domain.StateAwaitingLanguage:
		return e.chooseLanguage(ctx, in, text)
	case domain.StateAwaitingStart:
		return e.startAttempt(ctx, user)
	case domain.StateAskingQuestion:
		return e.handleAnswer(ctx, user, text)
	default:
		return nil, fmt.Errorf("survey: user %d in unknown state %q", in.UserID, user.State)
	}
}

// restart handles /start from any state: the user is re-provisioned and the
// conversation returns to language selection. Historical results survive.
func (e *Engine) restart(ctx context.Context, in Inbound) ([]Reply, error) {
	lang := domain.LangRU
	if existing, err := e.store.Get(ctx, in.UserID); err == nil {
		lang = existing.Language
	} else if !errors.Is(err, storage.ErrUserNotFound) {
		return nil, fmt.Errorf("survey: load user: %w", err)
	}

	if _, err := e.store.GetOrCreate(ctx, in.UserID, in.Username, lang); err != nil {
		return nil, fmt.Errorf("survey: provision user: %w", err)
	}
	if err := e.store.ResetForNewAttempt(ctx, in.UserID, domain.StateAwaitingLanguage); err != nil {
		return nil, fmt.Errorf("survey: reset: %w", err)
	}

	logger.Debug(ctx, "service.survey", "conversation.restarted",
		slog.Int64("user_id", in.UserID),
	)
	return []Reply{languagePromptReply()}, nil
}

// chooseLanguage matches the language marker in the pressed button (or any
// typed text) and advances to awaiting_start. Unrecognized input falls back
// to Russian.
func (e *Engine) chooseLanguage(ctx context.Context, in Inbound, text string) ([]Reply, error) {
	lang := matchLanguage(text)

	if _, err := e.store.GetOrCreate(ctx, in.UserID, in.Username, lang); err != nil {
		return nil, fmt.Errorf("survey: set language: %w", err)
	}
	if err := e.store.SetState(ctx, in.UserID, domain.StateAwaitingStart); err != nil {
		return nil, fmt.Errorf("survey: set state: %w", err)
	}

	prompt, err := localization.Text(lang, localization.KeySurveyStartButton)
	if err != nil {
		return nil, fmt.Errorf("survey: localization: %w", err)
	}
	startLabel, err := localization.ButtonLabel(lang, localization.ButtonStart)
	if err != nil {
		return nil, fmt.Errorf("survey: localization: %w", err)
	}

	logger.Debug(ctx, "service.survey", "language.chosen",
		slog.Int64("user_id", in.UserID),
		slog.String("lang", string(lang)),
	)
	return []Reply{{Text: prompt, Keyboard: [][]string{{startLabel}}}}, nil
}

// startAttempt clears any previous attempt and asks the first question.
// An empty questionnaire is fatal for the turn and surfaced to the caller.
func (e *Engine) startAttempt(ctx context.Context, user domain.User) ([]Reply, error) {
	questions, err := e.store.ListQuestionsOrdered(ctx)
	if err != nil {
		return nil, fmt.Errorf("survey: load questions: %w", err)
	}
	if err := e.store.ResetForNewAttempt(ctx, user.TelegramID, domain.StateAskingQuestion); err != nil {
		return nil, fmt.Errorf("survey: reset: %w", err)
	}

	logger.Debug(ctx, "service.survey", "attempt.started",
		slog.Int64("user_id", user.TelegramID),
		slog.String("lang", string(user.Language)),
		slog.Int("count", len(questions)),
	)
	reply, err := questionReply(user.Language, questions[0])
	if err != nil {
		return nil, err
	}
	return []Reply{reply}, nil
}

// handleAnswer interprets one message during the question loop: the localized
// Finish label cancels the attempt, the exact localized Yes label records
// "yes", anything else records "no".
func (e *Engine) handleAnswer(ctx context.Context, user domain.User, text string) ([]Reply, error) {
	lang := user.Language

	finishLabel, err := localization.ButtonLabel(lang, localization.ButtonRestart)
	if err != nil {
		return nil, fmt.Errorf("survey: localization: %w", err)
	}
	if text == finishLabel {
		return e.cancelAttempt(ctx, user)
	}

	questions, err := e.store.ListQuestionsOrdered(ctx)
	if err != nil {
		return nil, fmt.Errorf("survey: load questions: %w", err)
	}
	if user.QuestionCursor >= len(questions) {
		// Cursor already past the end (e.g. the question set shrank between
		// turns): close out the attempt with what was recorded.
		return e.finishAttempt(ctx, user, user.Answers)
	}

	yesLabel, err := localization.ButtonLabel(lang, localization.ButtonYes)
	if err != nil {
		return nil, fmt.Errorf("survey: localization: %w", err)
	}
	value := domain.AnswerNo
	if text == yesLabel {
		value = domain.AnswerYes
	}

	answer := domain.Answer{
		QuestionNumber: questions[user.QuestionCursor].Number,
		Value:          value,
	}
	if err := e.store.RecordAnswer(ctx, user.TelegramID, user.QuestionCursor, answer); err != nil {
		return nil, fmt.Errorf("survey: record answer: %w", err)
	}

	logger.Debug(ctx, "service.survey", "answer.recorded",
		slog.Int64("user_id", user.TelegramID),
		slog.Int("question", answer.QuestionNumber),
		slog.Int("cursor", user.QuestionCursor+1),
	)

	next := user.QuestionCursor + 1
	if next < len(questions) {
		reply, err := questionReply(lang, questions[next])
		if err != nil {
			return nil, err
		}
		return []Reply{reply}, nil
	}

	return e.finishAttempt(ctx, user, append(user.Answers, answer))
}

// cancelAttempt drops the in-flight answers without writing a result row and
// returns to language selection.
func (e *Engine) cancelAttempt(ctx context.Context, user domain.User) ([]Reply, error) {
	if err := e.store.ResetForNewAttempt(ctx, user.TelegramID, domain.StateAwaitingLanguage); err != nil {
		return nil, fmt.Errorf("survey: reset: %w", err)
	}

	cancelled, err := localization.Text(user.Language, localization.KeySurveyCancelled)
	if err != nil {
		return nil, fmt.Errorf("survey: localization: %w", err)
	}
	back, err := backToLanguageReply(user.Language)
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "service.survey", "attempt.cancelled",
		slog.Int64("user_id", user.TelegramID),
	)
	return []Reply{{Text: cancelled}, back}, nil
}

// finishAttempt scores the answers, persists the result and resets the
// conversation. The result row is written before the reset so a crash in
// between never loses a completed attempt.
func (e *Engine) finishAttempt(ctx context.Context, user domain.User, answers []domain.Answer) ([]Reply, error) {
	score := scoring.Score(answers, e.opts.ReverseScored)
	tier := scoring.Tier(score, e.opts.LowMax, e.opts.MediumMax)

	if err := e.store.CreateResult(ctx, user.ID, score, tier); err != nil {
		return nil, fmt.Errorf("survey: store result: %w", err)
	}
	if err := e.store.ResetForNewAttempt(ctx, user.TelegramID, domain.StateAwaitingLanguage); err != nil {
		return nil, fmt.Errorf("survey: reset: %w", err)
	}

	resultText, err := localization.Text(user.Language, localization.KeyFinishResult)
	if err != nil {
		return nil, fmt.Errorf("survey: localization: %w", err)
	}
	riskText, err := localization.RiskText(user.Language, tier)
	if err != nil {
		return nil, fmt.Errorf("survey: localization: %w", err)
	}
	back, err := backToLanguageReply(user.Language)
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "service.survey", "attempt.finished",
		slog.Int64("user_id", user.TelegramID),
		slog.Int("score", score),
		slog.String("risk", string(tier)),
	)
	msg := fmt.Sprintf("%s %d. %s.", resultText, score, riskText)
	return []Reply{{Text: msg}, back}, nil
}

// matchLanguage finds a language marker via case-insensitive substring
// matching, exactly as the language keyboard labels embed them. Unmatched
// input defaults to Russian.
func matchLanguage(text string) domain.Language {
	lowered := strings.ToLower(text)
	switch {
	case strings.Contains(lowered, "ru"):
		return domain.LangRU
	case strings.Contains(lowered, "uz"):
		return domain.LangUZ
	case strings.Contains(lowered, "en"):
		return domain.LangEN
	case strings.Contains(lowered, "kk"):
		return domain.LangKK
	default:
		return domain.LangRU
	}
}

func questionReply(lang domain.Language, q domain.Question) (Reply, error) {
	label, err := localization.Text(lang, localization.KeyQuestionLabel)
	if err != nil {
		return Reply{}, fmt.Errorf("survey: localization: %w", err)
	}
	yes, err := localization.ButtonLabel(lang, localization.ButtonYes)
	if err != nil {
		return Reply{}, fmt.Errorf("survey: localization: %w", err)
	}
	no, err := localization.ButtonLabel(lang, localization.ButtonNo)
	if err != nil {
		return Reply{}, fmt.Errorf("survey: localization: %w", err)
	}
	finish, err := localization.ButtonLabel(lang, localization.ButtonRestart)
	if err != nil {
		return Reply{}, fmt.Errorf("survey: localization: %w", err)
	}
	return Reply{
		Text:     fmt.Sprintf("%s %d: %s", label, q.Number, q.Text(lang)),
		Keyboard: [][]string{{yes, no}, {finish}},
	}, nil
}

func languagePromptReply() Reply {
	return Reply{
		Text:     localization.LanguagePrompt,
		Keyboard: localization.LanguageKeyboard(),
	}
}

func backToLanguageReply(lang domain.Language) (Reply, error) {
	hint, err := localization.Text(lang, localization.KeyChooseLanguageHint)
	if err != nil {
		return Reply{}, fmt.Errorf("survey: localization: %w", err)
	}
	return Reply{Text: hint, Keyboard: localization.LanguageKeyboard()}, nil
}
