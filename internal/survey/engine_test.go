package survey

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/mchatbot/internal/domain"
	"github.com/m3rciful/mchatbot/internal/storage"
)

type fakeStore struct {
	mu        sync.Mutex
	users     map[int64]*domain.User
	questions []domain.Question
	results   []domain.SurveyResult
	nextID    int64
}

func newFakeStore(questions ...domain.Question) *fakeStore {
	return &fakeStore{
		users:     make(map[int64]*domain.User),
		questions: questions,
	}
}

func (f *fakeStore) GetOrCreate(_ context.Context, telegramID int64, username string, lang domain.Language) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[telegramID]; ok {
		u.Username = username
		u.Language = lang
		return *u, nil
	}
	f.nextID++
	u := &domain.User{
		ID:         f.nextID,
		TelegramID: telegramID,
		Username:   username,
		Language:   lang,
		State:      domain.StateAwaitingLanguage,
	}
	f.users[telegramID] = u
	return *u, nil
}

func (f *fakeStore) Get(_ context.Context, telegramID int64) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[telegramID]
	if !ok {
		return domain.User{}, storage.ErrUserNotFound
	}
	return *u, nil
}

func (f *fakeStore) SetState(_ context.Context, telegramID int64, state domain.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[telegramID]
	if !ok {
		return storage.ErrUserNotFound
	}
	u.State = state
	return nil
}

func (f *fakeStore) ResetForNewAttempt(_ context.Context, telegramID int64, nextState domain.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[telegramID]
	if !ok {
		return storage.ErrUserNotFound
	}
	u.State = nextState
	u.QuestionCursor = 0
	u.Answers = nil
	return nil
}

func (f *fakeStore) RecordAnswer(_ context.Context, telegramID int64, expectedCursor int, answer domain.Answer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[telegramID]
	if !ok {
		return storage.ErrUserNotFound
	}
	if u.QuestionCursor != expectedCursor {
		return storage.ErrCursorConflict
	}
	u.Answers = append(u.Answers, answer)
	u.QuestionCursor++
	return nil
}

func (f *fakeStore) ListQuestionsOrdered(_ context.Context) ([]domain.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.questions) == 0 {
		return nil, storage.ErrNoQuestionsConfigured
	}
	out := make([]domain.Question, len(f.questions))
	copy(out, f.questions)
	return out, nil
}

func (f *fakeStore) CreateResult(_ context.Context, userID int64, score int, tier domain.RiskTier) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, domain.SurveyResult{UserID: userID, Score: score, RiskLevel: tier})
	return nil
}

func question(n int) domain.Question {
	return domain.Question{
		ID:     int64(n),
		Number: n,
		TextRU: fmt.Sprintf("вопрос %d", n),
		TextUZ: fmt.Sprintf("савол %d", n),
		TextEN: fmt.Sprintf("question %d", n),
		TextKK: fmt.Sprintf("сұрақ %d", n),
	}
}

func threeQuestions() []domain.Question {
	return []domain.Question{question(1), question(2), question(3)}
}

func TestStartShowsLanguageKeyboard(t *testing.T) {
	store := newFakeStore(threeQuestions()...)
	engine := New(store, Options{})

	replies, err := engine.Handle(context.Background(), Inbound{UserID: 10, Username: "alice", Text: "/start"})
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "выберите язык")
	require.Len(t, replies[0].Keyboard, 2)
	assert.Equal(t, []string{"Русский (ru)", "Ўзбек (uz)"}, replies[0].Keyboard[0])

	u, err := store.Get(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingLanguage, u.State)
}

func TestFirstContactActsAsLanguageChoice(t *testing.T) {
	store := newFakeStore(threeQuestions()...)
	engine := New(store, Options{})

	replies, err := engine.Handle(context.Background(), Inbound{UserID: 11, Username: "bob", Text: "English (en)"})
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "Press the 'Start' button to start survey", replies[0].Text)
	assert.Equal(t, [][]string{{"Start"}}, replies[0].Keyboard)

	u, err := store.Get(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, domain.LangEN, u.Language)
	assert.Equal(t, domain.StateAwaitingStart, u.State)
}

func TestTypedEnglishSelectsEnglish(t *testing.T) {
	store := newFakeStore(threeQuestions()...)
	engine := New(store, Options{})

	_, err := engine.Handle(context.Background(), Inbound{UserID: 13, Text: "english please"})
	require.NoError(t, err)

	u, err := store.Get(context.Background(), 13)
	require.NoError(t, err)
	assert.Equal(t, domain.LangEN, u.Language)
}

func TestLanguageFallbackToRussian(t *testing.T) {
	store := newFakeStore(threeQuestions()...)
	engine := New(store, Options{})

	_, err := engine.Handle(context.Background(), Inbound{UserID: 12, Text: "hola"})
	require.NoError(t, err)

	u, err := store.Get(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, domain.LangRU, u.Language)
}

func runThrough(t *testing.T, engine *Engine, userID int64, texts ...string) []Reply {
	t.Helper()
	var last []Reply
	for _, text := range texts {
		var err error
		last, err = engine.Handle(context.Background(), Inbound{UserID: userID, Username: "u", Text: text})
		require.NoErrorf(t, err, "text=%q", text)
	}
	return last
}

func TestFullSurveyYesEverywhere(t *testing.T) {
	store := newFakeStore(threeQuestions()...)
	engine := New(store, Options{})

	// Question 2 is reverse-scored, so all-"Yes" yields exactly one point.
	replies := runThrough(t, engine, 20,
		"/start", "English (en)", "go", "Yes", "Yes", "Yes")

	require.Len(t, replies, 2)
	assert.Equal(t, "Your result: 1. Low risk.", replies[0].Text)
	assert.Contains(t, replies[1].Text, "Returning to language selection")
	assert.Equal(t, [][]string{{"Русский (ru)", "Ўзбек (uz)"}, {"English (en)", "Qaraqalpaqsha (kk)"}}, replies[1].Keyboard)

	require.Len(t, store.results, 1)
	assert.Equal(t, 1, store.results[0].Score)
	assert.Equal(t, domain.RiskLow, store.results[0].RiskLevel)

	u, err := store.Get(context.Background(), 20)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingLanguage, u.State)
	assert.Zero(t, u.QuestionCursor)
	assert.Empty(t, u.Answers)
}

func TestQuestionPromptFormat(t *testing.T) {
	store := newFakeStore(threeQuestions()...)
	engine := New(store, Options{})

	replies := runThrough(t, engine, 21, "/start", "Русский (ru)", "поехали")
	require.Len(t, replies, 1)
	assert.Equal(t, "Вопрос 1: вопрос 1", replies[0].Text)
	assert.Equal(t, [][]string{{"Да", "Нет"}, {"Завершить"}}, replies[0].Keyboard)
}

// Any text other than the exact localized Yes label records "no".
func TestNonLabelAnswerFoldsToNo(t *testing.T) {
	store := newFakeStore(threeQuestions()...)
	engine := New(store, Options{})

	runThrough(t, engine, 22, "/start", "English (en)", "go", "absolutely!")

	u, err := store.Get(context.Background(), 22)
	require.NoError(t, err)
	require.Len(t, u.Answers, 1)
	assert.Equal(t, domain.AnswerNo, u.Answers[0].Value)
	assert.Equal(t, 1, u.QuestionCursor)
}

func TestFinishLabelCancelsAttempt(t *testing.T) {
	store := newFakeStore(threeQuestions()...)
	engine := New(store, Options{})

	replies := runThrough(t, engine, 23, "/start", "English (en)", "go", "Yes", "Finish")
	require.Len(t, replies, 2)
	assert.Equal(t, "The survey was cancelled.", replies[0].Text)
	assert.Contains(t, replies[1].Text, "Returning to language selection")

	assert.Empty(t, store.results, "cancellation must not write a result")

	u, err := store.Get(context.Background(), 23)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingLanguage, u.State)
	assert.Empty(t, u.Answers)
}

// The Finish label of a different language is an ordinary answer.
func TestForeignFinishLabelIsJustText(t *testing.T) {
	store := newFakeStore(threeQuestions()...)
	engine := New(store, Options{})

	runThrough(t, engine, 24, "/start", "English (en)", "go", "Завершить")

	u, err := store.Get(context.Background(), 24)
	require.NoError(t, err)
	require.Len(t, u.Answers, 1)
	assert.Equal(t, domain.AnswerNo, u.Answers[0].Value)
}

func TestStartMidSurveyResets(t *testing.T) {
	store := newFakeStore(threeQuestions()...)
	engine := New(store, Options{})

	replies := runThrough(t, engine, 25, "/start", "English (en)", "go", "Yes", "/start")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "Please choose a language")

	u, err := store.Get(context.Background(), 25)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingLanguage, u.State)
	assert.Empty(t, u.Answers)
	assert.Empty(t, store.results)
}

func TestEmptyQuestionnaireIsTurnFatal(t *testing.T) {
	store := newFakeStore()
	engine := New(store, Options{})

	runThrough(t, engine, 26, "/start", "English (en)")
	_, err := engine.Handle(context.Background(), Inbound{UserID: 26, Text: "go"})
	require.ErrorIs(t, err, storage.ErrNoQuestionsConfigured)

	// The user stays in awaiting_start and can retry once questions exist.
	u, getErr := store.Get(context.Background(), 26)
	require.NoError(t, getErr)
	assert.Equal(t, domain.StateAwaitingStart, u.State)
}

func TestHighRiskResult(t *testing.T) {
	questions := make([]domain.Question, 0, 10)
	for n := 1; n <= 10; n++ {
		questions = append(questions, question(n))
	}
	store := newFakeStore(questions...)
	engine := New(store, Options{})

	texts := []string{"/start", "English (en)", "go"}
	for i := 0; i < 10; i++ {
		texts = append(texts, "No")
	}
	replies := runThrough(t, engine, 27, texts...)

	// "No" everywhere scores on the 9 regular questions but not on the
	// reverse-scored ones present in the set (2 and 5).
	require.Len(t, replies, 2)
	assert.Equal(t, "Your result: 8. High risk.", replies[0].Text)
	require.Len(t, store.results, 1)
	assert.Equal(t, domain.RiskHigh, store.results[0].RiskLevel)
}

func TestConcurrentUsersProgressIndependently(t *testing.T) {
	store := newFakeStore(threeQuestions()...)
	engine := New(store, Options{})

	errCh := make(chan error, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		userID := int64(100 + i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, text := range []string{"/start", "English (en)", "go", "Yes", "Yes", "Yes"} {
				if _, err := engine.Handle(context.Background(), Inbound{UserID: userID, Username: "u", Text: text}); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	assert.Len(t, store.results, 8)
	for _, r := range store.results {
		assert.Equal(t, 1, r.Score)
	}
}
