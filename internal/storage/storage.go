// Package storage persists users, questions and survey results in
// PostgreSQL. All operations are bounded by a configurable timeout; an
// expired deadline surfaces as ErrStorageUnavailable so callers can degrade
// gracefully instead of blocking the conversation.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"log/slog"

	"github.com/m3rciful/mchatbot/core/logger"
	"github.com/m3rciful/mchatbot/internal/domain"
)

var (
	// ErrUserNotFound is returned when no row exists for the telegram id.
	ErrUserNotFound = errors.New("storage: user not found")
	// ErrCursorConflict signals a concurrent write advanced the cursor first.
	ErrCursorConflict = errors.New("storage: question cursor conflict")
	// ErrNoQuestionsConfigured is returned when the questions table is empty.
	ErrNoQuestionsConfigured = errors.New("storage: no questions configured")
	// ErrStorageUnavailable wraps deadline and connectivity failures.
	ErrStorageUnavailable = errors.New("storage: unavailable")
)

// Store wraps the database handle with per-operation deadlines.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// New creates a Store. A non-positive timeout falls back to 3 seconds.
func New(db *sqlx.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Store{db: db, timeout: timeout}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// userRow mirrors the users table; answers arrive as raw JSONB.
type userRow struct {
	ID             int64           `db:"id"`
	TelegramID     int64           `db:"telegram_id"`
	Username       string          `db:"username"`
	Language       domain.Language `db:"language"`
	State          domain.State    `db:"state"`
	QuestionCursor int             `db:"question_cursor"`
	Answers        []byte          `db:"answers"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

func (r userRow) toDomain() (domain.User, error) {
	u := domain.User{
		ID:             r.ID,
		TelegramID:     r.TelegramID,
		Username:       r.Username,
		Language:       r.Language,
		State:          r.State,
		QuestionCursor: r.QuestionCursor,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if len(r.Answers) > 0 {
		if err := json.Unmarshal(r.Answers, &u.Answers); err != nil {
			return domain.User{}, fmt.Errorf("decode answers: %w", err)
		}
	}
	return u, nil
}

const userColumns = `id, telegram_id, username, language, state, question_cursor, answers, created_at, updated_at`

// GetOrCreate upserts the user keyed by telegram id. A new row starts in
// awaiting_language with an empty attempt; an existing row only refreshes
// username and language, and only when they actually changed.
func (s *Store) GetOrCreate(ctx context.Context, telegramID int64, username string, lang domain.Language) (domain.User, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if !lang.Valid() {
		lang = domain.LangRU
	}

	var row userRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO users (telegram_id, username, language, state, question_cursor, answers)
		VALUES ($1, $2, $3, $4, 0, '[]'::jsonb)
		ON CONFLICT (telegram_id) DO UPDATE
		SET username = EXCLUDED.username,
		    language = EXCLUDED.language,
		    updated_at = NOW()
		WHERE (users.username, users.language) IS DISTINCT FROM (EXCLUDED.username, EXCLUDED.language)
		RETURNING `+userColumns,
		telegramID, username, lang, domain.StateAwaitingLanguage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict with nothing to change: the guarded upsert wrote no row,
		// read the existing one.
		err = s.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID)
	}
	if err != nil {
		return domain.User{}, mapErr("get_or_create user", err)
	}
	return row.toDomain()
}

// Get fetches the user by telegram id.
func (s *Store) Get(ctx context.Context, telegramID int64) (domain.User, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, mapErr("get user", err)
	}
	return row.toDomain()
}

// SetState moves the user to the given conversation state.
func (s *Store) SetState(ctx context.Context, telegramID int64, state domain.State) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET state = $2, updated_at = NOW() WHERE telegram_id = $1`,
		telegramID, state,
	)
	if err != nil {
		return mapErr("set state", err)
	}
	return affectedOrNotFound(res, "set state")
}

// ResetForNewAttempt clears the in-flight attempt (cursor and answers) and
// moves the user to nextState. Historical survey results are untouched.
func (s *Store) ResetForNewAttempt(ctx context.Context, telegramID int64, nextState domain.State) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET state = $2, question_cursor = 0, answers = '[]'::jsonb, updated_at = NOW()
		WHERE telegram_id = $1`,
		telegramID, nextState,
	)
	if err != nil {
		return mapErr("reset attempt", err)
	}
	return affectedOrNotFound(res, "reset attempt")
}

// RecordAnswer appends the answer and advances the cursor in one statement,
// guarded by a compare-and-swap on the stored cursor. A concurrent write
// that advanced the cursor first yields ErrCursorConflict.
func (s *Store) RecordAnswer(ctx context.Context, telegramID int64, expectedCursor int, answer domain.Answer) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	encoded, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("record answer: encode: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET answers = answers || $3::jsonb,
		    question_cursor = question_cursor + 1,
		    updated_at = NOW()
		WHERE telegram_id = $1 AND question_cursor = $2`,
		telegramID, expectedCursor, string(encoded),
	)
	if err != nil {
		return mapErr("record answer", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr("record answer", err)
	}
	if n == 0 {
		var exists bool
		if err := s.db.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM users WHERE telegram_id = $1)`, telegramID); err != nil {
			return mapErr("record answer", err)
		}
		if !exists {
			return ErrUserNotFound
		}
		logger.Warn(ctx, "service.survey", "answer.cursor_conflict",
			slog.Int64("user_id", telegramID),
			slog.Int("cursor", expectedCursor),
		)
		return ErrCursorConflict
	}
	return nil
}

// ListQuestionsOrdered returns all questions sorted by number.
func (s *Store) ListQuestionsOrdered(ctx context.Context) ([]domain.Question, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var questions []domain.Question
	err := s.db.SelectContext(ctx, &questions,
		`SELECT id, number, text_ru, text_uz, text_en, text_kk FROM questions ORDER BY number`)
	if err != nil {
		return nil, mapErr("list questions", err)
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestionsConfigured
	}
	return questions, nil
}

// CreateResult appends a completed attempt.
func (s *Store) CreateResult(ctx context.Context, userID int64, score int, tier domain.RiskTier) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO survey_results (user_id, score, risk_level) VALUES ($1, $2, $3)`,
		userID, score, tier,
	)
	return mapErr("create result", err)
}

// CountUsers returns the total number of known users.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, mapErr("count users", err)
	}
	return n, nil
}

// CountResultsByTier returns completed attempt counts grouped by risk tier.
func (s *Store) CountResultsByTier(ctx context.Context) (map[domain.RiskTier]int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows := []struct {
		RiskLevel domain.RiskTier `db:"risk_level"`
		Count     int             `db:"count"`
	}{}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT risk_level, COUNT(*) AS count FROM survey_results GROUP BY risk_level`)
	if err != nil {
		return nil, mapErr("count results", err)
	}

	out := make(map[domain.RiskTier]int, len(rows))
	for _, r := range rows {
		out[r.RiskLevel] = r.Count
	}
	return out, nil
}

func affectedOrNotFound(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(op, err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
