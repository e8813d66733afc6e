package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/m3rciful/mchatbot/internal/domain"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

var (
	pgOnce sync.Once
	pgDSN  string
	pgErr  error
)

// setupTestDB starts a shared PostgreSQL container (once for the whole test
// run), applies the repo migrations and returns a fresh connection to it.
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("requires docker")
	}

	pgOnce.Do(func() {
		pgDSN, pgErr = startPostgresAndMigrate()
	})
	if pgErr != nil {
		t.Fatalf("setup test db: %v", pgErr)
	}

	db, err := sqlx.Connect("postgres", pgDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func startPostgresAndMigrate() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "mchat_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return "", fmt.Errorf("mapped port: %w", err)
	}

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/mchat_test?sslmode=disable", host, port.Port())

	m, err := migrate.New("file://"+migrationsDir(), dsn)
	if err != nil {
		return "", fmt.Errorf("init migrations: %w", err)
	}
	if err := m.Up(); err != nil {
		return "", fmt.Errorf("apply migrations: %w", err)
	}
	return dsn, nil
}

// migrationsDir resolves migrations/ at the repo root relative to this file.
func migrationsDir() string {
	_, current, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(current), "..", "..", "migrations")
}

func TestGetOrCreateIdempotent(t *testing.T) {
	store := New(setupTestDB(t), 5*time.Second)
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, 700100, "parent", domain.LangEN)
	require.NoError(t, err)
	require.NotZero(t, first.ID)
	assert.Equal(t, int64(700100), first.TelegramID)
	assert.Equal(t, "parent", first.Username)
	assert.Equal(t, domain.LangEN, first.Language)
	assert.Equal(t, domain.StateAwaitingLanguage, first.State)
	assert.Zero(t, first.QuestionCursor)
	assert.Empty(t, first.Answers)

	// The second identical call must not touch the row, and the no-op path
	// must still return it in full.
	second, err := store.GetOrCreate(ctx, 700100, "parent", domain.LangEN)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Username, second.Username)
	assert.Equal(t, first.Language, second.Language)
	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.QuestionCursor, second.QuestionCursor)
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))
	assert.True(t, second.UpdatedAt.Equal(first.UpdatedAt), "no-op upsert must leave updated_at untouched")

	// A changed username takes the update path and moves updated_at.
	third, err := store.GetOrCreate(ctx, 700100, "parent2", domain.LangEN)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, "parent2", third.Username)
	assert.False(t, third.UpdatedAt.Before(second.UpdatedAt))
	assert.Equal(t, first.State, third.State, "the upsert must never reset conversation progress")
}

func TestGetOrCreateKeepsConversationProgress(t *testing.T) {
	store := New(setupTestDB(t), 5*time.Second)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, 700200, "parent", domain.LangRU)
	require.NoError(t, err)
	require.NoError(t, store.ResetForNewAttempt(ctx, 700200, domain.StateAskingQuestion))
	require.NoError(t, store.RecordAnswer(ctx, 700200, 0, domain.Answer{QuestionNumber: 1, Value: domain.AnswerYes}))

	u, err := store.GetOrCreate(ctx, 700200, "parent", domain.LangRU)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAskingQuestion, u.State)
	assert.Equal(t, 1, u.QuestionCursor)
	require.Len(t, u.Answers, 1)
	assert.Equal(t, domain.AnswerYes, u.Answers[0].Value)
}

func TestRecordAnswerRejectsStaleCursor(t *testing.T) {
	store := New(setupTestDB(t), 5*time.Second)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, 700300, "parent", domain.LangRU)
	require.NoError(t, err)
	require.NoError(t, store.ResetForNewAttempt(ctx, 700300, domain.StateAskingQuestion))

	ans := domain.Answer{QuestionNumber: 1, Value: domain.AnswerNo}
	require.NoError(t, store.RecordAnswer(ctx, 700300, 0, ans))

	// Replaying the same cursor must not double-append.
	err = store.RecordAnswer(ctx, 700300, 0, ans)
	require.ErrorIs(t, err, ErrCursorConflict)

	u, err := store.Get(ctx, 700300)
	require.NoError(t, err)
	assert.Equal(t, 1, u.QuestionCursor)
	assert.Len(t, u.Answers, 1)
}
