package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/mchatbot/core/logger"
	coretelegram "github.com/m3rciful/mchatbot/core/telegram"
	"github.com/m3rciful/mchatbot/core/telegram/commands"
	"github.com/m3rciful/mchatbot/internal/domain"
	"github.com/m3rciful/mchatbot/internal/localization"
	"github.com/m3rciful/mchatbot/internal/storage"

	tele "gopkg.in/telebot.v4"
)

type fakeStatsStore struct {
	users map[int64]domain.User
}

func (f fakeStatsStore) Get(_ context.Context, telegramID int64) (domain.User, error) {
	u, ok := f.users[telegramID]
	if !ok {
		return domain.User{}, storage.ErrUserNotFound
	}
	return u, nil
}

func (f fakeStatsStore) CountUsers(context.Context) (int, error) { return len(f.users), nil }

func (f fakeStatsStore) CountResultsByTier(context.Context) (map[domain.RiskTier]int, error) {
	return nil, nil
}

type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func newOfflineContext(t *testing.T, text string) tele.Context {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{Token: "test-token", Offline: true})
	require.NoError(t, err)
	return b.NewContext(tele.Update{Message: &tele.Message{
		Text:   text,
		Sender: &tele.User{ID: 5},
		Chat:   &tele.Chat{ID: 5},
	}})
}

func TestTurnHandlerNameResolvesCommands(t *testing.T) {
	w := Wiring{}
	assert.Equal(t, "survey.text", w.turnHandlerName("/start"), "no registry means the fallback name")

	reg := coretelegram.NewRegistry()
	noop := func(tele.Context) error { return nil }
	reg.RegisterCommand("/start", commands.Command{Handler: noop, Description: "restart"})
	reg.RegisterCommand("/stats", commands.Command{Handler: noop, Description: "stats"})
	w.reg = reg

	assert.Equal(t, "start", w.turnHandlerName("/start"))
	assert.Equal(t, "stats", w.turnHandlerName("/stats"))
	assert.Equal(t, "survey.text", w.turnHandlerName("Да"))
	assert.Equal(t, "survey.text", w.turnHandlerName("/unknown"))
}

func TestTurnSummaryCarriesCounters(t *testing.T) {
	capture := &captureHandler{}
	old := logger.TG
	logger.TG = slog.New(capture)
	defer func() { logger.TG = old }()

	c := newOfflineContext(t, "Да")
	c.Set("messages", 2)
	c.Set("kb", true)

	logTurnSummary(context.Background(), c, "start", time.Now(), nil)

	require.Len(t, capture.records, 1)
	rec := capture.records[0]
	assert.Equal(t, "handler.handled", rec.Message)

	attrs := map[string]slog.Value{}
	rec.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value
		return true
	})
	assert.Equal(t, "ok", attrs["status"].String())
	assert.Equal(t, "start", attrs["handler"].String())
	assert.Equal(t, int64(2), attrs["messages"].Int64())
	assert.True(t, attrs["kb"].Bool())
	assert.Contains(t, attrs, "duration_ms")
}

func TestTurnSummaryReportsError(t *testing.T) {
	capture := &captureHandler{}
	old := logger.TG
	logger.TG = slog.New(capture)
	defer func() { logger.TG = old }()

	c := newOfflineContext(t, "Да")
	logTurnSummary(context.Background(), c, "survey.text", time.Now(), errors.New("boom"))

	require.Len(t, capture.records, 1)
	attrs := map[string]slog.Value{}
	capture.records[0].Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value
		return true
	})
	assert.Equal(t, "error", attrs["status"].String())
	assert.Equal(t, "boom", attrs["err"].String())
	assert.Equal(t, int64(0), attrs["messages"].Int64(), "no counters were written")
}

func TestLocalizedTextUsesStoredLanguage(t *testing.T) {
	w := Wiring{Store: fakeStatsStore{users: map[int64]domain.User{
		7: {TelegramID: 7, Language: domain.LangEN},
	}}}
	ctx := context.Background()

	want, err := localization.Text(domain.LangEN, localization.KeyRateLimited)
	require.NoError(t, err)
	assert.Equal(t, want, w.localizedText(ctx, 7, localization.KeyRateLimited))

	// Unknown senders fall back to Russian.
	wantRU, err := localization.Text(domain.LangRU, localization.KeyRateLimited)
	require.NoError(t, err)
	assert.Equal(t, wantRU, w.localizedText(ctx, 99, localization.KeyRateLimited))
}
