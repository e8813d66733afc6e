// Package bot wires the conversation engine to Telegram: command registry,
// text routing, reply delivery and the admin statistics command.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"log/slog"

	"github.com/m3rciful/mchatbot/core/logger"
	coretelegram "github.com/m3rciful/mchatbot/core/telegram"
	"github.com/m3rciful/mchatbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/mchatbot/core/telegram/helpers"
	"github.com/m3rciful/mchatbot/core/telegram/keyboard"
	"github.com/m3rciful/mchatbot/core/telegram/middleware"
	"github.com/m3rciful/mchatbot/internal/domain"
	"github.com/m3rciful/mchatbot/internal/localization"
	"github.com/m3rciful/mchatbot/internal/storage"
	"github.com/m3rciful/mchatbot/internal/survey"

	tele "gopkg.in/telebot.v4"
)

// StatsStore is the read surface of the /stats command.
type StatsStore interface {
	Get(ctx context.Context, telegramID int64) (domain.User, error)
	CountUsers(ctx context.Context) (int, error)
	CountResultsByTier(ctx context.Context) (map[domain.RiskTier]int, error)
}

// Wiring bundles the dependencies of the bot handlers.
type Wiring struct {
	Engine *survey.Engine
	Store  StatsStore

	reg *coretelegram.Registry
}

// BuildRegistry registers the bot commands and the text fallback.
func BuildRegistry(w Wiring) *coretelegram.Registry {
	reg := coretelegram.NewRegistry()
	w.reg = reg

	reg.RegisterCommand("/start", commands.Command{
		Handler:     w.handleText,
		Description: "Restart the conversation",
	})
	reg.RegisterCommand("/stats", commands.Command{
		Handler:     w.handleStats,
		Description: "Usage statistics",
		AdminOnly:   true,
		Hidden:      true,
	})
	reg.SetTextFallback(w.handleText)

	return reg
}

// handleText routes every plain message (and /start) through the engine and
// delivers the produced replies. Every turn ends with a summary log carrying
// the message counters collected by the metrics middleware.
func (w Wiring) handleText(c tele.Context) error {
	start := time.Now()
	sender := c.Sender()
	if sender == nil || c.Message() == nil {
		return nil
	}

	name := w.turnHandlerName(c.Text())
	ctx := tghelpers.WithHandler(c, name)
	err := w.runTurn(ctx, c, sender)
	logTurnSummary(ctx, c, name, start, err)
	return err
}

func (w Wiring) runTurn(ctx context.Context, c tele.Context, sender *tele.User) error {
	in := survey.Inbound{
		UserID:   sender.ID,
		Username: sender.Username,
		Text:     c.Text(),
	}

	replies, err := w.Engine.Handle(ctx, in)
	if err != nil {
		logger.Error(ctx, "service.survey", "turn.failed",
			slog.Int64("user_id", sender.ID),
			slog.String("err", err.Error()),
		)
		if errors.Is(err, storage.ErrStorageUnavailable) {
			// Transient: propagate so the webhook response stays non-2xx
			// and the update gets redelivered.
			return err
		}
		return w.sendGenericError(ctx, c, sender.ID)
	}

	for _, reply := range replies {
		if err := sendReply(c, reply); err != nil {
			return err
		}
	}
	return nil
}

// turnHandlerName resolves the summary-log handler name: registered commands
// log under their own name, plain text under the fallback name.
func (w Wiring) turnHandlerName(text string) string {
	if w.reg != nil {
		if key, _, ok := w.reg.LookupCommand(text); ok {
			return strings.TrimPrefix(key, "/")
		}
	}
	return "survey.text"
}

// logTurnSummary emits the per-turn summary: status, sent-message counters
// from the metrics middleware and the rounded duration. Under trace override
// the inbound text is included verbatim (truncated).
func logTurnSummary(ctx context.Context, c tele.Context, handler string, start time.Time, err error) {
	msgs, kb := middleware.GetCounters(c)
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.String("handler", handler),
		slog.Int("messages", msgs),
		slog.Bool("kb", kb),
		slog.Int64("duration_ms", logger.Took(start).Milliseconds()),
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
	}
	if logger.TraceEnabled() {
		attrs = append(attrs, slog.String("text", logger.SanitizeLimit(c.Text(), 256)))
	}
	logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "handler.handled", attrs...)
}

// userLanguage reads the sender's stored language, defaulting to Russian
// when the user is unknown or the stored value is invalid.
func (w Wiring) userLanguage(ctx context.Context, userID int64) domain.Language {
	if u, err := w.Store.Get(ctx, userID); err == nil && u.Language.Valid() {
		return u.Language
	}
	return domain.LangRU
}

func (w Wiring) localizedText(ctx context.Context, userID int64, key localization.TextKey) string {
	text, err := localization.Text(w.userLanguage(ctx, userID), key)
	if err != nil {
		text, _ = localization.Text(domain.LangRU, key)
	}
	return text
}

// sendGenericError sends the localized fallback message in the sender's
// stored language. Best effort: a failing lookup must not mask the turn error.
func (w Wiring) sendGenericError(ctx context.Context, c tele.Context, userID int64) error {
	return tghelpers.SendText(c, w.localizedText(ctx, userID, localization.KeyErrorGeneric))
}

// handleRateLimited answers a throttled message with a localized hint instead
// of dropping it silently; the user can simply repeat the answer.
func (w Wiring) handleRateLimited(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	ctx := tghelpers.WithHandler(c, "rate_limited")
	return tghelpers.SendText(c, w.localizedText(ctx, sender.ID, localization.KeyRateLimited))
}

func sendReply(c tele.Context, reply survey.Reply) error {
	if len(reply.Keyboard) == 0 {
		return tghelpers.SendText(c, reply.Text)
	}
	return tghelpers.SendWithKeyboard(c, reply.Text, keyboard.ReplyGrid(reply.Keyboard))
}

// handleStats reports user and per-tier result counts. Access control is
// enforced by the admin middleware around admin-only commands.
func (w Wiring) handleStats(c tele.Context) error {
	start := time.Now()
	ctx := tghelpers.WithHandler(c, "stats")
	err := w.statsTurn(ctx, c)
	logTurnSummary(ctx, c, "stats", start, err)
	return err
}

func (w Wiring) statsTurn(ctx context.Context, c tele.Context) error {
	users, err := w.Store.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	byTier, err := w.Store.CountResultsByTier(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Users: %d\n", users)

	total := 0
	tiers := make([]domain.RiskTier, 0, len(byTier))
	for tier, n := range byTier {
		total += n
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })

	fmt.Fprintf(&b, "Completed surveys: %d\n", total)
	for _, tier := range tiers {
		fmt.Fprintf(&b, "  %s: %d\n", tier, byTier[tier])
	}

	return tghelpers.SendText(c, strings.TrimRight(b.String(), "\n"))
}
