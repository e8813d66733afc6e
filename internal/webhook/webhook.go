// Package webhook receives Telegram updates over HTTP and feeds them into
// the bot. The endpoint is tolerant by contract: provider redeliveries are
// absorbed by an update-id dedupe set, and any update that reached the
// handlers is acknowledged 200 regardless of internal failures so Telegram
// does not retry it forever.
package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"log/slog"

	"github.com/m3rciful/mchatbot/core/logger"
	coretelegram "github.com/m3rciful/mchatbot/core/telegram"

	tele "gopkg.in/telebot.v4"
)

const (
	defaultPath      = "/webhook"
	defaultDedupeTTL = 10 * time.Minute
	maxBodyBytes     = 1 << 20
)

// Options configure the webhook handler.
type Options struct {
	// Path is the webhook route, "/webhook" when empty.
	Path string
	// DedupeTTL bounds how long processed update ids are remembered.
	DedupeTTL time.Duration
	// Retry, when set, lets handlers flag a turn as transiently failed so
	// the response turns non-2xx and the provider redelivers the update.
	Retry *RetryRegistry
}

// RetryRegistry carries the "this turn failed transiently" signal from the
// update pipeline back to the webhook response writer.
type RetryRegistry struct {
	mu  sync.Mutex
	ids map[int]struct{}
}

// NewRetryRegistry creates an empty registry.
func NewRetryRegistry() *RetryRegistry {
	return &RetryRegistry{ids: make(map[int]struct{})}
}

// Mark flags the update as retryable.
func (r *RetryRegistry) Mark(updateID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[updateID] = struct{}{}
}

// Take reports and clears the retryable flag for the update.
func (r *RetryRegistry) Take(updateID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[updateID]
	if ok {
		delete(r.ids, updateID)
	}
	return ok
}

// Handler serves the webhook endpoint.
type Handler struct {
	client *coretelegram.Client
	router chi.Router

	retry *RetryRegistry

	seenMu  sync.Mutex
	seen    map[int]time.Time
	seenTTL time.Duration
}

// NewHandler builds the chi-routed webhook handler. The bot behind client is
// constructed lazily on the first delivered update.
func NewHandler(client *coretelegram.Client, opts Options) *Handler {
	path := opts.Path
	if path == "" {
		path = defaultPath
	}
	ttl := opts.DedupeTTL
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}

	h := &Handler{
		client:  client,
		retry:   opts.Retry,
		seen:    make(map[int]time.Time),
		seenTTL: ttl,
	}

	r := chi.NewRouter()
	r.Post(path, h.handleUpdate)
	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var update tele.Update
	if err := json.Unmarshal(body, &update); err != nil {
		logger.TG.Warn("malformed webhook payload",
			slog.String("event", "webhook.malformed"),
			slog.String("err", err.Error()),
		)
		http.Error(w, "malformed update", http.StatusBadRequest)
		return
	}

	if h.alreadyProcessed(update.ID) {
		logger.TG.Debug("duplicate update dropped",
			slog.String("event", "webhook.duplicate"),
			slog.Int("update_id", update.ID),
		)
		writeOK(w)
		return
	}

	bot, err := h.client.Bot()
	if err != nil {
		// Without a bot instance the update was not processed; let the
		// provider redeliver it.
		h.forget(update.ID)
		logger.TG.Error("bot unavailable",
			slog.String("event", "webhook.bot_unavailable"),
			slog.String("err", err.Error()),
		)
		http.Error(w, "bot unavailable", http.StatusInternalServerError)
		return
	}

	// Handler-level failures are dealt with inside the update pipeline
	// (generic user-facing message); the webhook response stays 200 either
	// way so Telegram does not redeliver.
	bot.ProcessUpdate(update)
	if h.retry != nil && h.retry.Take(update.ID) {
		// Transient failure: drop the dedupe record and answer non-2xx so
		// the provider redelivers the update later.
		h.forget(update.ID)
		logger.TG.Warn("update deferred",
			slog.String("event", "webhook.retryable"),
			slog.Int("update_id", update.ID),
		)
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	writeOK(w)
}

// alreadyProcessed records the update id and reports whether it was seen
// within the TTL window. Expired entries are swept on each call.
func (h *Handler) alreadyProcessed(updateID int) bool {
	now := time.Now()
	h.seenMu.Lock()
	defer h.seenMu.Unlock()
	for id, ts := range h.seen {
		if now.Sub(ts) > h.seenTTL {
			delete(h.seen, id)
		}
	}
	if _, ok := h.seen[updateID]; ok {
		return true
	}
	h.seen[updateID] = now
	return false
}

func (h *Handler) forget(updateID int) {
	h.seenMu.Lock()
	defer h.seenMu.Unlock()
	delete(h.seen, updateID)
}

func writeOK(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
