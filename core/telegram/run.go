package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/mchatbot/core/config"
	"github.com/m3rciful/mchatbot/core/logger"
	tghelpers "github.com/m3rciful/mchatbot/core/telegram/helpers"
	"github.com/m3rciful/mchatbot/core/telegram/middleware"
	tgsender "github.com/m3rciful/mchatbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
	"log/slog"
)

// Middleware describes a global bot middleware to be registered via bot.Use.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// Route declares a single bot handler bound to an arbitrary endpoint.
// Endpoint values are passed directly to tele.Bot.Handle.
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// RunOptions controls the behaviour of RunTelegram.
type RunOptions struct {
	Config   *coreconfig.Config
	Registry *Registry

	DispatcherOptions tgsender.Options
	Dispatcher        *tgsender.Dispatcher

	Middlewares []Middleware
	Routes      []Route

	// WebhookHandler builds the HTTP handler served in webhook mode. The
	// handler receives the lazy client so the bot is only constructed when
	// the first update arrives.
	WebhookHandler func(*Client) http.Handler

	// OnError replaces telebot's default handler-error callback.
	OnError func(err error, c tele.Context)

	DisableWebhookCleanup   bool
	DisableHelperDispatcher bool

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime exposes runtime components to lifecycle hooks.
type Runtime struct {
	Dispatcher *tgsender.Dispatcher
	Registry   *Registry
	Client     *Client
}

// RunTelegram composes and runs a Telegram bot until the provided context is done.
// In longpoll mode the bot is built eagerly and polled; in webhook mode an HTTP
// server is started and the bot is built lazily on the first delivered update.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Config == nil {
		return fmt.Errorf("telegram: nil config provided")
	}

	cfg := opts.Config
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}

	webhookMode := strings.EqualFold(cfg.Telegram.RunMode, coreconfig.RunModeWebhook)

	client := NewClient(func() (*tele.Bot, error) {
		buildStart := time.Now()

		settings := tele.Settings{
			Token:   cfg.Telegram.Token,
			Client:  BuildHTTPClient(),
			OnError: opts.OnError,
		}
		if !webhookMode {
			timeout := 10 * time.Second
			if cfg.Telegram.LongPollTimeoutSeconds > 0 {
				timeout = time.Duration(cfg.Telegram.LongPollTimeoutSeconds) * time.Second
			}
			settings.Poller = &tele.LongPoller{Timeout: timeout}
		} else {
			// ProcessUpdate is fed by the HTTP server; no poller runs.
			settings.Synchronous = true
		}

		bot, err := tele.NewBot(settings)
		if err != nil {
			return nil, fmt.Errorf("telegram: bot initialization failed: %w", err)
		}

		for _, mw := range opts.Middlewares {
			if mw.Use == nil {
				continue
			}
			bot.Use(mw.Use)
		}
		for _, route := range opts.Routes {
			if route.Endpoint == nil || route.Handler == nil {
				continue
			}
			bot.Handle(route.Endpoint, route.Handler)
		}
		wireRegistry(bot, reg, cfg.Telegram.AdminID)
		InitBotCommands(bot, reg)

		logger.TG.Info("bot ready",
			slog.String("event", "bot.ready"),
			slog.Duration("duration", logger.RoundMS(time.Since(buildStart))),
		)
		return bot, nil
	})

	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = tgsender.NewDispatcher(opts.DispatcherOptions)
	}
	useHelperDispatcher := !opts.DisableHelperDispatcher
	if useHelperDispatcher {
		tghelpers.SetDispatcher(dispatcher)
	}

	rt := Runtime{
		Dispatcher: dispatcher,
		Registry:   reg,
		Client:     client,
	}

	shutdown := func() {
		dispatcher.Close()
		if useHelperDispatcher {
			tghelpers.SetDispatcher(nil)
		}
	}

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			shutdown()
			return err
		}
	}

	var runErr error
	if webhookMode {
		runErr = runWebhook(ctx, cfg, client, opts.WebhookHandler)
	} else {
		runErr = runLongpoll(ctx, cfg, client, opts.DisableWebhookCleanup)
	}

	var stopErr error
	if opts.OnStop != nil {
		stopErr = opts.OnStop(ctx, rt)
	}

	shutdown()

	if stopErr != nil {
		return stopErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func wireRegistry(bot *tele.Bot, reg *Registry, adminID int64) {
	adminOpts := middleware.AdminOptions{AdminID: adminID}
	for name, cmd := range reg.Commands() {
		h := cmd.Handler
		if cmd.AdminOnly {
			h = middleware.AdminOnlyMiddleware(adminOpts)(h)
		}
		bot.Handle(name, h)
	}
	if fallback := reg.TextFallback(); fallback != nil {
		bot.Handle(tele.OnText, fallback)
	}
}

func runLongpoll(ctx context.Context, cfg *coreconfig.Config, client *Client, disableCleanup bool) error {
	bot, err := client.Bot()
	if err != nil {
		return err
	}

	timeoutSec := 10
	if cfg.Telegram.LongPollTimeoutSeconds > 0 {
		timeoutSec = cfg.Telegram.LongPollTimeoutSeconds
	}
	logger.TG.Info("polling mode",
		slog.String("event", "mode"),
		slog.String("mode", "polling"),
		slog.Int("timeout_seconds", timeoutSec),
	)

	if !disableCleanup {
		if err := deleteWebhook(cfg.Telegram.Token, false); err != nil {
			logger.TG.Warn("failed to delete webhook",
				slog.String("event", "delete_webhook"),
				slog.String("mode", "polling"),
				slog.String("err", err.Error()),
			)
		} else {
			logger.TG.Info("webhook deleted",
				slog.String("event", "delete_webhook"),
				slog.String("mode", "polling"),
			)
		}
	}

	runDone := make(chan struct{})
	go func() {
		bot.Start()
		close(runDone)
	}()

	select {
	case <-ctx.Done():
		bot.Stop()
		<-runDone
		return ctx.Err()
	case <-runDone:
		return nil
	}
}

func runWebhook(ctx context.Context, cfg *coreconfig.Config, client *Client, buildHandler func(*Client) http.Handler) error {
	if buildHandler == nil {
		return fmt.Errorf("telegram: webhook mode requires a webhook handler")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Webhook.Listen, cfg.Webhook.Port)
	publicURL := strings.TrimRight(cfg.Webhook.URL, "/") + cfg.Webhook.Path

	srv := &http.Server{
		Addr:              addr,
		Handler:           buildHandler(client),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.TG.LogAttrs(ctx, slog.LevelInfo, "webhook mode",
		slog.String("event", "mode"),
		slog.String("mode", "webhook"),
		slog.String("listen", addr),
		slog.String("public_url", publicURL),
	)

	if err := setWebhook(cfg.Telegram.Token, publicURL); err != nil {
		logger.TG.Warn("failed to register webhook",
			slog.String("event", "set_webhook"),
			slog.String("public_url", publicURL),
			slog.String("err", err.Error()),
		)
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.TG.Warn("http server shutdown",
				slog.String("event", "http.shutdown"),
				slog.String("err", err.Error()),
			)
		}
		<-serveErr
		return ctx.Err()
	case err, ok := <-serveErr:
		if ok && err != nil {
			return fmt.Errorf("telegram: webhook server: %w", err)
		}
		return nil
	}
}

func setWebhook(token, publicURL string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("empty token")
	}
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/setWebhook", token)
	body := url.Values{"url": {publicURL}}.Encode()
	return postForm(endpoint, body)
}

func deleteWebhook(token string, dropPending bool) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("empty token")
	}
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/deleteWebhook", token)
	body := "drop_pending_updates=false"
	if dropPending {
		body = "drop_pending_updates=true"
	}
	return postForm(endpoint, body)
}

func postForm(endpoint, body string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram api status: %s", resp.Status)
	}
	return nil
}
