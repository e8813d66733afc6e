package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/mchatbot/core/bootstrap"
	corecmd "github.com/m3rciful/mchatbot/core/cmd"
	"github.com/m3rciful/mchatbot/core/logger"
	coretelegram "github.com/m3rciful/mchatbot/core/telegram"
	"github.com/m3rciful/mchatbot/internal/config"
	"github.com/m3rciful/mchatbot/internal/storage"
	"github.com/m3rciful/mchatbot/internal/survey"
	"github.com/m3rciful/mchatbot/internal/webhook"
)

// App is the assembled application: infrastructure plus the survey engine.
type App struct {
	cfg    *config.Config
	db     *sqlx.DB
	store  *storage.Store
	engine *survey.Engine
}

// NewApp runs the bootstrap pipeline (logger, database, migrations, question
// seeding) and assembles the survey engine on top of it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config")
	}

	res, err := bootstrap.Run(bootstrap.Options{
		Config:   cfg.CoreConfig(),
		Database: cfg.Database,
		Seeders: []bootstrap.Seeder{
			storage.QuestionSeeder(cfg.Survey.QuestionsFile),
		},
	})
	if err != nil {
		return nil, err
	}

	store := storage.New(res.DB, cfg.Survey.StorageTimeout())
	engine := survey.New(store, survey.Options{
		ReverseScored: cfg.Survey.ReverseScored,
		LowMax:        cfg.Survey.LowMax,
		MediumMax:     cfg.Survey.MediumMax,
	})

	return &App{
		cfg:    cfg,
		db:     res.DB,
		store:  store,
		engine: engine,
	}, nil
}

// Bootstrap adapts NewApp to the runner's contract.
func Bootstrap(carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	cfg, ok := carrier.(*config.Config)
	if !ok {
		return nil, fmt.Errorf("app: unexpected config type %T", carrier)
	}
	return NewApp(cfg)
}

// TelegramRunOptions assembles the bot runtime: registry, middleware chain
// and the webhook handler for webhook mode.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	wiring := Wiring{Engine: a.engine, Store: a.store}
	reg := BuildRegistry(wiring)
	retry := webhook.NewRetryRegistry()

	return coretelegram.RunOptions{
		Config:      a.cfg.CoreConfig(),
		Registry:    reg,
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg.CoreConfig(), wiring.handleRateLimited),
		WebhookHandler: func(client *coretelegram.Client) http.Handler {
			return webhook.NewHandler(client, webhook.Options{
				Path:  a.cfg.Core.Webhook.Path,
				Retry: retry,
			})
		},
		OnError: func(err error, c tele.Context) {
			if errors.Is(err, storage.ErrStorageUnavailable) && c != nil {
				retry.Mark(c.Update().ID)
				return
			}
			logger.TG.Error("handler error",
				slog.String("event", "update.unhandled_error"),
				slog.String("err", err.Error()),
			)
		},
		OnStop: func(_ context.Context, _ coretelegram.Runtime) error {
			return a.db.Close()
		},
	}, nil
}
