package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"gopkg.in/yaml.v3"
	"log/slog"

	"github.com/m3rciful/mchatbot/core/bootstrap"
	"github.com/m3rciful/mchatbot/core/logger"
)

type questionsFile struct {
	Questions []struct {
		Number int    `yaml:"number"`
		RU     string `yaml:"ru"`
		UZ     string `yaml:"uz"`
		EN     string `yaml:"en"`
		KK     string `yaml:"kk"`
	} `yaml:"questions"`
}

// QuestionSeeder loads the questionnaire from a YAML file into the questions
// table. It only writes when the table is empty, so an operator-managed set
// is never overwritten.
func QuestionSeeder(path string) bootstrap.Seeder {
	return bootstrap.SeederFunc(func(ctx context.Context, db *sqlx.DB) error {
		var count int
		if err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM questions`); err != nil {
			return fmt.Errorf("question seeder: count: %w", err)
		}
		if count > 0 {
			logger.SEED.Debug("questions already present",
				slog.String("event", "seed.skip"),
				slog.Int("count", count),
			)
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("question seeder: read %s: %w", path, err)
		}
		var file questionsFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("question seeder: parse %s: %w", path, err)
		}
		if len(file.Questions) == 0 {
			return fmt.Errorf("question seeder: %s contains no questions", path)
		}

		seen := make(map[int]struct{}, len(file.Questions))
		for _, q := range file.Questions {
			if q.Number <= 0 {
				return fmt.Errorf("question seeder: invalid question number %d", q.Number)
			}
			if _, dup := seen[q.Number]; dup {
				return fmt.Errorf("question seeder: duplicate question number %d", q.Number)
			}
			seen[q.Number] = struct{}{}
			if q.RU == "" || q.UZ == "" || q.EN == "" || q.KK == "" {
				return fmt.Errorf("question seeder: question %d is missing a translation", q.Number)
			}
		}

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("question seeder: begin: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		for _, q := range file.Questions {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO questions (number, text_ru, text_uz, text_en, text_kk)
				VALUES ($1, $2, $3, $4, $5)`,
				q.Number, q.RU, q.UZ, q.EN, q.KK,
			); err != nil {
				return fmt.Errorf("question seeder: insert %d: %w", q.Number, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("question seeder: commit: %w", err)
		}

		logger.SEED.Info("questions seeded",
			slog.String("event", "seed.done"),
			slog.Int("count", len(file.Questions)),
			slog.String("source", path),
		)
		return nil
	})
}
