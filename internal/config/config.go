// Package config assembles the application configuration: the reusable core
// sections plus the survey-specific knobs.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	coreconfig "github.com/m3rciful/mchatbot/core/config"
	coredatabase "github.com/m3rciful/mchatbot/core/database"
)

// SurveyConfig tunes the screening flow.
type SurveyConfig struct {
	// ReverseScored lists question numbers where "yes" indicates risk.
	ReverseScored []int `yaml:"reverse_scored" envconfig:"SURVEY_REVERSE_SCORED"`
	// LowMax and MediumMax are inclusive upper bounds for the risk tiers.
	LowMax    int `yaml:"low_max" envconfig:"SURVEY_LOW_MAX"`
	MediumMax int `yaml:"medium_max" envconfig:"SURVEY_MEDIUM_MAX"`
	// StorageTimeoutMS bounds every storage operation.
	StorageTimeoutMS int `yaml:"storage_timeout_ms" envconfig:"SURVEY_STORAGE_TIMEOUT_MS"`
	// QuestionsFile is the YAML file seeded into the questions table when
	// the table is empty.
	QuestionsFile string `yaml:"questions_file" envconfig:"SURVEY_QUESTIONS_FILE"`
}

// StorageTimeout returns the configured per-operation storage deadline.
func (s SurveyConfig) StorageTimeout() time.Duration {
	return time.Duration(s.StorageTimeoutMS) * time.Millisecond
}

// Config is the full application configuration.
type Config struct {
	Core     coreconfig.Config   `yaml:",inline"`
	Database coredatabase.Config `yaml:"database"`
	Survey   SurveyConfig        `yaml:"survey"`
}

// CoreConfig exposes the embedded core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Core
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := coreconfig.Normalize(&cfg.Core); err != nil {
		return nil, err
	}
	if err := normalizeSurvey(&cfg.Survey); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func normalizeSurvey(s *SurveyConfig) error {
	if len(s.ReverseScored) == 0 {
		s.ReverseScored = []int{2, 5, 12}
	}
	for _, n := range s.ReverseScored {
		if n <= 0 {
			return fmt.Errorf("survey.reverse_scored contains non-positive question number %d", n)
		}
	}
	if s.LowMax == 0 {
		s.LowMax = 2
	}
	if s.MediumMax == 0 {
		s.MediumMax = 7
	}
	if s.LowMax < 0 || s.MediumMax <= s.LowMax {
		return fmt.Errorf("survey tier bounds invalid: low_max=%d medium_max=%d", s.LowMax, s.MediumMax)
	}
	if s.StorageTimeoutMS <= 0 {
		s.StorageTimeoutMS = 3000
	}
	if s.QuestionsFile == "" {
		s.QuestionsFile = "questions.yaml"
	}
	return nil
}
