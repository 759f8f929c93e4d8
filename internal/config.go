package internal

import (
	"fmt"
	"log/slog"
	"maps"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/treesync/internal/match"
	"github.com/starford/treesync/internal/names"
	"github.com/starford/treesync/internal/report"
	"github.com/starford/treesync/internal/runservice"
	"github.com/starford/treesync/internal/validate"
	"github.com/starford/treesync/internal/wave"
	pkgconfig "github.com/starford/treesync/pkg/config"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Confirm modes.
const (
	ConfirmModeTerminal = "terminal"
	ConfirmModeInbox    = "inbox"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	Auth       AuthConfig        `yaml:"auth"`
	Wave       wave.Options      `yaml:"wave"`
	Matching   MatchingConfig    `yaml:"matching"`
	Validation validate.Config   `yaml:"validation"`
	Report     report.Config     `yaml:"report"`
	Output     OutputConfig      `yaml:"output"`
	Confirm    ConfirmConfig     `yaml:"confirm"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"app", &c.App},
		{"sqlite", &c.SQLite},
		{"auth", &c.Auth},
		{"wave", &c.Wave},
		{"matching", &c.Matching},
		{"validation", &c.Validation},
		{"report", &c.Report},
		{"output", &c.Output},
		{"confirm", &c.Confirm},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// Settings converts the matching sections into run service settings.
func (c *Config) Settings() runservice.Settings {
	return runservice.Settings{
		Wave:             c.Wave,
		Weights:          c.Matching.Weights,
		MaxBirthYearDiff: c.Matching.MaxBirthYearDifference,
		Validation:       c.Validation,
		Report:           c.Report,
	}
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// MatchingConfig tunes the person matcher.
type MatchingConfig struct {
	Weights                match.Weights `yaml:"weights"`
	MaxBirthYearDifference int           `yaml:"max_birth_year_difference"`

	// NamesFile optionally extends the built-in transliteration, variant
	// groups and surname suffixes with a YAML file.
	NamesFile string `yaml:"names_file"`
}

// Validate validates the matching configuration.
func (c *MatchingConfig) Validate() error {
	if c.Weights.Total() <= 0 {
		return fmt.Errorf("weights: at least one weight must be positive")
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxBirthYearDifference, validation.Min(0), validation.Max(100)),
	)
}

// NameService builds the name service, merging NamesFile over the
// built-in table.
func (c *MatchingConfig) NameService() (*names.Service, error) {
	table := names.DefaultTable()
	if c.NamesFile == "" {
		return names.New(table), nil
	}
	var extra names.Table
	if err := pkgconfig.Load(c.NamesFile, &extra); err != nil {
		return nil, fmt.Errorf("names file: %w", err)
	}
	maps.Copy(table.Transliteration, extra.Transliteration)
	table.VariantGroups = append(table.VariantGroups, extra.VariantGroups...)
	table.SurnameSuffixes = append(table.SurnameSuffixes, extra.SurnameSuffixes...)
	return names.New(table), nil
}

// OutputConfig holds where run results are written.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// Validate validates the output configuration.
func (c *OutputConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	)
}

// ConfirmConfig selects how interactive runs reach a reviewer.
type ConfirmConfig struct {
	Mode     string `yaml:"mode"`
	InboxDir string `yaml:"inbox_dir"`

	// DecisionsFile is an optional YAML file of remembered decisions, read
	// before and updated after every compare.
	DecisionsFile string `yaml:"decisions_file"`
}

// Validate validates the confirm configuration.
func (c *ConfirmConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = ConfirmModeTerminal
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(ConfirmModeTerminal, ConfirmModeInbox)),
		validation.Field(&c.InboxDir, validation.When(c.Mode == ConfirmModeInbox, validation.Required)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./treesync.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Wave: wave.DefaultOptions(),
		Matching: MatchingConfig{
			Weights:                match.DefaultWeights(),
			MaxBirthYearDifference: 10,
		},
		Validation: validate.DefaultConfig(),
		Report:     report.DefaultConfig(),
		Output: OutputConfig{
			Dir: "./runs",
		},
		Confirm: ConfirmConfig{
			Mode:     ConfirmModeTerminal,
			InboxDir: "./inbox",
		},
	}
}
