// Package config loads and validates watcher configuration.
//
// Values are layered: Default, then an optional YAML file, then
// environment variables, then command-line flags applied by the CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/runwatch/internal/engine"
	"github.com/roach88/runwatch/internal/github"
	"github.com/roach88/runwatch/internal/ir"
)

// Store kinds.
const (
	StoreSQLite   = "sqlite"
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// DefaultStateDir holds local cursor state.
const DefaultStateDir = ".runwatch"

// Config is the complete watcher configuration.
type Config struct {
	// Repos lists the watched repositories as owner/name.
	Repos []string `yaml:"repos" validate:"required,min=1,dive,required"`

	// Token authenticates against the GitHub API.
	Token string `yaml:"token" validate:"required"`

	// BaseURL is the API root. GitHub Enterprise uses its own.
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// Store selects the cursor store backend.
	Store string `yaml:"store" validate:"oneof=sqlite file postgres memory"`

	// StateDir holds the SQLite database or the cursor files.
	StateDir string `yaml:"state_dir"`

	// DatabaseURL is the PostgreSQL connection string for the postgres store.
	DatabaseURL string `yaml:"database_url" validate:"required_if=Store postgres"`

	PollInterval    time.Duration `yaml:"poll_interval" validate:"gt=0s"`
	SafetyDelay     time.Duration `yaml:"safety_delay" validate:"gte=0s"`
	Overlap         time.Duration `yaml:"overlap" validate:"gte=0s"`
	DedupeRetention time.Duration `yaml:"dedupe_retention" validate:"gt=0s,gtfield=Overlap"`
	OpenRunTTL      time.Duration `yaml:"open_run_ttl" validate:"gte=0s"`

	// RequestTimeout bounds each HTTP request to the API.
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0s"`

	// Listen enables the status server on host:port when set.
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"`

	// Color is auto, always or never.
	Color string `yaml:"color" validate:"oneof=auto always never"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	opts := engine.DefaultOptions()
	return Config{
		BaseURL:         github.DefaultBaseURL,
		Store:           StoreSQLite,
		StateDir:        DefaultStateDir,
		PollInterval:    opts.PollInterval,
		SafetyDelay:     opts.SafetyDelay,
		Overlap:         opts.Overlap,
		DedupeRetention: opts.DedupeRetention,
		RequestTimeout:  github.DefaultTimeout,
		Color:           "auto",
	}
}

// LoadFile decodes the YAML file at path over cfg. Fields absent from the
// file keep their current values. Unknown fields are rejected.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks every field and parses the repositories.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		return validationError(err)
	}

	if _, err := c.RepoIDs(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	return c.validateLocation()
}

// ValidateStore checks only the store settings, for commands that never
// reach the API.
func (c *Config) ValidateStore() error {
	if err := newValidator().Var(c.Store, "oneof=sqlite file postgres memory"); err != nil {
		return fmt.Errorf("config error: store must be one of [sqlite file postgres memory], got %q", c.Store)
	}
	return c.validateLocation()
}

func (c *Config) validateLocation() error {
	switch c.Store {
	case StoreSQLite, StoreFile:
		if strings.TrimSpace(c.StateDir) == "" {
			return fmt.Errorf("config error: state_dir is required for the %s store", c.Store)
		}
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("config error: database_url is required for the postgres store")
		}
	}
	return nil
}

// RepoIDs parses Repos, rejecting duplicates.
func (c *Config) RepoIDs() ([]ir.RepoID, error) {
	ids := make([]ir.RepoID, 0, len(c.Repos))
	seen := make(map[ir.RepoID]bool, len(c.Repos))
	for _, s := range c.Repos {
		id, err := ir.ParseRepoID(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		if seen[id] {
			return nil, fmt.Errorf("repository %s listed twice", id)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// EngineOptions returns the reconciliation tunables.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		SafetyDelay:     c.SafetyDelay,
		Overlap:         c.Overlap,
		DedupeRetention: c.DedupeRetention,
		PollInterval:    c.PollInterval,
		OpenRunTTL:      c.OpenRunTTL,
	}
}

// SQLitePath is the database file of the sqlite store.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.StateDir, "cursors.db")
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Token != "" {
		c.Token = "***"
	}
	if c.DatabaseURL != "" {
		c.DatabaseURL = "***"
	}
	return c
}

// newValidator reports fields by their YAML names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// yamlName returns the YAML key of the Config field named name.
func yamlName(name string) string {
	f, ok := reflect.TypeOf(Config{}).FieldByName(name)
	if !ok {
		return name
	}
	key, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	return key
}

// validationError turns validator errors into one readable error.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("config error: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("config error: %s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_if":
		if field == "token" {
			return "token is required (set GITHUB_TOKEN or --token)"
		}
		return field + " is required"
	case "min":
		return field + " must not be empty"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "gt", "gte":
		return fmt.Sprintf("%s must be %s %s", field, map[string]string{"gt": ">", "gte": ">="}[fe.Tag()], fe.Param())
	case "gtfield":
		return fmt.Sprintf("%s must be greater than %s", field, yamlName(fe.Param()))
	case "url":
		return fmt.Sprintf("%s must be a URL, got %q", field, fe.Value())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port, got %q", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
