package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/runwatch/internal/config"
	"github.com/roach88/runwatch/internal/format"
)

// Validation error codes.
const (
	ErrCodeConfigLoad    = "E_CONFIG_LOAD"
	ErrCodeConfigInvalid = "E_CONFIG_INVALID"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool           `json:"valid"`
	Config *ConfigSummary `json:"config,omitempty"`
}

// ConfigSummary is the effective configuration without secrets.
type ConfigSummary struct {
	Repos           []string `json:"repos"`
	TokenSet        bool     `json:"token_set"`
	BaseURL         string   `json:"base_url"`
	Store           string   `json:"store"`
	StateDir        string   `json:"state_dir,omitempty"`
	PollInterval    string   `json:"poll_interval"`
	SafetyDelay     string   `json:"safety_delay"`
	Overlap         string   `json:"overlap"`
	DedupeRetention string   `json:"dedupe_retention"`
	OpenRunTTL      string   `json:"open_run_ttl"`
	RequestTimeout  string   `json:"request_timeout"`
	Listen          string   `json:"listen,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate configuration without watching",
		Long: `Resolve the configuration from the config file and the environment,
validate it, and print the effective values with secrets redacted.

A config-file argument takes precedence over --config.

Exit codes:
  0 - Configuration valid
  1 - Configuration invalid
  2 - Config file unreadable or malformed`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := *rootOpts
			if len(args) == 1 {
				opts.ConfigPath = args[0]
			}
			return runValidate(&opts, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	formatter.VerboseLog("Loading config from %q", opts.ConfigPath)
	cfg, err := loadConfig(opts)
	if err != nil {
		_ = formatter.Error(ErrCodeConfigLoad, err.Error(), nil)
		return err
	}

	if err := cfg.Validate(); err != nil {
		_ = formatter.Error(ErrCodeConfigInvalid, err.Error(), nil)
		return WrapExitError(ExitFailure, "configuration invalid", err)
	}

	summary := summarize(cfg)
	if formatter.Format == format.FormatJSON {
		return formatter.Success(ValidationResult{Valid: true, Config: &summary})
	}

	fmt.Fprintln(formatter.Writer, "✓ Configuration valid")
	if opts.Verbose {
		data, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			return err
		}
		fmt.Fprintln(formatter.Writer)
		fmt.Fprint(formatter.Writer, string(data))
		return nil
	}
	fmt.Fprintf(formatter.Writer, "  Repos: %v\n", summary.Repos)
	fmt.Fprintf(formatter.Writer, "  Store: %s\n", summary.Store)
	fmt.Fprintf(formatter.Writer, "  Poll interval: %s\n", summary.PollInterval)
	return nil
}

func summarize(cfg config.Config) ConfigSummary {
	s := ConfigSummary{
		Repos:           cfg.Repos,
		TokenSet:        cfg.Token != "",
		BaseURL:         cfg.BaseURL,
		Store:           cfg.Store,
		PollInterval:    cfg.PollInterval.String(),
		SafetyDelay:     cfg.SafetyDelay.String(),
		Overlap:         cfg.Overlap.String(),
		DedupeRetention: cfg.DedupeRetention.String(),
		OpenRunTTL:      cfg.OpenRunTTL.String(),
		RequestTimeout:  cfg.RequestTimeout.String(),
		Listen:          cfg.Listen,
	}
	if cfg.Store == config.StoreSQLite || cfg.Store == config.StoreFile {
		s.StateDir = cfg.StateDir
	}
	return s
}
