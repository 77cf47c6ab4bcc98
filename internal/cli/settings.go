package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/runwatch/internal/config"
	"github.com/roach88/runwatch/internal/ir"
	"github.com/roach88/runwatch/internal/store"
)

// StoreFlags select the cursor store. Shared by every command that reads
// or writes cursors.
type StoreFlags struct {
	Store       string
	StateDir    string
	DatabaseURL string
}

func (f *StoreFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Store, "store", config.StoreSQLite, "cursor store (sqlite|file|postgres|memory)")
	cmd.Flags().StringVar(&f.StateDir, "state-dir", config.DefaultStateDir, "directory for cursor state")
	cmd.Flags().StringVar(&f.DatabaseURL, "database-url", "", "PostgreSQL connection string for --store postgres")
}

func (f *StoreFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("store") {
		cfg.Store = f.Store
	}
	if cmd.Flags().Changed("state-dir") {
		cfg.StateDir = f.StateDir
	}
	if cmd.Flags().Changed("database-url") {
		cfg.DatabaseURL = f.DatabaseURL
	}
}

// loadConfig layers defaults, the --config file, then the environment.
// Commands apply their own flags on top.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		if err := config.LoadFile(opts.ConfigPath, &cfg); err != nil {
			return cfg, WrapExitError(ExitCommandError, "failed to load config", err)
		}
	}
	if err := config.ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, WrapExitError(ExitCommandError, "invalid environment", err)
	}
	return cfg, nil
}

// openStore opens the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg config.Config) (store.Backend, func(), error) {
	switch cfg.Store {
	case config.StoreSQLite:
		if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create state directory: %w", err)
		}
		st, err := store.Open(cfg.SQLitePath())
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	case config.StoreFile:
		return store.NewFileStore(cfg.StateDir), func() {}, nil
	case config.StorePostgres:
		pg, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case config.StoreMemory:
		return store.NewMemory(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// parseRepoArg parses a positional owner/name argument.
func parseRepoArg(arg string) (ir.RepoID, error) {
	repo, err := ir.ParseRepoID(arg)
	if err != nil {
		return ir.RepoID{}, WrapExitError(ExitCommandError, "invalid repository", err)
	}
	return repo, nil
}

func formatInstant(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
