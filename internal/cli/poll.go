package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/runwatch/internal/engine"
	"github.com/roach88/runwatch/internal/format"
	"github.com/roach88/runwatch/internal/github"
	"github.com/roach88/runwatch/internal/ir"
	"github.com/roach88/runwatch/internal/store"
)

// PollOptions holds flags for the poll command.
type PollOptions struct {
	*RootOptions
	StoreFlags

	Token            string
	BaseURL          string
	RequestTimeoutMs int
	Commit           bool

	// NewSource allows overriding the GitHub source (for testing).
	NewSource SourceFactory
}

// NewPollCommand creates the poll command.
func NewPollCommand(rootOpts *RootOptions) *cobra.Command {
	return newPollCommand(&PollOptions{RootOptions: rootOpts})
}

func newPollCommand(opts *PollOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll <owner/name>",
		Short: "Run one reconciliation cycle",
		Long: `Fetch one snapshot for a repository, reconcile it against the stored
cursor and print the events a watcher would emit.

By default nothing is persisted, so the next watch still emits the same
events. With --commit the cursor is saved first, exactly as a watch cycle
does. A repository without a cursor is polled from a fresh bootstrap.

Examples:
  runwatch poll octo/hello
  runwatch poll octo/hello --commit
  runwatch poll octo/hello --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoll(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Token, "token", "t", "", "GitHub token (default $GITHUB_TOKEN)")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", github.DefaultBaseURL, "GitHub API base URL")
	cmd.Flags().IntVar(&opts.RequestTimeoutMs, "request-timeout-ms", int(github.DefaultTimeout/time.Millisecond), "API request timeout in milliseconds")
	cmd.Flags().BoolVar(&opts.Commit, "commit", false, "persist the resulting cursor")
	opts.StoreFlags.bind(cmd)

	return cmd
}

func runPoll(opts *PollOptions, repoArg string, cmd *cobra.Command) error {
	repo, err := parseRepoArg(repoArg)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	cfg.Repos = []string{repo.String()}
	if cmd.Flags().Changed("token") {
		cfg.Token = opts.Token
	}
	if cmd.Flags().Changed("base-url") {
		cfg.BaseURL = opts.BaseURL
	}
	if cmd.Flags().Changed("request-timeout-ms") {
		cfg.RequestTimeout = time.Duration(opts.RequestTimeoutMs) * time.Millisecond
	}
	opts.StoreFlags.apply(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logger := NewCommandLogger(opts.RootOptions, cmd.ErrOrStderr())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	backend, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open cursor store", err)
	}
	defer closeStore()

	newSource := opts.NewSource
	if newSource == nil {
		newSource = githubSource
	}
	source, _, err := newSource(cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create GitHub client", err)
	}

	watcher := engine.NewWatcher(source, backend,
		engine.WithOptions(cfg.EngineOptions()),
		engine.WithLogger(logger),
	)

	cursor, err := loadOrBootstrap(ctx, watcher, backend, repo, opts.Commit)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load cursor", err)
	}

	res, err := watcher.PollOnce(ctx, repo, cursor)
	if err != nil {
		return WrapExitError(ExitFailure, "poll failed", err)
	}

	if opts.Commit {
		if err := backend.Save(ctx, repo, res.Cursor); err != nil {
			return WrapExitError(ExitFailure, "failed to save cursor", err)
		}
	}

	stdout, _ := cmd.OutOrStdout().(*os.File)
	color, _ := format.ResolveColor(cfg.Color, stdout)
	printer, err := format.NewPrinter(cmd.OutOrStdout(), opts.Format, format.TextOptions{Color: color})
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid format", err)
	}
	for _, e := range res.Events {
		if err := printer.Emit(ctx, e); err != nil {
			return WrapExitError(ExitFailure, "failed to print event", err)
		}
	}

	r := res.Report
	logger.Info("poll complete",
		"repo", repo.String(),
		"committed", opts.Commit,
		"runs_listed", r.RunsListed,
		"runs_polled", r.RunsPolled,
		"emitted", r.EventsEmitted,
		"suppressed", r.EventsSuppressed,
		"retired", r.Retired+r.Expired,
		"watermark", formatInstant(r.Watermark))

	if opts.Format != format.FormatJSON && !opts.Commit {
		fmt.Fprintln(cmd.ErrOrStderr(), "Dry run: cursor not saved (use --commit to persist).")
	}
	return nil
}

// loadOrBootstrap returns the stored cursor. A missing one is bootstrapped,
// and only saved when commit is set.
func loadOrBootstrap(ctx context.Context, w *engine.Watcher, backend store.Backend, repo ir.RepoID, commit bool) (ir.Cursor, error) {
	if commit {
		return w.Bootstrap(ctx, repo)
	}
	c, err := backend.Load(ctx, repo)
	if errors.Is(err, store.ErrNotFound) {
		return ir.NewCursor(time.Now().Add(-w.Options().SafetyDelay)), nil
	}
	return c, err
}
