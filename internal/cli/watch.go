package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/runwatch/internal/config"
	"github.com/roach88/runwatch/internal/engine"
	"github.com/roach88/runwatch/internal/format"
	"github.com/roach88/runwatch/internal/github"
	"github.com/roach88/runwatch/internal/server"
)

// SourceFactory builds the snapshot source for a resolved config. The
// reporter may be nil.
type SourceFactory func(cfg config.Config, logger *slog.Logger) (engine.SnapshotSource, server.RateLimitReporter, error)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	StoreFlags

	Repos            []string
	Token            string
	BaseURL          string
	PollSeconds      int
	RequestTimeoutMs int
	SafetyDelay      time.Duration
	Overlap          time.Duration
	DedupeRetention  time.Duration
	OpenRunTTL       time.Duration
	Listen           string
	Color            string

	// NewSource allows overriding the GitHub source (for testing).
	// If nil, a github.Source over a real client is used.
	NewSource SourceFactory
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return newWatchCommand(&WatchOptions{RootOptions: rootOpts})
}

func newWatchCommand(opts *WatchOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch repositories and print run, job and step events",
		Long: `Poll GitHub Actions for one or more repositories and print every run,
job and step transition once, in the order it happened.

On first start the watcher bootstraps at now minus the safety delay and
skips older history. Afterwards it resumes from the persisted cursor.

Exit codes:
  0 - Stopped by signal
  1 - Watch failed (API, protocol or persistence error)
  2 - Command or configuration error

Examples:
  runwatch watch --repo octo/hello
  runwatch watch -r octo/hello -r octo/world --poll-seconds 30
  runwatch watch --config runwatch.yaml --listen :8080
  runwatch watch -r octo/hello --store postgres --database-url postgres://localhost/runwatch`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Repos, "repo", "r", nil, "repository owner/name (repeatable)")
	cmd.Flags().StringVarP(&opts.Token, "token", "t", "", "GitHub token (default $GITHUB_TOKEN)")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", github.DefaultBaseURL, "GitHub API base URL")
	cmd.Flags().IntVar(&opts.PollSeconds, "poll-seconds", 10, "polling interval in seconds")
	cmd.Flags().IntVar(&opts.RequestTimeoutMs, "request-timeout-ms", int(github.DefaultTimeout/time.Millisecond), "API request timeout in milliseconds")
	cmd.Flags().DurationVar(&opts.SafetyDelay, "safety-delay", 5*time.Minute, "how far the watermark trails now")
	cmd.Flags().DurationVar(&opts.Overlap, "overlap", 2*time.Minute, "query window overlap before the watermark")
	cmd.Flags().DurationVar(&opts.DedupeRetention, "dedupe-retention", 30*time.Minute, "how long event fingerprints are kept")
	cmd.Flags().DurationVar(&opts.OpenRunTTL, "open-run-ttl", 0, "retire runs open longer than this (0 disables)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "serve status and live events on host:port")
	cmd.Flags().StringVar(&opts.Color, "color", format.ColorAuto, "colorize text output (auto|always|never)")
	opts.StoreFlags.bind(cmd)

	return cmd
}

// resolve merges flags over the file and environment configuration.
func (opts *WatchOptions) resolve(cmd *cobra.Command) (config.Config, error) {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return cfg, err
	}

	changed := cmd.Flags().Changed
	if changed("repo") {
		cfg.Repos = opts.Repos
	}
	if changed("token") {
		cfg.Token = opts.Token
	}
	if changed("base-url") {
		cfg.BaseURL = opts.BaseURL
	}
	if changed("poll-seconds") {
		cfg.PollInterval = time.Duration(opts.PollSeconds) * time.Second
	}
	if changed("request-timeout-ms") {
		cfg.RequestTimeout = time.Duration(opts.RequestTimeoutMs) * time.Millisecond
	}
	if changed("safety-delay") {
		cfg.SafetyDelay = opts.SafetyDelay
	}
	if changed("overlap") {
		cfg.Overlap = opts.Overlap
	}
	if changed("dedupe-retention") {
		cfg.DedupeRetention = opts.DedupeRetention
	}
	if changed("open-run-ttl") {
		cfg.OpenRunTTL = opts.OpenRunTTL
	}
	if changed("listen") {
		cfg.Listen = opts.Listen
	}
	if changed("color") {
		cfg.Color = opts.Color
	}
	opts.StoreFlags.apply(cmd, &cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	cfg, err := opts.resolve(cmd)
	if err != nil {
		return err
	}
	repos, _ := cfg.RepoIDs()
	logger := NewCommandLogger(opts.RootOptions, cmd.ErrOrStderr())

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	backend, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open cursor store", err)
	}
	defer closeStore()

	newSource := opts.NewSource
	if newSource == nil {
		newSource = githubSource
	}
	source, limits, err := newSource(cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create GitHub client", err)
	}

	stdout, _ := cmd.OutOrStdout().(*os.File)
	color, err := format.ResolveColor(cfg.Color, stdout)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid color mode", err)
	}
	printer, err := format.NewPrinter(cmd.OutOrStdout(), opts.Format, format.TextOptions{
		Color:    color,
		ShowRepo: len(repos) > 1,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid format", err)
	}

	var sink engine.Sink = printer
	serverErr := make(chan error, 1)
	if cfg.Listen != "" {
		hub := server.NewHub(logger)
		srv := server.New(server.Config{
			Repos:      repos,
			Cursors:    backend,
			RateLimits: limits,
			Hub:        hub,
			Logger:     logger,
		})
		sink = teeSink{printer, hub}

		go hub.Run(ctx)
		go func() {
			if err := srv.Serve(ctx, cfg.Listen); err != nil {
				serverErr <- err
				cancel()
			}
		}()
	}

	watcher := engine.NewWatcher(source, backend,
		engine.WithOptions(cfg.EngineOptions()),
		engine.WithLogger(logger),
	)

	logger.Info("watch starting",
		"repos", cfg.Repos,
		"store", cfg.Store,
		"poll_interval", cfg.PollInterval,
		"safety_delay", cfg.SafetyDelay)

	err = watcher.WatchAll(ctx, repos, sink)

	select {
	case srvErr := <-serverErr:
		return WrapExitError(ExitFailure, "status server failed", srvErr)
	default:
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "watch failed", err)
	}

	logger.Info("watch stopped gracefully")
	return nil
}

func githubSource(cfg config.Config, logger *slog.Logger) (engine.SnapshotSource, server.RateLimitReporter, error) {
	client, err := github.NewClient(github.Config{
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
		Timeout: cfg.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return github.NewSource(client), client, nil
}

// teeSink hands each event to every sink in order. The first failure
// stops delivery of that event.
type teeSink []engine.Sink

func (t teeSink) Emit(ctx context.Context, e engine.Emitted) error {
	for _, s := range t {
		if err := s.Emit(ctx, e); err != nil {
			return fmt.Errorf("sink: %w", err)
		}
	}
	return nil
}
