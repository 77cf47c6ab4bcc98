package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/runwatch/internal/config"
	"github.com/roach88/runwatch/internal/format"
	"github.com/roach88/runwatch/internal/ir"
	"github.com/roach88/runwatch/internal/store"
)

// CursorOptions holds flags for the cursor commands.
type CursorOptions struct {
	*RootOptions
	StoreFlags
	Runs bool // show: list open runs
	Yes  bool // reset: confirm
}

// OpenRunView is one open run in cursor show output.
type OpenRunView struct {
	RunID     int64     `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Branch    string    `json:"branch,omitempty"`
	CommitSHA string    `json:"commit_sha,omitempty"`
	Name      string    `json:"name,omitempty"`
}

// CursorView is the cursor show result.
type CursorView struct {
	Repo    string           `json:"repo"`
	Summary ir.CursorSummary `json:"summary"`
	Runs    []OpenRunView    `json:"open_runs,omitempty"`
}

// CursorEntry is one row of cursor list.
type CursorEntry struct {
	Repo      string    `json:"repo"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCursorCommand creates the cursor command group.
func NewCursorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CursorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or reset persisted cursors",
		Long: `Inspect or reset the persisted reconciliation cursors.

Store flags select the backend and apply to every subcommand.

Examples:
  runwatch cursor list
  runwatch cursor show octo/hello --runs
  runwatch cursor reset octo/hello --yes
  runwatch cursor show octo/hello --store postgres --database-url postgres://localhost/runwatch`,
	}

	cmd.PersistentFlags().StringVar(&opts.Store, "store", config.StoreSQLite, "cursor store (sqlite|file|postgres|memory)")
	cmd.PersistentFlags().StringVar(&opts.StateDir, "state-dir", config.DefaultStateDir, "directory for cursor state")
	cmd.PersistentFlags().StringVar(&opts.DatabaseURL, "database-url", "", "PostgreSQL connection string for --store postgres")

	list := &cobra.Command{
		Use:           "list",
		Short:         "List repositories with a stored cursor",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCursorList(opts, cmd)
		},
	}

	show := &cobra.Command{
		Use:           "show <owner/name>",
		Short:         "Show the cursor of a repository",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCursorShow(opts, args[0], cmd)
		},
	}
	show.Flags().BoolVar(&opts.Runs, "runs", false, "list open runs")

	reset := &cobra.Command{
		Use:   "reset <owner/name>",
		Short: "Delete the cursor of a repository",
		Long: `Delete the cursor of a repository. The next watch bootstraps again at
now minus the safety delay, so runs created before that are not reported.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCursorReset(opts, args[0], cmd)
		},
	}
	reset.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "confirm the reset")

	cmd.AddCommand(list, show, reset)
	return cmd
}

// openCursorStore resolves store settings and opens the backend.
func openCursorStore(ctx context.Context, opts *CursorOptions, cmd *cobra.Command) (store.Backend, func(), error) {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return nil, nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("store") {
		cfg.Store = opts.Store
	}
	if flags.Changed("state-dir") {
		cfg.StateDir = opts.StateDir
	}
	if flags.Changed("database-url") {
		cfg.DatabaseURL = opts.DatabaseURL
	}
	if err := cfg.ValidateStore(); err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	backend, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open cursor store", err)
	}
	return backend, closeStore, nil
}

func runCursorList(opts *CursorOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	backend, closeStore, err := openCursorStore(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	entries, err := backend.List(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list cursors", err)
	}

	rows := make([]CursorEntry, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, CursorEntry{Repo: e.Repo.String(), UpdatedAt: e.UpdatedAt.UTC()})
	}

	if opts.Format == format.FormatJSON {
		return outputJSON(cmd.OutOrStdout(), rows)
	}

	w := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(w, "No cursors stored.")
		return nil
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%-40s updated %s\n", row.Repo, formatInstant(row.UpdatedAt))
	}
	return nil
}

func runCursorShow(opts *CursorOptions, repoArg string, cmd *cobra.Command) error {
	repo, err := parseRepoArg(repoArg)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	backend, closeStore, err := openCursorStore(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	c, err := backend.Load(ctx, repo)
	if errors.Is(err, store.ErrNotFound) {
		return NewExitError(ExitFailure, fmt.Sprintf("no cursor stored for %s", repo))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load cursor", err)
	}

	view := CursorView{Repo: repo.String(), Summary: c.Summary()}
	if opts.Runs {
		view.Runs = openRuns(c)
	}

	if opts.Format == format.FormatJSON {
		return outputJSON(cmd.OutOrStdout(), view)
	}
	outputCursorText(cmd.OutOrStdout(), view)
	return nil
}

func runCursorReset(opts *CursorOptions, repoArg string, cmd *cobra.Command) error {
	repo, err := parseRepoArg(repoArg)
	if err != nil {
		return err
	}
	if !opts.Yes {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("refusing to reset %s without --yes: history before the next bootstrap is skipped", repo))
	}

	ctx := commandContext(cmd)
	backend, closeStore, err := openCursorStore(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	err = backend.Delete(ctx, repo)
	if errors.Is(err, store.ErrNotFound) {
		return NewExitError(ExitFailure, fmt.Sprintf("no cursor stored for %s", repo))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to reset cursor", err)
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == format.FormatJSON {
		return f.Success(map[string]string{"repo": repo.String(), "reset": "ok"})
	}
	return f.Success(fmt.Sprintf("✓ cursor for %s reset", repo))
}

func openRuns(c ir.Cursor) []OpenRunView {
	ids := make([]int64, 0, len(c.OpenRuns))
	for id := range c.OpenRuns {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	runs := make([]OpenRunView, 0, len(ids))
	for _, id := range ids {
		meta := c.OpenRuns[id]
		runs = append(runs, OpenRunView{
			RunID:     id,
			CreatedAt: meta.CreatedAt.UTC(),
			Branch:    meta.Branch,
			CommitSHA: meta.CommitSHA,
			Name:      meta.Name,
		})
	}
	return runs
}

func outputCursorText(w io.Writer, view CursorView) {
	s := view.Summary
	fmt.Fprintf(w, "Cursor for %s\n", view.Repo)
	fmt.Fprintf(w, "  Bootstrap instant: %s\n", formatInstant(s.BootstrapInstant))
	fmt.Fprintf(w, "  Stable watermark:  %s\n", formatInstant(s.StableWatermark))
	if s.OpenRuns > 0 {
		fmt.Fprintf(w, "  Open runs:         %d (oldest %s)\n", s.OpenRuns, formatInstant(s.OldestOpenRun))
	} else {
		fmt.Fprintln(w, "  Open runs:         0")
	}
	fmt.Fprintf(w, "  Processed events:  %d\n", s.ProcessedEvents)

	if len(view.Runs) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Open Runs ===")
	for _, run := range view.Runs {
		fmt.Fprintf(w, "  %d  %s  %s @ %s", run.RunID, formatInstant(run.CreatedAt), run.Branch, format.ShortSHA(run.CommitSHA))
		if run.Name != "" {
			fmt.Fprintf(w, "  %s", run.Name)
		}
		fmt.Fprintln(w)
	}
}

// outputJSON writes data in the standard CLI response envelope.
func outputJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(CLIResponse{Status: "ok", Data: data})
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
