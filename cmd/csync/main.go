package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jwhitfield/csync/internal/config"
	"github.com/jwhitfield/csync/internal/engine"
	"github.com/jwhitfield/csync/internal/index"
	"github.com/jwhitfield/csync/internal/logging"
	"github.com/jwhitfield/csync/internal/remote"
	"github.com/jwhitfield/csync/internal/store"
	"github.com/jwhitfield/csync/internal/watch"
)

var Version = "dev"

var (
	flagRecurse  bool
	flagDryRun   bool
	flagProgress bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "csync",
		Short:         "Mirror a Confluence page tree to local files and back",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVarP(&flagRecurse, "recurse", "r", true, "descend into child pages")
	root.PersistentFlags().BoolVarP(&flagDryRun, "dry-run", "n", false, "plan and log without writing anything")
	root.PersistentFlags().BoolVar(&flagProgress, "progress", true, "log a line per synced page")

	root.AddCommand(newPullCmd())
	root.AddCommand(newPushCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull <remote-root> <local-dir>",
		Short: "Sync a remote page tree into a local mirror",
		Long: `Sync a remote page tree into a local mirror directory.

The remote root can be a raw page id, a page URL, or a space URL:

  csync pull 123456789 ./docs
  csync pull https://example.atlassian.net/wiki/spaces/DOCS/pages/123/Title ./docs
  csync pull https://example.atlassian.net/wiki/spaces/DOCS ./docs`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := remote.ParsePageURL(args[0])
			if err != nil {
				return err
			}

			return withEngine(cmd.Context(), args[1], func(ctx context.Context, eng *engine.Engine, _ *store.Store, _ *slog.Logger) error {
				var summary engine.Summary

				if target.IsSpace() {
					summary, err = eng.PullSpace(ctx, target.SpaceKey)
				} else {
					summary, err = eng.Pull(ctx, target.PageID)
				}

				if err != nil {
					return fmt.Errorf("pull failed: %w", err)
				}

				printSummary("pull", summary)

				return nil
			})
		},
	}
}

func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push <local-dir> [remote-root]",
		Short: "Propagate local edits to the remote",
		Long: `Propagate local edits from a mirror directory to the remote.

The optional remote root names the parent page for top-level
directories that are not bound to a remote page yet.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parentID, err := rootParentID(args)
			if err != nil {
				return err
			}

			return withEngine(cmd.Context(), args[0], func(ctx context.Context, eng *engine.Engine, _ *store.Store, _ *slog.Logger) error {
				printSummary("push", eng.Push(ctx, parentID))

				return nil
			})
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <local-dir> [remote-root]",
		Short: "Watch the mirror and push edits as they settle",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parentID, err := rootParentID(args)
			if err != nil {
				return err
			}

			return withEngine(cmd.Context(), args[0], func(ctx context.Context, eng *engine.Engine, st *store.Store, logger *slog.Logger) error {
				push := func(ctx context.Context) engine.Summary {
					return eng.Push(ctx, parentID)
				}

				err := watch.New(st, push, logger).Run(ctx)
				if ctx.Err() != nil {
					// Normal shutdown via signal.
					return nil
				}

				return err
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the csync version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("csync", Version)
		},
	}
}

// rootParentID resolves the optional remote-root argument of push and
// watch to a page id.
func rootParentID(args []string) (string, error) {
	if len(args) < 2 {
		return "", nil
	}

	target, err := remote.ParsePageURL(args[1])
	if err != nil {
		return "", err
	}

	if target.PageID == "" {
		return "", fmt.Errorf("remote root %q does not name a page", args[1])
	}

	return target.PageID, nil
}

// withEngine wires config, logging, store, index and the remote client,
// runs fn, and tears everything down.
func withEngine(parent context.Context, dir string, fn func(context.Context, *engine.Engine, *store.Store, *slog.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Environment)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(dir)
	if err != nil {
		return err
	}

	idx, err := index.Open(st.ControlDir(), logger)
	if err != nil {
		return err
	}
	defer idx.Close()

	api := remote.NewClient(cfg.BaseURL, cfg.Username, cfg.APIToken, nil)

	eng := engine.New(api, st, idx, logger, engine.Options{
		Recurse:  flagRecurse,
		DryRun:   flagDryRun,
		Progress: flagProgress,
	})

	return fn(ctx, eng, st, logger)
}

var (
	summaryLabelStyle  = lipgloss.NewStyle().Bold(true)
	summaryFailedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	summaryFaintStyle  = lipgloss.NewStyle().Faint(true)
)

func printSummary(op string, s engine.Summary) {
	line := fmt.Sprintf("%s %s", summaryLabelStyle.Render(op+":"), s.String())
	if s.Failed > 0 {
		line += " " + summaryFailedStyle.Render("(some nodes failed, see log)")
	}

	if flagDryRun {
		line += " " + summaryFaintStyle.Render("[dry run]")
	}

	fmt.Println(line)
}
