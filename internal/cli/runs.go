package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/snitch/internal/run"
)

// NewCleanCommand creates the clean command.
func NewCleanCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete collection runs that have been synced",
		Long: `Delete every synced run directory under the data directory.
Runs that are not synced yet are left alone.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean(rootOpts, cmd)
		},
	}
}

func runClean(opts *RootOptions, cmd *cobra.Command) error {
	e, err := loadEnv(opts, cmd)
	if err != nil {
		return err
	}
	runs, err := run.Find(e.cfg.DataDir, e.logger)
	if err != nil {
		return fail(e.out, CodeFailed, "failed to list runs", err)
	}
	removed, err := run.Clean(runs, e.logger)
	if removed == nil {
		removed = []string{}
	}
	if err != nil {
		return fail(e.out, CodeFailed, "failed to clean runs", err)
	}
	return e.out.Success(map[string]any{"removed": removed}, func(w io.Writer) {
		fmt.Fprintf(w, "removed %d run(s)\n", len(removed))
		for _, p := range removed {
			fmt.Fprintf(w, "  %s\n", p)
		}
	})
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Mark every collection run as finished and unsynced",
		Long: `Reset every run under the data directory to finished with no synced
timestamp, so the next sync ingests it again. Use after rebuilding the graph.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(rootOpts, cmd)
		},
	}
}

func runReset(opts *RootOptions, cmd *cobra.Command) error {
	e, err := loadEnv(opts, cmd)
	if err != nil {
		return err
	}
	runs, err := run.Find(e.cfg.DataDir, e.logger)
	if err != nil {
		return fail(e.out, CodeFailed, "failed to list runs", err)
	}
	if err := run.ResetAll(runs, e.logger); err != nil {
		return fail(e.out, CodeFailed, "failed to reset runs", err)
	}
	paths := make([]string, len(runs))
	for i, r := range runs {
		paths[i] = r.Path()
	}
	return e.out.Success(map[string]any{"reset": paths}, func(w io.Writer) {
		fmt.Fprintf(w, "reset %d run(s)\n", len(paths))
	})
}
