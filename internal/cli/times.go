package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/snitch/internal/query"
)

// NewTimesCommand creates the times command.
func NewTimesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "times <label> <identity>",
		Short: "List the instants at which an entity's subtree changed",
		Long: `List, newest first, every instant at which the entity or anything
below it changed. Any two of them make a useful diff.

Example:
  snitch times Host web1-1-prod`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTimes(rootOpts, args[0], args[1], cmd)
		},
	}
}

func runTimes(opts *RootOptions, label, identity string, cmd *cobra.Command) error {
	a, err := openApp(cmd.Context(), opts, cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()
	defer a.Close(ctx)

	times, err := query.Times(ctx, a.reg, a.backend, label, identity)
	if err != nil {
		return schemaExit(a.out, "times failed", err)
	}
	return a.out.Success(map[string]any{"times": times}, func(w io.Writer) {
		for _, ms := range times {
			fmt.Fprintf(w, "%d %s\n", ms, time.UnixMilli(ms).UTC().Format(time.RFC3339Nano))
		}
	})
}
