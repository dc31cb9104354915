package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewConstraintsCommand creates the constraints command.
func NewConstraintsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "constraints",
		Short: "Create identity uniqueness constraints in the graph",
		Long: `Create a uniqueness constraint on the identity property of every
entity type. Safe to run repeatedly; run once against a new graph.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConstraints(rootOpts, cmd)
		},
	}
}

func runConstraints(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(cmd.Context(), opts, cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()
	defer a.Close(ctx)

	keys, err := a.store.EnsureConstraints(ctx)
	if err != nil {
		return fail(a.out, CodeFailed, "failed to create constraints", err)
	}
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		out[i] = map[string]string{"label": k.Label, "property": k.Property}
	}
	return a.out.Success(map[string]any{"constraints": out}, func(w io.Writer) {
		for _, k := range keys {
			fmt.Fprintf(w, "%s.%s\n", k.Label, k.Property)
		}
	})
}
