package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/snitch/internal/schema"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema [label]",
		Short: "Describe the entity types",
		Long: `Describe one entity type, or list every type with the path from its root.

Example:
  snitch schema
  snitch schema Host --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(rootOpts, args, cmd)
		},
	}
}

func runSchema(opts *RootOptions, args []string, cmd *cobra.Command) error {
	e, err := loadEnv(opts, cmd)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		desc, ok := e.reg.Describe(args[0])
		if !ok {
			return schemaExit(e.out, "invalid schema request", schema.NewUnknownType(args[0]))
		}
		return e.out.Success(desc, func(w io.Writer) { printType(w, e.reg, args[0]) })
	}

	labels := e.reg.Labels()
	paths := make(map[string][]string, len(labels))
	for _, label := range labels {
		paths[label] = pathLabels(e.reg, label)
	}
	return e.out.Success(map[string]any{"types": paths}, func(w io.Writer) {
		for _, label := range labels {
			fmt.Fprintln(w, strings.Join(paths[label], " > "))
		}
	})
}

func pathLabels(reg *schema.Registry, label string) []string {
	steps, _ := reg.PathTo(label)
	out := make([]string, 0, len(steps)+1)
	for _, s := range steps {
		out = append(out, s.Label)
	}
	return append(out, label)
}

func printType(w io.Writer, reg *schema.Registry, label string) {
	t, _ := reg.Type(label)
	fmt.Fprintf(w, "%s (state %s)\n", t.Label, t.StateLabel)
	fmt.Fprintf(w, "  identity: %s\n", t.Identity)
	if len(t.Concat) > 0 {
		fmt.Fprintf(w, "  concat:   %s\n", strings.Join(t.Concat, ", "))
	}
	fmt.Fprintf(w, "  static:   %s\n", strings.Join(t.Static, ", "))
	fmt.Fprintf(w, "  state:    %s\n", strings.Join(t.State, ", "))
	for _, c := range t.Children {
		fmt.Fprintf(w, "  %s: -[%s]-> %s\n", c.Role, c.Relationship, c.Label)
	}
	fmt.Fprintf(w, "  path:     %s\n", strings.Join(pathLabels(reg, label), " > "))
}
