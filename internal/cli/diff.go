package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/snitch/internal/diff"
	"github.com/roach88/snitch/internal/diffcache"
	"github.com/roach88/snitch/internal/propval"
)

// DiffOptions holds flags for the diff command.
type DiffOptions struct {
	*RootOptions
	Offset  int
	Limit   int
	Poll    time.Duration
	Timeout time.Duration
}

// DiffResult is the JSON payload of the diff command.
type DiffResult struct {
	Frame     *diff.Frame     `json:"frame"`
	NodeCount int             `json:"nodecount"`
	Offset    int             `json:"offset"`
	Nodes     []diff.NodeDiff `json:"nodes"`
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DiffOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diff <label> <identity> <left> <right>",
		Short: "Show what changed below an entity between two instants",
		Long: `Compare the subtree of an entity at two instants.

The frame shows every changed entity and the ancestors leading to it; a
relationship present only on the left is marked "-", only on the right
"+". Node pages list the properties that differ. Instants are
milliseconds since the epoch or timestamps.

Example:
  snitch diff Host web1-1-prod 2024-01-01T00:00:00 2024-01-02T00:00:00
  snitch diff Environment 1-prod 1704067200000 1704153600000 --format json`,
		Args:          cobra.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(opts, args, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "first node of the page")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "nodes per page (default diff.page_size)")
	cmd.Flags().DurationVar(&opts.Poll, "poll", 500*time.Millisecond, "interval between checks on a running diff")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "give up on a running diff after this long (0 waits forever)")

	return cmd
}

func runDiff(opts *DiffOptions, args []string, cmd *cobra.Command) error {
	a, err := openApp(cmd.Context(), opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()
	defer a.Close(ctx)

	left, err := parseInstant(args[2])
	if err != nil {
		return fail(a.out, CodeInvalidArgs, "invalid left time", err)
	}
	right, err := parseInstant(args[3])
	if err != nil {
		return fail(a.out, CodeInvalidArgs, "invalid right time", err)
	}
	if _, ok := a.reg.Type(args[0]); !ok {
		return fail(a.out, CodeSchema, "invalid diff", fmt.Errorf("unknown type %s", args[0]))
	}

	if opts.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, opts.Timeout)
		defer cancelTimeout()
	}

	svc := a.diffService()
	defer svc.Wait()
	res, err := waitDiff(ctx, svc, diffcache.Key{Label: args[0], Identity: args[1], Left: left, Right: right}, opts.Poll)
	switch {
	case errors.Is(err, diffcache.ErrRunning), errors.Is(err, context.DeadlineExceeded):
		return fail(a.out, CodeRunning, "diff still running", err)
	case err != nil:
		return schemaExit(a.out, "diff failed", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = a.cfg.Diff.PageSize
	}
	out := DiffResult{
		Frame:     res.Frame,
		NodeCount: res.NodeCount,
		Offset:    opts.Offset,
		Nodes:     res.Page(opts.Offset, limit),
	}
	return a.out.Success(out, func(w io.Writer) { printDiff(w, out) })
}

// waitDiff polls svc until the diff is computed, fails, or ctx ends.
func waitDiff(ctx context.Context, svc *diffcache.Service, k diffcache.Key, poll time.Duration) (*diff.Result, error) {
	for {
		res, err := svc.Get(ctx, k)
		if !errors.Is(err, diffcache.ErrRunning) {
			return res, err
		}
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

var sideMarks = map[diff.Side]string{diff.Left: "-", diff.Right: "+", diff.Both: " "}

func printDiff(w io.Writer, d DiffResult) {
	if d.Frame == nil {
		fmt.Fprintln(w, "no such entity at either instant")
		return
	}
	var walk func(f *diff.Frame, depth int)
	walk = func(f *diff.Frame, depth int) {
		fmt.Fprintf(w, "%s%s%s:%s\n", sideMarks[f.Side], strings.Repeat("  ", depth+1), f.Label, f.Identity)
		for _, c := range f.Children {
			walk(c, depth+1)
		}
	}
	walk(d.Frame, 0)

	fmt.Fprintf(w, "\n%d node(s), showing %d from %d\n", d.NodeCount, len(d.Nodes), d.Offset)
	for _, n := range d.Nodes {
		if len(n.Left) == 0 && len(n.Right) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s:%s\n", n.Label, n.Identity)
		for _, k := range changedKeys(n) {
			l, inLeft := n.Left[k]
			r, inRight := n.Right[k]
			switch {
			case inLeft && inRight:
				fmt.Fprintf(w, "  %s: %s -> %s\n", k, propval.String(l), propval.String(r))
			case inLeft:
				fmt.Fprintf(w, "  - %s: %s\n", k, propval.String(l))
			default:
				fmt.Fprintf(w, "  + %s: %s\n", k, propval.String(r))
			}
		}
	}
}

func changedKeys(n diff.NodeDiff) []string {
	var keys []string
	for k := range n.Left {
		keys = append(keys, k)
	}
	for k := range n.Right {
		if _, ok := n.Left[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}
