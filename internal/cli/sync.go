package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/snitch/internal/ingest"
	"github.com/roach88/snitch/internal/snitch"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	DataDir     string
	Concurrency int
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Ingest finished collection runs into the graph",
		Long: `Ingest every finished, unsynced collection run under the data directory.

Runs are grouped by environment and ingested oldest first while holding
the environment lock. Groups run in parallel up to --concurrency. A run
that fails stops the rest of its environment until the next sync.

Example:
  snitch sync
  snitch sync --data-dir /srv/collect --concurrency 4 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DataDir, "data-dir", "", "directory holding collection runs (overrides data_dir)")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "environments ingested in parallel (overrides concurrency)")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	a, err := openApp(cmd.Context(), opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()
	defer a.Close(ctx)

	dataDir := a.cfg.DataDir
	if opts.DataDir != "" {
		dataDir = opts.DataDir
	}
	concurrency := a.cfg.Concurrency
	if opts.Concurrency > 0 {
		concurrency = opts.Concurrency
	}

	locker, err := a.locker()
	if err != nil {
		return fail(a.out, CodeBackend, "failed to create lock", err)
	}
	syncer := ingest.New(a.store, locker, snitch.Default(),
		ingest.WithConcurrency(concurrency),
		ingest.WithLogger(a.logger),
		ingest.WithMetrics(a.metrics),
	)

	a.logger.Info("sync starting", "data_dir", dataDir, "concurrency", concurrency)
	report, err := syncer.SyncAll(ctx, dataDir)
	if werr := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); werr != nil {
		a.logger.Error("unable to write metrics", "path", a.cfg.Metrics.Textfile, "error", werr)
	}
	if err != nil {
		return fail(a.out, CodeFailed, "sync failed", err)
	}

	if err := a.out.Success(report, func(w io.Writer) { printReport(w, report) }); err != nil {
		return err
	}
	if n := len(report.Failed); n > 0 {
		return NewExitError(CodeFailed, fmt.Sprintf("%d run(s) failed", n))
	}
	return nil
}

func printReport(w io.Writer, r *ingest.Report) {
	sections := []struct {
		name  string
		paths []string
	}{
		{"synced", r.Synced},
		{"skipped", r.Skipped},
		{"stale", r.Stale},
		{"locked", r.Locked},
		{"failed", r.Failed},
		{"deferred", r.Deferred},
	}
	for _, s := range sections {
		fmt.Fprintf(w, "%-8s %d\n", s.name, len(s.paths))
		for _, p := range s.paths {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
}
