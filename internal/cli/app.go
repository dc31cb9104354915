package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/roach88/snitch/internal/config"
	"github.com/roach88/snitch/internal/diff"
	"github.com/roach88/snitch/internal/diffcache"
	"github.com/roach88/snitch/internal/graph"
	"github.com/roach88/snitch/internal/graph/neo4jgraph"
	"github.com/roach88/snitch/internal/graph/sqlitegraph"
	"github.com/roach88/snitch/internal/lock"
	"github.com/roach88/snitch/internal/metrics"
	"github.com/roach88/snitch/internal/retry"
	"github.com/roach88/snitch/internal/schema"
	"github.com/roach88/snitch/internal/versioned"
)

// env is what every command needs before touching the graph.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	reg    *schema.Registry
	out    *OutputFormatter
}

// app is an env with an open graph backend.
type app struct {
	*env
	metrics *metrics.Recorder
	backend graph.Backend
	store   *versioned.Store
	redis   *redis.Client
}

// newLogger builds the process logger: level from the config unless
// --verbose, handler from --log-format or the config.
func newLogger(w io.Writer, opts *RootOptions, cfg config.Config) *slog.Logger {
	level := cfg.Level()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	format := cfg.LogFormat
	if opts.LogFormat != "" {
		format = opts.LogFormat
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func loadEnv(opts *RootOptions, cmd *cobra.Command) (*env, error) {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	path := config.Path(opts.Config)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fail(out, CodeConfig, "failed to load config", err)
	}
	logger := newLogger(out.GetErrWriter(), opts, cfg)
	logger.Debug("config loaded", "path", path, "backend", cfg.Backend)

	reg, err := schema.Default()
	if err != nil {
		return nil, fail(out, CodeSchema, "failed to load schema", err)
	}
	return &env{cfg: cfg, logger: logger, reg: reg, out: out}, nil
}

func openApp(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*app, error) {
	e, err := loadEnv(opts, cmd)
	if err != nil {
		return nil, err
	}

	e.out.VerboseLog("graph backend: %s", e.cfg.Backend)
	backend, err := openBackend(ctx, e.cfg, e.logger)
	if err != nil {
		return nil, fail(e.out, CodeBackend, "failed to open graph", err)
	}

	rec := metrics.New()
	store := versioned.New(backend, e.reg,
		versioned.WithLogger(e.logger),
		versioned.WithRetry(retry.Policy{
			MaxRetries: e.cfg.MaxRetries,
			OnRetry:    rec.Retry,
			Logger:     e.logger,
		}),
		versioned.WithWriteObserver(rec.Write),
	)
	return &app{env: e, metrics: rec, backend: backend, store: store}, nil
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (graph.Backend, error) {
	switch cfg.Backend {
	case "neo4j":
		logger.Info("connecting to neo4j", "uri", cfg.Neo4j.URI)
		return neo4jgraph.Connect(ctx, neo4jgraph.Config{
			URI:                   cfg.Neo4j.URI,
			Username:              cfg.Neo4j.Username,
			Password:              cfg.Neo4j.Password,
			Database:              cfg.Neo4j.Database,
			MaxConnectionPoolSize: cfg.Neo4j.MaxConnectionPoolSize,
			ConnectionTimeout:     cfg.Neo4j.ConnectionTimeout,
		})
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		logger.Debug("opening database", "path", cfg.SQLite.Path)
		return sqlitegraph.Open(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func (a *app) redisClient() *redis.Client {
	if a.redis == nil {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
	}
	return a.redis
}

func (a *app) locker() (lock.Locker, error) {
	if a.cfg.Lock.Backend == "redis" {
		return lock.NewRedisLocker(a.redisClient(), a.cfg.Lock.TTL, nil), nil
	}
	return lock.NewGraphLocker(a.store, nil, a.logger)
}

func (a *app) diffService() *diffcache.Service {
	var store diffcache.Store
	if a.cfg.Diff.Cache == "redis" {
		store = diffcache.NewRedisStore(a.redisClient())
	} else {
		store = diffcache.NewMemoryStore(nil)
	}
	compute := diffcache.Computer(a.reg, a.backend, diff.Options{PageSize: a.cfg.Diff.PageSize, Logger: a.logger})
	return diffcache.New(store, compute, diffcache.Options{
		TTL:         a.cfg.Diff.TTL,
		ErrorTTL:    a.cfg.Diff.ErrorTTL,
		InitialWait: a.cfg.Diff.InitialWait,
		Logger:      a.logger,
		Metrics:     a.metrics,
	})
}

func (a *app) Close(ctx context.Context) {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("error closing redis", "error", err)
		}
	}
	if err := a.backend.Close(ctx); err != nil {
		a.logger.Error("error closing graph", "error", err)
	}
}

// signalContext derives a context from the command's that is cancelled
// on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// fail reports err through out under code and returns it as an
// ExitError.
func fail(out *OutputFormatter, code, message string, err error) error {
	_ = out.Error(code, fmt.Sprintf("%s: %v", message, err), nil)
	return WrapExitError(code, message, err)
}

// schemaExit maps registry errors to a command error and everything else
// to a failure.
func schemaExit(out *OutputFormatter, message string, err error) error {
	var serr *schema.Error
	if errors.As(err, &serr) {
		return fail(out, CodeSchema, message, err)
	}
	return fail(out, CodeFailed, message, err)
}
