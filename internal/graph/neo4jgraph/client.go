// Package neo4jgraph implements graph.Backend on Neo4j.
//
// Writes run in explicit transactions so that transient failures surface
// to the caller's retry policy instead of being retried inside the driver.
// Reads use managed read transactions.
package neo4jgraph

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/roach88/snitch/internal/graph"
	"github.com/roach88/snitch/internal/graphir"
)

// Config configures the Neo4j connection.
type Config struct {
	URI                   string
	Username              string
	Password              string
	Database              string
	MaxConnectionPoolSize int
	ConnectionTimeout     time.Duration
}

// Client is a graph.Backend on Neo4j.
type Client struct {
	config Config
	driver neo4j.DriverWithContext
}

var _ graph.Backend = (*Client)(nil)

// Connect creates a driver and verifies connectivity.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j: uri is required")
	}
	if cfg.ConnectionTimeout == 0 {
		cfg.ConnectionTimeout = 30 * time.Second
	}

	auth := neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		if cfg.MaxConnectionPoolSize > 0 {
			c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
		}
		c.ConnectionAcquisitionTimeout = cfg.ConnectionTimeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}
	return &Client{config: cfg, driver: driver}, nil
}

// Close releases the driver.
func (c *Client) Close(ctx context.Context) error {
	if c.driver == nil {
		return nil
	}
	err := c.driver.Close(ctx)
	c.driver = nil
	return err
}

// IsTransient reports errors the driver classifies as retryable.
func (c *Client) IsTransient(err error) bool {
	return err != nil && neo4j.IsRetryable(err)
}

// Begin opens a write session and an explicit transaction on it.
func (c *Client) Begin(ctx context.Context) (graph.Tx, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.config.Database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		session.Close(ctx)
		return nil, fmt.Errorf("neo4j: begin: %w", err)
	}
	return &Tx{session: session, tx: tx}, nil
}

// EnsureConstraints creates a uniqueness constraint per identity property.
func (c *Client) EnsureConstraints(ctx context.Context, keys []graph.Key) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.config.Database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	for _, k := range keys {
		if err := checkNames(k.Label, k.Property); err != nil {
			return err
		}
		cypher := fmt.Sprintf("CREATE CONSTRAINT IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE", k.Label, k.Property)
		if _, err := session.Run(ctx, cypher, nil); err != nil {
			return fmt.Errorf("neo4j: constraint %s.%s: %w", k.Label, k.Property, err)
		}
	}
	return nil
}

func (c *Client) read(ctx context.Context, fn func(run runner) (any, error)) (any, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.config.Database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	return session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return fn(tx.Run)
	})
}

// Query runs a traversal in a managed read transaction.
func (c *Client) Query(ctx context.Context, q graphir.Traversal) ([]graph.Row, error) {
	out, err := c.read(ctx, func(run runner) (any, error) { return queryRows(ctx, run, q) })
	if err != nil {
		return nil, err
	}
	return out.([]graph.Row), nil
}

// Count counts traversal rows in a managed read transaction.
func (c *Client) Count(ctx context.Context, q graphir.Traversal) (int64, error) {
	out, err := c.read(ctx, func(run runner) (any, error) { return countRows(ctx, run, q) })
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

// Times lists interval start times in a managed read transaction.
func (c *Client) Times(ctx context.Context, q graphir.Times) ([]int64, error) {
	out, err := c.read(ctx, func(run runner) (any, error) { return queryTimes(ctx, run, q) })
	if err != nil {
		return nil, err
	}
	return out.([]int64), nil
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// checkNames guards every label, relationship type and property name that
// is spliced into Cypher text.
func checkNames(names ...string) error {
	for _, n := range names {
		if !identPattern.MatchString(n) {
			return fmt.Errorf("neo4j: invalid name %q", n)
		}
	}
	return nil
}
