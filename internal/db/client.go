// Package db provides the SurrealDB-backed knowledge record store with
// auto-reconnect support.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

// WebSocket upgrades fail when TLS negotiates HTTP/2.
func init() {
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{NextProtos: []string{"http/1.1"}}
}

// Auth levels accepted in Config.AuthLevel.
const (
	AuthRoot     = "root"
	AuthDatabase = "database"
)

// Config holds SurrealDB connection configuration.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // AuthRoot (default) or AuthDatabase
}

// baseURL strips the /rpc suffix; gorillaws appends it itself.
func (c Config) baseURL() string {
	return strings.TrimSuffix(strings.TrimRight(c.URL, "/"), "/rpc")
}

func (c Config) auth() surrealdb.Auth {
	a := surrealdb.Auth{Username: c.Username, Password: c.Password}
	if c.AuthLevel == AuthDatabase {
		a.Namespace = c.Namespace
		a.Database = c.Database
	}
	return a
}

const (
	dialTimeout     = 5 * time.Second
	reconnectFirst  = time.Second
	reconnectMax    = 30 * time.Second
	reconnectFactor = 2.0
	reconnectTries  = 10
)

// Client is a SurrealDB session that reconnects on its own, signs in again
// and re-selects the namespace after a dropped socket.
type Client struct {
	conn   *rews.Connection[*gorillaws.Connection]
	db     *surrealdb.DB
	cfg    Config
	logger logger.Logger
}

// NewClient connects, signs in and selects cfg.Namespace/cfg.Database.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	sdkLog := logger.New(log.Handler())
	codec := surrealcbor.New()

	conn := rews.New(func(context.Context) (*gorillaws.Connection, error) {
		return gorillaws.New(&connection.Config{
			BaseURL:     cfg.baseURL(),
			Marshaler:   codec,
			Unmarshaler: codec,
			Logger:      sdkLog,
		}), nil
	}, dialTimeout, codec, sdkLog)
	retry := rews.NewExponentialBackoffRetryer()
	retry.InitialDelay = reconnectFirst
	retry.MaxDelay = reconnectMax
	retry.Multiplier = reconnectFactor
	retry.MaxRetries = reconnectTries
	conn.Retryer = retry

	log.Info("connecting to SurrealDB", "url", cfg.URL, "namespace", cfg.Namespace, "database", cfg.Database)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	c := &Client{conn: conn, cfg: cfg, logger: sdkLog}
	if err := c.open(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	log.Info("SurrealDB connection established", "auth_level", cfg.AuthLevel)
	return c, nil
}

func (c *Client) open(ctx context.Context) error {
	db, err := surrealdb.FromConnection(ctx, c.conn)
	if err != nil {
		return fmt.Errorf("from connection: %w", err)
	}
	if _, err := db.SignIn(ctx, c.cfg.auth()); err != nil {
		return fmt.Errorf("signin as %s: %w", c.cfg.Username, err)
	}
	if err := db.Use(ctx, c.cfg.Namespace, c.cfg.Database); err != nil {
		return fmt.Errorf("use %s/%s: %w", c.cfg.Namespace, c.cfg.Database, err)
	}
	c.db = db
	return nil
}

// Close closes the SurrealDB connection.
func (c *Client) Close(ctx context.Context) error {
	c.logger.Info("closing SurrealDB connection")
	return c.conn.Close(ctx)
}

// DB returns the underlying SurrealDB client for queries.
func (c *Client) DB() *surrealdb.DB {
	return c.db
}

// InitSchema defines the place table and its indexes. dimension must match
// the embedder's output size.
func (c *Client) InitSchema(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("init schema: invalid embedding dimension %d", dimension)
	}
	c.logger.Info("initializing database schema", "dimension", dimension)
	if _, err := surrealdb.Query[any](ctx, c.db, SchemaSQL(dimension), nil); err != nil {
		return fmt.Errorf("init schema: %w", wrapQueryError(err))
	}
	return nil
}

// Ping checks that the database answers queries.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := surrealdb.Query[int](ctx, c.db, "RETURN 1", nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// WipeData deletes all knowledge records while preserving schema.
// Use for testing only.
func (c *Client) WipeData(ctx context.Context) error {
	c.logger.Warn("wiping all places")
	if _, err := surrealdb.Query[any](ctx, c.db, "DELETE place", nil); err != nil {
		return fmt.Errorf("delete place: %w", err)
	}
	return nil
}
