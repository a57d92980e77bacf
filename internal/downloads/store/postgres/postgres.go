// Package postgres stores download queue items in the download_queue table of a PostgreSQL database.
// The schema is created by the migrations of the service migrate command.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ubuntu/eofetch/internal/downloads"
	"github.com/ubuntu/eofetch/internal/eodata"
)

// Config holds the configuration for connecting to the PostgreSQL database.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type dbPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store manages the PostgreSQL database connection pool.
type Store struct {
	dbpool dbPool
}

type options struct {
	newPool func(ctx context.Context, dsn string) (dbPool, error)
}

// Options represents an optional function to override Store default values.
type Options func(*options)

// New creates a store with a PostgreSQL connection pool using the provided configuration.
// Note: The connection is validated with a ping, but it is not maintained.
func New(ctx context.Context, cfg Config, args ...Options) (*Store, error) {
	opts := options{
		newPool: func(ctx context.Context, dsn string) (dbPool, error) {
			return pgxpool.New(ctx, dsn)
		},
	}

	for _, opt := range args {
		opt(&opts)
	}

	dbpool, err := opts.newPool(ctx, cfg.URI("postgres"))
	if err != nil {
		return nil, fmt.Errorf("unable to create database connection pool: %w", err)
	}

	slog.Debug("Testing database connection", "host", cfg.Host, "port", cfg.Port)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %v", err)
	}

	slog.Info("Successfully pinged PostgreSQL database", "host", cfg.Host, "port", cfg.Port)
	return &Store{dbpool: dbpool}, nil
}

// Save upserts item.
func (s *Store) Save(ctx context.Context, item downloads.Item) error {
	return s.exec(ctx, "save", `
		INSERT INTO download_queue (id, provider_id, destination, local_archive, product_ids, tiles, properties, queued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			provider_id = EXCLUDED.provider_id,
			destination = EXCLUDED.destination,
			local_archive = EXCLUDED.local_archive,
			product_ids = EXCLUDED.product_ids,
			tiles = EXCLUDED.tiles,
			properties = EXCLUDED.properties`,
		item.ID,
		item.ProviderID,
		item.Destination,
		item.LocalArchive,
		nonNil(item.ProductIDs),
		nonNil(item.Tiles),
		properties(item.Properties),
		time.Now(),
	)
}

const selectItems = `SELECT id, provider_id, destination, local_archive, product_ids, tiles, properties FROM download_queue`

// Load returns the item with the given id.
func (s *Store) Load(ctx context.Context, id string) (downloads.Item, error) {
	if s.dbpool == nil {
		return downloads.Item{}, errors.New("database not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	item, err := scanItem(s.dbpool.QueryRow(ctx, selectItems+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return downloads.Item{}, fmt.Errorf("%w: queue item %s", eodata.ErrNotFound, id)
	}
	if err != nil {
		return downloads.Item{}, fmt.Errorf("failed to load queue item: %v", err)
	}
	return item, nil
}

// Remove deletes the item with the given id.
func (s *Store) Remove(ctx context.Context, id string) error {
	return s.exec(ctx, "remove", `DELETE FROM download_queue WHERE id = $1`, id)
}

// Restore returns every stored item, oldest first.
func (s *Store) Restore(ctx context.Context) ([]downloads.Item, error) {
	if s.dbpool == nil {
		return nil, errors.New("database not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.dbpool.Query(ctx, selectItems+` ORDER BY queued_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue items: %v", err)
	}
	defer rows.Close()

	var items []downloads.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read queue item: %v", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read queue items: %v", err)
	}
	return items, nil
}

func scanItem(row pgx.Row) (downloads.Item, error) {
	var item downloads.Item
	if err := row.Scan(&item.ID, &item.ProviderID, &item.Destination, &item.LocalArchive, &item.ProductIDs, &item.Tiles, &item.Properties); err != nil {
		return downloads.Item{}, err
	}
	if len(item.Tiles) == 0 {
		item.Tiles = nil
	}
	if len(item.Properties) == 0 {
		item.Properties = nil
	}
	return item, nil
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	if s.dbpool == nil {
		return errors.New("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := s.dbpool.Exec(ctx, query, args...); err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s canceled: %v", op, err)
		}
		return fmt.Errorf("failed to %s queue item: %v", op, err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func properties(p map[string]string) map[string]string {
	if p == nil {
		return map[string]string{}
	}
	return p
}

// Close closes the database connection.
//
// If the connection is already closed, it does nothing.
// If the connection does not close within 10 seconds, it returns an error.
func (s *Store) Close() error {
	if s.dbpool == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.dbpool.Close()
	}()

	select {
	case <-done:
		s.dbpool = nil
		return nil
	case <-time.After(10 * time.Second):
		return errors.New("timeout while closing database, connection may still be open")
	}
}

// URI is a helper method that returns a connection URI for PostgreSQL.
// It does not check the validity of the configuration values.
//
// Security warning: the returned string may include credentials.
func (c Config) URI(scheme string) string {
	host := c.Host
	if c.Port != 0 {
		host = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}

	user := url.User(c.User)
	if c.Password != "" {
		user = url.UserPassword(c.User, c.Password)
	}

	u := &url.URL{
		Scheme: scheme,
		User:   user,
		Host:   host,
		Path:   c.DBName,
	}

	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
