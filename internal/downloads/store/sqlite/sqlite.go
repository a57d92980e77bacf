// Package sqlite stores download queue items in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ubuntu/eofetch/internal/downloads"
	"github.com/ubuntu/eofetch/internal/eodata"

	// SQLite driver.
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS download_queue (
    id            TEXT PRIMARY KEY,
    provider_id   TEXT NOT NULL,
    destination   TEXT NOT NULL,
    local_archive TEXT NOT NULL DEFAULT '',
    product_ids   TEXT NOT NULL,
    tiles         TEXT NOT NULL DEFAULT '[]',
    properties    TEXT NOT NULL DEFAULT '{}',
    queued_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS download_queue_queued_at_idx ON download_queue (queued_at);
`

// Store is a SQLite backed queue store.
type Store struct {
	db *sql.DB
}

// New opens, creating it if needed, the database at path. ":memory:" opens a private in memory database.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %v", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %v", err)
	}
	return &Store{db: db}, nil
}

// Save upserts item.
func (s *Store) Save(ctx context.Context, item downloads.Item) error {
	products, tiles, props, err := encode(item)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO download_queue (id, provider_id, destination, local_archive, product_ids, tiles, properties, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			provider_id = excluded.provider_id,
			destination = excluded.destination,
			local_archive = excluded.local_archive,
			product_ids = excluded.product_ids,
			tiles = excluded.tiles,
			properties = excluded.properties`,
		item.ID, item.ProviderID, item.Destination, item.LocalArchive, products, tiles, props, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save queue item: %v", err)
	}
	return nil
}

const selectItems = `SELECT id, provider_id, destination, local_archive, product_ids, tiles, properties FROM download_queue`

// Load returns the item with the given id.
func (s *Store) Load(ctx context.Context, id string) (downloads.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, selectItems+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return downloads.Item{}, fmt.Errorf("%w: queue item %s", eodata.ErrNotFound, id)
	}
	if err != nil {
		return downloads.Item{}, fmt.Errorf("failed to load queue item: %v", err)
	}
	return item, nil
}

// Remove deletes the item with the given id.
func (s *Store) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM download_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove queue item: %v", err)
	}
	return nil
}

// Restore returns every stored item, oldest first.
func (s *Store) Restore(ctx context.Context) (items []downloads.Item, err error) {
	rows, err := s.db.QueryContext(ctx, selectItems+` ORDER BY queued_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue items: %v", err)
	}
	defer func() { err = errors.Join(err, rows.Close()) }()

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

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (downloads.Item, error) {
	var (
		item                   downloads.Item
		products, tiles, props string
	)
	if err := row.Scan(&item.ID, &item.ProviderID, &item.Destination, &item.LocalArchive, &products, &tiles, &props); err != nil {
		return downloads.Item{}, err
	}
	if err := json.Unmarshal([]byte(products), &item.ProductIDs); err != nil {
		return downloads.Item{}, fmt.Errorf("invalid product ids: %v", err)
	}
	if err := json.Unmarshal([]byte(tiles), &item.Tiles); err != nil {
		return downloads.Item{}, fmt.Errorf("invalid tiles: %v", err)
	}
	if err := json.Unmarshal([]byte(props), &item.Properties); err != nil {
		return downloads.Item{}, fmt.Errorf("invalid properties: %v", err)
	}
	if len(item.Tiles) == 0 {
		item.Tiles = nil
	}
	if len(item.Properties) == 0 {
		item.Properties = nil
	}
	return item, nil
}

func encode(item downloads.Item) (products, tiles, props string, err error) {
	p, err := json.Marshal(item.ProductIDs)
	if err != nil {
		return "", "", "", err
	}
	t := []byte("[]")
	if len(item.Tiles) > 0 {
		if t, err = json.Marshal(item.Tiles); err != nil {
			return "", "", "", err
		}
	}
	pr := []byte("{}")
	if len(item.Properties) > 0 {
		if pr, err = json.Marshal(item.Properties); err != nil {
			return "", "", "", err
		}
	}
	return string(p), string(t), string(pr), nil
}
