package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/cloudx-io/escrowhouse/core"
)

// dialect holds the statements that differ between drivers.
type dialect struct {
	schema string
	upsert string
	get    string
	list   string
}

var dialects = map[string]dialect{
	"sqlite": {
		schema: `
		CREATE TABLE IF NOT EXISTS auctions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			address TEXT NOT NULL UNIQUE,
			owner TEXT NOT NULL,
			title TEXT NOT NULL,
			cancelled BOOLEAN NOT NULL DEFAULT FALSE,
			snapshot BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_auctions_owner ON auctions(owner);
		`,
		upsert: `
		INSERT INTO auctions (address, owner, title, cancelled, snapshot, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			cancelled = excluded.cancelled,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
		`,
		get:  `SELECT snapshot FROM auctions WHERE address = ?`,
		list: `SELECT snapshot FROM auctions ORDER BY seq`,
	},
	"postgres": {
		schema: `
		CREATE TABLE IF NOT EXISTS auctions (
			seq BIGSERIAL PRIMARY KEY,
			address VARCHAR(128) NOT NULL UNIQUE,
			owner VARCHAR(128) NOT NULL,
			title VARCHAR(256) NOT NULL,
			cancelled BOOLEAN NOT NULL DEFAULT FALSE,
			snapshot BYTEA NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_auctions_owner ON auctions(owner);
		`,
		upsert: `
		INSERT INTO auctions (address, owner, title, cancelled, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address) DO UPDATE SET
			cancelled = EXCLUDED.cancelled,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at
		`,
		get:  `SELECT snapshot FROM auctions WHERE address = $1`,
		list: `SELECT snapshot FROM auctions ORDER BY seq`,
	},
}

// SQLStore persists records in a SQL database. Each row carries a few
// summary columns for operators plus the CBOR snapshot that is the source of
// truth.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// OpenSQL opens dsn with driver ("sqlite" or "postgres") and migrates the
// schema.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if driver == "sqlite" {
		// One writer at a time; concurrent connections to an in-memory
		// database would each see their own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &SQLStore{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, s.dialect.schema)
	return err
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Get(ctx context.Context, address core.Identity) (*core.AuctionRecord, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.dialect.get, string(address)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query auction %s: %w", address, err)
	}
	return DecodeRecord(data)
}

func (s *SQLStore) Put(ctx context.Context, rec *core.AuctionRecord) error {
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.dialect.upsert,
		string(rec.Address),
		string(rec.Owner),
		rec.Title,
		rec.Cancelled,
		data,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save auction %s: %w", rec.Address, err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]*core.AuctionRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.list)
	if err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	defer rows.Close()

	var out []*core.AuctionRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan auction: %w", err)
		}
		rec, err := DecodeRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	return out, nil
}
