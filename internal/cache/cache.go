// Package cache is the compiler's content-addressed build cache: a
// compiled artifact (assembly text or raw machine code) keyed by the
// sha256 of the IR text that produced it, so an unchanged routine across
// two builds never gets re-assembled. The product's own builder
// computed a sha256 checksum over its linked bytecode before writing a
// bundle; this keeps that "hash the compiled output, key the store by
// it" idiom but backs the store with a real table (github.com/mattn/go-sqlite3)
// instead of a one-shot tar.gz bundle file, since a long-running `build
// -watch` needs random lookup, not a single archive written once at the
// end.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Key is a content hash identifying one cached artifact.
type Key string

// HashText derives a Key from the IR text (or source text) a compiled
// artifact was produced from.
func HashText(text string) Key {
	sum := sha256.Sum256([]byte(text))
	return Key(hex.EncodeToString(sum[:]))
}

// Store is a sqlite-backed cache of compiled artifacts. The zero value
// is not usable; construct with Open.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a cache database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	schema := `
CREATE TABLE IF NOT EXISTS artifacts (
	key        TEXT NOT NULL,
	stage      TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (key, stage)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get returns the cached payload for key at stage ("asm", "obj", ...),
// or ok=false on a miss.
func (s *Store) Get(key Key, stage string) (payload []byte, ok bool, err error) {
	row := s.db.QueryRow(`SELECT payload FROM artifacts WHERE key = ? AND stage = ?`, string(key), stage)
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

// Put stores payload under key/stage, overwriting any prior entry - a
// changed optimization level or target recompiles the same IR text to a
// different artifact, so stage is part of the identity, not just key.
func (s *Store) Put(key Key, stage string, payload []byte) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO artifacts (key, stage, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(key), stage, payload, time.Now().UTC(),
	)
	return err
}

// Prune deletes every entry older than maxAge, bounding the cache's
// growth across a long-lived `build -watch` session.
func (s *Store) Prune(maxAge time.Duration) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM artifacts WHERE created_at < ?`, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
