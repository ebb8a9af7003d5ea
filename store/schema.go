package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// schemaDDL creates every table and index this core needs. The sync table
// extends spec §6's minimum columns with sequence_number and retention_key
// so the sequence tracker and LastSync eviction can query directly instead
// of redecoding every packet.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS MyInfo (
	entry TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS community (
	id BLOB PRIMARY KEY,
	master_member BLOB NOT NULL,
	my_member BLOB NOT NULL,
	global_time INTEGER NOT NULL DEFAULT 0,
	destroyed INTEGER NOT NULL DEFAULT 0,
	frozen INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS member (
	database_id INTEGER PRIMARY KEY AUTOINCREMENT,
	mid BLOB NOT NULL,
	public_key BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS sync (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	community BLOB NOT NULL,
	member BLOB NOT NULL,
	retention_key BLOB NOT NULL,
	meta_message TEXT NOT NULL,
	global_time INTEGER NOT NULL,
	sequence_number INTEGER NOT NULL DEFAULT 0,
	packet BLOB NOT NULL,
	undone INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sync_comm_meta_gt ON sync(community, meta_message, global_time);
CREATE INDEX IF NOT EXISTS idx_sync_comm_member_meta_gt ON sync(community, member, meta_message, global_time);
CREATE INDEX IF NOT EXISTS idx_sync_retention ON sync(community, meta_message, retention_key, global_time);

CREATE TABLE IF NOT EXISTS double_signed_sync (
	sync_id INTEGER NOT NULL REFERENCES sync(id),
	member1 BLOB NOT NULL,
	member2 BLOB NOT NULL
);
`

// Open opens (creating if absent) a SQLite-backed store at path. Connections
// are capped at one in flight, matching the contract's "serialised per
// database file" requirement.
func Open(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLStore{
		db:     db,
		logger: logrus.WithField("component", "store"),
	}

	if _, err := db.ExecContext(context.Background(), schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema init: %w", err)
	}

	return s, nil
}
