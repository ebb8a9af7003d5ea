package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/opd-ai/meshcore/community"
	"github.com/opd-ai/meshcore/member"
)

// SyncRow is one row of the sync table: an accepted message plus the
// indexing columns the sequence tracker, sync responder and retention
// policies query by.
type SyncRow struct {
	ID             int64
	Community      community.ID
	Member         member.ID
	RetentionKey   string
	MetaMessage    string
	GlobalTime     uint64
	SequenceNumber uint32
	Packet         []byte
	Undone         bool
}

// DoubleSignedRow is one row of the double_signed_sync table, recording the
// two signers of a LastSync MultiMember message (spec §4.7, §6).
type DoubleSignedRow struct {
	SyncID  int64
	Member1 member.ID
	Member2 member.ID
}

// InsertSync stores a newly-admitted message and returns its rowid.
func (s *SQLStore) InsertSync(ctx context.Context, row SyncRow) (int64, error) {
	id, err := s.Insert(ctx, "sync", map[string]any{
		"community":       row.Community[:],
		"member":          row.Member[:],
		"retention_key":   row.RetentionKey,
		"meta_message":    row.MetaMessage,
		"global_time":     row.GlobalTime,
		"sequence_number": row.SequenceNumber,
		"packet":          row.Packet,
		"undone":          boolToInt(row.Undone),
	})
	if err != nil {
		return 0, fmt.Errorf("store: insert sync: %w", err)
	}
	return id, nil
}

// DeleteSyncByID removes a single sync row, used by retention eviction and
// sequence-conflict resolution.
func (s *SQLStore) DeleteSyncByID(ctx context.Context, id int64) error {
	_, err := s.Delete(ctx, "sync", "id = ?", id)
	return err
}

// MaxSequence returns the highest stored sequence_number for (comm, mem,
// meta), or 0 with found=false if nothing is stored yet — the sequence
// tracker's next_expected starts at stored_max + 1 (spec §4.4).
func (s *SQLStore) MaxSequence(ctx context.Context, comm community.ID, mem member.ID, meta string) (uint32, bool, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sequence_number) FROM sync WHERE community = ? AND member = ? AND meta_message = ?`,
		comm[:], mem[:], meta,
	).Scan(&max)
	if err != nil {
		return 0, false, fmt.Errorf("store: max sequence: %w", err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return uint32(max.Int64), true, nil
}

// FetchBySequence returns the stored row for (comm, mem, meta, seq), if any.
func (s *SQLStore) FetchBySequence(ctx context.Context, comm community.ID, mem member.ID, meta string, seq uint32) (SyncRow, bool, error) {
	rows, err := s.FetchAll(ctx,
		`SELECT id, community, member, retention_key, meta_message, global_time, sequence_number, packet, undone
		 FROM sync WHERE community = ? AND member = ? AND meta_message = ? AND sequence_number = ?`,
		comm[:], mem[:], meta, seq,
	)
	if err != nil {
		return SyncRow{}, false, err
	}
	defer rows.Close()

	results, err := scanSyncRows(rows)
	if err != nil {
		return SyncRow{}, false, err
	}
	if len(results) == 0 {
		return SyncRow{}, false, nil
	}
	return results[0], true, nil
}

// FetchSequenceRange returns stored rows for (comm, mem, meta) whose
// sequence number falls in [low, high], ascending — used to answer
// dispersy-missing-sequence requests (spec §4.4).
func (s *SQLStore) FetchSequenceRange(ctx context.Context, comm community.ID, mem member.ID, meta string, low, high uint32) ([]SyncRow, error) {
	rows, err := s.FetchAll(ctx,
		`SELECT id, community, member, retention_key, meta_message, global_time, sequence_number, packet, undone
		 FROM sync WHERE community = ? AND member = ? AND meta_message = ? AND sequence_number BETWEEN ? AND ?
		 ORDER BY sequence_number ASC`,
		comm[:], mem[:], meta, low, high,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSyncRows(rows)
}

// DeleteSequenceAfter removes every stored entry for (comm, mem, meta) whose
// sequence number is strictly greater than seq — used by conflict
// resolution (spec §4.5) to evict now-inconsistent later entries after a
// lower-global-time message replaces one at seq.
func (s *SQLStore) DeleteSequenceAfter(ctx context.Context, comm community.ID, mem member.ID, meta string, seq uint32) error {
	_, err := s.Delete(ctx, "sync",
		"community = ? AND member = ? AND meta_message = ? AND sequence_number > ?",
		comm[:], mem[:], meta, seq,
	)
	return err
}

// RetentionRows returns every row for (comm, meta, key) ordered ascending by
// global_time, for LastSync cardinality enforcement (spec I5, P3).
func (s *SQLStore) RetentionRows(ctx context.Context, comm community.ID, meta, key string) ([]SyncRow, error) {
	rows, err := s.FetchAll(ctx,
		`SELECT id, community, member, retention_key, meta_message, global_time, sequence_number, packet, undone
		 FROM sync WHERE community = ? AND meta_message = ? AND retention_key = ?
		 ORDER BY global_time ASC`,
		comm[:], meta, key,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSyncRows(rows)
}

// FetchByGlobalTimeRange returns stored rows for (comm, meta) with
// time_low <= global_time <= time_high (timeHigh == 0 means unbounded),
// feeding the sync responder's tuple match (spec §4.6) before the modulo
// and bloom filters are applied.
func (s *SQLStore) FetchByGlobalTimeRange(ctx context.Context, comm community.ID, meta string, timeLow, timeHigh uint64) ([]SyncRow, error) {
	query := `SELECT id, community, member, retention_key, meta_message, global_time, sequence_number, packet, undone
		 FROM sync WHERE community = ? AND meta_message = ? AND global_time >= ?`
	args := []any{comm[:], meta, timeLow}
	if timeHigh != 0 {
		query += " AND global_time <= ?"
		args = append(args, timeHigh)
	}
	rows, err := s.FetchAll(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSyncRows(rows)
}

// WipeCommunity deletes every sync row for comm, retaining none; the
// hard-kill directive is not kept, and no tombstone row is written for it.
func (s *SQLStore) WipeCommunity(ctx context.Context, comm community.ID) error {
	_, err := s.Delete(ctx, "sync", "community = ?", comm[:])
	return err
}

// InsertDoubleSigned records the two signers of a LastSync MultiMember
// message in the order given; the caller passes them sorted, so {A,B} and
// {B,A} are recorded alike. Each call adds a new row.
func (s *SQLStore) InsertDoubleSigned(ctx context.Context, syncID int64, member1, member2 member.ID) error {
	_, err := s.Insert(ctx, "double_signed_sync", map[string]any{
		"sync_id": syncID,
		"member1": member1[:],
		"member2": member2[:],
	})
	return err
}

// DeleteDoubleSignedBySyncID removes the double_signed_sync row tied to a
// sync row, used alongside DeleteSyncByID during LastSync eviction.
func (s *SQLStore) DeleteDoubleSignedBySyncID(ctx context.Context, syncID int64) error {
	_, err := s.Delete(ctx, "double_signed_sync", "sync_id = ?", syncID)
	return err
}

// CountDoubleSigned returns the number of double_signed_sync rows for comm,
// joining through sync (scenario 6).
func (s *SQLStore) CountDoubleSigned(ctx context.Context, comm community.ID) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM double_signed_sync d JOIN sync s ON s.id = d.sync_id WHERE s.community = ?`,
		comm[:],
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count double signed: %w", err)
	}
	return n, nil
}

func scanSyncRows(rows *sql.Rows) ([]SyncRow, error) {
	var out []SyncRow
	for rows.Next() {
		var (
			row       SyncRow
			commBytes []byte
			memBytes  []byte
			undoneInt int
		)
		if err := rows.Scan(&row.ID, &commBytes, &memBytes, &row.RetentionKey, &row.MetaMessage,
			&row.GlobalTime, &row.SequenceNumber, &row.Packet, &undoneInt); err != nil {
			return nil, fmt.Errorf("store: scan sync row: %w", err)
		}
		copy(row.Community[:], commBytes)
		copy(row.Member[:], memBytes)
		row.Undone = undoneInt != 0
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate sync rows: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
