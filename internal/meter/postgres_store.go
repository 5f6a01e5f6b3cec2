package meter

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/mbd888/driveledger/internal/channels"
)

// PostgresStore checkpoints counters in the transfer_counters table.
// Counters are NUMERIC(20,0) and travel as decimal strings so the full
// uint64 range survives.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed counter store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Save(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transfer_counters (channel_id, peer_key, requested_bytes, sent_bytes, received_bytes, updated_at)
		VALUES ($1, $2, $3::NUMERIC(20,0), $4::NUMERIC(20,0), $5::NUMERIC(20,0), NOW())
		ON CONFLICT (channel_id, peer_key) DO UPDATE SET
			requested_bytes = GREATEST(transfer_counters.requested_bytes, EXCLUDED.requested_bytes),
			sent_bytes      = GREATEST(transfer_counters.sent_bytes, EXCLUDED.sent_bytes),
			received_bytes  = GREATEST(transfer_counters.received_bytes, EXCLUDED.received_bytes),
			updated_at      = NOW()`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.Pair.Channel[:], e.Pair.Peer[:],
			formatUint(e.Counters.Requested),
			formatUint(e.Counters.Sent),
			formatUint(e.Counters.Received),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) Load(ctx context.Context) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT channel_id, peer_key, requested_bytes::TEXT, sent_bytes::TEXT, received_bytes::TEXT
		FROM transfer_counters`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			ch, peer            []byte
			requested, sent, rx string
			e                   Entry
		)
		if err := rows.Scan(&ch, &peer, &requested, &sent, &rx); err != nil {
			return nil, err
		}
		if len(ch) != len(e.Pair.Channel) || len(peer) != len(e.Pair.Peer) {
			return nil, fmt.Errorf("meter: malformed counter key (%d, %d bytes)", len(ch), len(peer))
		}
		copy(e.Pair.Channel[:], ch)
		copy(e.Pair.Peer[:], peer)
		if e.Counters.Requested, err = strconv.ParseUint(requested, 10, 64); err != nil {
			return nil, fmt.Errorf("meter: requested_bytes: %w", err)
		}
		if e.Counters.Sent, err = strconv.ParseUint(sent, 10, 64); err != nil {
			return nil, fmt.Errorf("meter: sent_bytes: %w", err)
		}
		if e.Counters.Received, err = strconv.ParseUint(rx, 10, 64); err != nil {
			return nil, fmt.Errorf("meter: received_bytes: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) DeleteChannel(ctx context.Context, ch channels.ChannelID) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM transfer_counters WHERE channel_id = $1`, ch[:])
	return err
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

var _ Store = (*PostgresStore)(nil)
