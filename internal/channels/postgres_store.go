package channels

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/mbd888/driveledger/internal/identity"
)

// PostgresStore persists channels and drive replicator sets.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed channel store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) SaveChannel(ctx context.Context, ch *Channel) error {
	receivers := make(pq.ByteaArray, 0, len(ch.Receivers))
	for _, r := range ch.Receivers {
		receivers = append(receivers, r.Bytes())
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO channels (id, owner_key, drive_key, content_hash, flags, receivers, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ch.ID[:], ch.Owner[:], ch.Drive[:], ch.ContentHash[:], int64(ch.Flags), receivers, ch.CreatedAt,
	)
	return err
}

func (p *PostgresStore) DeleteChannel(ctx context.Context, id ChannelID) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM channels WHERE id = $1`, id[:])
	return err
}

func (p *PostgresStore) ListChannels(ctx context.Context) ([]*Channel, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, owner_key, drive_key, content_hash, flags, receivers, created_at
		FROM channels ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Channel
	for rows.Next() {
		var (
			id, owner, drive, hash []byte
			flags                  int64
			receivers              pq.ByteaArray
			ch                     Channel
		)
		if err := rows.Scan(&id, &owner, &drive, &hash, &flags, &receivers, &ch.CreatedAt); err != nil {
			return nil, err
		}
		if err := copyExact(ch.ID[:], id); err != nil {
			return nil, err
		}
		if err := copyExact(ch.Owner[:], owner); err != nil {
			return nil, err
		}
		if err := copyExact(ch.Drive[:], drive); err != nil {
			return nil, err
		}
		if err := copyExact(ch.ContentHash[:], hash); err != nil {
			return nil, err
		}
		ch.Flags = Flags(flags)
		for _, raw := range receivers {
			var k identity.PeerKey
			if err := copyExact(k[:], raw); err != nil {
				return nil, err
			}
			ch.Receivers = append(ch.Receivers, k)
		}
		out = append(out, &ch)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SaveDrive(ctx context.Context, d Drive) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM drive_replicators WHERE drive_key = $1`, d.Key[:]); err != nil {
		return err
	}
	for _, r := range d.Replicators {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO drive_replicators (drive_key, replicator_key) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, d.Key[:], r[:]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) ListDrives(ctx context.Context) ([]Drive, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT drive_key, replicator_key FROM drive_replicators ORDER BY drive_key, replicator_key`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	index := make(map[identity.PeerKey]int)
	var out []Drive
	for rows.Next() {
		var driveRaw, repRaw []byte
		if err := rows.Scan(&driveRaw, &repRaw); err != nil {
			return nil, err
		}
		var drive, rep identity.PeerKey
		if err := copyExact(drive[:], driveRaw); err != nil {
			return nil, err
		}
		if err := copyExact(rep[:], repRaw); err != nil {
			return nil, err
		}
		i, ok := index[drive]
		if !ok {
			i = len(out)
			index[drive] = i
			out = append(out, Drive{Key: drive})
		}
		out[i].Replicators = append(out[i].Replicators, rep)
	}
	return out, rows.Err()
}

func copyExact(dst, src []byte) error {
	if len(src) != len(dst) {
		return fmt.Errorf("channels: stored key has %d bytes, want %d", len(src), len(dst))
	}
	copy(dst, src)
	return nil
}

var _ Store = (*PostgresStore)(nil)
