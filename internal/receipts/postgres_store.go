package receipts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/mbd888/driveledger/internal/channels"
)

// PostgresStore persists receipts in the receipts table. The partial unique
// index on (channel_id, payer_key, payee_key) WHERE NOT superseded keeps at
// most one latest row per triple.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed receipt store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Latest(ctx context.Context, t Triple) (*Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT channel_id, payer_key, payee_key, downloaded::TEXT, signature, superseded, received_at
		FROM receipts
		WHERE channel_id = $1 AND payer_key = $2 AND payee_key = $3 AND NOT superseded`,
		t.Channel[:], t.Payer[:], t.Payee[:])
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	return rec, err
}

func (p *PostgresStore) Append(ctx context.Context, rec *Record) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE receipts SET superseded = TRUE
		WHERE channel_id = $1 AND payer_key = $2 AND payee_key = $3 AND NOT superseded`,
		rec.ChannelID[:], rec.Payer[:], rec.Payee[:],
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO receipts (channel_id, payer_key, payee_key, downloaded, signature, received_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,0), $5, $6)`,
		rec.ChannelID[:], rec.Payer[:], rec.Payee[:],
		strconv.FormatUint(rec.Downloaded, 10), rec.Signature[:], rec.ReceivedAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) History(ctx context.Context, t Triple, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT channel_id, payer_key, payee_key, downloaded::TEXT, signature, superseded, received_at
		FROM receipts
		WHERE channel_id = $1 AND payer_key = $2 AND payee_key = $3
		ORDER BY id DESC
		LIMIT $4`,
		t.Channel[:], t.Payer[:], t.Payee[:], limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SupersedeChannel(ctx context.Context, ch channels.ChannelID) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE receipts SET superseded = TRUE WHERE channel_id = $1 AND NOT superseded`, ch[:])
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		ch, payer, payee, sig []byte
		downloaded            string
		rec                   Record
	)
	if err := sc.Scan(&ch, &payer, &payee, &downloaded, &sig, &rec.Superseded, &rec.ReceivedAt); err != nil {
		return nil, err
	}
	if err := copyExact(rec.ChannelID[:], ch); err != nil {
		return nil, err
	}
	if err := copyExact(rec.Payer[:], payer); err != nil {
		return nil, err
	}
	if err := copyExact(rec.Payee[:], payee); err != nil {
		return nil, err
	}
	if err := copyExact(rec.Signature[:], sig); err != nil {
		return nil, err
	}
	n, err := strconv.ParseUint(downloaded, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("receipts: downloaded: %w", err)
	}
	rec.Downloaded = n
	return &rec, nil
}

func copyExact(dst, src []byte) error {
	if len(src) != len(dst) {
		return fmt.Errorf("receipts: stored field has %d bytes, want %d", len(src), len(dst))
	}
	copy(dst, src)
	return nil
}

var _ Store = (*PostgresStore)(nil)
