package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"voucherRelay/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS listings (
	tx_hash      TEXT    NOT NULL,
	log_index    INTEGER NOT NULL,
	listing_id   NUMERIC NOT NULL,
	nft_contract TEXT    NOT NULL,
	token_id     NUMERIC NOT NULL,
	seller       TEXT    NOT NULL,
	price_wei    NUMERIC NOT NULL,
	block_number BIGINT  NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tx_hash, log_index)
);
CREATE TABLE IF NOT EXISTS voucher_executions (
	id            BIGSERIAL PRIMARY KEY,
	input_index   BIGINT NOT NULL,
	voucher_index BIGINT NOT NULL,
	state         TEXT   NOT NULL,
	tx_hash       TEXT,
	block_number  BIGINT,
	error         TEXT,
	recorded_at   TIMESTAMPTZ NOT NULL
);
`

// Store exports listings and execution outcomes to Postgres.
type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, timeout: 10 * time.Second}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the export tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// PutListings inserts listing events, ignoring ones already exported.
func (s *Store) PutListings(listings []model.ListingEvent) error {
	if len(listings) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	batch := &pgx.Batch{}
	for _, listing := range listings {
		batch.Queue(`
			INSERT INTO listings (
				tx_hash, log_index, listing_id, nft_contract, token_id, seller, price_wei, block_number
			) VALUES ($1, $2, $3::numeric, $4, $5::numeric, $6, $7::numeric, $8)
			ON CONFLICT (tx_hash, log_index) DO NOTHING
		`,
			listing.TxHash.Hex(),
			int64(listing.LogIndex),
			numeric(listing.ID),
			listing.NFTContract.Hex(),
			numeric(listing.TokenID),
			listing.Seller.Hex(),
			numeric(listing.Price),
			int64(listing.BlockNumber),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range listings {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert listing: %w", err)
		}
	}
	return nil
}

// The casts keep NULLIF from inferring int4 for block_number, which would reject heights
// above 2^31-1.
const insertExecutionSQL = `
	INSERT INTO voucher_executions (
		input_index, voucher_index, state, tx_hash, block_number, error, recorded_at
	) VALUES ($1, $2, $3, NULLIF($4::text, ''), NULLIF($5::bigint, 0), NULLIF($6::text, ''), $7)
`

// PutExecution inserts one execution record.
func (s *Store) PutExecution(record model.ExecutionRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	recordedAt, err := time.Parse(time.RFC3339Nano, record.At)
	if err != nil {
		recordedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx, insertExecutionSQL,
		int64(record.InputIndex),
		int64(record.VoucherIndex),
		record.State,
		record.TxHash,
		int64(record.BlockNumber),
		record.Error,
		recordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func numeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
