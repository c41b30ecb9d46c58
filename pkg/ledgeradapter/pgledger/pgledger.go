// Package pgledger implements pkg/ledger.Reader against a PostgreSQL store
// using sqlx and lib/pq. It is a reference adapter: the search core never
// imports it directly, only pkg/ledger's interfaces.
package pgledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/rbatllet/private-blockchain-search/internal/resilience"
	"github.com/rbatllet/private-blockchain-search/pkg/cryptoutil"
	"github.com/rbatllet/private-blockchain-search/pkg/ledger"
	"github.com/rbatllet/private-blockchain-search/pkg/wireformat"
)

// Config holds the connection parameters for the Postgres-backed reader.
type Config struct {
	DSN            string
	MigrationsPath string
}

// Reader implements pkg/ledger.Reader against Postgres. Every method is
// wrapped in a circuit breaker + retry boundary, since every call here
// crosses the external-storage boundary.
type Reader struct {
	db      *sqlx.DB
	queryCB *resilience.Boundary
}

// Open connects to Postgres and verifies the connection with a ping.
func Open(ctx context.Context, cfg Config) (*Reader, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return &Reader{
		db:      db,
		queryCB: resilience.NewBoundary(resilience.DefaultBreakerConfig("pgledger"), resilience.DefaultRetryConfig()),
	}, nil
}

// Close releases the underlying connection pool.
func (r *Reader) Close() error { return r.db.Close() }

type blockRow struct {
	BlockNumber        uint64         `db:"block_number"`
	Hash               string         `db:"hash"`
	Timestamp          time.Time      `db:"block_timestamp"`
	IsEncrypted        bool           `db:"is_encrypted"`
	Payload            []byte         `db:"payload"`
	EncryptionMetadata sql.NullString `db:"encryption_metadata"`
	ManualKeywords     sql.NullString `db:"manual_keywords"`
	ContentCategory    sql.NullString `db:"content_category"`
	OffChainRef        sql.NullString `db:"off_chain_ref"`
}

func (row blockRow) toBlock() (ledger.Block, error) {
	block := ledger.Block{
		BlockNumber:     row.BlockNumber,
		Hash:            row.Hash,
		Timestamp:       row.Timestamp,
		IsEncrypted:     row.IsEncrypted,
		Payload:         row.Payload,
		ContentCategory: row.ContentCategory.String,
	}
	if row.EncryptionMetadata.Valid {
		block.EncryptionMetadata = row.EncryptionMetadata.String
	}
	if row.ManualKeywords.Valid && row.ManualKeywords.String != "" {
		var keywords []string
		if err := json.Unmarshal([]byte(row.ManualKeywords.String), &keywords); err != nil {
			return ledger.Block{}, fmt.Errorf("decode manual_keywords for block %d: %w", row.BlockNumber, err)
		}
		block.ManualKeywords = keywords
	}
	if row.OffChainRef.Valid && row.OffChainRef.String != "" {
		var ref ledger.OffChainRef
		if err := json.Unmarshal([]byte(row.OffChainRef.String), &ref); err != nil {
			return ledger.Block{}, fmt.Errorf("decode off_chain_ref for block %d: %w", row.BlockNumber, err)
		}
		block.OffChainRef = &ref
	}
	return block, nil
}

const selectColumns = `block_number, hash, block_timestamp, is_encrypted, payload, encryption_metadata, manual_keywords, content_category, off_chain_ref`

func (r *Reader) GetBlockCount(ctx context.Context) (uint64, error) {
	res, err := r.queryCB.Call(ctx, func() (any, error) {
		var count uint64
		err := r.db.GetContext(ctx, &count, `SELECT count(*) FROM blocks`)
		return count, err
	})
	if err != nil {
		return 0, err
	}
	return res.(uint64), nil
}

func (r *Reader) GetBlocksPaginated(ctx context.Context, offset, limit uint64) ([]ledger.Block, error) {
	return r.queryBlocks(ctx, fmt.Sprintf(`SELECT %s FROM blocks ORDER BY block_number ASC LIMIT $1 OFFSET $2`, selectColumns), limit, offset)
}

func (r *Reader) GetEncryptedBlocksPaginatedDesc(ctx context.Context, offset, limit uint64) ([]ledger.Block, error) {
	return r.queryBlocks(ctx, fmt.Sprintf(`SELECT %s FROM blocks WHERE is_encrypted ORDER BY block_number DESC LIMIT $1 OFFSET $2`, selectColumns), limit, offset)
}

func (r *Reader) GetEncryptedBlocksExcluding(ctx context.Context, offset, limit uint64, exclude map[string]struct{}) ([]ledger.Block, error) {
	hashes := make([]string, 0, len(exclude))
	for h := range exclude {
		hashes = append(hashes, h)
	}
	if len(hashes) == 0 {
		return r.GetEncryptedBlocksPaginatedDesc(ctx, offset, limit)
	}

	query, args, err := sqlx.In(fmt.Sprintf(`SELECT %s FROM blocks WHERE is_encrypted AND hash NOT IN (?) ORDER BY block_number DESC LIMIT ? OFFSET ?`, selectColumns), hashes, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("build exclude query: %w", err)
	}
	query = r.db.Rebind(query)
	return r.queryBlocks(ctx, query, args...)
}

func (r *Reader) queryBlocks(ctx context.Context, query string, args ...any) ([]ledger.Block, error) {
	res, err := r.queryCB.Call(ctx, func() (any, error) {
		var rows []blockRow
		if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
			return nil, err
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}

	rows := res.([]blockRow)
	blocks := make([]ledger.Block, 0, len(rows))
	for _, row := range rows {
		block, err := row.toBlock()
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// GetDecryptedBlockData fetches the raw encryption_metadata for blockNumber
// and attempts to decrypt it with password. ok is false on any failure,
// including a row not found or a wrong password.
func (r *Reader) GetDecryptedBlockData(ctx context.Context, blockNumber uint64, password string) (string, bool, error) {
	res, err := r.queryCB.Call(ctx, func() (any, error) {
		var encMeta sql.NullString
		err := r.db.GetContext(ctx, &encMeta, `SELECT encryption_metadata FROM blocks WHERE block_number = $1`, blockNumber)
		if err == sql.ErrNoRows {
			return sql.NullString{}, nil
		}
		return encMeta, err
	})
	if err != nil {
		return "", false, err
	}

	encMeta := res.(sql.NullString)
	if !encMeta.Valid || encMeta.String == "" {
		return "", false, nil
	}

	meta, ok := wireformat.Parse(encMeta.String)
	if !ok {
		return "", false, nil
	}
	plaintext, err := cryptoutil.Decrypt(meta, password)
	if err != nil {
		return "", false, nil
	}
	defer cryptoutil.Zero(plaintext)
	return string(plaintext), true, nil
}

var _ ledger.Reader = (*Reader)(nil)
