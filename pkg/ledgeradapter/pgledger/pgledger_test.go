package pgledger

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbatllet/private-blockchain-search/internal/resilience"
	"github.com/rbatllet/private-blockchain-search/pkg/cryptoutil"
	"github.com/rbatllet/private-blockchain-search/pkg/wireformat"
)

func testBoundary() *resilience.Boundary {
	return resilience.NewBoundary(resilience.DefaultBreakerConfig("pgledger-test"), resilience.DefaultRetryConfig())
}

func newMockReader(t *testing.T) (*Reader, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	return &Reader{
		db:      sqlxDB,
		queryCB: testBoundary(),
	}, mock
}

func TestGetBlockCount(t *testing.T) {
	r, mock := newMockReader(t)
	mock.ExpectQuery(`SELECT count\(\*\) FROM blocks`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := r.GetBlockCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBlocksPaginated(t *testing.T) {
	r, mock := newMockReader(t)
	cols := []string{"block_number", "hash", "block_timestamp", "is_encrypted", "payload", "encryption_metadata", "manual_keywords", "content_category", "off_chain_ref"}
	mock.ExpectQuery(`SELECT .+ FROM blocks ORDER BY block_number ASC`).
		WithArgs(uint64(10), uint64(0)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, "hash1", time.Now(), false, []byte("payload"), nil, `["tag1","tag2"]`, "finance", nil))

	blocks, err := r.GetBlocksPaginated(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, uint64(1), blocks[0].BlockNumber)
	assert.Equal(t, []string{"tag1", "tag2"}, blocks[0].ManualKeywords)
	assert.Equal(t, "finance", blocks[0].ContentCategory)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEncryptedBlocksExcludingWithEmptySetFallsBackToDesc(t *testing.T) {
	r, mock := newMockReader(t)
	cols := []string{"block_number", "hash", "block_timestamp", "is_encrypted", "payload", "encryption_metadata", "manual_keywords", "content_category", "off_chain_ref"}
	mock.ExpectQuery(`SELECT .+ FROM blocks WHERE is_encrypted ORDER BY block_number DESC`).
		WithArgs(uint64(5), uint64(0)).
		WillReturnRows(sqlmock.NewRows(cols))

	blocks, err := r.GetEncryptedBlocksExcluding(context.Background(), 0, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, blocks)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDecryptedBlockDataWrongPasswordYieldsNotOK(t *testing.T) {
	r, mock := newMockReader(t)

	meta, err := cryptoutil.EncryptWithPassword([]byte("secret payload"), "correct-horse", 1_700_000_000_000)
	require.NoError(t, err)
	rendered := wireformat.Render(meta)

	mock.ExpectQuery(`SELECT encryption_metadata FROM blocks WHERE block_number = \$1`).
		WithArgs(uint64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"encryption_metadata"}).AddRow(rendered))

	_, ok, err := r.GetDecryptedBlockData(context.Background(), 7, "wrong-password")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDecryptedBlockDataCorrectPassword(t *testing.T) {
	r, mock := newMockReader(t)

	meta, err := cryptoutil.EncryptWithPassword([]byte("secret payload"), "correct-horse", 1_700_000_000_000)
	require.NoError(t, err)
	rendered := wireformat.Render(meta)

	mock.ExpectQuery(`SELECT encryption_metadata FROM blocks WHERE block_number = \$1`).
		WithArgs(uint64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"encryption_metadata"}).AddRow(rendered))

	plaintext, ok, err := r.GetDecryptedBlockData(context.Background(), 7, "correct-horse")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "secret payload", plaintext)
	require.NoError(t, mock.ExpectationsWereMet())
}
