package ledger

import "context"

// Reader is the read-only ledger-persistence interface consumed by the
// search core. The search core never mutates the ledger and never
// owns it; it only holds a Reader handed to it at construction.
type Reader interface {
	// GetBlockCount returns the total number of blocks in the ledger.
	GetBlockCount(ctx context.Context) (uint64, error)

	// GetBlocksPaginated returns up to limit blocks starting at offset, in
	// ledger order.
	GetBlocksPaginated(ctx context.Context, offset, limit uint64) ([]Block, error)

	// GetEncryptedBlocksPaginatedDesc returns up to limit encrypted blocks
	// starting at offset, ordered by block number descending. It backs the
	// encrypted-blocks pagination cache's first page.
	GetEncryptedBlocksPaginatedDesc(ctx context.Context, offset, limit uint64) ([]Block, error)

	// GetEncryptedBlocksExcluding returns up to limit encrypted blocks
	// starting at offset, excluding any whose hash is in exclude. This lets
	// the storage layer filter already-found duplicates at the source for
	// subsequent pages of the parallel-decryption scan.
	GetEncryptedBlocksExcluding(ctx context.Context, offset, limit uint64, exclude map[string]struct{}) ([]Block, error)

	// GetDecryptedBlockData attempts to decrypt the payload of the block at
	// blockNumber using password. ok is false on any failure, including a
	// wrong password; that case must never surface as an error.
	GetDecryptedBlockData(ctx context.Context, blockNumber uint64, password string) (plaintext string, ok bool, err error)
}

// OffChainStorage is the read-only off-chain file storage interface
// consumed by the off-chain file search.
type OffChainStorage interface {
	// FileExists reports whether the file described by ref is present.
	FileExists(ctx context.Context, ref OffChainRef) (bool, error)

	// RetrieveData fetches and decrypts the file described by ref using
	// password. ok is false when the file cannot be decrypted (e.g. wrong
	// password); that must never surface as an error.
	RetrieveData(ctx context.Context, ref OffChainRef, password string) (data []byte, ok bool, err error)
}
