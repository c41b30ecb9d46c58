package s3store

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rbatllet/private-blockchain-search/internal/resilience"
	"github.com/rbatllet/private-blockchain-search/pkg/cryptoutil"
	"github.com/rbatllet/private-blockchain-search/pkg/ledger"
	"github.com/rbatllet/private-blockchain-search/pkg/wireformat"
)

// mockS3Client is a mock for the S3 client surface FileExists uses.
type mockS3Client struct {
	mock.Mock
}

func (m *mockS3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.HeadObjectOutput), args.Error(1)
}

// mockDownloader is a mock for the transfer-manager surface RetrieveData
// uses. body is written to the caller's buffer on a successful download.
type mockDownloader struct {
	mock.Mock
	body []byte
}

func (m *mockDownloader) Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*manager.Downloader)) (int64, error) {
	args := m.Called(ctx, input)
	if err := args.Error(1); err != nil {
		return 0, err
	}
	n, err := w.WriteAt(m.body, 0)
	return int64(n), err
}

func testStore(client headAPI, downloader downloadAPI) *Store {
	return &Store{
		client:     client,
		downloader: downloader,
		bucket:     "ledger-files",
		timeout:    time.Second,
		boundary:   resilience.NewBoundary(resilience.DefaultBreakerConfig("s3store-test"), resilience.DefaultRetryConfig()),
	}
}

func TestFileExistsFound(t *testing.T) {
	client := new(mockS3Client)
	client.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return *in.Bucket == "ledger-files" && *in.Key == "files/doc1"
	})).Return(&s3.HeadObjectOutput{}, nil)

	s := testStore(client, nil)
	ok, err := s.FileExists(context.Background(), ledger.OffChainRef{StorageKey: "files/doc1"})
	require.NoError(t, err)
	assert.True(t, ok)
	client.AssertExpectations(t)
}

func TestFileExistsNotFoundIsFalseNotError(t *testing.T) {
	client := new(mockS3Client)
	client.On("HeadObject", mock.Anything, mock.Anything).Return(nil, &types.NotFound{})

	s := testStore(client, nil)
	ok, err := s.FileExists(context.Background(), ledger.OffChainRef{StorageKey: "files/missing"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileExistsPropagatesOtherErrors(t *testing.T) {
	client := new(mockS3Client)
	client.On("HeadObject", mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))

	s := testStore(client, nil)
	_, err := s.FileExists(context.Background(), ledger.OffChainRef{StorageKey: "files/doc1"})
	assert.Error(t, err)
}

func TestRetrieveDataPlaintextPassthrough(t *testing.T) {
	dl := &mockDownloader{body: []byte("plain bytes")}
	dl.On("Download", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return *in.Bucket == "ledger-files" && *in.Key == "files/doc1"
	})).Return(int64(0), nil)

	s := testStore(nil, dl)
	data, ok, err := s.RetrieveData(context.Background(), ledger.OffChainRef{StorageKey: "files/doc1"}, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("plain bytes"), data)
	dl.AssertExpectations(t)
}

func TestRetrieveDataDecryptsEncryptedBody(t *testing.T) {
	meta, err := cryptoutil.EncryptWithPassword([]byte("contract body"), "hunter2", 1_700_000_000_000)
	require.NoError(t, err)

	dl := &mockDownloader{body: []byte(wireformat.Render(meta))}
	dl.On("Download", mock.Anything, mock.Anything).Return(int64(0), nil)

	s := testStore(nil, dl)
	ref := ledger.OffChainRef{StorageKey: "files/doc1", EncryptionMetadata: "encrypted"}
	data, ok, err := s.RetrieveData(context.Background(), ref, "hunter2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "contract body", string(data))
}

func TestRetrieveDataDownloadErrorPropagates(t *testing.T) {
	dl := &mockDownloader{}
	dl.On("Download", mock.Anything, mock.Anything).Return(int64(0), errors.New("network unreachable"))

	s := testStore(nil, dl)
	_, _, err := s.RetrieveData(context.Background(), ledger.OffChainRef{StorageKey: "files/doc1"}, "")
	assert.Error(t, err)
}

func TestDecodeRetrievedPlaintextPassthrough(t *testing.T) {
	data, ok, err := decodeRetrieved([]byte("plain bytes"), ledger.OffChainRef{}, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("plain bytes"), data)
}

func TestDecodeRetrievedDecryptsWithCorrectPassword(t *testing.T) {
	meta, err := cryptoutil.EncryptWithPassword([]byte("contract body"), "hunter2", 1_700_000_000_000)
	require.NoError(t, err)
	ref := ledger.OffChainRef{EncryptionMetadata: "encrypted"}

	data, ok, err := decodeRetrieved([]byte(wireformat.Render(meta)), ref, "hunter2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "contract body", string(data))
}

func TestDecodeRetrievedWrongPasswordYieldsNotOK(t *testing.T) {
	meta, err := cryptoutil.EncryptWithPassword([]byte("contract body"), "hunter2", 1_700_000_000_000)
	require.NoError(t, err)
	ref := ledger.OffChainRef{EncryptionMetadata: "encrypted"}

	_, ok, err := decodeRetrieved([]byte(wireformat.Render(meta)), ref, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeRetrievedMalformedBodyYieldsNotOK(t *testing.T) {
	ref := ledger.OffChainRef{EncryptionMetadata: "encrypted"}
	_, ok, err := decodeRetrieved([]byte("not a valid wire string"), ref, "anything")
	require.NoError(t, err)
	assert.False(t, ok)
}
