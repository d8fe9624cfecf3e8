package s3

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/docgo/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient implements Client over an in-memory object map. Uploads small
// enough for a single part go through PutObject, which is all the tests
// need.
type fakeClient struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string][]byte)}
}

func (f *fakeClient) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.objects[aws.ToString(params.Key)] = data
	f.mu.Unlock()

	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	data, ok := f.objects[aws.ToString(params.Key)]
	f.mu.Unlock()
	if !ok {
		return nil, &types.NoSuchKey{}
	}

	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeClient) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(params.Key))
	f.mu.Unlock()

	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeClient) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var contents []types.Object
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(params.Prefix)) {
			contents = append(contents, types.Object{Key: aws.String(key)})
		}
	}

	return &s3.ListObjectsV2Output{Contents: contents, IsTruncated: aws.Bool(false)}, nil
}

func (f *fakeClient) CreateMultipartUpload(_ context.Context, _ *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
}

func (f *fakeClient) UploadPart(_ context.Context, _ *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return &s3.UploadPartOutput{ETag: aws.String("etag")}, nil
}

func (f *fakeClient) CompleteMultipartUpload(_ context.Context, _ *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeClient) AbortMultipartUpload(_ context.Context, _ *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newFakeClient(), "bucket", "db1")

	n, err := store.Put(ctx, "backups/one.bak", bytes.NewReader([]byte("archive")))
	require.NoError(t, err)
	assert.Equal(t, int64(len("archive")), n)

	got, err := blobstore.GetBytes(ctx, store, "backups/one.bak")
	require.NoError(t, err)
	assert.Equal(t, "archive", string(got))
}

func TestStoreOpenMissing(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newFakeClient(), "bucket", "")

	_, err := store.Open(ctx, "missing")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStoreListStripsPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newFakeClient(), "bucket", "db1")

	require.NoError(t, blobstore.PutBytes(ctx, store, "backups/b.bak", []byte("b")))
	require.NoError(t, blobstore.PutBytes(ctx, store, "backups/a.bak", []byte("a")))

	names, err := store.List(ctx, "backups/")
	require.NoError(t, err)
	assert.Equal(t, []string{"backups/a.bak", "backups/b.bak"}, names)
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newFakeClient(), "bucket", "")

	require.NoError(t, blobstore.PutBytes(ctx, store, "doomed", []byte("x")))
	require.NoError(t, store.Delete(ctx, "doomed"))

	_, err := store.Open(ctx, "doomed")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
