package s3

import (
	"context"
	"sort"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/docgo/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDDB implements DDBClient with conditional-write semantics on the
// (base_uri, version) key, which is the behavior DDBLatestStore relies on.
type fakeDDB struct {
	items map[string]map[uint64]string // base_uri -> version -> target

	// conflictOnce makes the next PutItem fail its condition check once,
	// simulating a concurrent writer that won the race.
	conflictOnce bool
}

func newFakeDDB() *fakeDDB {
	return &fakeDDB{items: make(map[string]map[uint64]string)}
}

func (f *fakeDDB) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.conflictOnce {
		f.conflictOnce = false
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("version exists")}
	}

	uri := params.Item["base_uri"].(*types.AttributeValueMemberS).Value
	version, err := strconv.ParseUint(params.Item["version"].(*types.AttributeValueMemberN).Value, 10, 64)
	if err != nil {
		return nil, err
	}
	target := params.Item["target"].(*types.AttributeValueMemberS).Value

	if f.items[uri] == nil {
		f.items[uri] = make(map[uint64]string)
	}
	if _, exists := f.items[uri][version]; exists {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("version exists")}
	}
	f.items[uri][version] = target

	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	uri := params.ExpressionAttributeValues[":uri"].(*types.AttributeValueMemberS).Value

	versions := f.items[uri]
	if len(versions) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}

	keys := make([]uint64, 0, len(versions))
	for v := range versions {
		keys = append(keys, v)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] > keys[j] })

	latest := keys[0]
	return &dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{{
			"base_uri": &types.AttributeValueMemberS{Value: uri},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(latest, 10)},
			"target":   &types.AttributeValueMemberS{Value: versions[latest]},
		}},
	}, nil
}

func TestDDBLatestStoreAdvances(t *testing.T) {
	ctx := context.Background()
	store := NewDDBLatestStore(blobstore.NewMemoryStore(), newFakeDDB(), "docgo-backups", "s3://bucket/db1")

	_, err := store.Open(ctx, LatestName)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, blobstore.PutBytes(ctx, store, LatestName, []byte("backups/one.bak")))

	got, err := blobstore.GetBytes(ctx, store, LatestName)
	require.NoError(t, err)
	assert.Equal(t, "backups/one.bak", string(got))

	require.NoError(t, blobstore.PutBytes(ctx, store, LatestName, []byte("backups/two.bak")))

	got, err = blobstore.GetBytes(ctx, store, LatestName)
	require.NoError(t, err)
	assert.Equal(t, "backups/two.bak", string(got))
}

func TestDDBLatestStoreDetectsRace(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDB()
	store := NewDDBLatestStore(blobstore.NewMemoryStore(), ddb, "docgo-backups", "s3://bucket/db1")

	// A concurrent writer wins the conditional write for the next version.
	ddb.conflictOnce = true

	err := blobstore.PutBytes(ctx, store, LatestName, []byte("backups/mine.bak"))
	assert.ErrorIs(t, err, ErrConcurrentModification)

	// Retrying after the conflict succeeds on the following version.
	require.NoError(t, blobstore.PutBytes(ctx, store, LatestName, []byte("backups/mine.bak")))
}

func TestDDBLatestStorePassesThroughArchives(t *testing.T) {
	ctx := context.Background()
	inner := blobstore.NewMemoryStore()
	store := NewDDBLatestStore(inner, newFakeDDB(), "docgo-backups", "s3://bucket/db1")

	require.NoError(t, blobstore.PutBytes(ctx, store, "backups/one.bak", []byte("archive")))

	got, err := blobstore.GetBytes(ctx, inner, "backups/one.bak")
	require.NoError(t, err)
	assert.Equal(t, "archive", string(got))

	// LATEST is never deleted through this interface.
	require.NoError(t, store.Delete(ctx, LatestName))
	require.NoError(t, store.Delete(ctx, "backups/one.bak"))
	_, err = inner.Open(ctx, "backups/one.bak")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
