package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/docgo/blobstore"
)

// LatestName is the pointer blob naming the newest backup archive.
const LatestName = "LATEST"

// ErrConcurrentModification is returned when another writer advanced the
// LATEST pointer first.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// DDBClient is the subset of the DynamoDB API the store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DDBLatestStore wraps an S3-backed BlobStore and keeps the LATEST pointer
// in DynamoDB, where conditional writes give the compare-and-swap semantics
// S3 lacks. Multiple concurrent backup writers can race to advance LATEST;
// exactly one wins per version, the rest get ErrConcurrentModification.
//
// Table schema:
//   - Partition key: base_uri (string) - the S3 bucket/prefix
//   - Sort key: version (number) - monotonically increasing version
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name docgo-backups \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBLatestStore struct {
	inner     blobstore.BlobStore
	ddbClient DDBClient
	tableName string
	baseURI   string
}

// NewDDBLatestStore creates a DynamoDB-coordinated store on top of inner.
// baseURI should be the "s3://bucket/prefix" the archives live under; it is
// the DynamoDB partition key.
func NewDDBLatestStore(inner blobstore.BlobStore, ddbClient DDBClient, tableName, baseURI string) *DDBLatestStore {
	return &DDBLatestStore{
		inner:     inner,
		ddbClient: ddbClient,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Put stores a blob. Writes to LATEST go through DynamoDB instead of S3.
func (s *DDBLatestStore) Put(ctx context.Context, name string, r io.Reader) (int64, error) {
	if name != LatestName {
		return s.inner.Put(ctx, name, r)
	}

	target, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	if err := s.advance(ctx, string(target)); err != nil {
		return 0, err
	}
	return int64(len(target)), nil
}

// Open opens a blob. LATEST resolves via DynamoDB.
func (s *DDBLatestStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if name != LatestName {
		return s.inner.Open(ctx, name)
	}

	_, target, err := s.latestVersion(ctx)
	if err != nil {
		return nil, err
	}
	if target == "" {
		return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, LatestName)
	}
	return io.NopCloser(bytes.NewReader([]byte(target))), nil
}

// List lists blobs of the underlying store. The DynamoDB-held LATEST
// pointer is not included.
func (s *DDBLatestStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Delete removes a blob from the underlying store. The version history in
// DynamoDB is never deleted through this interface.
func (s *DDBLatestStore) Delete(ctx context.Context, name string) error {
	if name == LatestName {
		return nil
	}
	return s.inner.Delete(ctx, name)
}

// advance writes version latest+1 with a conditional put, so two writers
// racing on the same version cannot both win.
func (s *DDBLatestStore) advance(ctx context.Context, target string) error {
	version, _, err := s.latestVersion(ctx)
	if err != nil {
		return err
	}

	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: s.baseURI},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(version+1, 10)},
			"target":   &types.AttributeValueMemberS{Value: target},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: version %d already committed", ErrConcurrentModification, version+1)
		}
		return fmt.Errorf("advance LATEST: %w", err)
	}

	return nil
}

// latestVersion returns the highest committed version and its target, or
// (0, "") if none exists yet.
func (s *DDBLatestStore) latestVersion(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query latest version: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]

	vAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", fmt.Errorf("malformed version attribute for %s", s.baseURI)
	}
	version, err := strconv.ParseUint(vAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("parse version: %w", err)
	}

	target := ""
	if tAttr, ok := item["target"].(*types.AttributeValueMemberS); ok {
		target = tAttr.Value
	}

	return version, target, nil
}
