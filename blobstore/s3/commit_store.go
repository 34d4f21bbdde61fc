package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/rango/blobstore"
)

// DDBClient is the subset of the DynamoDB API the commit store depends on.
type DDBClient interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DDBCommitStore implements blobstore.CommitStore on DynamoDB. S3 writes
// alone cannot publish a manifest safely across hosts because S3 lacks
// compare-and-set; DynamoDB conditional writes supply it. Each commit
// appends a row with a monotonically increasing version, and the highest
// version is the current manifest.
//
// Table schema:
//   - Partition key: root (string) - the snapshot location, e.g. "s3://bucket/prefix"
//   - Sort key: version (number) - monotonically increasing commit version
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name rango-commits \
//	  --attribute-definitions AttributeName=root,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=root,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	client DDBClient
	table  string
	root   string
}

var _ blobstore.CommitStore = (*DDBCommitStore)(nil)

// NewDDBCommitStore creates a commit store keyed by root, which should
// uniquely name the snapshot location (e.g. "s3://bucket/prefix").
func NewDDBCommitStore(client DDBClient, table, root string) *DDBCommitStore {
	return &DDBCommitStore{
		client: client,
		table:  table,
		root:   root,
	}
}

// Current implements blobstore.CommitStore.
func (s *DDBCommitStore) Current(ctx context.Context) (string, error) {
	version, manifest, err := s.latest(ctx)
	if err != nil {
		return "", err
	}

	if version == 0 {
		return "", blobstore.ErrNotFound
	}

	return manifest, nil
}

// Commit implements blobstore.CommitStore. A lost race against another
// writer returns blobstore.ErrConcurrentCommit; the caller may re-read
// Current and retry.
func (s *DDBCommitStore) Commit(ctx context.Context, name string) error {
	version, _, err := s.latest(ctx)
	if err != nil {
		return err
	}

	next := version + 1

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"root":     &types.AttributeValueMemberS{Value: s.root},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"manifest": &types.AttributeValueMemberS{Value: name},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return blobstore.ErrConcurrentCommit
		}

		return fmt.Errorf("commit version %d: %w", next, err)
	}

	return nil
}

// latest returns the highest committed version and its manifest name, or
// version 0 when nothing has been committed.
func (s *DDBCommitStore) latest(ctx context.Context) (uint64, string, error) {
	resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("#root = :root"),
		ExpressionAttributeNames: map[string]string{
			"#root": "root",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":root": &types.AttributeValueMemberS{Value: s.root},
		},
		ScanIndexForward: aws.Bool(false), // descending, newest first
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query commits: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]

	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("malformed commit row: missing version")
	}

	manifestAttr, ok := item["manifest"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("malformed commit row: missing manifest")
	}

	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("parse commit version: %w", err)
	}

	return version, manifestAttr.Value, nil
}
