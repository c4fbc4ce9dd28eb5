package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrConcurrentModification is returned when commit-log writers conflict
// repeatedly and the append gives up.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// DDBClient is the subset of the DynamoDB API the commit log uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// appendAttempts bounds the optimistic-concurrency retry loop.
const appendAttempts = 16

// CommitLog is an append-only annotation commit log in DynamoDB. Each commit
// claims the next sequence number with a conditional write, which both
// serializes concurrent writers and yields collision-free durable ids for
// newly created annotations.
//
// Table schema:
//   - Partition key: dataset (string)
//   - Sort key: seq (number), monotonically increasing
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name annogo-commits \
//	  --attribute-definitions AttributeName=dataset,AttributeType=S AttributeName=seq,AttributeType=N \
//	  --key-schema AttributeName=dataset,KeyType=HASH AttributeName=seq,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type CommitLog struct {
	client    DDBClient
	tableName string
	dataset   string
}

// NewCommitLog creates a commit log over the given table. dataset is the
// partition key shared by all commits of one annotation dataset.
func NewCommitLog(client DDBClient, tableName, dataset string) *CommitLog {
	return &CommitLog{
		client:    client,
		tableName: tableName,
		dataset:   dataset,
	}
}

// Append records one commit under the next free sequence number. For creates
// (id empty) it returns the id derived from the claimed sequence number;
// updates and deletes echo the given id.
func (l *CommitLog) Append(ctx context.Context, op, id string) (string, error) {
	for attempt := 0; attempt < appendAttempts; attempt++ {
		seq, err := l.latestSeq(ctx)
		if err != nil {
			return "", err
		}
		seq++

		assigned := id
		if assigned == "" {
			assigned = fmt.Sprintf("a%d", seq)
		}

		_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(l.tableName),
			Item: map[string]types.AttributeValue{
				"dataset":    &types.AttributeValueMemberS{Value: l.dataset},
				"seq":        &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", seq)},
				"op":         &types.AttributeValueMemberS{Value: op},
				"annotation": &types.AttributeValueMemberS{Value: assigned},
			},
			ConditionExpression: aws.String("attribute_not_exists(seq)"),
		})
		if err != nil {
			var condErr *types.ConditionalCheckFailedException
			if errors.As(err, &condErr) {
				// Another writer claimed this sequence number; retry.
				continue
			}
			return "", fmt.Errorf("commit log append: %w", err)
		}
		return assigned, nil
	}
	return "", ErrConcurrentModification
}

// latestSeq returns the highest committed sequence number, 0 if none.
func (l *CommitLog) latestSeq(ctx context.Context) (uint64, error) {
	resp, err := l.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(l.tableName),
		KeyConditionExpression: aws.String("dataset = :d"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":d": &types.AttributeValueMemberS{Value: l.dataset},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, fmt.Errorf("commit log query: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, nil
	}
	seqAttr, ok := resp.Items[0]["seq"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("commit log: malformed seq attribute")
	}
	var seq uint64
	if _, err := fmt.Sscanf(seqAttr.Value, "%d", &seq); err != nil {
		return 0, fmt.Errorf("commit log: parse seq: %w", err)
	}
	return seq, nil
}
