package lease

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Mister-97/mappa-pro/internal/model"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoLocker.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoLocker stores leases in a DynamoDB table with expires_at as the
// TTL attribute, so the guard holds across Lambda invocations and hosts.
type DynamoLocker struct {
	client    DynamoAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

func NewDynamoLocker(client DynamoAPI, tableName string, ttl time.Duration) *DynamoLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DynamoLocker{client: client, tableName: tableName, ttl: ttl, now: time.Now}
}

func (l *DynamoLocker) Acquire(ctx context.Context, accountID, owner string) error {
	now := l.now().Unix()
	item, err := attributevalue.MarshalMap(model.SyncLease{
		AccountID: accountID,
		Owner:     owner,
		ExpiresAt: now + int64(l.ttl.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal lease: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(account_id) OR expires_at < :now OR #owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrHeld
		}
		return fmt.Errorf("failed to acquire lease: %w", err)
	}
	return nil
}

// Release is a no-op when the lease already expired and passed to
// someone else.
func (l *DynamoLocker) Release(ctx context.Context, accountID, owner string) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"account_id": &types.AttributeValueMemberS{Value: accountID},
		},
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
