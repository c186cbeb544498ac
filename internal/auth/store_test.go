package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mister-97/mappa-pro/internal/apperr"
	"github.com/Mister-97/mappa-pro/internal/model"
)

// fakeDynamo records requests and serves items from a map keyed by account_id.
type fakeDynamo struct {
	mu      sync.Mutex
	items   map[string]map[string]types.AttributeValue
	updates []*dynamodb.UpdateItemInput
	scans   []*dynamodb.ScanInput
	pages   [][]map[string]types.AttributeValue
}

func accountKey(item map[string]types.AttributeValue) string {
	return item["account_id"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[accountKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[accountKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, in)
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, in)
	page := f.pages[len(f.scans)-1]
	out := &dynamodb.ScanOutput{Items: page}
	if len(f.scans) < len(f.pages) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"account_id": &types.AttributeValueMemberS{Value: "cursor"},
		}
	}
	return out, nil
}

func marshalCred(t *testing.T, c model.Credential) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(c)
	require.NoError(t, err)
	return item
}

func TestDynamoStore_PutGet(t *testing.T) {
	fake := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
	s := NewDynamoStore(fake, "CreatorAccounts")
	ctx := context.Background()
	exp := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Put(ctx, model.Credential{AccountID: "acct-1", EncryptedRefreshToken: "ct", ExpiresAt: exp, Active: true}))

	got, err := s.Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "ct", got.EncryptedRefreshToken)
	assert.True(t, got.ExpiresAt.Equal(exp))
	assert.True(t, got.Active)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDynamoStore_ListEligiblePaginates(t *testing.T) {
	fake := &fakeDynamo{pages: [][]map[string]types.AttributeValue{
		{marshalCred(t, model.Credential{AccountID: "a", Active: true})},
		{marshalCred(t, model.Credential{AccountID: "b", Active: true})},
	}}
	s := NewDynamoStore(fake, "CreatorAccounts")

	got, err := s.ListEligible(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].AccountID)
	assert.Equal(t, "b", got[1].AccountID)

	require.Len(t, fake.scans, 2)
	assert.Equal(t, "active = :t AND needs_reattach = :f", *fake.scans[0].FilterExpression)
	assert.Nil(t, fake.scans[0].ExclusiveStartKey)
	assert.NotNil(t, fake.scans[1].ExclusiveStartKey)
}

func TestDynamoStore_MarkNeedsReattach(t *testing.T) {
	fake := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
	s := NewDynamoStore(fake, "CreatorAccounts")

	require.NoError(t, s.MarkNeedsReattach(context.Background(), "acct-1"))

	require.Len(t, fake.updates, 1)
	in := fake.updates[0]
	assert.Contains(t, *in.UpdateExpression, "needs_reattach = :t")
	assert.Equal(t, "attribute_exists(account_id)", *in.ConditionExpression)
	assert.Equal(t, &types.AttributeValueMemberBOOL{Value: true}, in.ExpressionAttributeValues[":t"])
	assert.Equal(t, &types.AttributeValueMemberBOOL{Value: false}, in.ExpressionAttributeValues[":f"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: ""}, in.ExpressionAttributeValues[":empty"])
	assert.Contains(t, in.ExpressionAttributeValues, ":now")
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, model.Credential{AccountID: "a", Active: true, EncryptedRefreshToken: "r"}))
	require.NoError(t, s.Put(ctx, model.Credential{AccountID: "b", Active: true, EncryptedRefreshToken: "r"}))

	require.NoError(t, s.SaveTokens(ctx, "a", "at2", "rt2", time.Unix(100, 0)))
	a, _ := s.Get(ctx, "a")
	assert.Equal(t, "rt2", a.EncryptedRefreshToken)

	require.NoError(t, s.MarkNeedsReattach(ctx, "b"))
	eligible, err := s.ListEligible(ctx)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, "a", eligible[0].AccountID)

	assert.ErrorIs(t, s.Disconnect(ctx, "zzz"), apperr.ErrNotFound)
}
