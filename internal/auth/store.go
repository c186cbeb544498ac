package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Mister-97/mappa-pro/internal/apperr"
	"github.com/Mister-97/mappa-pro/internal/model"
)

// CredentialStore persists encrypted account credentials.
type CredentialStore interface {
	Get(ctx context.Context, accountID string) (*model.Credential, error)
	Put(ctx context.Context, cred model.Credential) error
	ListEligible(ctx context.Context) ([]model.Credential, error)
	SaveTokens(ctx context.Context, accountID, encAccess, encRefresh string, expiresAt time.Time) error
	MarkNeedsReattach(ctx context.Context, accountID string) error
	Disconnect(ctx context.Context, accountID string) error
}

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore keeps credentials in a DynamoDB table keyed by account_id.
// With a nil client it falls back to an in-memory map (local development
// and tests).
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time

	// In-memory fallback
	creds map[string]model.Credential
	mu    sync.RWMutex
}

func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
		creds:     make(map[string]model.Credential),
	}
}

func NewMemoryStore() *DynamoStore {
	return NewDynamoStore(nil, "")
}

func (s *DynamoStore) key(accountID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"account_id": &types.AttributeValueMemberS{Value: accountID},
	}
}

func (s *DynamoStore) Get(ctx context.Context, accountID string) (*model.Credential, error) {
	if s.client == nil {
		s.mu.RLock()
		c, ok := s.creds[accountID]
		s.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("account %s: %w", accountID, apperr.ErrNotFound)
		}
		return &c, nil
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(accountID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get credential from DynamoDB: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("account %s: %w", accountID, apperr.ErrNotFound)
	}

	var cred model.Credential
	if err := attributevalue.UnmarshalMap(out.Item, &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return &cred, nil
}

// Put creates or replaces a credential. Used by the OAuth callback.
func (s *DynamoStore) Put(ctx context.Context, cred model.Credential) error {
	cred.UpdatedAt = s.now()

	if s.client == nil {
		s.mu.Lock()
		s.creds[cred.AccountID] = cred
		s.mu.Unlock()
		return nil
	}

	item, err := attributevalue.MarshalMap(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save credential to DynamoDB: %w", err)
	}
	return nil
}

// ListEligible returns active accounts that do not need re-attaching.
func (s *DynamoStore) ListEligible(ctx context.Context) ([]model.Credential, error) {
	if s.client == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var out []model.Credential
		for _, c := range s.creds {
			if c.Eligible() {
				out = append(out, c)
			}
		}
		return out, nil
	}

	var (
		out   []model.Credential
		start map[string]types.AttributeValue
	)
	for {
		res, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.tableName),
			FilterExpression: aws.String("active = :t AND needs_reattach = :f"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":t": &types.AttributeValueMemberBOOL{Value: true},
				":f": &types.AttributeValueMemberBOOL{Value: false},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan credentials: %w", err)
		}
		var page []model.Credential
		if err := attributevalue.UnmarshalListOfMaps(res.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
		}
		out = append(out, page...)
		if len(res.LastEvaluatedKey) == 0 {
			return out, nil
		}
		start = res.LastEvaluatedKey
	}
}

func (s *DynamoStore) SaveTokens(ctx context.Context, accountID, encAccess, encRefresh string, expiresAt time.Time) error {
	return s.update(ctx, accountID,
		"SET encrypted_access_token = :at, encrypted_refresh_token = :rt, expires_at = :exp, updated_at = :now",
		map[string]any{":at": encAccess, ":rt": encRefresh, ":exp": expiresAt},
		func(c *model.Credential) {
			c.EncryptedAccessToken = encAccess
			c.EncryptedRefreshToken = encRefresh
			c.ExpiresAt = expiresAt
		})
}

// MarkNeedsReattach deactivates the account and clears its tokens.
func (s *DynamoStore) MarkNeedsReattach(ctx context.Context, accountID string) error {
	return s.update(ctx, accountID,
		"SET active = :f, needs_reattach = :t, encrypted_access_token = :empty, encrypted_refresh_token = :empty, updated_at = :now",
		map[string]any{":f": false, ":t": true, ":empty": ""},
		func(c *model.Credential) {
			c.Active = false
			c.NeedsReattach = true
			c.EncryptedAccessToken = ""
			c.EncryptedRefreshToken = ""
		})
}

// Disconnect is a deliberate detach by the owner: inactive, tokens cleared,
// not flagged for re-attach.
func (s *DynamoStore) Disconnect(ctx context.Context, accountID string) error {
	return s.update(ctx, accountID,
		"SET active = :f, needs_reattach = :f, encrypted_access_token = :empty, encrypted_refresh_token = :empty, updated_at = :now",
		map[string]any{":f": false, ":empty": ""},
		func(c *model.Credential) {
			c.Active = false
			c.NeedsReattach = false
			c.EncryptedAccessToken = ""
			c.EncryptedRefreshToken = ""
		})
}

func (s *DynamoStore) update(ctx context.Context, accountID, expr string, values map[string]any, apply func(*model.Credential)) error {
	now := s.now()

	if s.client == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		c, ok := s.creds[accountID]
		if !ok {
			return fmt.Errorf("account %s: %w", accountID, apperr.ErrNotFound)
		}
		apply(&c)
		c.UpdatedAt = now
		s.creds[accountID] = c
		return nil
	}

	values[":now"] = now
	av := make(map[string]types.AttributeValue, len(values))
	for k, v := range values {
		m, err := attributevalue.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", k, err)
		}
		av[k] = m
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       s.key(accountID),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(account_id)"),
		ExpressionAttributeValues: av,
	})
	if err != nil {
		return fmt.Errorf("failed to update credential %s: %w", accountID, err)
	}
	return nil
}
