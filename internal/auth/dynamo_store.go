package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const dynamoUpdateRetries = 5

const (
	condKeyAbsent    = "attribute_not_exists(pk)"
	condVersionMatch = "version = :version"
)

type dynamoAPI interface {
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// dynamoItem is one key. ExpiresAt is epoch seconds so the table's TTL
// setting can reap it; reads still check it because TTL deletion lags.
type dynamoItem struct {
	Key       string `dynamodbav:"pk"`
	Value     string `dynamodbav:"value"`
	Version   int64  `dynamodbav:"version"`
	ExpiresAt int64  `dynamodbav:"expiresAt,omitempty"`
}

func (it dynamoItem) expired(now time.Time) bool {
	return it.ExpiresAt != 0 && now.Unix() > it.ExpiresAt
}

// DynamoStore is a Store on a DynamoDB table with a string partition key
// "pk". Update is an optimistic write conditioned on the item version.
type DynamoStore struct {
	client dynamoAPI
	table  string
	now    func() time.Time
}

// NewDynamoStore creates a store on table. A nil clock uses time.Now.
func NewDynamoStore(client dynamoAPI, table string, clock func() time.Time) *DynamoStore {
	if client == nil {
		panic("auth: dynamodb client required")
	}
	if table == "" {
		panic("auth: dynamodb table required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &DynamoStore{client: client, table: table, now: clock}
}

func (s *DynamoStore) load(ctx context.Context, key string) (*dynamoItem, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: key}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("auth: dynamodb get %s: %w", key, err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var it dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("auth: decode %s: %w", key, err)
	}
	return &it, nil
}

func (s *DynamoStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	it, err := s.load(ctx, key)
	if err != nil || it == nil || it.expired(s.now()) {
		return false, err
	}
	if err := json.Unmarshal([]byte(it.Value), dst); err != nil {
		return false, fmt.Errorf("auth: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *DynamoStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("auth: encode %s: %w", key, err)
	}
	// A fresh version makes any in-flight Update on this key retry.
	return s.put(ctx, key, raw, ttl, s.now().UnixNano(), "", nil)
}

func (s *DynamoStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: key}},
	})
	if err != nil {
		return fmt.Errorf("auth: dynamodb delete %s: %w", key, err)
	}
	return nil
}

func (s *DynamoStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	for i := 0; i < dynamoUpdateRetries; i++ {
		it, err := s.load(ctx, key)
		if err != nil {
			return err
		}
		var cur []byte
		found := it != nil && !it.expired(s.now())
		if found {
			cur = []byte(it.Value)
		}

		m, err := fn(cur, found)
		if err != nil {
			return err
		}
		if !m.Delete && m.Value == nil {
			return nil
		}

		cond, values := condKeyAbsent, map[string]types.AttributeValue(nil)
		version := int64(1)
		if it != nil {
			cond = condVersionMatch
			values = map[string]types.AttributeValue{
				":version": &types.AttributeValueMemberN{Value: strconv.FormatInt(it.Version, 10)},
			}
			version = it.Version + 1
		}

		if m.Delete {
			if it == nil {
				return nil
			}
			_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName:                 aws.String(s.table),
				Key:                       map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: key}},
				ConditionExpression:       aws.String(cond),
				ExpressionAttributeValues: values,
			})
		} else {
			err = s.put(ctx, key, m.Value, m.TTL, version, cond, values)
		}

		var condErr *types.ConditionalCheckFailedException
		switch {
		case err == nil:
			return nil
		case errors.As(err, &condErr):
			continue
		default:
			return fmt.Errorf("auth: dynamodb update %s: %w", key, err)
		}
	}
	return ErrConflict
}

func (s *DynamoStore) put(ctx context.Context, key string, raw []byte, ttl time.Duration, version int64, cond string, values map[string]types.AttributeValue) error {
	it := dynamoItem{Key: key, Value: string(raw), Version: version}
	if ttl > 0 {
		it.ExpiresAt = s.now().Add(ttl).Unix()
	}
	item, err := attributevalue.MarshalMap(it)
	if err != nil {
		return fmt.Errorf("auth: encode %s: %w", key, err)
	}
	in := &dynamodb.PutItemInput{
		TableName:                 aws.String(s.table),
		Item:                      item,
		ExpressionAttributeValues: values,
	}
	if cond != "" {
		in.ConditionExpression = aws.String(cond)
	}
	_, err = s.client.PutItem(ctx, in)
	if err != nil && cond == "" {
		return fmt.Errorf("auth: dynamodb put %s: %w", key, err)
	}
	return err
}
