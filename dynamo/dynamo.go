// Package dynamo provides a satchel Persistence over an Amazon DynamoDB item
// attribute.
//
// Persist is a conditional UpdateItem: the attribute must still hold the
// value read by Reload, or be absent when Reload found none.
package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/zoobzio/satchel"
)

// Client defines the DynamoDB client interface used by this package.
// This allows for easy mocking in tests.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Attribute implements satchel.Persistence for one string attribute of one
// DynamoDB item.
type Attribute struct {
	client    Client
	tableName string
	keyName   string
	key       string
	attribute string
	codec     satchel.Codec

	snapshot *string
	loaded   bool
}

// Option configures an Attribute.
type Option func(*Attribute)

// WithKeyName sets the partition key attribute. If not specified, "pk" is used.
func WithKeyName(name string) Option {
	return func(a *Attribute) {
		a.keyName = name
	}
}

// WithCodec sets the codec for the attribute value. If not specified,
// satchel.JSONCodec is used.
func WithCodec(codec satchel.Codec) Option {
	return func(a *Attribute) {
		a.codec = codec
	}
}

// New creates a Persistence for attribute of the item whose partition key
// equals key.
func New(client Client, tableName, key, attribute string, opts ...Option) *Attribute {
	a := &Attribute{
		client:    client,
		tableName: tableName,
		keyName:   "pk",
		key:       key,
		attribute: attribute,
		codec:     satchel.JSONCodec{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Attribute) itemKey() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		a.keyName: &types.AttributeValueMemberS{Value: a.key},
	}
}

// Reload reads the attribute with a strongly consistent read.
func (a *Attribute) Reload(ctx context.Context) (satchel.Tree, error) {
	output, err := a.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(a.tableName),
		Key:            a.itemKey(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if output.Item == nil {
		return nil, fmt.Errorf("%w: %s %s", satchel.ErrRecordMissing, a.tableName, a.key)
	}

	var value *string
	if av, ok := output.Item[a.attribute]; ok {
		var s string
		if err := attributevalue.Unmarshal(av, &s); err != nil {
			return nil, fmt.Errorf("%w: %w", satchel.ErrInvalidTree, err)
		}
		value = &s
	}

	var data []byte
	if value != nil {
		data = []byte(*value)
	}
	tree, err := satchel.DecodeTree(a.codec, data)
	if err != nil {
		return nil, err
	}
	a.snapshot = value
	a.loaded = true
	return tree, nil
}

// Persist writes tree if the attribute is unchanged since Reload.
func (a *Attribute) Persist(ctx context.Context, tree satchel.Tree) error {
	if !a.loaded {
		if _, err := a.Reload(ctx); err != nil {
			return err
		}
	}
	data, err := satchel.EncodeTree(a.codec, tree)
	if err != nil {
		return err
	}
	value := string(data)

	names := map[string]string{"#k": a.keyName, "#a": a.attribute}
	values := map[string]types.AttributeValue{
		":new": &types.AttributeValueMemberS{Value: value},
	}
	condition := "attribute_exists(#k) AND attribute_not_exists(#a)"
	if a.snapshot != nil {
		condition = "attribute_exists(#k) AND #a = :old"
		values[":old"] = &types.AttributeValueMemberS{Value: *a.snapshot}
	}

	_, err = a.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(a.tableName),
		Key:                                 a.itemKey(),
		UpdateExpression:                    aws.String("SET #a = :new"),
		ConditionExpression:                 aws.String(condition),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if ccf.Item == nil {
				return fmt.Errorf("%w: %s %s", satchel.ErrRecordMissing, a.tableName, a.key)
			}
			return fmt.Errorf("%w: %s %s.%s changed", satchel.ErrConflict, a.tableName, a.key, a.attribute)
		}
		return err
	}
	a.snapshot = &value
	return nil
}

var _ satchel.Persistence = (*Attribute)(nil)
