// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tower

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/AleutianAI/SentinelTower/pkg/alert"
)

// DynamoAPI is the subset of the DynamoDB client the repository uses.
// *dynamodb.Client satisfies it.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoRepository stores records in a DynamoDB table whose partition
// key is the string attribute event_id.
//
// SaveEvent is a single conditional PutItem guarded by
// attribute_not_exists(event_id), so DynamoDB itself arbitrates
// concurrent inserts.
type DynamoRepository struct {
	client DynamoAPI
	table  string
}

// NewDynamoRepository returns a repository writing to table.
func NewDynamoRepository(client DynamoAPI, table string) (*DynamoRepository, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if table == "" {
		return nil, errors.New("dynamodb table name is required")
	}
	return &DynamoRepository{client: client, table: table}, nil
}

// NewDynamoClient builds a client from the default AWS credential chain.
// A non-empty endpoint overrides the service URL (DynamoDB Local).
func NewDynamoClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// HasEvent implements Repository.
func (r *DynamoRepository) HasEvent(ctx context.Context, eventID string) (bool, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(r.table),
		Key:                  eventIDKey(eventID),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String("event_id"),
	})
	if err != nil {
		return false, dynamoError("get alert record", err)
	}
	return len(out.Item) > 0, nil
}

// SaveEvent implements Repository.
func (r *DynamoRepository) SaveEvent(ctx context.Context, rec *alert.Record) (SaveOutcome, error) {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal alert record: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(event_id)"),
	})
	var conflict *types.ConditionalCheckFailedException
	switch {
	case err == nil:
		return SaveCreated, nil
	case errors.As(err, &conflict):
		return SaveDuplicate, nil
	default:
		return 0, dynamoError("put alert record", err)
	}
}

// Get implements Repository.
func (r *DynamoRepository) Get(ctx context.Context, eventID string) (alert.Record, bool, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            eventIDKey(eventID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return alert.Record{}, false, dynamoError("get alert record", err)
	}
	if len(out.Item) == 0 {
		return alert.Record{}, false, nil
	}
	var rec alert.Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return alert.Record{}, false, fmt.Errorf("unmarshal alert record: %w", err)
	}
	return rec, true, nil
}

func eventIDKey(eventID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"event_id": &types.AttributeValueMemberS{Value: eventID},
	}
}

// dynamoError marks throttling and service-side faults as unavailable.
func dynamoError(op string, err error) error {
	var (
		throughput *types.ProvisionedThroughputExceededException
		limit      *types.RequestLimitExceeded
		internal   *types.InternalServerError
		missing    *types.ResourceNotFoundException
	)
	if errors.As(err, &throughput) || errors.As(err, &limit) || errors.As(err, &internal) || errors.As(err, &missing) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
