package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

const (
	attrKind = "Kind"
	attrID   = "ID"
)

// dynamoItem is one stored document
type dynamoItem struct {
	Kind      string `dynamodbav:"Kind"`
	ID        string `dynamodbav:"ID"`
	Body      []byte `dynamodbav:"Body"`
	UpdatedAt string `dynamodbav:"UpdatedAt"`
}

// DynamoBackend stores documents in one DynamoDB table keyed by Kind (hash)
// and ID (range)
type DynamoBackend struct {
	client *dynamodb.Client
	table  string
	logger zerolog.Logger
}

// NewDynamoBackend connects to DynamoDB. In local mode the table is created
// when missing.
func NewDynamoBackend(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (*DynamoBackend, error) {
	var client *dynamodb.Client

	if cfg.Mode == DynamoModeLocal {
		// LoadDefaultConfig probes the EC2 IMDS endpoint which hangs on EC2
		// instances when static credentials are intended.
		client = dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		})
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = dynamodb.NewFromConfig(awsCfg)
	}

	logger = logger.With().Str("component", "dynamo_store").Logger()
	b := &DynamoBackend{client: client, table: cfg.Table, logger: logger}

	if cfg.Mode == DynamoModeLocal {
		if err := CreateTableIfNotExist(ctx, client, cfg.Table, logger); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Str("table", cfg.Table).
		Msg("DynamoDB store initialized")

	return b, nil
}

func (b *DynamoBackend) marshal(kind, id string, doc []byte) (map[string]dbtypes.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(dynamoItem{
		Kind:      kind,
		ID:        id,
		Body:      doc,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s/%s: %w", kind, id, err)
	}
	return item, nil
}

func (b *DynamoBackend) Put(ctx context.Context, kind, id string, doc []byte) error {
	item, err := b.marshal(kind, id, doc)
	if err != nil {
		return err
	}
	_, err = b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", kind, id, err)
	}
	return nil
}

func (b *DynamoBackend) Insert(ctx context.Context, kind, id string, doc []byte) error {
	item, err := b.marshal(kind, id, doc)
	if err != nil {
		return err
	}
	cond := expression.AttributeNotExists(expression.Name(attrID))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(b.table),
		Item:                     item,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	var condErr *dbtypes.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert %s/%s: %w", kind, id, err)
	}
	return nil
}

func (b *DynamoBackend) Get(ctx context.Context, kind, id string) ([]byte, error) {
	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(b.table),
		Key: map[string]dbtypes.AttributeValue{
			attrKind: &dbtypes.AttributeValueMemberS{Value: kind},
			attrID:   &dbtypes.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", kind, id, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s/%s: %w", kind, id, err)
	}
	return item.Body, nil
}

// List queries the kind partition. Range keys come back in ascending order.
func (b *DynamoBackend) List(ctx context.Context, kind, prefix string) ([][]byte, error) {
	keyCond := expression.Key(attrKind).Equal(expression.Value(kind))
	if prefix != "" {
		keyCond = keyCond.And(expression.Key(attrID).BeginsWith(prefix))
	}
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	var (
		docs    [][]byte
		lastKey map[string]dbtypes.AttributeValue
	)
	for {
		input := &dynamodb.QueryInput{
			TableName:                 aws.String(b.table),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}
		if lastKey != nil {
			input.ExclusiveStartKey = lastKey
		}

		result, err := b.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", kind, err)
		}

		var items []dynamoItem
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", kind, err)
		}
		for _, item := range items {
			docs = append(docs, item.Body)
		}

		lastKey = result.LastEvaluatedKey
		if lastKey == nil {
			break
		}
	}
	return docs, nil
}

func (b *DynamoBackend) Delete(ctx context.Context, kind, id string) error {
	_, err := b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.table),
		Key: map[string]dbtypes.AttributeValue{
			attrKind: &dbtypes.AttributeValueMemberS{Value: kind},
			attrID:   &dbtypes.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", kind, id, err)
	}
	return nil
}

// Truncate deletes every item in the table (scan + batch delete)
func (b *DynamoBackend) Truncate(ctx context.Context) error {
	var lastKey map[string]dbtypes.AttributeValue

	for {
		input := &dynamodb.ScanInput{
			TableName:            aws.String(b.table),
			ProjectionExpression: aws.String("#pk, #sk"),
			ExpressionAttributeNames: map[string]string{
				"#pk": attrKind,
				"#sk": attrID,
			},
			Limit: aws.Int32(500),
		}
		if lastKey != nil {
			input.ExclusiveStartKey = lastKey
		}

		result, err := b.client.Scan(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", b.table, err)
		}

		// BatchWriteItem accepts at most 25 requests
		for i := 0; i < len(result.Items); i += 25 {
			end := min(i+25, len(result.Items))

			requests := make([]dbtypes.WriteRequest, 0, end-i)
			for _, item := range result.Items[i:end] {
				requests = append(requests, dbtypes.WriteRequest{
					DeleteRequest: &dbtypes.DeleteRequest{
						Key: map[string]dbtypes.AttributeValue{
							attrKind: item[attrKind],
							attrID:   item[attrID],
						},
					},
				})
			}

			_, err := b.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]dbtypes.WriteRequest{
					b.table: requests,
				},
			})
			if err != nil {
				return fmt.Errorf("failed to delete batch from %s: %w", b.table, err)
			}
		}

		lastKey = result.LastEvaluatedKey
		if lastKey == nil {
			break
		}
	}

	b.logger.Info().Str("table", b.table).Msg("table truncated")
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing
func (b *DynamoBackend) Close() error { return nil }
