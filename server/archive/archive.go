// Package archive persists completed conversation turns to DynamoDB.
//
// Archiving is advisory: the chat pipeline writes in the background and a
// failed write never fails the request that produced the turn.
package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/assettelematics/finbot/config"
)

const skPrefixMsg = "MSG#"

// Turn is one completed exchange: the user's message and the agent's
// reply, plus request metadata for correlation.
type Turn struct {
	ConversationID string    `json:"conversation_id"`
	CustomerID     string    `json:"customer_id"`
	RequestID      string    `json:"request_id"`
	UserMessage    string    `json:"user_message"`
	AgentReply     string    `json:"agent_reply"`
	Sentiment      string    `json:"sentiment,omitempty"`
	DroppedTurns   int       `json:"dropped_turns,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Store persists completed turns.
type Store interface {
	Append(ctx context.Context, turn Turn) error
}

// NopStore discards turns. Used when archiving is disabled.
type NopStore struct{}

// Append implements Store.
func (NopStore) Append(context.Context, Turn) error { return nil }

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore wraps a DynamoDB table of conversation turns keyed
// CONV#<conversation> / MSG#<timestamp>.
type DynamoStore struct {
	api    dynamodbAPI
	table  string
	ttl    time.Duration
	logger *zap.Logger
}

// NewDynamoStore builds a store using the SDK's default credential chain.
func NewDynamoStore(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (*DynamoStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewDynamoStoreWithClient(client, cfg, logger)
}

// NewDynamoStoreWithClient builds a store around an existing client (for
// tests).
func NewDynamoStoreWithClient(api dynamodbAPI, cfg config.ArchiveConfig, logger *zap.Logger) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("archive: api must not be nil")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, errors.New("archive: table name must not be empty")
	}

	return &DynamoStore{
		api:    api,
		table:  cfg.Table,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func msgSK(ts time.Time) string {
	return skPrefixMsg + ts.UTC().Format(time.RFC3339Nano)
}

// Append implements Store.
func (s *DynamoStore) Append(ctx context.Context, turn Turn) error {
	if turn.ConversationID == "" {
		return errors.New("archive: conversation id must not be empty")
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(turn.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: msgSK(turn.Timestamp)},
		"conversationId": &types.AttributeValueMemberS{Value: turn.ConversationID},
		"customerId":     &types.AttributeValueMemberS{Value: turn.CustomerID},
		"requestId":      &types.AttributeValueMemberS{Value: turn.RequestID},
		"userMessage":    &types.AttributeValueMemberS{Value: turn.UserMessage},
		"agentReply":     &types.AttributeValueMemberS{Value: turn.AgentReply},
		"sentiment":      &types.AttributeValueMemberS{Value: turn.Sentiment},
		"droppedTurns":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", turn.DroppedTurns)},
	}
	if s.ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{
			Value: fmt.Sprintf("%d", turn.Timestamp.Add(s.ttl).Unix()),
		}
	}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("archive: append turn: %w", err)
	}
	return nil
}

// History returns up to limit archived turns for a conversation in
// chronological order.
func (s *DynamoStore) History(ctx context.Context, conversationID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 50
	}

	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// Newest first so the limit keeps the most recent turns
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: query history: %w", err)
	}

	turns := make([]Turn, 0, len(out.Items))
	for _, item := range out.Items {
		turns = append(turns, itemToTurn(item))
	}
	// Reverse back to chronological order
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func itemToTurn(item map[string]types.AttributeValue) Turn {
	turn := Turn{
		ConversationID: strAttr(item, "conversationId"),
		CustomerID:     strAttr(item, "customerId"),
		RequestID:      strAttr(item, "requestId"),
		UserMessage:    strAttr(item, "userMessage"),
		AgentReply:     strAttr(item, "agentReply"),
		Sentiment:      strAttr(item, "sentiment"),
	}
	if sk := strAttr(item, "SK"); strings.HasPrefix(sk, skPrefixMsg) {
		if ts, err := time.Parse(time.RFC3339Nano, strings.TrimPrefix(sk, skPrefixMsg)); err == nil {
			turn.Timestamp = ts
		}
	}
	return turn
}

func strAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
