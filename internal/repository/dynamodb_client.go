package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"mail-pilot/internal/domain"
)

const (
	skPrefixEntry = "ENTRY#"
	defaultTTL    = time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores session transcripts in a DynamoDB table keyed by
// PK=SESSION#<id>, SK=ENTRY#<zero-padded id>. Items carry a ttl attribute so
// the table's TTL setting expires abandoned sessions.
type Client struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, ttl time.Duration) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Client{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// entrySK zero-pads the id so lexical sort key order matches id order.
func entrySK(id int64) string {
	return fmt.Sprintf("%s%020d", skPrefixEntry, id)
}

// Begin appends the user echo and a pending entry, refusing while the newest
// entry is still pending. Concurrent Begins on one session race on the
// conditional put; the loser gets ErrSessionBusy.
func (c *Client) Begin(ctx context.Context, sessionID, prompt string) (domain.Entry, error) {
	last, found, err := c.newest(ctx, sessionID)
	if err != nil {
		return domain.Entry{}, err
	}
	var lastID int64
	if found {
		if last.Status == domain.StatusPending {
			return domain.Entry{}, ErrSessionBusy
		}
		lastID = last.ID
	}

	user, pending := newEntryPair(sessionID, prompt, lastID, c.now(), c.ttl)
	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                entryItem(user),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                entryItem(pending),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			}},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) && conditionFailed(canceled) {
			return domain.Entry{}, ErrSessionBusy
		}
		return domain.Entry{}, fmt.Errorf("repository: Begin: %w", err)
	}
	return pending, nil
}

// Resolve moves a pending entry to its terminal outcome. Resolving an entry
// that is already terminal returns the stored entry unchanged.
func (c *Client) Resolve(ctx context.Context, sessionID string, entryID int64, o domain.Outcome) (domain.Entry, error) {
	var email, webhookResponse string
	if o.Data != nil {
		email = o.Data.Email
		webhookResponse = o.Data.WebhookResponse
	}
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 entryKey(sessionID, entryID),
		UpdateExpression:    aws.String("SET #status = :status, #message = :message, email = :email, webhookResponse = :webhookResponse"),
		ConditionExpression: aws.String("attribute_exists(PK) AND #status = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#status":  "status",
			"#message": "message",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":          &types.AttributeValueMemberS{Value: string(o.Status)},
			":message":         &types.AttributeValueMemberS{Value: o.Message},
			":email":           &types.AttributeValueMemberS{Value: email},
			":webhookResponse": &types.AttributeValueMemberS{Value: webhookResponse},
			":pending":         &types.AttributeValueMemberS{Value: string(domain.StatusPending)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return c.get(ctx, sessionID, entryID)
		}
		return domain.Entry{}, fmt.Errorf("repository: Resolve: %w", err)
	}
	entry, err := itemToEntry(out.Attributes)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("repository: Resolve unmarshal: %w", err)
	}
	return entry, nil
}

// List returns the session transcript in id order.
func (c *Client) List(ctx context.Context, sessionID string) ([]domain.Entry, error) {
	entries := []domain.Entry{}
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixEntry},
			},
			ScanIndexForward:  aws.Bool(true),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: List query: %w", err)
		}
		for _, item := range out.Items {
			entry, err := itemToEntry(item)
			if err != nil {
				return nil, fmt.Errorf("repository: List unmarshal: %w", err)
			}
			entries = append(entries, entry)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return entries, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// conditionFailed reports whether a put lost the race for its key. Throttling
// and transaction conflicts are reported with other cancellation codes.
func conditionFailed(e *types.TransactionCanceledException) bool {
	for _, r := range e.CancellationReasons {
		if aws.ToString(r.Code) == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

func (c *Client) newest(ctx context.Context, sessionID string) (domain.Entry, bool, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixEntry},
		},
		ScanIndexForward: aws.Bool(false),
		ConsistentRead:   aws.Bool(true),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return domain.Entry{}, false, fmt.Errorf("repository: newest entry query: %w", err)
	}
	if out == nil || len(out.Items) == 0 {
		return domain.Entry{}, false, nil
	}
	entry, err := itemToEntry(out.Items[0])
	if err != nil {
		return domain.Entry{}, false, fmt.Errorf("repository: newest entry unmarshal: %w", err)
	}
	return entry, true, nil
}

func (c *Client) get(ctx context.Context, sessionID string, entryID int64) (domain.Entry, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            entryKey(sessionID, entryID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Entry{}, fmt.Errorf("repository: get entry: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Entry{}, ErrEntryNotFound
	}
	entry, err := itemToEntry(out.Item)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("repository: get entry unmarshal: %w", err)
	}
	return entry, nil
}

func entryKey(sessionID string, entryID int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: entrySK(entryID)},
	}
}

func entryItem(e domain.Entry) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":              &types.AttributeValueMemberS{Value: sessionPK(e.SessionID)},
		"SK":              &types.AttributeValueMemberS{Value: entrySK(e.ID)},
		"sessionId":       &types.AttributeValueMemberS{Value: e.SessionID},
		"entryId":         &types.AttributeValueMemberN{Value: strconv.FormatInt(e.ID, 10)},
		"status":          &types.AttributeValueMemberS{Value: string(e.Status)},
		"message":         &types.AttributeValueMemberS{Value: e.Message},
		"prompt":          &types.AttributeValueMemberS{Value: e.Prompt},
		"email":           &types.AttributeValueMemberS{Value: e.Email},
		"webhookResponse": &types.AttributeValueMemberS{Value: e.WebhookResponse},
		"createdAt":       &types.AttributeValueMemberS{Value: e.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":             &types.AttributeValueMemberN{Value: strconv.FormatInt(e.TTL, 10)},
	}
}

func itemToEntry(item map[string]types.AttributeValue) (domain.Entry, error) {
	sessionID, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.Entry{}, err
	}
	id, err := intAttr(item, "entryId")
	if err != nil {
		return domain.Entry{}, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.Entry{}, err
	}
	message, _ := strAttr(item, "message")
	prompt, _ := strAttr(item, "prompt")
	email, _ := strAttr(item, "email")
	webhookResponse, _ := strAttr(item, "webhookResponse")
	ttl, _ := intAttr(item, "ttl")

	var createdAt time.Time
	if raw, err := strAttr(item, "createdAt"); err == nil {
		createdAt, _ = time.Parse(time.RFC3339Nano, raw)
	}

	return domain.Entry{
		SessionID:       sessionID,
		ID:              id,
		Status:          domain.OutcomeStatus(status),
		Message:         message,
		Prompt:          prompt,
		Email:           email,
		WebhookResponse: webhookResponse,
		CreatedAt:       createdAt,
		TTL:             ttl,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
