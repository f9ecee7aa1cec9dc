package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"quiz-backend/internal/domain"
)

const (
	skPrefixHistory = "HISTORY#"
	skProfile       = "PROFILE"
	skIdentity      = "STATUS"
	identityDeleted = "deleted"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table holding player history, profiles and
// identity tombstones.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
	newID     func() (string, error)
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{
		api:       api,
		tableName: tableName,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     newEntryID,
	}, nil
}

// playerPK returns the partition key owning all of a player's records.
func playerPK(uid string) string {
	return "PLAYER#" + uid
}

func historySK(id string) string {
	return skPrefixHistory + id
}

func identityPK(uid string) string {
	return "IDENTITY#" + uid
}

// newEntryID returns a time-ordered id so that sort key order follows
// creation order.
func newEntryID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// CreateEntry stores a new history entry and touches the owner's profile in
// one transaction. The returned entry carries the assigned id and timestamp.
func (c *Client) CreateEntry(ctx context.Context, entry domain.HistoryEntry) (domain.HistoryEntry, error) {
	if strings.TrimSpace(entry.Owner) == "" {
		return domain.HistoryEntry{}, errors.New("repository: CreateEntry: owner is required")
	}
	id, err := c.newID()
	if err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("repository: CreateEntry id: %w", err)
	}
	entry.ID = id
	entry.Timestamp = c.now()

	item, err := historyItem(entry)
	if err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("repository: CreateEntry marshal: %w", err)
	}

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                item,
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(c.tableName),
					Key:       key(playerPK(entry.Owner), skProfile),
					UpdateExpression: aws.String("SET #uid = :uid, lastActivity = :now " +
						"ADD generations :one"),
					ExpressionAttributeNames: map[string]string{"#uid": "uid"},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":uid": &types.AttributeValueMemberS{Value: entry.Owner},
						":now": &types.AttributeValueMemberS{Value: entry.Timestamp.Format(time.RFC3339Nano)},
						":one": &types.AttributeValueMemberN{Value: "1"},
					},
				},
			},
		},
	})
	if err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("repository: CreateEntry: %w", err)
	}
	return entry, nil
}

// ListEntries returns every history entry of owner, newest first.
func (c *Client) ListEntries(ctx context.Context, owner string) ([]domain.HistoryEntry, error) {
	paginator := dynamodb.NewQueryPaginator(c.api, c.historyQuery(owner, false))

	entries := make([]domain.HistoryEntry, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("repository: ListEntries query: %w", err)
		}
		for _, item := range page.Items {
			entry, err := itemToEntry(owner, item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListEntries unmarshal: %w", err)
			}
			entries = append(entries, entry)
		}
	}
	// Ids are time ordered already; the timestamp is authoritative.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries, nil
}

// DeleteEntry removes one history entry. Missing entries are not an error.
func (c *Client) DeleteEntry(ctx context.Context, owner, id string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       key(playerPK(owner), historySK(id)),
	})
	if err != nil {
		return fmt.Errorf("repository: DeleteEntry: %w", err)
	}
	return nil
}

// DeleteAllEntries deletes every history entry of owner one item at a time.
func (c *Client) DeleteAllEntries(ctx context.Context, owner string) error {
	paginator := dynamodb.NewQueryPaginator(c.api, c.historyQuery(owner, true))
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("repository: DeleteAllEntries query: %w", err)
		}
		for _, item := range page.Items {
			sk, err := strAttr(item, "SK")
			if err != nil {
				return fmt.Errorf("repository: DeleteAllEntries: %w", err)
			}
			_, err = c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(c.tableName),
				Key:       key(playerPK(owner), sk),
			})
			if err != nil {
				return fmt.Errorf("repository: DeleteAllEntries delete %s: %w", sk, err)
			}
		}
	}
	return nil
}

// DeleteProfile removes the player's root profile record.
func (c *Client) DeleteProfile(ctx context.Context, owner string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       key(playerPK(owner), skProfile),
	})
	if err != nil {
		return fmt.Errorf("repository: DeleteProfile: %w", err)
	}
	return nil
}

// MarkIdentityDeleted records that uid no longer resolves.
func (c *Client) MarkIdentityDeleted(ctx context.Context, uid string) error {
	if strings.TrimSpace(uid) == "" {
		return errors.New("repository: MarkIdentityDeleted: uid is required")
	}
	item := key(identityPK(uid), skIdentity)
	item["uid"] = &types.AttributeValueMemberS{Value: uid}
	item["status"] = &types.AttributeValueMemberS{Value: identityDeleted}
	item["deletedAt"] = &types.AttributeValueMemberS{Value: c.now().Format(time.RFC3339)}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: MarkIdentityDeleted: %w", err)
	}
	return nil
}

// IdentityDeleted reports whether uid was deleted.
func (c *Client) IdentityDeleted(ctx context.Context, uid string) (bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(identityPK(uid), skIdentity),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("repository: IdentityDeleted get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return false, nil
	}
	status, _ := strAttr(out.Item, "status")
	return status == identityDeleted, nil
}

func (c *Client) historyQuery(owner string, keysOnly bool) *dynamodb.QueryInput {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: playerPK(owner)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixHistory},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if keysOnly {
		in.ProjectionExpression = aws.String("PK, SK")
	}
	return in
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func historyItem(entry domain.HistoryEntry) (map[string]types.AttributeValue, error) {
	questions := entry.Questions
	if questions == nil {
		questions = []domain.Question{}
	}
	qs, err := attributevalue.Marshal(questions)
	if err != nil {
		return nil, err
	}
	item := key(playerPK(entry.Owner), historySK(entry.ID))
	item["id"] = &types.AttributeValueMemberS{Value: entry.ID}
	item["timestamp"] = &types.AttributeValueMemberS{Value: entry.Timestamp.UTC().Format(time.RFC3339Nano)}
	item["originalFilename"] = &types.AttributeValueMemberS{Value: entry.SourceName}
	item["questions"] = qs
	return item, nil
}

// itemToEntry converts a DynamoDB attribute map to a HistoryEntry. Only the
// sort key is mandatory; the remaining attributes may be absent.
func itemToEntry(owner string, item map[string]types.AttributeValue) (domain.HistoryEntry, error) {
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	entry := domain.HistoryEntry{
		ID:    strings.TrimPrefix(sk, skPrefixHistory),
		Owner: owner,
	}
	entry.SourceName, _ = strAttr(item, "originalFilename")

	if ts, err := strAttr(item, "timestamp"); err == nil && ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return domain.HistoryEntry{}, fmt.Errorf("repository: parse timestamp %q: %w", ts, err)
		}
		entry.Timestamp = parsed
	}

	if av, ok := item["questions"]; ok {
		if err := attributevalue.Unmarshal(av, &entry.Questions); err != nil {
			return domain.HistoryEntry{}, fmt.Errorf("repository: decode questions: %w", err)
		}
	}
	return entry, nil
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
