package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/liftops-portal/internal/domain"
	"github.com/liftops-portal/internal/pkg/id"
	"go.uber.org/zap"
)

// ChangePublisher fans committed changes out to the owner's live feed.
type ChangePublisher interface {
	PublishChange(ctx context.Context, ev domain.Event) error
}

// NotificationRepo is the DynamoDB-backed remote notification store. Every
// write is conditioned on the row belonging to the caller's owner ID.
type NotificationRepo struct {
	client    API
	tableName string
	settings  *SettingsRepo
	publisher ChangePublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewNotificationRepo builds the repo. publisher may be nil when no live feed
// is configured.
func NewNotificationRepo(client API, tableName string, settings *SettingsRepo, publisher ChangePublisher, logger *zap.Logger) *NotificationRepo {
	return &NotificationRepo{
		client:    client,
		tableName: tableName,
		settings:  settings,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// FetchPage returns page pageNumber (0-based) of the owner's notifications,
// newest first, with the owner's total unread count and settings.
// DynamoDB has no offsets, so earlier pages are walked via LastEvaluatedKey.
func (r *NotificationRepo) FetchPage(ctx context.Context, ownerID string, pageSize, pageNumber int) (*domain.Page, error) {
	const op = "fetchPage"
	if pageSize <= 0 || pageNumber < 0 {
		return nil, domain.Rejected(op, "Invalid page")
	}

	p := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(indexUserCreatedAt),
		KeyConditionExpression:    aws.String("#uid = :uid"),
		ExpressionAttributeNames:  map[string]string{"#uid": fieldUserID},
		ExpressionAttributeValues: map[string]types.AttributeValue{":uid": &types.AttributeValueMemberS{Value: ownerID}},
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(int32(pageSize)),
	})
	items := []domain.Notification{}
	for i := 0; i <= pageNumber && p.HasMorePages(); i++ {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify(op, err)
		}
		if i < pageNumber {
			continue
		}
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal notifications: %w", err)
		}
	}

	unread, err := r.countUnread(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	settings, err := r.settings.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &domain.Page{Items: items, UnreadCount: unread, Settings: &settings}, nil
}

func (r *NotificationRepo) countUnread(ctx context.Context, ownerID string) (int, error) {
	p := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexUserCreatedAt),
		KeyConditionExpression: aws.String("#uid = :uid"),
		FilterExpression:       aws.String("#r = :f"),
		ExpressionAttributeNames: map[string]string{
			"#uid": fieldUserID,
			"#r":   fieldRead,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: ownerID},
			":f":   &types.AttributeValueMemberBOOL{Value: false},
		},
		Select: types.SelectCount,
	})
	total := 0
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return 0, classify("countUnread", err)
		}
		total += int(out.Count)
	}
	return total, nil
}

// MarkRead flags the given notifications read. It stops at the first
// failure; rows updated before it stay updated.
func (r *NotificationRepo) MarkRead(ctx context.Context, ownerID string, ids []string) error {
	const op = "markRead"
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldRead:   true,
		fieldReadAt: r.now().UTC(),
	})
	if err != nil {
		return err
	}
	ue.Names["#owner"] = fieldUserID
	ue.Values[":owner"] = &types.AttributeValueMemberS{Value: ownerID}

	for _, nid := range ids {
		out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(r.tableName),
			Key:                       strKey(fieldNotificationID, nid),
			UpdateExpression:          aws.String(ue.Expr),
			ConditionExpression:       aws.String("#owner = :owner"),
			ExpressionAttributeNames:  ue.Names,
			ExpressionAttributeValues: ue.Values,
			ReturnValues:              types.ReturnValueAllNew,
		})
		if err != nil {
			return classify(op, err)
		}
		var n domain.Notification
		if err := attributevalue.UnmarshalMap(out.Attributes, &n); err != nil {
			r.logger.Warn("unmarshal updated notification", zap.String("notification_id", nid), zap.Error(err))
			continue
		}
		r.publish(ctx, domain.Event{Op: domain.OpUpdate, Record: n})
	}
	return nil
}

// Delete removes one of the owner's notifications.
func (r *NotificationRepo) Delete(ctx context.Context, ownerID, notificationID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldNotificationID, notificationID),
		ConditionExpression:       aws.String("#owner = :owner"),
		ExpressionAttributeNames:  map[string]string{"#owner": fieldUserID},
		ExpressionAttributeValues: map[string]types.AttributeValue{":owner": &types.AttributeValueMemberS{Value: ownerID}},
	})
	if err != nil {
		return classify("deleteNotification", err)
	}
	r.publish(ctx, domain.Event{
		Op:     domain.OpDelete,
		Record: domain.Notification{ID: notificationID, OwnerID: ownerID},
	})
	return nil
}

// CreateIfEnabled stores a notification unless the owner disabled its
// category.
func (r *NotificationRepo) CreateIfEnabled(ctx context.Context, ownerID string, category domain.Category, payload domain.NotificationPayload) (domain.CreateResult, error) {
	const op = "createNotification"
	settings, err := r.settings.Get(ctx, ownerID)
	if err != nil {
		return domain.CreateResult{}, err
	}
	if !settings.IsEnabled(category) {
		r.logger.Debug("notification type disabled",
			zap.String("owner_id", ownerID), zap.String("type", string(category)))
		return domain.CreateResult{TypeDisabled: true}, nil
	}

	now := r.now().UTC()
	n := domain.Notification{
		ID:            id.NewAt(now),
		OwnerID:       ownerID,
		Category:      category,
		Title:         payload.Title,
		Body:          payload.Body,
		Link:          payload.Link,
		Important:     payload.Important,
		CreatedAt:     now,
		RelatedEntity: payload.RelatedEntity,
		Metadata:      payload.Metadata,
	}
	item, err := attributevalue.MarshalMap(n)
	if err != nil {
		return domain.CreateResult{}, fmt.Errorf("marshal notification: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": fieldNotificationID},
	})
	if err != nil {
		return domain.CreateResult{}, classify(op, err)
	}
	r.publish(ctx, domain.Event{Op: domain.OpInsert, Record: n})
	return domain.CreateResult{Created: true, Notification: &n}, nil
}

// publish is best effort: the write is committed either way and listeners
// catch up on their next poll or resync.
func (r *NotificationRepo) publish(ctx context.Context, ev domain.Event) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishChange(ctx, ev); err != nil {
		r.logger.Warn("publish notification change",
			zap.String("op", string(ev.Op)),
			zap.String("notification_id", ev.Record.ID),
			zap.Error(err))
	}
}
