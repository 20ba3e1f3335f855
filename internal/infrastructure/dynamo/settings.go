package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/liftops-portal/internal/domain"
)

// SettingsRepo reads per-owner notification settings from the
// notification_settings table.
type SettingsRepo struct {
	client    API
	tableName string
}

func NewSettingsRepo(client API, tableName string) *SettingsRepo {
	return &SettingsRepo{client: client, tableName: tableName}
}

// Get returns the owner's settings. Owners without a row get the defaults;
// keys missing from a stored row fall back per key in IsEnabled.
func (r *SettingsRepo) Get(ctx context.Context, ownerID string) (domain.NotificationSettings, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldUserID, ownerID),
	})
	if err != nil {
		return domain.NotificationSettings{}, classify("getSettings", err)
	}
	if out.Item == nil {
		return domain.DefaultSettings(ownerID), nil
	}
	var s domain.NotificationSettings
	if err := attributevalue.UnmarshalMap(out.Item, &s); err != nil {
		return domain.NotificationSettings{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	if s.Enabled == nil {
		s.Enabled = map[string]bool{}
	}
	s.OwnerID = ownerID
	return s, nil
}
