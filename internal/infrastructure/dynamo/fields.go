package dynamo

// DynamoDB attribute names used in expressions.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldNotificationID = "notification_id"
	fieldUserID         = "user_id"
	fieldCreatedAt      = "created_at"
	fieldRead           = "read"
	fieldReadAt         = "read_at"

	indexUserCreatedAt = "user_id-created_at-index"
)
