package postgres

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ChannelPrefix prefixes the per-owner NOTIFY channel.
const ChannelPrefix = "notifications:"

// maxPayloadBytes keeps NOTIFY payloads under the server's 8000 byte limit.
// Larger rows are announced by id only and re-read by the feed.
const maxPayloadBytes = 7900

// Channel is the LISTEN/NOTIFY channel carrying ownerID's changes. The owner
// id is hashed so the name stays within the 63 byte identifier limit; the
// trigger computes the same md5.
func Channel(ownerID string) string {
	sum := md5.Sum([]byte(ownerID))
	return ChannelPrefix + hex.EncodeToString(sum[:])
}

// schema is idempotent. Column names match the JSON field names of
// domain.Notification so the trigger can ship row_to_json as the event record.
var schema = `
CREATE TABLE IF NOT EXISTS notifications (
    id             TEXT PRIMARY KEY,
    user_id        TEXT        NOT NULL,
    type           TEXT        NOT NULL,
    title          TEXT        NOT NULL,
    message        TEXT        NOT NULL DEFAULT '',
    link           TEXT,
    read           BOOLEAN     NOT NULL DEFAULT FALSE,
    important      BOOLEAN     NOT NULL DEFAULT FALSE,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    read_at        TIMESTAMPTZ,
    related_entity JSONB,
    metadata       JSONB
);

CREATE INDEX IF NOT EXISTS notifications_user_created_idx
    ON notifications (user_id, created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS notification_settings (
    user_id TEXT PRIMARY KEY,
    enabled JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE OR REPLACE FUNCTION notify_notification_change() RETURNS trigger AS $$
DECLARE
    rec     RECORD;
    payload TEXT;
BEGIN
    IF TG_OP = 'DELETE' THEN
        rec := OLD;
    ELSE
        rec := NEW;
    END IF;
    payload := json_build_object('op', lower(TG_OP), 'record', row_to_json(rec))::text;
    IF octet_length(payload) > ` + strconv.Itoa(maxPayloadBytes) + ` THEN
        payload := json_build_object(
            'op', lower(TG_OP),
            'record', json_build_object('id', rec.id, 'user_id', rec.user_id),
            'truncated', TRUE
        )::text;
    END IF;
    PERFORM pg_notify('` + ChannelPrefix + `' || md5(rec.user_id), payload);
    RETURN rec;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS notifications_change ON notifications;
CREATE TRIGGER notifications_change
    AFTER INSERT OR UPDATE OR DELETE ON notifications
    FOR EACH ROW EXECUTE FUNCTION notify_notification_change();
`

// Migrate creates the tables, index and change trigger.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
