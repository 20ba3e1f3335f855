package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/liftops-portal/internal/domain"
	"github.com/liftops-portal/internal/pkg/id"
	"go.uber.org/zap"
)

// DB is the subset of *pgxpool.Pool the repo uses.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const notificationColumns = `id, user_id, type, title, message, link, read, important, created_at, read_at, related_entity, metadata`

// NotificationRepo is the Postgres-backed remote notification store. Change
// events are emitted by the table trigger, not by the repo.
type NotificationRepo struct {
	db     DB
	logger *zap.Logger
	now    func() time.Time
}

func NewNotificationRepo(db DB, logger *zap.Logger) *NotificationRepo {
	return &NotificationRepo{db: db, logger: logger, now: time.Now}
}

func (r *NotificationRepo) FetchPage(ctx context.Context, ownerID string, pageSize, pageNumber int) (*domain.Page, error) {
	const op = "fetchPage"
	if pageSize <= 0 || pageNumber < 0 {
		return nil, domain.Rejected(op, "Invalid page")
	}

	rows, err := r.db.Query(ctx, `
        SELECT `+notificationColumns+`
        FROM notifications
        WHERE user_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2 OFFSET $3
    `, ownerID, pageSize, pageSize*pageNumber)
	if err != nil {
		return nil, classify(op, err)
	}
	items, err := pgx.CollectRows(rows, scanNotification)
	if err != nil {
		return nil, classify(op, err)
	}

	var unread int
	err = r.db.QueryRow(ctx,
		`SELECT count(*) FROM notifications WHERE user_id = $1 AND NOT read`, ownerID,
	).Scan(&unread)
	if err != nil {
		return nil, classify(op, err)
	}

	settings, err := r.settings(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &domain.Page{Items: items, UnreadCount: unread, Settings: &settings}, nil
}

// MarkRead flags the given notifications read. Rows that are already read
// keep their original read_at. It is rejected only when none of the IDs
// belong to the owner.
func (r *NotificationRepo) MarkRead(ctx context.Context, ownerID string, ids []string) error {
	const op = "markRead"
	if len(ids) == 0 {
		return nil
	}
	tag, err := r.db.Exec(ctx, `
        UPDATE notifications
        SET read = TRUE, read_at = COALESCE(read_at, $3)
        WHERE user_id = $1 AND id = ANY($2)
    `, ownerID, ids, r.now().UTC())
	if err != nil {
		return classify(op, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Rejected(op, "Notification not found")
	}
	return nil
}

func (r *NotificationRepo) Delete(ctx context.Context, ownerID, notificationID string) error {
	const op = "deleteNotification"
	tag, err := r.db.Exec(ctx,
		`DELETE FROM notifications WHERE id = $1 AND user_id = $2`, notificationID, ownerID)
	if err != nil {
		return classify(op, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Rejected(op, "Notification not found")
	}
	return nil
}

// Get returns one of the owner's notifications.
func (r *NotificationRepo) Get(ctx context.Context, ownerID, notificationID string) (domain.Notification, error) {
	const op = "getNotification"
	n, err := scanRow(r.db.QueryRow(ctx, `
        SELECT `+notificationColumns+`
        FROM notifications
        WHERE id = $1 AND user_id = $2
    `, notificationID, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Notification{}, domain.Rejected(op, "Notification not found")
	}
	if err != nil {
		return domain.Notification{}, classify(op, err)
	}
	return n, nil
}

func (r *NotificationRepo) CreateIfEnabled(ctx context.Context, ownerID string, category domain.Category, payload domain.NotificationPayload) (domain.CreateResult, error) {
	const op = "createNotification"
	settings, err := r.settings(ctx, ownerID)
	if err != nil {
		return domain.CreateResult{}, err
	}
	if !settings.IsEnabled(category) {
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
	_, err = r.db.Exec(ctx, `
        INSERT INTO notifications (id, user_id, type, title, message, link, important, created_at, related_entity, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `, n.ID, n.OwnerID, string(n.Category), n.Title, n.Body, n.Link, n.Important, n.CreatedAt, n.RelatedEntity, n.Metadata)
	if err != nil {
		return domain.CreateResult{}, classify(op, err)
	}
	r.logger.Debug("notification created", zap.String("owner_id", ownerID), zap.String("notification_id", n.ID))
	return domain.CreateResult{Created: true, Notification: &n}, nil
}

func (r *NotificationRepo) settings(ctx context.Context, ownerID string) (domain.NotificationSettings, error) {
	s := domain.NotificationSettings{OwnerID: ownerID}
	err := r.db.QueryRow(ctx,
		`SELECT enabled FROM notification_settings WHERE user_id = $1`, ownerID,
	).Scan(&s.Enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultSettings(ownerID), nil
	}
	if err != nil {
		return domain.NotificationSettings{}, classify("getSettings", err)
	}
	if s.Enabled == nil {
		s.Enabled = map[string]bool{}
	}
	return s, nil
}

func scanNotification(row pgx.CollectableRow) (domain.Notification, error) {
	return scanRow(row)
}

func scanRow(row pgx.Row) (domain.Notification, error) {
	var (
		n        domain.Notification
		category string
	)
	err := row.Scan(
		&n.ID,
		&n.OwnerID,
		&category,
		&n.Title,
		&n.Body,
		&n.Link,
		&n.Read,
		&n.Important,
		&n.CreatedAt,
		&n.ReadAt,
		&n.RelatedEntity,
		&n.Metadata,
	)
	n.Category = domain.Category(category)
	return n, err
}

// classify maps pgx errors onto the domain error model: constraint and data
// errors reported by the server are rejections, everything else (network,
// timeouts, cancelled contexts) is transport.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "22"), strings.HasPrefix(pgErr.Code, "23"):
			return domain.Rejected(op, "Invalid notification")
		case strings.HasPrefix(pgErr.Code, "42"):
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return domain.Transport(op, err)
}
