package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"

	"gridbot/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Ошибки репозитория уведомлений
var (
	ErrNotificationNotFound = errors.New("notification not found")
)

// NotificationRepository - работа с таблицей notifications.
// Поле meta хранится как JSONB.
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создает новый экземпляр репозитория
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create создает запись об уведомлении
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (timestamp, type, severity, session_id, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	meta, err := marshalMeta(n.Meta)
	if err != nil {
		return err
	}

	return r.db.QueryRowContext(
		ctx,
		query,
		n.Timestamp,
		n.Type,
		n.Severity,
		n.SessionID,
		n.Message,
		meta,
	).Scan(&n.ID)
}

// GetRecent возвращает последние N уведомлений
func (r *NotificationRepository) GetRecent(ctx context.Context, limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, timestamp, type, severity, session_id, message, meta
		FROM notifications
		ORDER BY timestamp DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// GetBySessionID возвращает уведомления сессии, новые первыми
func (r *NotificationRepository) GetBySessionID(ctx context.Context, sessionID string, limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, timestamp, type, severity, session_id, message, meta
		FROM notifications
		WHERE session_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// DeleteOlderThan удаляет уведомления старше указанной даты
func (r *NotificationRepository) DeleteOlderThan(ctx context.Context, timestamp time.Time) (int64, error) {
	query := `DELETE FROM notifications WHERE timestamp < $1`

	result, err := r.db.ExecContext(ctx, query, timestamp)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func scanNotifications(rows *sql.Rows) ([]*models.Notification, error) {
	var notifications []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		var meta []byte
		err := rows.Scan(
			&n.ID,
			&n.Timestamp,
			&n.Type,
			&n.Severity,
			&n.SessionID,
			&n.Message,
			&meta,
		)
		if err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &n.Meta); err != nil {
				return nil, err
			}
		}
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return notifications, nil
}

func marshalMeta(meta map[string]interface{}) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	return json.Marshal(meta)
}
