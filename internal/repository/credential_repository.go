package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gridbot/internal/models"
)

// Ошибки репозитория учетных данных
var (
	ErrCredentialNotFound = errors.New("credential not found")
)

// CredentialRepository - работа с таблицей credentials.
// Токен брокера хранится в колонке broker_token уже зашифрованным,
// шифрование и расшифровка выполняются на уровне сервиса.
type CredentialRepository struct {
	db *sql.DB
}

// NewCredentialRepository создает новый экземпляр репозитория
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// GetByUserID возвращает учетные данные пользователя для указанного брокера
func (r *CredentialRepository) GetByUserID(ctx context.Context, userID, broker string) (*models.Credential, error) {
	query := `
		SELECT user_id, broker, broker_login, broker_token, created_at, updated_at
		FROM credentials
		WHERE user_id = $1 AND broker = $2`

	c := &models.Credential{}
	err := r.db.QueryRowContext(ctx, query, userID, broker).Scan(
		&c.UserID,
		&c.Broker,
		&c.BrokerLogin,
		&c.BrokerToken,
		&c.CreatedAt,
		&c.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}

	return c, nil
}

// Upsert создает или обновляет учетные данные пользователя
func (r *CredentialRepository) Upsert(ctx context.Context, c *models.Credential) error {
	query := `
		INSERT INTO credentials (user_id, broker, broker_login, broker_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id, broker)
		DO UPDATE SET broker_login = EXCLUDED.broker_login, broker_token = EXCLUDED.broker_token, updated_at = EXCLUDED.updated_at`

	now := time.Now()
	c.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query, c.UserID, c.Broker, c.BrokerLogin, c.BrokerToken, now)
	return err
}

// Delete удаляет учетные данные пользователя для указанного брокера
func (r *CredentialRepository) Delete(ctx context.Context, userID, broker string) error {
	query := `DELETE FROM credentials WHERE user_id = $1 AND broker = $2`

	result, err := r.db.ExecContext(ctx, query, userID, broker)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrCredentialNotFound
	}

	return nil
}
