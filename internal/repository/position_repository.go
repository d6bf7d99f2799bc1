package repository

import (
	"context"
	"database/sql"
	"errors"

	"gridbot/internal/models"
)

// Ошибки репозитория позиций
var (
	ErrPositionNotFound = errors.New("position not found")
)

// PositionRepository - работа с таблицей positions
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Create создает запись об открытой позиции
func (r *PositionRepository) Create(ctx context.Context, p *models.Position) error {
	query := `
		INSERT INTO positions (id, session_id, side, level, entry_price, volume, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(
		ctx,
		query,
		p.ID,
		p.SessionID,
		p.Side,
		p.Level,
		p.EntryPrice,
		p.Volume,
		p.OpenedAt,
	)

	return err
}

// GetByID возвращает позицию по ID
func (r *PositionRepository) GetByID(ctx context.Context, id string) (*models.Position, error) {
	query := `
		SELECT id, session_id, side, level, entry_price, volume, opened_at, closed_at, close_price, close_reason, pnl
		FROM positions
		WHERE id = $1`

	p := &models.Position{}
	var closePrice sql.NullFloat64
	var closeReason sql.NullString
	var pnl sql.NullFloat64
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.SessionID,
		&p.Side,
		&p.Level,
		&p.EntryPrice,
		&p.Volume,
		&p.OpenedAt,
		&p.ClosedAt,
		&closePrice,
		&closeReason,
		&pnl,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}

	p.ClosePrice = closePrice.Float64
	p.CloseReason = closeReason.String
	p.Pnl = pnl.Float64
	return p, nil
}

// GetBySessionID возвращает все позиции сессии, новые первыми
func (r *PositionRepository) GetBySessionID(ctx context.Context, sessionID string) ([]*models.Position, error) {
	query := `
		SELECT id, session_id, side, level, entry_price, volume, opened_at, closed_at, close_price, close_reason, pnl
		FROM positions
		WHERE session_id = $1
		ORDER BY opened_at DESC`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

// GetOpenBySessionID возвращает открытые позиции сессии
func (r *PositionRepository) GetOpenBySessionID(ctx context.Context, sessionID string) ([]*models.Position, error) {
	query := `
		SELECT id, session_id, side, level, entry_price, volume, opened_at, closed_at, close_price, close_reason, pnl
		FROM positions
		WHERE session_id = $1 AND closed_at IS NULL
		ORDER BY opened_at DESC`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

// MarkClosed фиксирует закрытие позиции: цену, причину и результат
func (r *PositionRepository) MarkClosed(ctx context.Context, p *models.Position) error {
	query := `
		UPDATE positions
		SET closed_at = $1, close_price = $2, close_reason = $3, pnl = $4
		WHERE id = $5`

	result, err := r.db.ExecContext(ctx, query, p.ClosedAt, p.ClosePrice, p.CloseReason, p.Pnl, p.ID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrPositionNotFound
	}

	return nil
}

// CountOpenBySessionID возвращает количество открытых позиций сессии
func (r *PositionRepository) CountOpenBySessionID(ctx context.Context, sessionID string) (int, error) {
	query := `SELECT COUNT(*) FROM positions WHERE session_id = $1 AND closed_at IS NULL`

	var count int
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

func scanPositions(rows *sql.Rows) ([]*models.Position, error) {
	var positions []*models.Position
	for rows.Next() {
		p := &models.Position{}
		var closePrice sql.NullFloat64
		var closeReason sql.NullString
		var pnl sql.NullFloat64
		err := rows.Scan(
			&p.ID,
			&p.SessionID,
			&p.Side,
			&p.Level,
			&p.EntryPrice,
			&p.Volume,
			&p.OpenedAt,
			&p.ClosedAt,
			&closePrice,
			&closeReason,
			&pnl,
		)
		if err != nil {
			return nil, err
		}
		p.ClosePrice = closePrice.Float64
		p.CloseReason = closeReason.String
		p.Pnl = pnl.Float64
		positions = append(positions, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return positions, nil
}
