package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gridbot/internal/models"
)

// Ошибки репозитория сессий
var (
	ErrSessionNotFound = errors.New("session not found")
)

// SessionRepository - работа с таблицей sessions
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository создает новый экземпляр репозитория
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create создает запись о сессии
func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, symbol, broker, spread, max_positions, max_runtime_minutes, max_drawdown, base_price, volume, exit_distance, direction, state, started_at, started_equity, realized_pnl)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.db.ExecContext(
		ctx,
		query,
		s.ID,
		s.UserID,
		s.Symbol,
		s.Broker,
		s.Config.Spread,
		s.Config.MaxPositions,
		s.Config.MaxRuntimeMinutes,
		s.Config.MaxDrawdown,
		s.Config.BasePrice,
		s.Config.Volume,
		s.Config.ExitDistance,
		s.Config.Direction,
		s.State,
		s.StartedAt,
		s.StartedEquity,
		s.RealizedPnl,
	)

	return err
}

// GetByID возвращает сессию по ID
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `
		SELECT id, user_id, symbol, broker, spread, max_positions, max_runtime_minutes, max_drawdown, base_price, volume, exit_distance, direction, state, started_at, stopped_at, stop_reason, started_equity, realized_pnl
		FROM sessions
		WHERE id = $1`

	s := &models.Session{}
	var stopReason sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID,
		&s.UserID,
		&s.Symbol,
		&s.Broker,
		&s.Config.Spread,
		&s.Config.MaxPositions,
		&s.Config.MaxRuntimeMinutes,
		&s.Config.MaxDrawdown,
		&s.Config.BasePrice,
		&s.Config.Volume,
		&s.Config.ExitDistance,
		&s.Config.Direction,
		&s.State,
		&s.StartedAt,
		&s.StoppedAt,
		&stopReason,
		&s.StartedEquity,
		&s.RealizedPnl,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	s.StopReason = stopReason.String
	return s, nil
}

// GetByUserID возвращает сессии пользователя, новые первыми
func (r *SessionRepository) GetByUserID(ctx context.Context, userID string, limit int) ([]*models.Session, error) {
	query := `
		SELECT id, user_id, symbol, broker, spread, max_positions, max_runtime_minutes, max_drawdown, base_price, volume, exit_distance, direction, state, started_at, stopped_at, stop_reason, started_equity, realized_pnl
		FROM sessions
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSessions(rows)
}

// GetActive возвращает все незавершенные сессии.
// Используется при старте процесса для пометки осиротевших сессий.
func (r *SessionRepository) GetActive(ctx context.Context) ([]*models.Session, error) {
	query := `
		SELECT id, user_id, symbol, broker, spread, max_positions, max_runtime_minutes, max_drawdown, base_price, volume, exit_distance, direction, state, started_at, stopped_at, stop_reason, started_equity, realized_pnl
		FROM sessions
		WHERE state NOT IN ($1, $2)
		ORDER BY started_at DESC`

	rows, err := r.db.QueryContext(ctx, query, models.SessionStopped, models.SessionFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSessions(rows)
}

// UpdateState обновляет состояние сессии. Для терминальных состояний
// передаются причина остановки и время завершения.
func (r *SessionRepository) UpdateState(ctx context.Context, id, state, stopReason string, stoppedAt *time.Time) error {
	query := `
		UPDATE sessions
		SET state = $1, stop_reason = $2, stopped_at = $3
		WHERE id = $4`

	result, err := r.db.ExecContext(ctx, query, state, nullString(stopReason), stoppedAt, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// UpdatePnl обновляет накопленный реализованный PNL сессии
func (r *SessionRepository) UpdatePnl(ctx context.Context, id string, realized float64) error {
	query := `
		UPDATE sessions
		SET realized_pnl = $1
		WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, realized, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// MarkOrphans переводит незавершенные сессии в failed.
// Вызывается один раз при старте процесса: их run-циклы потеряны.
func (r *SessionRepository) MarkOrphans(ctx context.Context, stoppedAt time.Time) (int64, error) {
	query := `
		UPDATE sessions
		SET state = $1, stop_reason = $2, stopped_at = $3
		WHERE state NOT IN ($4, $5)`

	result, err := r.db.ExecContext(ctx, query, models.SessionFailed, models.StopReasonTransport, stoppedAt, models.SessionStopped, models.SessionFailed)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// DeleteOlderThan удаляет завершенные сессии старше указанной даты
func (r *SessionRepository) DeleteOlderThan(ctx context.Context, timestamp time.Time) (int64, error) {
	query := `DELETE FROM sessions WHERE stopped_at IS NOT NULL AND stopped_at < $1`

	result, err := r.db.ExecContext(ctx, query, timestamp)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func scanSessions(rows *sql.Rows) ([]*models.Session, error) {
	var sessions []*models.Session
	for rows.Next() {
		s := &models.Session{}
		var stopReason sql.NullString
		err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.Symbol,
			&s.Broker,
			&s.Config.Spread,
			&s.Config.MaxPositions,
			&s.Config.MaxRuntimeMinutes,
			&s.Config.MaxDrawdown,
			&s.Config.BasePrice,
			&s.Config.Volume,
			&s.Config.ExitDistance,
			&s.Config.Direction,
			&s.State,
			&s.StartedAt,
			&s.StoppedAt,
			&stopReason,
			&s.StartedEquity,
			&s.RealizedPnl,
		)
		if err != nil {
			return nil, err
		}
		s.StopReason = stopReason.String
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
