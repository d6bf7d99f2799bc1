package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"gridbot/internal/models"
)

// ============================================================
// PositionRepository Tests
// ============================================================

func positionColumns() []string {
	return []string{"id", "session_id", "side", "level", "entry_price", "volume", "opened_at", "closed_at", "close_price", "close_reason", "pnl"}
}

func TestPositionRepositoryCreate(t *testing.T) {
	opened := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO positions`).
					WithArgs("pos-1", "sess-1", models.SideSell, 90.0, 89.8, 0.5, opened).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			expectError: false,
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO positions`).
					WillReturnError(errors.New("database error"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewPositionRepository(db)
			err = repo.Create(context.Background(), &models.Position{
				ID:         "pos-1",
				SessionID:  "sess-1",
				Side:       models.SideSell,
				Level:      90,
				EntryPrice: 89.8,
				Volume:     0.5,
				OpenedAt:   opened,
			})

			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPositionRepositoryGetByID(t *testing.T) {
	opened := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		id          string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "open position",
			id:   "pos-1",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(positionColumns()).
					AddRow("pos-1", "sess-1", "sell", 90.0, 89.8, 0.5, opened, nil, nil, nil, nil)
				mock.ExpectQuery(`SELECT .+ FROM positions WHERE id = \$1`).
					WithArgs("pos-1").
					WillReturnRows(rows)
			},
			expectError: nil,
		},
		{
			name: "not found",
			id:   "missing",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM positions WHERE id = \$1`).
					WithArgs("missing").
					WillReturnError(sql.ErrNoRows)
			},
			expectError: ErrPositionNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewPositionRepository(db)
			result, err := repo.GetByID(context.Background(), tt.id)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected error %v, got %v", tt.expectError, err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !result.IsOpen() {
					t.Error("position must be open")
				}
				if result.Level != 90.0 {
					t.Errorf("expected Level=90, got %v", result.Level)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPositionRepositoryGetOpenBySessionID(t *testing.T) {
	opened := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows(positionColumns()).
		AddRow("pos-2", "sess-1", "sell", 80.0, 79.9, 0.5, opened.Add(time.Minute), nil, nil, nil, nil).
		AddRow("pos-1", "sess-1", "sell", 90.0, 89.8, 0.5, opened, nil, nil, nil, nil)
	mock.ExpectQuery(`SELECT .+ FROM positions WHERE session_id = \$1 AND closed_at IS NULL ORDER BY opened_at DESC`).
		WithArgs("sess-1").
		WillReturnRows(rows)

	repo := NewPositionRepository(db)
	result, err := repo.GetOpenBySessionID(context.Background(), "sess-1")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 2 {
		t.Errorf("expected 2 positions, got %d", len(result))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPositionRepositoryMarkClosed(t *testing.T) {
	closed := time.Date(2026, 8, 25, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name        string
		pos         *models.Position
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "success",
			pos: &models.Position{
				ID:          "pos-1",
				ClosedAt:    &closed,
				ClosePrice:  80.0,
				CloseReason: models.CloseReasonGridExit,
				Pnl:         4.9,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE positions SET closed_at = \$1, close_price = \$2, close_reason = \$3, pnl = \$4 WHERE id = \$5`).
					WithArgs(&closed, 80.0, models.CloseReasonGridExit, 4.9, "pos-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			expectError: nil,
		},
		{
			name: "not found",
			pos: &models.Position{
				ID:          "missing",
				ClosedAt:    &closed,
				ClosePrice:  80.0,
				CloseReason: models.CloseReasonManualStop,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE positions SET closed_at = \$1, close_price = \$2, close_reason = \$3, pnl = \$4 WHERE id = \$5`).
					WithArgs(&closed, 80.0, models.CloseReasonManualStop, float64(0), "missing").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			expectError: ErrPositionNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewPositionRepository(db)
			err = repo.MarkClosed(context.Background(), tt.pos)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected error %v, got %v", tt.expectError, err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPositionRepositoryCountOpenBySessionID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"count"}).AddRow(2)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM positions WHERE session_id = \$1 AND closed_at IS NULL`).
		WithArgs("sess-1").
		WillReturnRows(rows)

	repo := NewPositionRepository(db)
	count, err := repo.CountOpenBySessionID(context.Background(), "sess-1")

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected count=2, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
