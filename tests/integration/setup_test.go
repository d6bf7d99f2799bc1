// Package integration contains integration tests for the grid trading engine.
//
// These tests verify the correct interaction between components:
// - API integration tests: full HTTP request cycle
// - WebSocket tests: connection, broadcast messaging
// - Database tests: schema, repository round-trips
//
// Tests are skipped automatically when the test database is unreachable.
// Configure with TEST_DB_* environment variables.
package integration

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"gridbot/internal/api"
	"gridbot/internal/bot"
	"gridbot/internal/config"
	"gridbot/internal/repository"
	"gridbot/internal/service"
	"gridbot/internal/websocket"
)

// testEncryptionKey - 32 байта для AES-256 в тестовом окружении
const testEncryptionKey = "integration-test-key-32-bytes!!!"

// TestConfig contains configuration for integration tests
type TestConfig struct {
	DBDriver   string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
}

// TestServer encapsulates all components needed for integration testing
type TestServer struct {
	DB       *sql.DB
	Router   *mux.Router
	Server   *httptest.Server
	Hub      *websocket.Hub
	Manager  *bot.Manager
	Repos    *TestRepositories
	Services *TestServices
	Cleanup  func()
}

// TestRepositories contains all repository instances for testing
type TestRepositories struct {
	Session      *repository.SessionRepository
	Position     *repository.PositionRepository
	Credential   *repository.CredentialRepository
	Notification *repository.NotificationRepository
}

// TestServices contains all service instances for testing
type TestServices struct {
	Session      *service.SessionService
	Notification *service.NotificationService
}

// getTestConfig returns configuration from environment variables or defaults
func getTestConfig() TestConfig {
	return TestConfig{
		DBDriver:   getEnv("TEST_DB_DRIVER", "postgres"),
		DBHost:     getEnv("TEST_DB_HOST", "localhost"),
		DBPort:     getEnv("TEST_DB_PORT", "5432"),
		DBName:     getEnv("TEST_DB_NAME", "gridbot_test"),
		DBUser:     getEnv("TEST_DB_USER", "postgres"),
		DBPassword: getEnv("TEST_DB_PASSWORD", "postgres"),
		DBSSLMode:  getEnv("TEST_DB_SSLMODE", "disable"),
	}
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// SetupTestDB creates a test database connection
func SetupTestDB(t *testing.T) (*sql.DB, func()) {
	cfg := getTestConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode,
	)

	db, err := sql.Open(cfg.DBDriver, connStr)
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
		return nil, func() {}
	}

	if err := db.Ping(); err != nil {
		t.Skipf("Skipping integration test: cannot ping database: %v", err)
		return nil, func() {}
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}

	return db, cleanup
}

// SetupTestServer creates a complete test server with all components
func SetupTestServer(t *testing.T) *TestServer {
	db, dbCleanup := SetupTestDB(t)
	if db == nil {
		return nil
	}

	if err := initTestTables(db); err != nil {
		t.Skipf("Skipping integration test: cannot initialize tables: %v", err)
		return nil
	}

	logger := zap.NewNop()

	hub := websocket.NewHub(logger)
	go hub.Run()

	manager := bot.NewManager(0, hub, logger)

	repos := &TestRepositories{
		Session:      repository.NewSessionRepository(db),
		Position:     repository.NewPositionRepository(db),
		Credential:   repository.NewCredentialRepository(db),
		Notification: repository.NewNotificationRepository(db),
	}

	appCfg := &config.Config{
		Security: config.SecurityConfig{
			EncryptionKey: testEncryptionKey,
		},
		Engine: config.EngineConfig{
			FeedQueueSize: 16,
			OrderTimeout:  time.Second,
			OrderRate:     10,
			OrderBurst:    10,
		},
		Broker: config.BrokerConfig{
			// Брокерские транспорты в integration тестах не поднимаются:
			// сценарии ограничены валидацией, учетными данными и чтением
			StreamingURL: "ws://127.0.0.1:1",
			BridgeURL:    "http://127.0.0.1:1",
		},
	}

	services := &TestServices{
		Session: service.NewSessionService(
			appCfg,
			manager,
			repos.Session,
			repos.Position,
			repos.Credential,
			logger,
		),
		Notification: service.NewNotificationService(repos.Notification, logger),
	}
	services.Notification.SetWebSocketHub(hub)

	deps := &api.Dependencies{
		SessionService:      services.Session,
		NotificationService: services.Notification,
		Hub:                 hub,
		Logger:              logger,
	}
	router := api.SetupRoutes(deps)

	server := httptest.NewServer(router)

	cleanup := func() {
		server.Close()
		hub.Stop()
		cleanupTestTables(db)
		dbCleanup()
	}

	return &TestServer{
		DB:       db,
		Router:   router,
		Server:   server,
		Hub:      hub,
		Manager:  manager,
		Repos:    repos,
		Services: services,
		Cleanup:  cleanup,
	}
}

// initTestTables creates or truncates tables for testing
func initTestTables(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(36) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			symbol VARCHAR(32) NOT NULL,
			broker VARCHAR(20) NOT NULL,
			spread DOUBLE PRECISION NOT NULL,
			max_positions INT NOT NULL,
			max_runtime_minutes INT NOT NULL DEFAULT 0,
			max_drawdown DOUBLE PRECISION NOT NULL DEFAULT 0,
			base_price DOUBLE PRECISION,
			volume DOUBLE PRECISION NOT NULL,
			exit_distance DOUBLE PRECISION NOT NULL DEFAULT 0,
			direction VARCHAR(20) NOT NULL DEFAULT '',
			state VARCHAR(20) NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			stopped_at TIMESTAMPTZ,
			stop_reason VARCHAR(32),
			started_equity DOUBLE PRECISION NOT NULL DEFAULT 0,
			realized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			id VARCHAR(64) PRIMARY KEY,
			session_id VARCHAR(36) REFERENCES sessions(id) ON DELETE CASCADE,
			side VARCHAR(10) NOT NULL,
			level DOUBLE PRECISION NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			volume DOUBLE PRECISION NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			closed_at TIMESTAMPTZ,
			close_price DOUBLE PRECISION,
			close_reason VARCHAR(32),
			pnl DOUBLE PRECISION
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			user_id VARCHAR(64) NOT NULL,
			broker VARCHAR(20) NOT NULL,
			broker_login VARCHAR(64) NOT NULL DEFAULT '',
			broker_token TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, broker)
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id SERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			type VARCHAR(32) NOT NULL,
			severity VARCHAR(10) NOT NULL DEFAULT 'info',
			session_id VARCHAR(36),
			message TEXT NOT NULL,
			meta JSONB
		)`,
	}

	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// cleanupTestTables truncates all test tables
func cleanupTestTables(db *sql.DB) {
	tables := []string{
		"positions",
		"notifications",
		"credentials",
		"sessions",
	}

	for _, table := range tables {
		db.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
	}
}

// TruncateTable truncates a specific table for testing
func TruncateTable(db *sql.DB, tableName string) error {
	_, err := db.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", tableName))
	return err
}

// testCtx returns a context with a sane timeout for a single DB operation
func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
