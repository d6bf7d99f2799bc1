package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gridbot/internal/api"
	"gridbot/internal/bot"
	"gridbot/internal/config"
	"gridbot/internal/repository"
	"gridbot/internal/service"
	"gridbot/internal/websocket"
	"gridbot/pkg/logger"

	_ "github.com/lib/pq"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zlog.Sync()

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		zlog.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	zlog.Info("connected to database",
		zap.String("host", cfg.Database.Host),
		zap.String("name", cfg.Database.Name))

	// Инициализация репозиториев
	sessionRepo := repository.NewSessionRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	credentialRepo := repository.NewCredentialRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// Сессии, пережившие падение процесса, в менеджер не возвращаются:
	// их открытые позиции уже никто не сопровождает
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 10*time.Second)
	if orphans, err := sessionRepo.MarkOrphans(startupCtx, time.Now().UTC()); err != nil {
		zlog.Warn("failed to mark orphaned sessions", zap.Error(err))
	} else if orphans > 0 {
		zlog.Warn("marked orphaned sessions as failed", zap.Int64("count", orphans))
	}
	cancelStartup()

	// WebSocket hub для дашборда
	hub := websocket.NewHub(zlog)
	go hub.Run()

	// Менеджер торговых сессий
	manager := bot.NewManager(cfg.Engine.MaxSessions, hub, zlog)

	// Инициализация сервисов
	sessionService := service.NewSessionService(
		cfg,
		manager,
		sessionRepo,
		positionRepo,
		credentialRepo,
		zlog,
	)

	notificationService := service.NewNotificationService(notificationRepo, zlog)
	notificationService.SetWebSocketHub(hub)

	// Диспетчер уведомлений: события движка -> БД + дашборд
	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()
	go notificationService.Run(dispatchCtx, manager.Notifications())

	// Настройка зависимостей для API
	deps := &api.Dependencies{
		SessionService:      sessionService,
		NotificationService: notificationService,
		Hub:                 hub,
		Logger:              zlog,
		APIKeyHash:          cfg.Security.APIKeyHash,
	}

	router := api.SetupRoutes(deps)

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		zlog.Info("starting server", zap.String("addr", server.Addr))
		if cfg.Server.UseHTTPS {
			if err := server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil && err != http.ErrServerClosed {
				zlog.Fatal("server failed", zap.Error(err))
			}
		} else {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				zlog.Fatal("server failed", zap.Error(err))
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Сначала перестаём принимать запросы
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("server forced to shutdown", zap.Error(err))
	}

	// Останавливаем сессии: входы прекращаются, позиции закрываются
	manager.Shutdown(shutdownCtx)

	// Закрываем брокерские подключения и hub
	sessionService.Close()
	hub.Stop()

	zlog.Info("server exited")
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
