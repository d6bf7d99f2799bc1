package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gridbot/internal/bot"
	"gridbot/internal/broker"
	"gridbot/internal/config"
	"gridbot/internal/marketdata"
	"gridbot/internal/models"
	"gridbot/internal/repository"
	"gridbot/pkg/crypto"
	"gridbot/pkg/utils"
)

// Ошибки сервиса сессий
var (
	ErrUnsupportedBroker = errors.New("unsupported broker type")
	ErrNoCredentials     = errors.New("no broker credentials for user")
	ErrBrokerUnavailable = errors.New("broker connection failed")
	ErrSessionNotFound   = errors.New("session not found")
)

// StartSessionRequest - параметры запуска торговой сессии
type StartSessionRequest struct {
	UserID string            `json:"user_id"`
	Symbol string            `json:"symbol"`
	Broker string            `json:"broker"`
	Config models.GridConfig `json:"config"`
}

// brokerAccount - одно живое подключение к брокеру на пару (user, transport).
// Все сессии пользователя на этом транспорте делят соединение, фид котировок
// и однопоточную очередь ордеров (лимит запросов у брокера на аккаунт).
type brokerAccount struct {
	broker broker.Broker
	queue  *broker.OrderQueue
	feed   *marketdata.Feed
}

// SessionService - бизнес-логика запуска и управления сессиями.
//
// Отвечает за:
// - Валидацию конфигурации сетки
// - Получение и расшифровку учетных данных брокера
// - Подключение брокерского транспорта (lazy, по одному на аккаунт)
// - Передачу сессии менеджеру
type SessionService struct {
	cfg     *config.Config
	manager *bot.Manager
	logger  *zap.Logger

	sessionRepo    SessionRepositoryInterface
	positionRepo   PositionRepositoryInterface
	credentialRepo CredentialRepositoryInterface

	// Подключения живут до остановки процесса: переподключение
	// дешевле держать в WSReconnectManager, чем пересоздавать клиента
	accounts map[string]*brokerAccount
	mu       sync.Mutex

	// Фабрика брокеров; в тестах подменяется на заглушку
	newBroker func(cfg *config.BrokerConfig, cred *models.Credential, logger *zap.Logger) (broker.Broker, error)
}

// NewSessionService создает новый экземпляр сервиса сессий
func NewSessionService(
	cfg *config.Config,
	manager *bot.Manager,
	sessionRepo SessionRepositoryInterface,
	positionRepo PositionRepositoryInterface,
	credentialRepo CredentialRepositoryInterface,
	logger *zap.Logger,
) *SessionService {
	return &SessionService{
		cfg:            cfg,
		manager:        manager,
		logger:         logger.Named("session_service"),
		sessionRepo:    sessionRepo,
		positionRepo:   positionRepo,
		credentialRepo: credentialRepo,
		accounts:       make(map[string]*brokerAccount),
		newBroker:      broker.NewBroker,
	}
}

// StartSession проверяет конфигурацию, подключает брокера и запускает сессию.
// Выполняет:
// 1. Валидацию всех параметров сетки
// 2. Получение и расшифровку токена брокера
// 3. Подключение транспорта (или переиспользование существующего)
// 4. Снятие стартового equity с баланса счета
// 5. Сохранение сессии в БД и запуск цикла обработки
func (s *SessionService) StartSession(ctx context.Context, req *StartSessionRequest) (*models.SessionSnapshot, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	cred, err := s.loadCredential(ctx, req.UserID, req.Broker)
	if err != nil {
		return nil, err
	}

	account, err := s.acquireAccount(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	balance, err := account.broker.GetBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	model := &models.Session{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Symbol:    req.Symbol,
		Broker:    req.Broker,
		Config:    req.Config,
		State:     models.SessionCreated,
		StartedAt: time.Now().UTC(),
	}

	if err := s.sessionRepo.Create(ctx, model); err != nil {
		return nil, err
	}

	deps := bot.SessionDeps{
		Executor:      account.queue,
		Positions:     account.broker,
		Feed:          account.feed,
		Sessions:      s.sessionRepo,
		PositionRepo:  s.positionRepo,
		Notifications: s.manager.NotificationSink(),
		Logger:        s.logger,
	}

	sess, err := s.manager.StartSession(ctx, model, balance, deps)
	if err != nil {
		// Цикл обработки так и не запустился: помечаем запись в БД,
		// чтобы сессия не выглядела вечно живой
		now := time.Now().UTC()
		if dbErr := s.sessionRepo.UpdateState(ctx, model.ID, models.SessionFailed, models.StopReasonTransport, &now); dbErr != nil {
			s.logger.Error("failed to mark unstarted session",
				zap.String("session_id", model.ID),
				zap.Error(dbErr))
		}
		return nil, err
	}

	s.logger.Info("session started",
		zap.String("session_id", model.ID),
		zap.String("user_id", req.UserID),
		zap.String("symbol", req.Symbol),
		zap.String("broker", req.Broker),
		zap.Float64("started_equity", balance))

	return sess.Snapshot(), nil
}

// StopSession штатно останавливает сессию: закрывает позиции и ждет stopped
func (s *SessionService) StopSession(ctx context.Context, id string) error {
	return s.translateManagerErr(s.manager.Stop(ctx, id))
}

// PauseSession приостанавливает новые входы, выходы продолжают работать
func (s *SessionService) PauseSession(ctx context.Context, id string) error {
	return s.translateManagerErr(s.manager.Pause(ctx, id))
}

// ResumeSession возобновляет торговлю приостановленной сессии
func (s *SessionService) ResumeSession(ctx context.Context, id string) error {
	return s.translateManagerErr(s.manager.Resume(ctx, id))
}

// GetSession возвращает снимок сессии: живой из памяти или исторический из БД
func (s *SessionService) GetSession(ctx context.Context, id string) (*models.SessionSnapshot, error) {
	if sess, err := s.manager.Get(id); err == nil {
		return sess.Snapshot(), nil
	}

	model, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	positions, err := s.positionRepo.GetOpenBySessionID(ctx, id)
	if err != nil {
		return nil, err
	}

	snap := &models.SessionSnapshot{Session: *model}
	for _, p := range positions {
		snap.OpenPositions = append(snap.OpenPositions, *p)
	}
	snap.Equity = model.StartedEquity + model.RealizedPnl
	return snap, nil
}

// ListSessions возвращает снимки всех сессий процесса
func (s *SessionService) ListSessions(ctx context.Context) []*models.SessionSnapshot {
	return s.manager.List()
}

// GetPositions возвращает все позиции сессии, включая закрытые
func (s *SessionService) GetPositions(ctx context.Context, sessionID string) ([]*models.Position, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.positionRepo.GetBySessionID(ctx, sessionID)
}

// Close закрывает все брокерские подключения.
// Вызывается при остановке процесса, после Manager.Shutdown.
func (s *SessionService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, account := range s.accounts {
		account.queue.Close()
		if err := account.broker.Close(); err != nil {
			s.logger.Warn("broker close failed", zap.String("account", key), zap.Error(err))
		}
		bot.UpdateBrokerStatus(account.broker.GetName(), false)
		delete(s.accounts, key)
	}
}

// loadCredential читает и расшифровывает учетные данные брокера
func (s *SessionService) loadCredential(ctx context.Context, userID, brokerType string) (*models.Credential, error) {
	cred, err := s.credentialRepo.GetByUserID(ctx, userID, brokerType)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return nil, ErrNoCredentials
		}
		return nil, err
	}

	token, err := crypto.Decrypt(cred.BrokerToken, []byte(s.cfg.Security.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("decrypt broker token: %w", err)
	}

	// Расшифрованный токен живет только в памяти подключения
	decrypted := *cred
	decrypted.BrokerToken = token
	return &decrypted, nil
}

// acquireAccount возвращает подключение к брокеру для аккаунта,
// создавая его при первом обращении
func (s *SessionService) acquireAccount(ctx context.Context, cred *models.Credential) (*brokerAccount, error) {
	key := cred.UserID + "/" + cred.Broker

	s.mu.Lock()
	defer s.mu.Unlock()

	if account, ok := s.accounts[key]; ok {
		return account, nil
	}

	b, err := s.newBroker(&s.cfg.Broker, cred, s.logger)
	if err != nil {
		return nil, err
	}

	if err := b.Connect(ctx); err != nil {
		b.Close()
		return nil, err
	}
	bot.UpdateBrokerStatus(b.GetName(), true)

	feed := marketdata.NewFeed(b, s.cfg.Engine.FeedQueueSize, s.logger)
	queue := broker.NewOrderQueue(b, s.cfg.Engine.OrderRate, s.cfg.Engine.OrderBurst, s.logger)

	// Потоковый транспорт сообщает фиду о разрывах: после восстановления
	// сессии сверяют позиции, при исчерпании попыток - переходят в failed
	if sb, ok := b.(*broker.StreamingBroker); ok {
		name := b.GetName()
		sb.WS().SetOnReconnect(func() {
			bot.UpdateBrokerStatus(name, true)
			feed.NotifyReconnected()
		})
		sb.WS().SetOnGiveUp(func() {
			bot.UpdateBrokerStatus(name, false)
			feed.NotifyDown()
		})
	}

	account := &brokerAccount{broker: b, queue: queue, feed: feed}
	s.accounts[key] = account

	s.logger.Info("broker account connected",
		zap.String("user_id", cred.UserID),
		zap.String("broker", cred.Broker))

	return account, nil
}

// translateManagerErr приводит ошибки менеджера к ошибкам сервиса
func (s *SessionService) translateManagerErr(err error) error {
	if errors.Is(err, bot.ErrSessionNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// validateRequest проверяет все поля запроса на запуск сессии
func validateRequest(req *StartSessionRequest) error {
	if req.Broker != models.BrokerStreaming && req.Broker != models.BrokerBridge {
		return fmt.Errorf("%w: %q", ErrUnsupportedBroker, req.Broker)
	}

	if err := utils.ValidateSymbol(req.Symbol); err != nil {
		return err
	}
	if err := utils.ValidateSpread(req.Config.Spread); err != nil {
		return err
	}
	if err := utils.ValidateVolume(req.Config.Volume); err != nil {
		return err
	}
	if err := utils.ValidateMaxPositions(req.Config.MaxPositions); err != nil {
		return err
	}
	if err := utils.ValidateMaxRuntime(req.Config.MaxRuntimeMinutes); err != nil {
		return err
	}
	if err := utils.ValidateMaxDrawdown(req.Config.MaxDrawdown); err != nil {
		return err
	}
	if err := utils.ValidateDirection(req.Config.Direction); err != nil {
		return err
	}
	return utils.ValidateBasePrice(req.Config.BasePrice)
}
