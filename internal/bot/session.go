package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gridbot/internal/broker"
	"gridbot/internal/marketdata"
	"gridbot/internal/models"
)

// OrderExecutor - очередь ордеров аккаунта (единственный поток записи)
type OrderExecutor interface {
	PlaceOrder(ctx context.Context, req *broker.OrderRequest) (*broker.Fill, error)
	ClosePosition(ctx context.Context, req *broker.CloseRequest) (*broker.Fill, error)
}

// PositionLister - доступ к открытым позициям брокера для сверки
type PositionLister interface {
	GetOpenPositions(ctx context.Context) ([]*broker.BrokerPosition, error)
}

// SessionStore - персистентность сессий (реализуется слоем repository)
type SessionStore interface {
	UpdateState(ctx context.Context, id, state, stopReason string, stoppedAt *time.Time) error
	UpdatePnl(ctx context.Context, id string, realized float64) error
}

// PositionStore - персистентность позиций
type PositionStore interface {
	Create(ctx context.Context, pos *models.Position) error
	MarkClosed(ctx context.Context, pos *models.Position) error
}

// SessionDeps - зависимости, передаваемые сессии при запуске
type SessionDeps struct {
	Executor      OrderExecutor
	Positions     PositionLister
	Feed          *marketdata.Feed
	Sessions      SessionStore
	PositionRepo  PositionStore
	Notifications chan *models.Notification
	Logger        *zap.Logger
}

// Команды управления сессией
type commandKind int

const (
	cmdStop commandKind = iota
	cmdPause
	cmdResume
)

type command struct {
	kind commandKind
	resp chan error
}

// Session - один торговый цикл: символ, сетка, лимиты.
//
// Вся работа идёт в одной горутине run(): тики, сигналы транспорта и
// команды управления обрабатываются последовательно, поэтому инварианты
// стратегии (лимит позиций, занятость уровней) не требуют внешних блокировок.
type Session struct {
	model *models.Session

	strategy *Strategy
	risk     *RiskGovernor

	deps SessionDeps
	sub  *marketdata.Subscription

	logger *zap.Logger

	commands chan command
	done     chan struct{}

	// Текущее состояние; меняется только из run()
	stateMu sync.RWMutex

	realizedPnl float64
	pnlMu       sync.RWMutex
}

// NewSession создаёт сессию над уже валидированной моделью.
// Модель должна быть в состоянии created.
func NewSession(model *models.Session, startEquity float64, deps SessionDeps) *Session {
	model.StartedEquity = startEquity

	return &Session{
		model:    model,
		strategy: NewStrategy(model.Config),
		risk:     NewRiskGovernor(model.Config, model.StartedAt, startEquity),
		deps:     deps,
		logger: deps.Logger.Named("session").With(
			zap.String("session_id", model.ID),
			zap.String("symbol", model.Symbol)),
		commands: make(chan command),
		done:     make(chan struct{}),
	}
}

// ID возвращает идентификатор сессии
func (s *Session) ID() string { return s.model.ID }

// UserID возвращает владельца сессии
func (s *Session) UserID() string { return s.model.UserID }

// Symbol возвращает торгуемый символ
func (s *Session) Symbol() string { return s.model.Symbol }

// State возвращает текущее состояние сессии
func (s *Session) State() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.model.State
}

// Done закрывается при завершении run()
func (s *Session) Done() <-chan struct{} { return s.done }

// Start подписывается на котировки и запускает цикл сессии
func (s *Session) Start(ctx context.Context) error {
	sub, err := s.deps.Feed.Subscribe(s.model.Symbol)
	if err != nil {
		s.setState(ctx, models.SessionFailed, models.StopReasonTransport)
		return fmt.Errorf("subscribe %s: %w", s.model.Symbol, err)
	}
	s.sub = sub

	s.setState(ctx, models.SessionRunning, "")
	s.notify(models.NotificationTypeSessionStart, models.SeverityInfo,
		fmt.Sprintf("Сессия %s запущена: %s, шаг %.5g, лимит позиций %d",
			s.model.ID, s.model.Symbol, s.model.Config.Spread, s.model.Config.MaxPositions), nil)

	go s.run(ctx)
	return nil
}

// Stop запрашивает штатную остановку: закрыть все позиции и завершиться
func (s *Session) Stop(ctx context.Context) error {
	return s.sendCommand(ctx, cmdStop)
}

// Pause приостанавливает новые входы; выходы продолжают работать
func (s *Session) Pause(ctx context.Context) error {
	return s.sendCommand(ctx, cmdPause)
}

// Resume возобновляет входы после паузы
func (s *Session) Resume(ctx context.Context) error {
	return s.sendCommand(ctx, cmdResume)
}

func (s *Session) sendCommand(ctx context.Context, kind commandKind) error {
	cmd := command{kind: kind, resp: make(chan error, 1)}
	select {
	case s.commands <- cmd:
	case <-s.done:
		return fmt.Errorf("session %s is finished", s.model.ID)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.resp:
		return err
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run - единственная горутина, владеющая состоянием сессии
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.sub.Close()

	for {
		select {
		case <-ctx.Done():
			// Shutdown процесса: позиции остаются у брокера,
			// сессия восстановится при рестарте
			s.setState(context.Background(), models.SessionFailed, models.StopReasonTransport)
			return

		case cmd := <-s.commands:
			if finished := s.handleCommand(ctx, cmd); finished {
				return
			}

		case sig := <-s.sub.Signals:
			if finished := s.handleSignal(ctx, sig); finished {
				return
			}

		case e := <-s.sub.Events:
			if finished := s.handleTick(ctx, e); finished {
				return
			}
		}
	}
}

func (s *Session) handleCommand(ctx context.Context, cmd command) bool {
	switch cmd.kind {
	case cmdStop:
		err := s.shutdown(ctx, models.StopReasonManual, models.CloseReasonManualStop)
		cmd.resp <- err
		return true

	case cmdPause:
		if !CanTransition(s.State(), models.SessionPaused) {
			cmd.resp <- fmt.Errorf("cannot pause session in state %s", s.State())
			return false
		}
		s.setState(ctx, models.SessionPaused, "")
		cmd.resp <- nil
		return false

	case cmdResume:
		if s.State() != models.SessionPaused {
			cmd.resp <- fmt.Errorf("cannot resume session in state %s", s.State())
			return false
		}
		s.setState(ctx, models.SessionRunning, "")
		cmd.resp <- nil
		return false
	}

	cmd.resp <- fmt.Errorf("unknown command")
	return false
}

func (s *Session) handleSignal(ctx context.Context, sig marketdata.Signal) bool {
	switch sig {
	case marketdata.SignalReconnected:
		s.logger.Info("feed reconnected, reconciling positions")
		if err := s.reconcile(ctx); err != nil {
			ReconciliationFailures.WithLabelValues(s.model.Symbol).Inc()
			s.logger.Error("reconciliation failed", zap.Error(err))
			s.notify(models.NotificationTypeError, models.SeverityError,
				fmt.Sprintf("Сверка позиций не сошлась: %v", err), nil)
			s.setState(ctx, models.SessionFailed, models.StopReasonReconcile)
			return true
		}
		s.logger.Info("reconciliation ok")
		return false

	case marketdata.SignalDown:
		s.logger.Error("feed is down, terminating session")
		s.notify(models.NotificationTypeTransport, models.SeverityError,
			"Поток котировок умер, сессия остановлена аварийно", nil)
		s.setState(ctx, models.SessionFailed, models.StopReasonTransport)
		return true
	}
	return false
}

// handleTick - обработка одного тика: выходы, входы, проверка лимитов
func (s *Session) handleTick(ctx context.Context, e *models.PriceEvent) bool {
	started := time.Now()

	state := s.State()
	if state != models.SessionRunning && state != models.SessionPaused {
		return false
	}

	RecordTick(s.model.Symbol)

	intents := s.strategy.OnTick(e, CanTrade(state))
	price := e.Mid()

	for _, intent := range intents {
		if finished := s.executeIntent(ctx, intent); finished {
			return true
		}
	}

	if len(intents) > 0 {
		TickToOrderLatency.WithLabelValues(s.model.Symbol).
			Observe(float64(time.Since(started).Microseconds()) / 1000.0)
	}

	// Риск проверяется на каждом тике по полному equity
	equity := s.model.StartedEquity + s.RealizedPnl() + s.strategy.UnrealizedPnl(price)
	if reason := s.risk.Check(time.Now(), equity); reason != "" {
		RecordRiskStop(s.model.Symbol, reason)
		s.notify(models.NotificationTypeRiskStop, models.SeverityWarn,
			fmt.Sprintf("Риск-лимит %s: закрытие всех позиций", reason), map[string]interface{}{
				"equity":       equity,
				"start_equity": s.model.StartedEquity,
			})
		if err := s.shutdown(ctx, reason, models.CloseReasonRiskStop); err != nil {
			s.logger.Error("risk stop shutdown failed", zap.Error(err))
		}
		return true
	}

	UpdateOpenPositions(s.model.Symbol, s.strategy.OpenCount())
	return false
}

// executeIntent исполняет одно намерение стратегии.
// Возвращает true если сессия должна завершиться (транспорт мёртв).
func (s *Session) executeIntent(ctx context.Context, intent *models.OrderIntent) bool {
	if intent.IsEntry() {
		return s.executeEntry(ctx, intent)
	}
	return s.executeExit(ctx, intent, models.CloseReasonGridExit)
}

func (s *Session) executeEntry(ctx context.Context, intent *models.OrderIntent) bool {
	started := time.Now()

	fill, err := s.deps.Executor.PlaceOrder(ctx, &broker.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        s.model.Symbol,
		Side:          intent.Side,
		Volume:        intent.Volume,
	})
	if err != nil {
		return s.handleOrderError(ctx, intent, err)
	}

	OrderExecutionLatency.WithLabelValues(s.model.Broker, intent.Side).
		Observe(float64(time.Since(started).Milliseconds()))
	RecordOrder(s.model.Symbol, intent.Reason, "filled")

	pos := &models.Position{
		ID:         fill.OrderID,
		SessionID:  s.model.ID,
		Side:       fill.Side,
		Level:      intent.Level,
		EntryPrice: fill.Price,
		Volume:     fill.Volume,
		OpenedAt:   fill.ExecutedAt,
	}
	s.strategy.ApplyEntryFill(intent, pos)

	if s.deps.PositionRepo != nil {
		if err := s.deps.PositionRepo.Create(ctx, pos); err != nil {
			s.logger.Error("persist position failed", zap.Error(err))
		}
	}

	s.notify(models.NotificationTypeFill, models.SeverityInfo,
		fmt.Sprintf("Вход %s %.5g @ %.5g (уровень %.5g)", pos.Side, pos.Volume, pos.EntryPrice, intent.Level),
		map[string]interface{}{"position_id": pos.ID})

	s.logger.Info("entry filled",
		zap.String("side", pos.Side),
		zap.Float64("level", intent.Level),
		zap.Float64("price", pos.EntryPrice))

	return false
}

func (s *Session) executeExit(ctx context.Context, intent *models.OrderIntent, closeReason string) bool {
	fill, err := s.deps.Executor.ClosePosition(ctx, &broker.CloseRequest{
		ClientOrderID: uuid.NewString(),
		PositionID:    intent.PositionID,
		Symbol:        s.model.Symbol,
		Volume:        intent.Volume,
	})
	if err != nil {
		return s.handleCloseError(ctx, intent, err)
	}

	RecordOrder(s.model.Symbol, intent.Reason, "filled")
	s.settleClose(ctx, intent.PositionID, fill, closeReason)
	return false
}

// settleClose фиксирует закрытие позиции: PnL, персистентность, уведомление
func (s *Session) settleClose(ctx context.Context, positionID string, fill *broker.Fill, closeReason string) {
	var closed *models.Position
	for _, p := range s.strategy.OpenPositions() {
		if p.ID == positionID {
			closed = p
			break
		}
	}
	s.strategy.ApplyCloseFill(positionID)

	if closed == nil {
		return
	}

	pnl := closed.UnrealizedPnl(fill.Price)
	now := fill.ExecutedAt
	closed.ClosedAt = &now
	closed.ClosePrice = fill.Price
	closed.CloseReason = closeReason
	closed.Pnl = pnl

	s.addRealizedPnl(ctx, pnl)
	RecordRealizedPnl(s.model.Symbol, pnl)

	if s.deps.PositionRepo != nil {
		if err := s.deps.PositionRepo.MarkClosed(ctx, closed); err != nil {
			s.logger.Error("persist close failed", zap.Error(err))
		}
	}

	s.notify(models.NotificationTypeExit, models.SeverityInfo,
		fmt.Sprintf("Выход %s @ %.5g, PnL %+.5g", closed.Side, fill.Price, pnl),
		map[string]interface{}{"position_id": closed.ID, "pnl": pnl})

	s.logger.Info("position closed",
		zap.String("position_id", closed.ID),
		zap.String("reason", closeReason),
		zap.Float64("pnl", pnl))
}

// handleOrderError решает судьбу неудачного входа.
// Очередь ордеров уже исчерпала ретраи для повторяемых ошибок.
func (s *Session) handleOrderError(ctx context.Context, intent *models.OrderIntent, err error) bool {
	s.strategy.ApplyEntryReject(intent)

	if oe, ok := asOrderError(err); ok {
		switch oe.Kind {
		case broker.ErrKindInsufficientMargin:
			// Пропускаем сигнал, сессия живёт
			RecordOrder(s.model.Symbol, intent.Reason, "rejected")
			s.notify(models.NotificationTypeError, models.SeverityWarn,
				"Недостаточно маржи, вход пропущен", map[string]interface{}{"level": intent.Level})
			s.logger.Warn("entry skipped: insufficient margin", zap.Float64("level", intent.Level))
			return false

		case broker.ErrKindBrokerRejected:
			RecordOrder(s.model.Symbol, intent.Reason, "rejected")
			s.notify(models.NotificationTypeError, models.SeverityWarn,
				fmt.Sprintf("Брокер отклонил ордер: %s", oe.Message), nil)
			s.logger.Warn("entry rejected by broker", zap.String("code", oe.Code))
			return false
		}
	}

	// Timeout/transport после исчерпанных ретраев - транспорт мёртв
	RecordOrder(s.model.Symbol, intent.Reason, "failed")
	s.notify(models.NotificationTypeTransport, models.SeverityError,
		fmt.Sprintf("Ордер не исполнен, транспорт недоступен: %v", err), nil)
	s.logger.Error("entry failed, transport down", zap.Error(err))
	s.setState(ctx, models.SessionFailed, models.StopReasonTransport)
	return true
}

func (s *Session) handleCloseError(ctx context.Context, intent *models.OrderIntent, err error) bool {
	if oe, ok := asOrderError(err); ok && !oe.Retryable() {
		// Позиция не закрылась (например, уже закрыта брокером вручную).
		// Снимаем флаг и пробуем на следующем тике.
		RecordOrder(s.model.Symbol, intent.Reason, "rejected")
		s.strategy.ApplyCloseReject(intent.PositionID)
		s.logger.Warn("close rejected", zap.String("position_id", intent.PositionID), zap.Error(err))
		return false
	}

	RecordOrder(s.model.Symbol, intent.Reason, "failed")
	s.strategy.ApplyCloseReject(intent.PositionID)
	s.notify(models.NotificationTypeTransport, models.SeverityError,
		fmt.Sprintf("Закрытие позиции не исполнено: %v", err), nil)
	s.setState(ctx, models.SessionFailed, models.StopReasonTransport)
	return true
}

// shutdown - штатная остановка: Stopping -> закрыть все позиции -> Stopped
func (s *Session) shutdown(ctx context.Context, stopReason, closeReason string) error {
	if !CanTransition(s.State(), models.SessionStopping) {
		return fmt.Errorf("cannot stop session in state %s", s.State())
	}
	s.setState(ctx, models.SessionStopping, "")

	var lastErr error
	for _, pos := range s.strategy.OpenPositions() {
		fill, err := s.deps.Executor.ClosePosition(ctx, &broker.CloseRequest{
			ClientOrderID: uuid.NewString(),
			PositionID:    pos.ID,
			Symbol:        s.model.Symbol,
			Volume:        pos.Volume,
		})
		if err != nil {
			lastErr = err
			s.logger.Error("close on shutdown failed",
				zap.String("position_id", pos.ID), zap.Error(err))
			continue
		}
		s.settleClose(ctx, pos.ID, fill, closeReason)
	}

	if lastErr != nil {
		s.setState(ctx, models.SessionFailed, models.StopReasonTransport)
		return fmt.Errorf("failed to close all positions: %w", lastErr)
	}

	s.setState(ctx, models.SessionStopped, stopReason)
	s.notify(models.NotificationTypeSessionStop, models.SeverityInfo,
		fmt.Sprintf("Сессия %s остановлена (%s), PnL %+.5g", s.model.ID, stopReason, s.RealizedPnl()),
		map[string]interface{}{"stop_reason": stopReason})
	return nil
}

// reconcile сверяет локальные открытые позиции с брокером.
// Требование строгое: множества должны совпасть в обе стороны.
// Каждая локальная позиция обязана существовать у брокера с тем же
// объёмом, а у брокера не должно быть неизвестных позиций по символу
// сессии. Любое расхождение - аварийная остановка.
//
// Позиции других символов того же аккаунта принадлежат другим сессиям
// и в сверке не участвуют.
func (s *Session) reconcile(ctx context.Context) error {
	remote, err := s.deps.Positions.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetch broker positions: %w", err)
	}

	byID := make(map[string]*broker.BrokerPosition)
	for _, p := range remote {
		if p.Symbol == s.model.Symbol {
			byID[p.ID] = p
		}
	}

	local := s.strategy.OpenPositions()
	known := make(map[string]bool, len(local))
	for _, lp := range local {
		known[lp.ID] = true
		bp, ok := byID[lp.ID]
		if !ok {
			return fmt.Errorf("position %s is missing at the broker", lp.ID)
		}
		if bp.Volume != lp.Volume {
			return fmt.Errorf("position %s volume mismatch: local %.5g, broker %.5g",
				lp.ID, lp.Volume, bp.Volume)
		}
	}

	for id := range byID {
		if !known[id] {
			return fmt.Errorf("unknown position %s at the broker for %s", id, s.model.Symbol)
		}
	}
	return nil
}

// Snapshot собирает текущее состояние сессии для API и дашборда
func (s *Session) Snapshot() *models.SessionSnapshot {
	price := s.strategy.LastPrice()
	unrealized := s.strategy.UnrealizedPnl(price)
	realized := s.RealizedPnl()

	s.stateMu.RLock()
	model := *s.model
	s.stateMu.RUnlock()

	open := s.strategy.OpenPositions()
	positions := make([]models.Position, 0, len(open))
	for _, p := range open {
		positions = append(positions, *p)
	}

	snap := &models.SessionSnapshot{
		Session:       model,
		BasePrice:     s.strategy.Base(),
		CurrentPrice:  price,
		UnrealizedPnl: unrealized,
		Equity:        model.StartedEquity + realized + unrealized,
		OpenPositions: positions,
		TicksSeen:     s.strategy.Ticks(),
	}
	snap.Session.RealizedPnl = realized

	if last, ok := s.strategy.LastTickAt(); ok {
		snap.LastTickAt = &last
	}
	return snap
}

// RealizedPnl возвращает реализованный PnL сессии
func (s *Session) RealizedPnl() float64 {
	s.pnlMu.RLock()
	defer s.pnlMu.RUnlock()
	return s.realizedPnl
}

func (s *Session) addRealizedPnl(ctx context.Context, pnl float64) {
	s.pnlMu.Lock()
	s.realizedPnl += pnl
	total := s.realizedPnl
	s.pnlMu.Unlock()

	s.stateMu.Lock()
	s.model.RealizedPnl = total
	s.stateMu.Unlock()
	if s.deps.Sessions != nil {
		if err := s.deps.Sessions.UpdatePnl(ctx, s.model.ID, total); err != nil {
			s.logger.Error("persist pnl failed", zap.Error(err))
		}
	}
}

// setState переводит сессию в новое состояние с персистентностью
func (s *Session) setState(ctx context.Context, state, stopReason string) {
	s.stateMu.Lock()
	s.model.State = state
	var stoppedAt *time.Time
	if IsTerminal(state) {
		now := time.Now().UTC()
		s.model.StoppedAt = &now
		s.model.StopReason = stopReason
		stoppedAt = &now
	}
	s.stateMu.Unlock()

	s.logger.Info("state changed", zap.String("state", state), zap.String("stop_reason", stopReason))

	if s.deps.Sessions != nil {
		if err := s.deps.Sessions.UpdateState(ctx, s.model.ID, state, stopReason, stoppedAt); err != nil {
			s.logger.Error("persist state failed", zap.Error(err))
		}
	}
}

// notify отправляет уведомление в канал менеджера (drop-on-full)
func (s *Session) notify(ntype, severity, message string, meta map[string]interface{}) {
	id := s.model.ID
	tryEnqueueNotification(s.deps.Notifications, &models.Notification{
		Timestamp: time.Now().UTC(),
		Type:      ntype,
		Severity:  severity,
		SessionID: &id,
		Message:   message,
		Meta:      meta,
	})
}

func asOrderError(err error) (*broker.OrderError, bool) {
	var oe *broker.OrderError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}
