package bot

import (
	"sync"
	"time"

	"gridbot/internal/models"
	"gridbot/pkg/utils"
)

// Strategy - детерминированное ядро сеточной стратегии.
//
// Чистая логика без I/O: на вход тик, на выход намерения (OrderIntent).
// Исполнение, ретраи и персистентность - забота Session. Strategy узнаёт
// о результатах через ApplyEntryFill/ApplyEntryReject/ApplyCloseFill.
//
// Сетка: уровни base + k*spread для целых k. Вход при пересечении
// незанятого уровня, ценовой разрыв обрабатывается по уровням в порядке
// пересечения. Уровень освобождается при закрытии открытой на нём позиции.
//
// Направление:
//   - momentum:  движение вниз открывает sell, движение вверх - buy
//   - reversion: движение вниз открывает buy, движение вверх - sell
//
// Выход: позиция закрывается, когда цена вернулась обратно через цену
// входа на exit_distance (по умолчанию равную spread). Для позиции,
// открытой падением, это возврат до entry + exit_distance; для открытой
// ростом - до entry - exit_distance.
type Strategy struct {
	cfg models.GridConfig

	base    float64
	baseSet bool

	prev    float64
	hasPrev bool

	// Последний обработанный тик: повтор метки времени = no-op
	lastTs   time.Time
	hasTick  bool
	ticks    int64
	lastTick time.Time

	// Занятые уровни: открытая позиция или отправленный, но ещё не
	// подтверждённый вход. Пока уровень занят, повторный вход невозможен.
	occupied map[int]bool

	// Открытые позиции по ID
	positions map[string]*trackedPosition

	// Входы, отправленные на исполнение в этом или прошлых тиках
	pendingEntries int

	mu sync.Mutex
}

type trackedPosition struct {
	pos          *models.Position
	level        int
	pendingClose bool
}

// NewStrategy создаёт стратегию по конфигурации сессии.
// Если cfg.BasePrice задан, сетка строится от него; иначе база берётся
// из первого тика.
func NewStrategy(cfg models.GridConfig) *Strategy {
	s := &Strategy{
		cfg:       cfg,
		occupied:  make(map[int]bool),
		positions: make(map[string]*trackedPosition),
	}
	if cfg.BasePrice != nil {
		s.base = *cfg.BasePrice
		s.baseSet = true
	}
	return s
}

// OnTick обрабатывает тик и возвращает намерения в порядке исполнения:
// сначала выходы, затем входы (ближайший к прежней цене уровень первым).
//
// allowEntries=false (пауза) подавляет входы, но выходы продолжают
// срабатывать.
func (s *Strategy) OnTick(e *models.PriceEvent, allowEntries bool) []*models.OrderIntent {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Дубликат метки времени - идемпотентный no-op
	if s.hasTick && !e.Timestamp.After(s.lastTs) {
		return nil
	}
	s.lastTs = e.Timestamp
	s.hasTick = true
	s.ticks++
	s.lastTick = time.Now()

	price := e.Mid()

	// Первый тик фиксирует базу сетки
	if !s.baseSet {
		s.base = price
		s.baseSet = true
	}
	if !s.hasPrev {
		s.prev = price
		s.hasPrev = true
		return nil
	}

	prev := s.prev
	s.prev = price

	intents := s.exitIntents(price)

	if allowEntries {
		intents = append(intents, s.entryIntents(prev, price)...)
	}

	return intents
}

// exitIntents находит позиции, через вход которых цена прошла обратно
// на exit_distance. Сторона "обратно" выводится из стороны позиции и
// режима сетки: momentum sell и reversion buy открыты падением,
// остальные - ростом.
func (s *Strategy) exitIntents(price float64) []*models.OrderIntent {
	exitDist := s.cfg.EffectiveExitDistance()
	momentum := s.cfg.EffectiveDirection() == models.DirectionMomentum

	var intents []*models.OrderIntent
	for _, tp := range s.positions {
		if tp.pendingClose {
			continue
		}

		enteredOnFall := (tp.pos.Side == models.SideSell) == momentum

		crossedBack := false
		if enteredOnFall {
			crossedBack = price >= tp.pos.EntryPrice+exitDist
		} else {
			crossedBack = price <= tp.pos.EntryPrice-exitDist
		}

		if crossedBack {
			tp.pendingClose = true
			intents = append(intents, &models.OrderIntent{
				Side:       oppositeSide(tp.pos.Side),
				Volume:     tp.pos.Volume,
				Reason:     models.IntentGridExit,
				Level:      tp.pos.Level,
				PositionID: tp.pos.ID,
			})
		}
	}
	return intents
}

// entryIntents находит незанятые уровни, пересечённые движением prev -> price.
// Лимит позиций учитывает и открытые позиции, и уже отправленные входы:
// даже при разрыве через несколько уровней лимит не превышается ни на миг.
func (s *Strategy) entryIntents(prev, price float64) []*models.OrderIntent {
	crossed := utils.LevelsCrossed(s.base, s.cfg.Spread, prev, price)
	if len(crossed) == 0 {
		return nil
	}

	movingDown := price < prev
	side := s.entrySide(movingDown)

	var intents []*models.OrderIntent
	for _, k := range crossed {
		if s.occupied[k] {
			continue
		}
		if len(s.positions)+s.pendingEntries >= s.cfg.MaxPositions {
			break
		}

		s.occupied[k] = true
		s.pendingEntries++
		intents = append(intents, &models.OrderIntent{
			Side:   side,
			Volume: s.cfg.Volume,
			Reason: models.IntentGridEntry,
			Level:  utils.GridLevel(s.base, s.cfg.Spread, k),
		})
	}
	return intents
}

// entrySide выбирает сторону входа по направлению движения и режиму сетки
func (s *Strategy) entrySide(movingDown bool) string {
	momentum := s.cfg.EffectiveDirection() == models.DirectionMomentum
	if movingDown == momentum {
		return models.SideSell
	}
	return models.SideBuy
}

// ApplyEntryFill фиксирует подтверждённый вход на уровне
func (s *Strategy) ApplyEntryFill(intent *models.OrderIntent, pos *models.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.levelIndex(intent.Level)
	pos.Level = intent.Level
	s.positions[pos.ID] = &trackedPosition{pos: pos, level: k}
	if s.pendingEntries > 0 {
		s.pendingEntries--
	}
}

// ApplyEntryReject освобождает уровень после неудачного входа
// (недостаточно маржи, отклонение брокера, исчерпанные ретраи)
func (s *Strategy) ApplyEntryReject(intent *models.OrderIntent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.occupied, s.levelIndex(intent.Level))
	if s.pendingEntries > 0 {
		s.pendingEntries--
	}
}

// ApplyCloseFill убирает закрытую позицию и освобождает её уровень
func (s *Strategy) ApplyCloseFill(positionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tp, ok := s.positions[positionID]
	if !ok {
		return
	}
	delete(s.positions, positionID)
	delete(s.occupied, tp.level)
}

// ApplyCloseReject снимает признак закрытия: позиция остаётся открытой
// и попробует выйти на следующем тике
func (s *Strategy) ApplyCloseReject(positionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tp, ok := s.positions[positionID]; ok {
		tp.pendingClose = false
	}
}

// AdoptPosition регистрирует позицию, восстановленную из персистентного
// состояния или сверки с брокером
func (s *Strategy) AdoptPosition(pos *models.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.levelIndex(pos.Level)
	s.positions[pos.ID] = &trackedPosition{pos: pos, level: k}
	s.occupied[k] = true
}

// OpenPositions возвращает копию списка открытых позиций
func (s *Strategy) OpenPositions() []*models.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Position, 0, len(s.positions))
	for _, tp := range s.positions {
		out = append(out, tp.pos)
	}
	return out
}

// OpenCount возвращает количество открытых позиций
func (s *Strategy) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.positions)
}

// UnrealizedPnl суммирует плавающий PnL открытых позиций по текущей цене
func (s *Strategy) UnrealizedPnl(price float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total float64
	for _, tp := range s.positions {
		total += tp.pos.UnrealizedPnl(price)
	}
	return total
}

// Base возвращает базовую цену сетки (0 до первого тика)
func (s *Strategy) Base() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.baseSet {
		return 0
	}
	return s.base
}

// LastPrice возвращает последнюю обработанную цену
func (s *Strategy) LastPrice() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prev
}

// Ticks возвращает количество обработанных тиков
func (s *Strategy) Ticks() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// LastTickAt возвращает время получения последнего тика
func (s *Strategy) LastTickAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick, s.hasTick
}

func (s *Strategy) levelIndex(levelPrice float64) int {
	return utils.NearestLevelIndex(s.base, s.cfg.Spread, levelPrice)
}

func oppositeSide(side string) string {
	if side == models.SideBuy {
		return models.SideSell
	}
	return models.SideBuy
}
