package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"gridbot/pkg/ratelimit"
	"gridbot/pkg/retry"
)

// OrderQueue сериализует все ордера одного брокерского аккаунта.
//
// Несколько сессий могут делить один аккаунт (разные символы), но поток
// записи на аккаунт ровно один: это исключает гонки лимита брокера и
// делает повтор с тем же client_order_id безопасным.
//
// Внутри:
//   - token bucket на частоту запросов (всплеск при массовом закрытии
//     позиций по риск-стопу не пробивает лимиты брокера)
//   - retry с exponential backoff только для повторяемых ошибок
//     (timeout, transport_down); отклонение брокера не повторяется
type OrderQueue struct {
	broker   Broker
	limiter  *ratelimit.RateLimiter
	retryCfg retry.Config
	logger   *zap.Logger

	jobs      chan *orderJob
	closeChan chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type orderJob struct {
	ctx      context.Context
	place    *OrderRequest // либо place, либо closeReq
	closeReq *CloseRequest
	result   chan orderJobResult
}

type orderJobResult struct {
	fill *Fill
	err  error
}

// NewOrderQueue создаёт очередь ордеров для одного аккаунта и запускает
// единственный worker записи
func NewOrderQueue(b Broker, rate, burst float64, logger *zap.Logger) *OrderQueue {
	q := &OrderQueue{
		broker:    b,
		limiter:   ratelimit.NewRateLimiter(rate, burst),
		retryCfg:  retry.OrderConfig(),
		logger:    logger.Named("order_queue"),
		jobs:      make(chan *orderJob, 64),
		closeChan: make(chan struct{}),
	}

	q.retryCfg.RetryIf = IsRetryable
	q.retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		q.logger.Warn("retrying order",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	q.wg.Add(1)
	go q.worker()

	return q
}

// PlaceOrder ставит ордер в очередь аккаунта и ждёт исполнения.
// Повторы при timeout/transport идут с тем же req.ClientOrderID.
func (q *OrderQueue) PlaceOrder(ctx context.Context, req *OrderRequest) (*Fill, error) {
	return q.submit(ctx, &orderJob{ctx: ctx, place: req})
}

// ClosePosition ставит закрытие позиции в очередь аккаунта
func (q *OrderQueue) ClosePosition(ctx context.Context, req *CloseRequest) (*Fill, error) {
	return q.submit(ctx, &orderJob{ctx: ctx, closeReq: req})
}

func (q *OrderQueue) submit(ctx context.Context, job *orderJob) (*Fill, error) {
	job.result = make(chan orderJobResult, 1)

	select {
	case <-q.closeChan:
		return nil, fmt.Errorf("order queue is closed")
	default:
	}

	select {
	case q.jobs <- job:
	case <-q.closeChan:
		return nil, fmt.Errorf("order queue is closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-job.result:
		return res.fill, res.err
	case <-q.closeChan:
		// Worker мог успеть исполнить задачу до остановки
		select {
		case res := <-job.result:
			return res.fill, res.err
		default:
			return nil, fmt.Errorf("order queue is closed")
		}
	case <-ctx.Done():
		// Worker продолжит исполнение; результат будет потерян, но
		// idempotency-токен защищает от дублей при повторной отправке
		return nil, ctx.Err()
	}
}

// worker - единственный поток записи на аккаунт
func (q *OrderQueue) worker() {
	defer q.wg.Done()

	for {
		select {
		case <-q.closeChan:
			return
		case job := <-q.jobs:
			q.execute(job)
		}
	}
}

func (q *OrderQueue) execute(job *orderJob) {
	if err := q.limiter.Wait(job.ctx); err != nil {
		job.result <- orderJobResult{err: err}
		return
	}

	var fill *Fill
	err := retry.Do(job.ctx, func() error {
		var opErr error
		if job.place != nil {
			fill, opErr = q.broker.PlaceOrder(job.ctx, job.place)
		} else {
			fill, opErr = q.broker.ClosePosition(job.ctx, job.closeReq)
		}
		return opErr
	}, q.retryCfg)

	job.result <- orderJobResult{fill: fill, err: err}
}

// Close останавливает worker. Уже поставленные задачи не исполняются.
func (q *OrderQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.closeChan)
	})
	q.wg.Wait()
}
