package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового движка
// ============================================================
//
// Использование:
// - Grafana дашборды для визуализации
// - Alertmanager для уведомлений о проблемах
// - Анализ производительности в production

// ============ Метрики латентности ============

// TickToOrderLatency - время от получения тика до отправки ордера
var TickToOrderLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "gridbot",
		Subsystem: "trading",
		Name:      "tick_to_order_latency_ms",
		Help:      "Latency from price tick to order submission in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100},
	},
	[]string{"symbol"},
)

// OrderExecutionLatency - время исполнения ордера у брокера
var OrderExecutionLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "gridbot",
		Subsystem: "trading",
		Name:      "order_execution_latency_ms",
		Help:      "Time to execute order at the broker in milliseconds",
		Buckets:   []float64{50, 100, 200, 300, 500, 1000, 2000, 5000},
	},
	[]string{"broker", "side"},
)

// ============ Счётчики событий ============

// TicksProcessed - количество обработанных тиков
var TicksProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gridbot",
		Subsystem: "trading",
		Name:      "ticks_processed_total",
		Help:      "Total number of processed price ticks",
	},
	[]string{"symbol"},
)

// OrdersTotal - количество ордеров по результату
var OrdersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gridbot",
		Subsystem: "trading",
		Name:      "orders_total",
		Help:      "Total number of orders",
	},
	[]string{"symbol", "reason", "result"}, // result: filled, rejected, failed
)

// RealizedPnlTotal - суммарный реализованный PnL.
// Gauge, а не counter: PnL закрытой позиции бывает отрицательным.
var RealizedPnlTotal = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "gridbot",
		Subsystem: "trading",
		Name:      "realized_pnl",
		Help:      "Cumulative realized PnL in account currency",
	},
	[]string{"symbol"},
)

// ============ Метрики состояния ============

// ActiveSessions - количество сессий по состояниям
var ActiveSessions = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "gridbot",
		Subsystem: "trading",
		Name:      "active_sessions",
		Help:      "Number of sessions by state",
	},
	[]string{"state"}, // created, running, paused, stopping, stopped, failed
)

// OpenPositions - открытые позиции по символам
var OpenPositions = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "gridbot",
		Subsystem: "trading",
		Name:      "open_positions",
		Help:      "Current number of open positions",
	},
	[]string{"symbol"},
)

// BrokerConnections - статус подключений к брокерам
var BrokerConnections = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "gridbot",
		Subsystem: "broker",
		Name:      "connection_status",
		Help:      "Broker connection status (1=connected, 0=disconnected)",
	},
	[]string{"broker"},
)

// ============ Метрики производительности ============

// BufferOverflows - переполнения буферов каналов
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gridbot",
		Subsystem: "trading",
		Name:      "buffer_overflows_total",
		Help:      "Number of channel buffer overflows (events dropped)",
	},
	[]string{"buffer"}, // price_queue, notification
)

// ============ Метрики риска ============

// RiskStopsTriggered - срабатывания риск-лимитов
var RiskStopsTriggered = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gridbot",
		Subsystem: "risk",
		Name:      "risk_stops_triggered_total",
		Help:      "Number of risk limit triggers",
	},
	[]string{"symbol", "reason"}, // reason: risk_runtime, risk_drawdown
)

// ReconciliationFailures - расхождения при сверке позиций
var ReconciliationFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gridbot",
		Subsystem: "risk",
		Name:      "reconciliation_failures_total",
		Help:      "Number of position reconciliation mismatches",
	},
	[]string{"symbol"},
)

// ============ Вспомогательные функции ============

// RecordTick записывает обработанный тик
func RecordTick(symbol string) {
	TicksProcessed.WithLabelValues(symbol).Inc()
}

// RecordOrder записывает результат ордера
func RecordOrder(symbol, reason, result string) {
	OrdersTotal.WithLabelValues(symbol, reason, result).Inc()
}

// RecordRealizedPnl записывает реализованный PnL закрытой позиции
func RecordRealizedPnl(symbol string, pnl float64) {
	RealizedPnlTotal.WithLabelValues(symbol).Add(pnl)
}

// RecordBufferOverflow записывает переполнение буфера
func RecordBufferOverflow(bufferName string) {
	BufferOverflows.WithLabelValues(bufferName).Inc()
}

// RecordRiskStop записывает срабатывание риск-лимита
func RecordRiskStop(symbol, reason string) {
	RiskStopsTriggered.WithLabelValues(symbol, reason).Inc()
}

// UpdateBrokerStatus обновляет статус подключения брокера
func UpdateBrokerStatus(brokerName string, connected bool) {
	if connected {
		BrokerConnections.WithLabelValues(brokerName).Set(1)
	} else {
		BrokerConnections.WithLabelValues(brokerName).Set(0)
	}
}

// UpdateSessionStates обновляет gauge состояний сессий
func UpdateSessionStates(counts map[string]int) {
	for state, n := range counts {
		ActiveSessions.WithLabelValues(state).Set(float64(n))
	}
}

// UpdateOpenPositions обновляет gauge открытых позиций символа
func UpdateOpenPositions(symbol string, count int) {
	OpenPositions.WithLabelValues(symbol).Set(float64(count))
}
