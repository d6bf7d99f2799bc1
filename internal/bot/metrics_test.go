package bot

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRealizedPnl_AcceptsLosses(t *testing.T) {
	// Закрытие в убыток не должно ронять процесс: метрика обязана
	// принимать отрицательные значения
	RecordRealizedPnl("R_25", -5.0)
	RecordRealizedPnl("R_25", 12.5)

	got := testutil.ToFloat64(RealizedPnlTotal.WithLabelValues("R_25"))
	if got != 7.5 {
		t.Errorf("realized pnl = %v, ожидалось 7.5", got)
	}
}

func TestUpdateBrokerStatus(t *testing.T) {
	UpdateBrokerStatus("bridge-metrics", true)
	if got := testutil.ToFloat64(BrokerConnections.WithLabelValues("bridge-metrics")); got != 1 {
		t.Errorf("connected status = %v, ожидалось 1", got)
	}

	UpdateBrokerStatus("bridge-metrics", false)
	if got := testutil.ToFloat64(BrokerConnections.WithLabelValues("bridge-metrics")); got != 0 {
		t.Errorf("disconnected status = %v, ожидалось 0", got)
	}
}
