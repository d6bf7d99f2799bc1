package broker

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"gridbot/internal/models"
)

func newTestStreaming() *StreamingBroker {
	return NewStreamingBroker("wss://example.invalid/ws", "1089", "token", zap.NewNop())
}

func TestStreaming_DispatchTick(t *testing.T) {
	b := newTestStreaming()

	var got *models.PriceEvent
	if err := b.SubscribeTicker("R_100", func(e *models.PriceEvent) { got = e }); err != nil {
		t.Fatalf("SubscribeTicker: %v", err)
	}

	b.handleMessage([]byte(`{"tick":{"symbol":"R_100","bid":6845.2,"ask":6845.8,"epoch":1700000000500}}`))

	if got == nil {
		t.Fatal("tick callback was not invoked")
	}
	if got.Bid != 6845.2 || got.Ask != 6845.8 {
		t.Errorf("tick parsed incorrectly: %+v", got)
	}
	if got.Timestamp != time.UnixMilli(1700000000500) {
		t.Errorf("timestamp = %v, ожидалось %v", got.Timestamp, time.UnixMilli(1700000000500))
	}
}

func TestStreaming_TickForUnknownSymbolIgnored(t *testing.T) {
	b := newTestStreaming()

	called := false
	b.SubscribeTicker("R_100", func(e *models.PriceEvent) { called = true })

	b.handleMessage([]byte(`{"tick":{"symbol":"R_50","bid":1,"ask":2,"epoch":1}}`))

	if called {
		t.Error("tick for unsubscribed symbol must be ignored")
	}
}

func TestStreaming_ResponseCorrelation(t *testing.T) {
	b := newTestStreaming()

	ch := make(chan *streamingMessage, 1)
	b.mu.Lock()
	b.pending[7] = ch
	b.mu.Unlock()

	b.handleMessage([]byte(`{"req_id":7,"market_order":{"order_id":"o-1","client_order_id":"cid-1","symbol":"R_100","side":"sell","volume":0.5,"price":6845.0,"executed_at":1700000000000}}`))

	select {
	case msg := <-ch:
		if msg.Order == nil || msg.Order.OrderID != "o-1" {
			t.Errorf("order response parsed incorrectly: %+v", msg)
		}
	default:
		t.Fatal("pending request did not receive its response")
	}

	// req_id удаляется из pending после доставки
	b.mu.Lock()
	_, stillPending := b.pending[7]
	b.mu.Unlock()
	if stillPending {
		t.Error("delivered req_id must be removed from pending map")
	}
}

func TestStreaming_ResponseForUnknownReqIDIgnored(t *testing.T) {
	b := newTestStreaming()
	// Не должно паниковать и не должно блокировать
	b.handleMessage([]byte(`{"req_id":99,"balance":{"balance":100}}`))
}

func TestStreaming_MalformedMessageIgnored(t *testing.T) {
	b := newTestStreaming()
	b.handleMessage([]byte(`{not json`))
}

func TestStreaming_MapAPIError(t *testing.T) {
	b := newTestStreaming()

	tests := []struct {
		code     string
		wantKind string
	}{
		{"InsufficientFunds", ErrKindInsufficientMargin},
		{"InsufficientMargin", ErrKindInsufficientMargin},
		{"RateLimit", ErrKindTimeout},
		{"InvalidSymbol", ErrKindBrokerRejected},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := b.mapAPIError(&apiError{Code: tt.code, Message: "m"})
			oe, ok := err.(*OrderError)
			if !ok {
				t.Fatalf("expected *OrderError, got %T", err)
			}
			if oe.Kind != tt.wantKind {
				t.Errorf("Kind для %s = %s, ожидалось %s", tt.code, oe.Kind, tt.wantKind)
			}
		})
	}
}

func TestStreaming_RequestWhenDisconnected(t *testing.T) {
	b := newTestStreaming()

	_, err := b.GetBalance(context.Background())
	if err == nil {
		t.Fatal("expected transport error when not connected")
	}

	oe, ok := err.(*OrderError)
	if !ok {
		t.Fatalf("expected *OrderError, got %T", err)
	}
	if oe.Kind != ErrKindTransportDown {
		t.Errorf("Kind = %s, ожидалось %s", oe.Kind, ErrKindTransportDown)
	}
}
