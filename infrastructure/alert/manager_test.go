package alert

import (
	"testing"
	"time"
)

func TestSendReachesAllChannels(t *testing.T) {
	mock1 := NewMockChannel("mock1")
	mock2 := NewMockChannel("mock2")
	mgr := NewManager([]Channel{mock1, mock2}, 5*time.Minute)

	if err := mgr.Send(Alert{Level: "INFO", Event: "notify", Message: "hello"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if mock1.Count() != 1 || mock2.Count() != 1 {
		t.Errorf("both channels should receive the alert, got %d/%d", mock1.Count(), mock2.Count())
	}
	if mock1.Alerts()[0].Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestRepeatedMessagesThrottled(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 100*time.Millisecond)

	mgr.Notify("same message")
	mgr.Notify("same message")
	if mock.Count() != 1 {
		t.Fatalf("repeat within interval should be throttled, got %d", mock.Count())
	}

	time.Sleep(150 * time.Millisecond)
	mgr.Notify("same message")
	if mock.Count() != 2 {
		t.Fatalf("after interval the message should pass, got %d", mock.Count())
	}
}

func TestDifferentMessagesNotThrottled(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	mgr.OrderPlaced("deribit", "BTC-PERPETUAL", "buy", 10, 3000)
	mgr.OrderFilled("deribit", "BTC-PERPETUAL", "buy", 10, 3000)
	mgr.OrderCancelled("deribit", "BTC-PERPETUAL", 2)
	mgr.Rebalanced("deribit", "BTC-PERPETUAL", "shuffle")

	if mock.Count() != 4 {
		t.Errorf("expected 4 alerts, got %d", mock.Count())
	}
	events := map[string]bool{}
	for _, a := range mock.Alerts() {
		events[a.Event] = true
	}
	for _, want := range []string{"order_placed", "order_filled", "order_cancelled", "rebalance"} {
		if !events[want] {
			t.Errorf("missing event %s", want)
		}
	}
}

func TestPartialChannelFailure(t *testing.T) {
	bad := NewMockChannel("bad")
	bad.SetShouldError(true)
	good := NewMockChannel("good")
	mgr := NewManager([]Channel{bad, good}, 5*time.Minute)

	if err := mgr.Send(Alert{Level: "INFO", Message: "x"}); err != nil {
		t.Errorf("partial failure should not surface: %v", err)
	}
	if good.Count() != 1 {
		t.Error("healthy channel should still receive the alert")
	}

	all := NewManager([]Channel{bad}, 5*time.Minute)
	if err := all.Send(Alert{Level: "INFO", Message: "y"}); err == nil {
		t.Error("expected an error when every channel fails")
	}
}

func TestThrottler(t *testing.T) {
	th := NewThrottler(100 * time.Millisecond)
	if !th.Allow("k") {
		t.Error("first call should pass")
	}
	if th.Allow("k") {
		t.Error("second call should be throttled")
	}
	if !th.Allow("other") {
		t.Error("different key should pass")
	}
	th.Reset("k")
	if !th.Allow("k") {
		t.Error("reset key should pass again")
	}
}
