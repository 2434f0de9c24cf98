package alert

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewManager(t *testing.T) {
	ch := NewMockChannel("test")
	mgr := NewManager([]Channel{ch}, 5*time.Minute)

	channels := mgr.GetChannels()
	if len(channels) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(channels))
	}
	if channels[0] != "test" {
		t.Errorf("channel name = %s, want test", channels[0])
	}
}

func TestSendAlert(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	err := mgr.SendError("storage upsert failed", map[string]interface{}{"symbol": "EURUSD"})
	if err != nil {
		t.Fatalf("SendAlert failed: %v", err)
	}
	if mock.Count() != 1 {
		t.Fatalf("expected 1 alert, got %d", mock.Count())
	}
	alert := mock.GetAlerts()[0]
	if alert.Level != LevelError {
		t.Errorf("level = %s, want ERROR", alert.Level)
	}
	if alert.Fields["symbol"] != "EURUSD" {
		t.Errorf("field symbol = %v, want EURUSD", alert.Fields["symbol"])
	}
	if alert.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestThrottle(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Hour)

	for i := 0; i < 3; i++ {
		_ = mgr.SendWarning("messages lost", nil)
	}
	_ = mgr.SendError("messages lost", nil)
	if mock.Count() != 2 {
		t.Fatalf("expected 2 alerts after throttling, got %d", mock.Count())
	}

	mgr.ResetThrottle()
	_ = mgr.SendWarning("messages lost", nil)
	if mock.Count() != 3 {
		t.Fatalf("expected 3 alerts after reset, got %d", mock.Count())
	}
}

func TestThrottlerInterval(t *testing.T) {
	th := NewThrottler(time.Minute)
	now := time.Unix(1000, 0)
	th.now = func() time.Time { return now }
	if !th.Allow("k") {
		t.Fatal("first call should pass")
	}
	if th.Allow("k") {
		t.Fatal("second call should be throttled")
	}
	now = now.Add(time.Minute)
	if !th.Allow("k") {
		t.Fatal("call after interval should pass")
	}
}

func TestAllChannelsFail(t *testing.T) {
	mock := NewMockChannel("mock")
	mock.SetShouldError(true)
	mgr := NewManager([]Channel{mock}, time.Minute)
	if err := mgr.SendCritical("down", nil); err == nil {
		t.Fatal("expected error when every channel fails")
	}

	mgr.AddChannel(NewLogChannel("log", zap.NewNop()))
	mgr.ResetThrottle()
	if err := mgr.SendCritical("down", nil); err != nil {
		t.Fatalf("one healthy channel is enough: %v", err)
	}
}

func TestConsoleChannel(t *testing.T) {
	var buf bytes.Buffer
	ch := NewConsoleChannel("console", &buf)
	err := ch.Send(Alert{
		Level:     LevelWarning,
		Message:   "messages lost",
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Fields:    map[string]interface{}{"symbol": "EURUSD", "lost": 12},
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	want := "\033[33m[WARNING]\033[0m 2024-01-02 03:04:05 - messages lost | lost=12 symbol=EURUSD\n"
	if buf.String() != want {
		t.Fatalf("output = %q, want %q", buf.String(), want)
	}
}

func TestBuildChannels(t *testing.T) {
	channels, err := BuildChannels([]string{"log", "console", "log"}, zap.NewNop())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(channels) != 2 || channels[0].Name() != "log" || channels[1].Name() != "console" {
		t.Fatalf("unexpected channels: %v", channels)
	}

	channels, err = BuildChannels(nil, nil)
	if err != nil || len(channels) != 1 || channels[0].Name() != "log" {
		t.Fatalf("default should be a single log channel: %v %v", channels, err)
	}

	if _, err := BuildChannels([]string{"pager"}, nil); err == nil || !strings.Contains(err.Error(), "pager") {
		t.Fatalf("expected unknown channel error, got %v", err)
	}
}
