package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcherReloadValidates(t *testing.T) {
	path := writeTempConfig(t, "env: dev\n")
	var got []AppConfig
	w, err := NewWatcher(path, 0, nil, func(cfg AppConfig) { got = append(got, cfg) })
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()

	if err := w.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(got) != 1 || w.LastReload().IsZero() {
		t.Fatalf("expected one update, got %d", len(got))
	}

	if err := os.WriteFile(path, []byte("engine:\n  largeGapPips: -1\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := w.Reload(); err == nil {
		t.Fatalf("expected invalid config to be rejected")
	}
	if len(got) != 1 {
		t.Fatalf("invalid config must not reach callback")
	}
}

func TestWatcherCooldown(t *testing.T) {
	path := writeTempConfig(t, "env: dev\n")
	calls := 0
	w, err := NewWatcher(path, time.Hour, nil, func(AppConfig) { calls++ })
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()

	_ = w.Reload()
	_ = w.Reload()
	if calls != 1 {
		t.Fatalf("expected cooldown to suppress second reload, calls=%d", calls)
	}
}

func TestWatcherTriggersOnChange(t *testing.T) {
	path := writeTempConfig(t, "env: dev\n")
	ch := make(chan AppConfig, 64)
	w, err := NewWatcher(path, 0, nil, func(cfg AppConfig) { ch <- cfg })
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("env: dev\nengine:\n  largeGapPips: 3\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	// 截断和写入可能各触发一次事件，等到新值出现为止
	deadline := time.After(2 * time.Second)
	for {
		select {
		case cfg := <-ch:
			if cfg.Engine.LargeGapPips == 3 {
				return
			}
		case <-deadline:
			t.Fatalf("expected update callback")
		}
	}
}

func TestWatcherDefersChangeInsideCooldown(t *testing.T) {
	path := writeTempConfig(t, "env: dev\n")
	ch := make(chan AppConfig, 64)
	w, err := NewWatcher(path, 300*time.Millisecond, nil, func(cfg AppConfig) { ch <- cfg })
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	if err := w.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	<-ch
	// 冷却期内的改动不能丢
	if err := os.WriteFile(path, []byte("env: dev\nengine:\n  largeGapPips: 5\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	deadline := time.After(3 * time.Second)
	for {
		select {
		case cfg := <-ch:
			if cfg.Engine.LargeGapPips == 5 {
				return
			}
		case <-deadline:
			t.Fatalf("change inside cooldown was never applied")
		}
	}
}

func TestWatcherStopsOnCancel(t *testing.T) {
	path := writeTempConfig(t, "env: dev\n")
	w, err := NewWatcher(path, 0, nil, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatalf("watcher did not exit")
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
