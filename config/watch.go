package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultCooldown 两次重载之间的最短间隔，避免编辑器多次写入触发重复更新。
const DefaultCooldown = time.Second

// Watcher 监听配置文件，写入/创建后重新加载并回调。
// 监听所在目录而不是文件本身，兼容"写临时文件再 rename"的保存方式。
type Watcher struct {
	path     string
	cooldown time.Duration
	onUpdate func(AppConfig)
	logger   *zap.Logger
	watcher  *fsnotify.Watcher

	mu         sync.Mutex
	lastReload time.Time
	stopChan   chan struct{}
	doneChan   chan struct{}
	once       sync.Once
}

// NewWatcher 创建监听器，onUpdate 只会收到通过校验的配置。
func NewWatcher(path string, cooldown time.Duration, logger *zap.Logger, onUpdate func(AppConfig)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if cooldown < 0 {
		cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     path,
		cooldown: cooldown,
		onUpdate: onUpdate,
		logger:   logger,
		watcher:  fw,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start 开始监听，ctx 取消或 Stop 后退出。
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}
	go w.watch(ctx)
	return nil
}

// Stop 停止监听并释放 fsnotify 资源。
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.stopChan)
		err = w.watcher.Close()
	})
	return err
}

// Done watch 协程退出后关闭。
func (w *Watcher) Done() <-chan struct{} { return w.doneChan }

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneChan)
	target := filepath.Clean(w.path)
	// 冷却期内的改动推迟到冷却结束后再加载一次
	var deferred <-chan time.Time
	reload := func() {
		wait, err := w.reload()
		if err != nil {
			w.logger.Warn("config reload rejected", zap.String("path", w.path), zap.Error(err))
			return
		}
		if wait > 0 && deferred == nil {
			w.logger.Debug("config reload deferred", zap.Duration("wait", wait))
			deferred = time.After(wait)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-deferred:
			deferred = nil
			reload()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			// 只处理写入和创建事件
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// 记录错误但继续监听
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Reload 重新加载并校验配置；冷却期内的调用直接忽略。
func (w *Watcher) Reload() error {
	_, err := w.reload()
	return err
}

// reload 冷却期内不加载，返回剩余等待时间。
func (w *Watcher) reload() (time.Duration, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.lastReload.IsZero() {
		if left := w.cooldown - time.Since(w.lastReload); left > 0 {
			return left, nil
		}
	}
	cfg, err := LoadWithEnvOverrides(w.path)
	if err != nil {
		return 0, err
	}
	w.lastReload = time.Now()
	w.logger.Info("config reloaded", zap.String("path", w.path))
	if w.onUpdate != nil {
		w.onUpdate(cfg)
	}
	return 0, nil
}

// LastReload 最后一次成功重载的时间。
func (w *Watcher) LastReload() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastReload
}
