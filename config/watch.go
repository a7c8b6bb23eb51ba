package config

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"algo-trader-go/infrastructure/logger"
)

// Watcher 盯着配置文件，写入后重新加载并回调。编辑器保存经常触发
// 连环事件，用冷却时间去抖。加载失败只记日志，旧配置继续生效。
type Watcher struct {
	path     string
	cooldown time.Duration
	log      *logger.Logger

	watcher *fsnotify.Watcher

	mu         sync.Mutex
	lastReload time.Time
}

// NewWatcher 创建配置监听器。cooldown <= 0 时用 1 秒。
func NewWatcher(path string, cooldown time.Duration, log *logger.Logger) (*Watcher, error) {
	if cooldown <= 0 {
		cooldown = time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{path: path, cooldown: cooldown, log: log, watcher: fsw}, nil
}

// Start 开始监听，ctx 取消时返回。onUpdate 收到的是已通过校验的配置。
func (w *Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				w.reload(onUpdate)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(onUpdate func(AppConfig)) {
	w.mu.Lock()
	if time.Since(w.lastReload) < w.cooldown {
		w.mu.Unlock()
		return
	}
	w.lastReload = time.Now()
	w.mu.Unlock()

	cfg, err := LoadWithEnvOverrides(w.path)
	if err != nil {
		w.log.Warn("config reload failed, keeping previous", zap.Error(err))
		return
	}
	w.log.Info("config reloaded", zap.String("path", w.path))
	if onUpdate != nil {
		onUpdate(cfg)
	}
}
