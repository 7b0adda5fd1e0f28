package loader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kart-io/logger"
)

// Watcher 监听文档目录，变化平息 debounce 时长后调用 onChange 一次。
type Watcher struct {
	loader   *DirectoryLoader
	debounce time.Duration
	onChange func(ctx context.Context) error
}

// NewWatcher 创建目录监听器。
func NewWatcher(l *DirectoryLoader, debounce time.Duration, onChange func(ctx context.Context) error) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{loader: l, debounce: debounce, onChange: onChange}
}

// Run 监听直到 ctx 取消。目录不存在时先创建。
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.loader.Dir(), 0o755); err != nil {
		return fmt.Errorf("create documents directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := w.addTree(fw, w.loader.Dir()); err != nil {
		return err
	}
	logger.Infow("Watching documents directory", "dir", w.loader.Dir(), "debounce", w.debounce.String())

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(fw, ev.Name); err != nil {
						logger.Warnw("Failed to watch new directory", "dir", ev.Name, "error", err.Error())
					}
					continue
				}
			}
			if !w.relevant(ev) {
				continue
			}
			logger.Debugw("Document change detected", "path", ev.Name, "op", ev.Op.String())
			if pending && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.debounce)
			pending = true

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warnw("Documents watcher error", "error", err.Error())

		case <-timer.C:
			pending = false
			if err := w.onChange(ctx); err != nil {
				logger.Errorw("Failed to handle documents change", "error", err.Error())
			}
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return false
	}
	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return false
	}
	// 删除或重命名的目录没有扩展名，同样需要重建
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		return w.loader.Matches(ev.Name) || filepath.Ext(ev.Name) == ""
	}
	return w.loader.Matches(ev.Name)
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
