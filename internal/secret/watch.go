package secret

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileWatcher calls onChange whenever the watched file is created, written,
// removed or renamed. The parent directory is watched rather than the file so
// the watch survives the rename-based replace in FileStore.save.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	closeOne sync.Once
}

// WatchFile starts watching path.
func WatchFile(path string, onChange func(), log *zap.Logger) (*FileWatcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve watched path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch dir %q: %w", filepath.Dir(absPath), err)
	}

	fw := &FileWatcher{watcher: watcher, done: make(chan struct{})}
	fw.wg.Add(1)
	go func() {
		defer fw.wg.Done()
		for {
			select {
			case <-fw.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name, _ := filepath.Abs(event.Name)
				if name != absPath {
					continue
				}
				if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
					event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					log.Debug("secrets file changed", zap.String("path", absPath), zap.String("op", event.Op.String()))
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("secrets file watcher error", zap.Error(err))
			}
		}
	}()
	return fw, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (fw *FileWatcher) Close() error {
	var err error
	fw.closeOne.Do(func() {
		close(fw.done)
		err = fw.watcher.Close()
		fw.wg.Wait()
	})
	return err
}
