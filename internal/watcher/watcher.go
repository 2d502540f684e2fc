// Package watcher runs an incremental sync whenever messages land in the
// mail source directory.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/internal/mail/emldir"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// DefaultDebounce is used when Options.Debounce is zero.
const DefaultDebounce = 2 * time.Second

// SyncFunc runs one sync. Errors are logged and do not stop the watcher.
type SyncFunc func(ctx context.Context) error

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period after the last message event before a
	// sync starts.
	Debounce time.Duration
	// SyncOnStart runs a sync before the first event.
	SyncOnStart bool
}

// Watcher watches a directory tree for new message files.
type Watcher struct {
	root     string
	watcher  *fsnotify.Watcher
	sync     SyncFunc
	debounce time.Duration
	onStart  bool
	logger   *zap.Logger

	trigger chan struct{}
	stop    chan struct{}
	once    sync.Once

	mu   sync.Mutex
	runs int
}

// New creates a watcher over root. Call Run to start it.
func New(root string, fn SyncFunc, opts Options, logger *zap.Logger) (*Watcher, error) {
	if fn == nil {
		return nil, fmt.Errorf("sync function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &Watcher{
		root:     root,
		watcher:  fw,
		sync:     fn,
		debounce: opts.Debounce,
		onStart:  opts.SyncOnStart,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}, nil
}

// Run watches until ctx ends or Stop is called. It returns an error only
// when the tree cannot be watched.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Stop()
	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.logger.Info("watching mail directory", zap.String("dir", w.root), zap.Duration("debounce", w.debounce))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.syncLoop(ctx)
	}()
	if w.onStart {
		w.schedule()
	}

	w.processEvents(ctx)
	w.Stop()
	wg.Wait()
	return nil
}

// Stop stops the watcher and releases the fsnotify handle.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
}

// Runs reports how many syncs have completed.
func (w *Watcher) Runs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watcher error", zap.Error(err))
		}
	}
}

// relevant reports whether event should start the debounce timer. A new
// directory is added to the watch set and counts, since it may arrive
// already holding messages.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return false
	}
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("could not watch new directory", zap.String("dir", event.Name), zap.Error(err))
			}
			return true
		}
	}
	return emldir.IsMessageFile(event.Name)
}

// schedule queues a sync. A request made while one is queued is merged.
func (w *Watcher) schedule() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *Watcher) syncLoop(ctx context.Context) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-w.trigger:
		}

		start := time.Now()
		err := w.sync(ctx)
		if err != nil {
			w.logger.Error("watch sync failed", zap.Error(err))
		} else {
			w.logger.Info("watch sync finished", zap.Duration("duration", time.Since(start)))
		}

		w.mu.Lock()
		w.runs++
		w.mu.Unlock()
	}
}
