package vectorstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// chromemDirName holds the chromem database under a storage root.
const chromemDirName = "chromem"

// Handles caches one chromem database per storage root. Opening the same
// persistent database twice in a process would give two diverging in-memory
// views of the same files.
type Handles struct {
	logger *zap.Logger

	mu  sync.RWMutex
	dbs map[string]*chromem.DB
}

// NewHandles returns an empty registry.
func NewHandles(logger *zap.Logger) *Handles {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handles{logger: logger, dbs: make(map[string]*chromem.DB)}
}

// Chromem returns the database for root, opening it on first use.
func (h *Handles) Chromem(root string, compress bool) (*chromem.DB, error) {
	key := filepath.Clean(root)

	h.mu.RLock()
	if db, ok := h.dbs[key]; ok {
		h.mu.RUnlock()
		return db, nil
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	if db, ok := h.dbs[key]; ok {
		return db, nil
	}

	dir := filepath.Join(key, chromemDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrIndexUnavailable, dir, err)
	}
	db, err := chromem.NewPersistentDB(dir, compress)
	if err != nil {
		return nil, fmt.Errorf("%w: opening chromem at %s: %v", ErrIndexUnavailable, dir, err)
	}
	h.dbs[key] = db

	h.logger.Info("opened chromem database",
		zap.String("path", dir),
		zap.Bool("compress", compress),
		zap.Int("collections", len(db.ListCollections())),
	)
	return db, nil
}

// Len returns the number of open databases.
func (h *Handles) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.dbs)
}

// Close forgets every cached database. chromem persists on every write, so
// there is nothing to flush; later calls reopen from disk.
func (h *Handles) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dbs = make(map[string]*chromem.DB)
	return nil
}

var (
	defaultMu      sync.Mutex
	defaultHandles *Handles
)

// DefaultHandles returns the process-wide registry, creating it on first use.
func DefaultHandles() *Handles {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultHandles == nil {
		defaultHandles = NewHandles(nil)
	}
	return defaultHandles
}

// SetDefaultHandles replaces the process-wide registry and returns a func
// restoring the previous one. Tests use it to isolate storage roots.
func SetDefaultHandles(h *Handles) (restore func()) {
	defaultMu.Lock()
	prev := defaultHandles
	defaultHandles = h
	defaultMu.Unlock()

	return func() {
		defaultMu.Lock()
		cur := defaultHandles
		defaultHandles = prev
		defaultMu.Unlock()
		if cur != nil && cur != prev {
			_ = cur.Close()
		}
	}
}

// CloseDefault releases the process-wide registry.
func CloseDefault() error {
	defaultMu.Lock()
	h := defaultHandles
	defaultHandles = nil
	defaultMu.Unlock()
	if h == nil {
		return nil
	}
	return h.Close()
}
