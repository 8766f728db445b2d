package indexer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"oakci/internal/config"
	"oakci/internal/logging"
)

// Watcher keeps the code index current. Filesystem events are coalesced into
// pending sets and processed after a quiet period; a file reindexed recently
// is deferred to the next window instead of being dropped.
type Watcher struct {
	cfg     config.Accessor
	indexer *Indexer
	fsw     *fsnotify.Watcher

	mu          sync.Mutex
	pending     map[string]struct{}
	deleted     map[string]struct{}
	timer       *time.Timer
	lastIndexed map[string]time.Time
	closed      bool

	done chan struct{}
}

// NewWatcher creates a watcher over the project tree. Start must be called
// before events are processed.
func NewWatcher(cfg config.Accessor, indexer *Indexer) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:         cfg,
		indexer:     indexer,
		fsw:         fsw,
		pending:     make(map[string]struct{}),
		deleted:     make(map[string]struct{}),
		lastIndexed: make(map[string]time.Time),
		done:        make(chan struct{}),
	}, nil
}

// Start registers the project directories and begins processing events until
// the context is canceled or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	c := w.cfg()
	if err := w.addRecursive(c.ProjectRoot); err != nil {
		return err
	}
	logging.Watcher("File watcher started on %s", c.ProjectRoot)

	go w.loop(ctx)
	return nil
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *Watcher) addRecursive(root string) error {
	c := w.cfg()
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		name := d.Name()
		for _, ignore := range c.Indexer.IgnoreDirs {
			if name == ignore {
				return filepath.SkipDir
			}
		}
		if err := w.fsw.Add(path); err != nil {
			logging.WatcherDebug("failed to watch %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatcher).Warn("watch error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	c := w.cfg()
	rel, err := filepath.Rel(c.ProjectRoot, event.Name)
	if err != nil {
		return
	}

	// New directories need their own watch before files inside them produce
	// events.
	if event.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
			_ = w.addRecursive(event.Name)
			return
		}
	}

	if !w.indexer.Eligible(rel) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		delete(w.pending, rel)
		w.deleted[rel] = struct{}{}
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		delete(w.deleted, rel)
		w.pending[rel] = struct{}{}
	default:
		return
	}
	w.schedule(c)
}

// schedule (re)arms the single debounce timer. Caller holds w.mu.
func (w *Watcher) schedule(c *config.CIConfig) {
	debounce := time.Duration(c.Indexer.DebounceMS) * time.Millisecond
	if debounce <= 0 {
		debounce = time.Second
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounce, w.fire)
}

// fire drains the pending sets. Files inside the minimum reindex interval are
// pushed back to the next window.
func (w *Watcher) fire() {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryWatcher).Error("watcher fire panicked: %v", r)
		}
	}()

	c := w.cfg()
	minInterval := time.Duration(c.Indexer.MinReindexIntervalSeconds) * time.Second

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	now := time.Now()
	var reindex, remove, requeue []string
	for rel := range w.pending {
		if minInterval > 0 {
			if last, ok := w.lastIndexed[rel]; ok && now.Sub(last) < minInterval {
				requeue = append(requeue, rel)
				continue
			}
		}
		reindex = append(reindex, rel)
	}
	for rel := range w.deleted {
		remove = append(remove, rel)
	}
	w.pending = make(map[string]struct{})
	w.deleted = make(map[string]struct{})
	for _, rel := range requeue {
		w.pending[rel] = struct{}{}
	}
	for _, rel := range reindex {
		w.lastIndexed[rel] = now
	}
	if len(requeue) > 0 {
		w.schedule(c)
	}
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	for _, rel := range remove {
		if err := w.indexer.RemoveFile(rel); err != nil {
			logging.Get(logging.CategoryWatcher).Warn("failed to remove %s from index: %v", rel, err)
		}
	}
	for _, rel := range reindex {
		if n, err := w.indexer.ReindexFile(ctx, rel); err != nil {
			logging.Get(logging.CategoryWatcher).Warn("failed to reindex %s: %v", rel, err)
		} else {
			logging.WatcherDebug("Reindexed %s (%d chunks)", rel, n)
		}
	}
	if len(reindex)+len(remove) > 0 {
		logging.Watcher("Watcher pass: %d reindexed, %d removed, %d deferred",
			len(reindex), len(remove), len(requeue))
	}
}
