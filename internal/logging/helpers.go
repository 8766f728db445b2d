package logging

import "time"

// Convenience helpers for the hot categories, matching the call sites used
// throughout the daemon: logging.Store("..."), logging.StoreDebug("...") etc.

// Boot logs an info message in the boot category.
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// Store logs an info message in the store category.
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs a debug message in the store category.
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// Vector logs an info message in the vector category.
func Vector(format string, args ...interface{}) { Get(CategoryVector).Info(format, args...) }

// VectorDebug logs a debug message in the vector category.
func VectorDebug(format string, args ...interface{}) { Get(CategoryVector).Debug(format, args...) }

// Embedding logs an info message in the embedding category.
func Embedding(format string, args ...interface{}) { Get(CategoryEmbedding).Info(format, args...) }

// EmbeddingDebug logs a debug message in the embedding category.
func EmbeddingDebug(format string, args ...interface{}) {
	Get(CategoryEmbedding).Debug(format, args...)
}

// Indexer logs an info message in the indexer category.
func Indexer(format string, args ...interface{}) { Get(CategoryIndexer).Info(format, args...) }

// IndexerDebug logs a debug message in the indexer category.
func IndexerDebug(format string, args ...interface{}) { Get(CategoryIndexer).Debug(format, args...) }

// Watcher logs an info message in the watcher category.
func Watcher(format string, args ...interface{}) { Get(CategoryWatcher).Info(format, args...) }

// WatcherDebug logs a debug message in the watcher category.
func WatcherDebug(format string, args ...interface{}) { Get(CategoryWatcher).Debug(format, args...) }

// Processor logs an info message in the processor category.
func Processor(format string, args ...interface{}) { Get(CategoryProcessor).Info(format, args...) }

// ProcessorDebug logs a debug message in the processor category.
func ProcessorDebug(format string, args ...interface{}) {
	Get(CategoryProcessor).Debug(format, args...)
}

// Governance logs an info message in the governance category.
func Governance(format string, args ...interface{}) { Get(CategoryGovernance).Info(format, args...) }

// Server logs an info message in the server category.
func Server(format string, args ...interface{}) { Get(CategoryServer).Info(format, args...) }

// ServerDebug logs a debug message in the server category.
func ServerDebug(format string, args ...interface{}) { Get(CategoryServer).Debug(format, args...) }

// Hooks logs an info message in the hooks category.
func Hooks(format string, args ...interface{}) { Get(CategoryHooks).Info(format, args...) }

// HooksDebug logs a debug message in the hooks category.
func HooksDebug(format string, args ...interface{}) { Get(CategoryHooks).Debug(format, args...) }

// Tunnel logs an info message in the tunnel category.
func Tunnel(format string, args ...interface{}) { Get(CategoryTunnel).Info(format, args...) }

// Cloud logs an info message in the cloud category.
func Cloud(format string, args ...interface{}) { Get(CategoryCloud).Info(format, args...) }

// CloudDebug logs a debug message in the cloud category.
func CloudDebug(format string, args ...interface{}) { Get(CategoryCloud).Debug(format, args...) }

// Backup logs an info message in the backup category.
func Backup(format string, args ...interface{}) { Get(CategoryBackup).Info(format, args...) }

// Timer measures the duration of an operation and logs it on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation in the given category.
func StartTimer(category Category, op string) *Timer {
	return &Timer{category: category, op: op, start: time.Now()}
}

// Stop logs the elapsed time at debug level and returns the duration.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}
