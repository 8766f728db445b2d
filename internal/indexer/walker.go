package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"oakci/internal/config"
	"oakci/internal/logging"
	"oakci/internal/vector"
)

// Files larger than this are skipped; generated bundles and data files
// dominate above it and drown out real code in search results.
const maxFileBytes = 1 << 20

// Stats summarizes one index build.
type Stats struct {
	FilesProcessed int           `json:"files_processed"`
	FilesSkipped   int           `json:"files_skipped"`
	ChunksIndexed  int           `json:"chunks_indexed"`
	ASTSuccess     int           `json:"ast_success"`
	ASTFallback    int           `json:"ast_fallback"`
	LineBased      int           `json:"line_based"`
	Duration       time.Duration `json:"-"`
	DurationMS     int64         `json:"duration_ms"`
}

// ProgressFunc receives build progress. total is the file count discovered up
// front; done increments per file.
type ProgressFunc func(done, total int, file string)

// Indexer builds and maintains the code collection of the vector store.
type Indexer struct {
	cfg     config.Accessor
	vstore  *vector.Store
	chunker *Chunker

	mu       sync.Mutex
	building bool
}

// New creates an indexer over the given vector store.
func New(cfg config.Accessor, vstore *vector.Store) *Indexer {
	c := cfg()
	return &Indexer{
		cfg:     cfg,
		vstore:  vstore,
		chunker: NewChunker(c.Indexer.TargetChunkLines, c.Indexer.ChunkOverlapLines),
	}
}

// Close releases the chunker.
func (ix *Indexer) Close() { ix.chunker.Close() }

// Building reports whether a full build is in progress.
func (ix *Indexer) Building() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.building
}

// ErrBuildInProgress is returned when a build is requested while one runs.
var ErrBuildInProgress = fmt.Errorf("index build already in progress")

// Build walks the project tree and (re)indexes every eligible file. Only one
// build runs at a time.
func (ix *Indexer) Build(ctx context.Context, progress ProgressFunc) (Stats, error) {
	ix.mu.Lock()
	if ix.building {
		ix.mu.Unlock()
		return Stats{}, ErrBuildInProgress
	}
	ix.building = true
	ix.mu.Unlock()
	defer func() {
		ix.mu.Lock()
		ix.building = false
		ix.mu.Unlock()
	}()

	timer := logging.StartTimer(logging.CategoryIndexer, "indexer.Build")
	defer timer.Stop()
	start := time.Now()
	c := ix.cfg()

	files, err := ix.eligibleFiles(c)
	if err != nil {
		return Stats{}, err
	}
	logging.Indexer("Index build starting: %d files", len(files))

	astBefore, fallbackBefore, lineBefore := ix.chunker.CounterSnapshot()
	var stats Stats
	for i, rel := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n, err := ix.indexOne(ctx, c, rel)
		if err != nil {
			logging.Get(logging.CategoryIndexer).Warn("failed to index %s: %v", rel, err)
			stats.FilesSkipped++
		} else {
			stats.FilesProcessed++
			stats.ChunksIndexed += n
		}
		if progress != nil {
			progress(i+1, len(files), rel)
		}
	}

	astAfter, fallbackAfter, lineAfter := ix.chunker.CounterSnapshot()
	stats.ASTSuccess = astAfter - astBefore
	stats.ASTFallback = fallbackAfter - fallbackBefore
	stats.LineBased = lineAfter - lineBefore
	stats.Duration = time.Since(start)
	stats.DurationMS = stats.Duration.Milliseconds()
	logging.Indexer("Index build done: %d files, %d chunks in %v (ast=%d fallback=%d line=%d)",
		stats.FilesProcessed, stats.ChunksIndexed, stats.Duration,
		stats.ASTSuccess, stats.ASTFallback, stats.LineBased)
	return stats, nil
}

// ReindexFile re-chunks one file, replacing its previous chunks. A vanished
// file is treated as a removal.
func (ix *Indexer) ReindexFile(ctx context.Context, relPath string) (int, error) {
	c := ix.cfg()
	abs := filepath.Join(c.ProjectRoot, relPath)
	if _, err := os.Stat(abs); os.IsNotExist(err) {
		return 0, ix.RemoveFile(relPath)
	}
	return ix.indexOne(ctx, c, relPath)
}

// RemoveFile drops all chunks for a deleted file.
func (ix *Indexer) RemoveFile(relPath string) error {
	n, err := ix.vstore.DeleteCodeChunksByFile(relPath)
	if err != nil {
		return err
	}
	if n > 0 {
		logging.IndexerDebug("Removed %d chunks for deleted file %s", n, relPath)
	}
	return nil
}

func (ix *Indexer) indexOne(ctx context.Context, c *config.CIConfig, relPath string) (int, error) {
	abs := filepath.Join(c.ProjectRoot, relPath)
	content, err := os.ReadFile(abs)
	if err != nil {
		return 0, err
	}
	if len(content) > maxFileBytes {
		return 0, fmt.Errorf("file exceeds %d bytes", maxFileBytes)
	}
	if isBinary(content) {
		return 0, fmt.Errorf("binary content")
	}

	chunks := ix.chunker.ChunkFile(relPath, content)
	if _, err := ix.vstore.DeleteCodeChunksByFile(relPath); err != nil {
		return 0, err
	}
	return ix.vstore.AddCodeChunks(ctx, chunks, c.Indexer.UpsertBatchSize)
}

// Eligible reports whether a project-relative path would be indexed under
// the current configuration.
func (ix *Indexer) Eligible(relPath string) bool {
	c := ix.cfg()
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		for _, ignore := range c.Indexer.IgnoreDirs {
			if part == ignore {
				return false
			}
		}
	}
	ext := strings.ToLower(filepath.Ext(relPath))
	for _, e := range c.Indexer.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (ix *Indexer) eligibleFiles(c *config.CIConfig) ([]string, error) {
	var files []string
	err := filepath.WalkDir(c.ProjectRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(c.ProjectRoot, path)
		if relErr != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			for _, ignore := range c.Indexer.IgnoreDirs {
				if name == ignore {
					return filepath.SkipDir
				}
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		for _, e := range c.Indexer.Extensions {
			if ext == e {
				files = append(files, rel)
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk project: %w", err)
	}
	return files, nil
}

// isBinary uses a NUL-byte probe over the first KB.
func isBinary(content []byte) bool {
	probe := content
	if len(probe) > 1024 {
		probe = probe[:1024]
	}
	for _, b := range probe {
		if b == 0 {
			return true
		}
	}
	return false
}
