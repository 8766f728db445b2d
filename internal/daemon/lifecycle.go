package daemon

import (
	"context"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"oakci/internal/config"
	"oakci/internal/governance"
	"oakci/internal/indexer"
	"oakci/internal/logging"
	"oakci/internal/store"
	"oakci/internal/version"
)

// Start launches the background loops and blocks until ctx is cancelled.
// The HTTP server runs separately; Start owns everything else.
func (a *App) Start(ctx context.Context) error {
	c := a.Config()
	logging.Boot("Daemon starting for %s (version %s)", a.ProjectRoot, version.Version)

	if err := a.writePIDFile(); err != nil {
		logging.Get(logging.CategoryBoot).Warn("failed to write pid file: %v", err)
	}
	if err := a.WriteVersionStamp(); err != nil {
		logging.Get(logging.CategoryBoot).Warn("failed to write version stamp: %v", err)
	}

	// Probe the embedding primary. A cold local model server is normal;
	// the chain falls back until it comes up.
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if !a.Chain.IsAvailable(probeCtx) {
		logging.Get(logging.CategoryBoot).Warn("no embedding provider available yet, continuing")
	}
	cancel()

	// Apply any resolution events left over from a previous restore.
	if replayed, err := a.Processor.ReplayResolutionEvents(); err != nil {
		logging.Get(logging.CategoryBoot).Warn("startup resolution replay failed: %v", err)
	} else if replayed > 0 {
		logging.Boot("Replayed %d resolution events on startup", replayed)
	}

	a.startWatcher(ctx, c)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Processor.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.autoBackupLoop(ctx)
		return nil
	})
	g.Go(func() error {
		a.staleSweepLoop(ctx)
		return nil
	})

	err := g.Wait()
	a.Shutdown()
	return err
}

// startWatcher begins filesystem watching. Watcher failure never blocks
// startup; incremental updates then rely on explicit rebuilds.
func (a *App) startWatcher(ctx context.Context, c *config.CIConfig) {
	if !c.Indexer.WatchEnabled {
		logging.Watcher("File watcher disabled by config")
		return
	}
	w, err := indexer.NewWatcher(a.Config, a.Indexer)
	if err != nil {
		logging.Get(logging.CategoryWatcher).Warn("file watcher unavailable: %v", err)
		return
	}
	if err := w.Start(ctx); err != nil {
		logging.Get(logging.CategoryWatcher).Warn("file watcher failed to start: %v", err)
		w.Close()
		return
	}
	a.mu.Lock()
	a.Watcher = w
	a.mu.Unlock()
}

// autoBackupLoop writes the history backup on the configured interval. When
// disabled it keeps ticking at 60s so enabling it in the config takes effect
// without a restart.
func (a *App) autoBackupLoop(ctx context.Context) {
	for {
		c := a.Config()
		interval := time.Duration(c.Backup.IntervalMinutes) * time.Minute
		if !c.Backup.Enabled || interval <= 0 {
			interval = time.Minute
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if !a.Config().Backup.Enabled {
			continue
		}
		if _, err := a.CreateBackup(); err != nil {
			logging.Get(logging.CategoryBackup).Warn("auto-backup failed: %v", err)
			continue
		}
		a.setLastAutoBackup(time.Now())

		if pruned, err := governance.PruneExpired(a.Config, a.Store); err != nil {
			logging.Get(logging.CategoryGovernance).Warn("audit prune failed: %v", err)
		} else if pruned > 0 {
			logging.Governance("Pruned %d expired audit events", pruned)
		}
	}
}

// staleSweepLoop completes sessions that stopped sending hooks. The
// processor's finalization pass then summarizes them like any other
// completed session.
func (a *App) staleSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		minutes := a.Config().Processor.StaleSessionMinutes
		if minutes <= 0 {
			minutes = 30
		}
		cutoff := time.Now().Add(-time.Duration(minutes) * time.Minute).Unix()
		swept, err := a.Store.SweepStaleSessions(cutoff)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("stale session sweep failed: %v", err)
			continue
		}
		for _, s := range swept {
			logging.Store("Swept stale session %s (agent %s)", s.ID, s.Agent)
		}
	}
}

// Shutdown stops subprocesses and closes the stores. Safe to call once after
// the background loops have exited.
func (a *App) Shutdown() {
	logging.Boot("Daemon shutting down")

	a.mu.Lock()
	w := a.Watcher
	a.Watcher = nil
	a.mu.Unlock()
	if w != nil {
		if err := w.Close(); err != nil {
			logging.Get(logging.CategoryWatcher).Warn("watcher close failed: %v", err)
		}
	}

	if err := a.Tunnel.Stop(); err != nil {
		logging.Get(logging.CategoryTunnel).Warn("tunnel stop failed: %v", err)
	}
	a.Cloud.Disconnect()

	if _, err := a.Store.FlushActivityBuffer(); err != nil {
		logging.Get(logging.CategoryStore).Warn("final activity flush failed: %v", err)
	}

	a.Indexer.Close()
	if err := a.Vector.Close(); err != nil {
		logging.Get(logging.CategoryVector).Warn("vector store close failed: %v", err)
	}
	if err := a.Store.Close(); err != nil {
		logging.Get(logging.CategoryStore).Warn("activity store close failed: %v", err)
	}
	os.Remove(config.PIDPath(a.ProjectRoot))
	logging.Sync()
}

func (a *App) writePIDFile() error {
	return os.WriteFile(config.PIDPath(a.ProjectRoot), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// StatusSnapshot assembles the nested status payload served by the API.
func (a *App) StatusSnapshot() map[string]interface{} {
	c := a.Config()
	running, installed, updateAvailable := a.VersionInfo()

	memoryStats, err := a.Store.MemoryStats()
	if err != nil {
		memoryStats = map[string]interface{}{"error": err.Error()}
	}
	vectorCounts, err := a.Vector.Counts()
	if err != nil {
		vectorCounts = map[string]int64{}
	}

	a.mu.Lock()
	watcherRunning := a.Watcher != nil
	a.mu.Unlock()

	return map[string]interface{}{
		"daemon": map[string]interface{}{
			"project_root":   a.ProjectRoot,
			"uptime_seconds": int64(a.Uptime().Seconds()),
			"pid":            os.Getpid(),
			"port":           c.Server.Port,
		},
		"index":  a.Index.Snapshot(),
		"memory": memoryStats,
		"vector": map[string]interface{}{
			"counts":     vectorCounts,
			"dimensions": a.Vector.Dimensions(),
		},
		"embedding": map[string]interface{}{
			"primary":    a.Chain.Name(),
			"dimensions": a.Chain.Dimensions(),
			"providers":  a.Chain.Stats(),
		},
		"watcher": map[string]interface{}{
			"enabled": c.Indexer.WatchEnabled,
			"running": watcherRunning,
		},
		"processor": a.Processor.Stats(),
		"storage": map[string]interface{}{
			"activities_db_bytes": fileSize(config.DBPath(a.ProjectRoot)),
			"vectors_db_bytes":    fileSize(config.VectorDBPath(a.ProjectRoot)),
		},
		"backup": a.BackupStatus(),
		"version": map[string]interface{}{
			"running":          running,
			"installed":        installed,
			"update_available": updateAvailable,
			"cli_command":      config.CLICommand(),
		},
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// SweepNow is used by tests and devtools to force one stale sweep.
func (a *App) SweepNow() ([]store.Session, error) {
	minutes := a.Config().Processor.StaleSessionMinutes
	if minutes <= 0 {
		minutes = 30
	}
	cutoff := time.Now().Add(-time.Duration(minutes) * time.Minute).Unix()
	return a.Store.SweepStaleSessions(cutoff)
}
