// Package daemon assembles the long-running service: stores, embedding chain,
// indexer, watcher, processor, governance, tunnel and relay supervision, and
// the background loops that keep them current. The HTTP layer holds an *App
// and never touches package-global state.
package daemon

import (
	"fmt"
	"os"
	"sync"
	"time"

	"oakci/internal/cloud"
	"oakci/internal/config"
	"oakci/internal/embedding"
	"oakci/internal/governance"
	"oakci/internal/indexer"
	"oakci/internal/llm"
	"oakci/internal/logging"
	"oakci/internal/processor"
	"oakci/internal/store"
	"oakci/internal/tunnel"
	"oakci/internal/vector"
	"oakci/internal/version"
)

// App is the daemon's component container, constructed once in main and
// passed by handle to every handler and background loop.
type App struct {
	ProjectRoot string
	Config      config.Accessor

	Store      *store.ActivityStore
	Vector     *vector.Store
	Chain      *embedding.Chain
	Indexer    *indexer.Indexer
	Watcher    *indexer.Watcher // nil when disabled or unavailable
	Processor  *processor.Processor
	LLM        *llm.Manager
	Governance *governance.Engine
	Tunnel     *tunnel.Supervisor
	Cloud      *cloud.Client

	Index   *IndexState
	Origins *OriginSet
	Dedupe  *DedupeCache

	startedAt time.Time

	mu               sync.Mutex
	lastAutoBackup   time.Time
	installedVersion string
	updateAvailable  bool
}

// New builds the full component graph for a project. The embedding primary
// being unreachable is not fatal; the chain degrades to its fallbacks.
func New(projectRoot string) (*App, error) {
	if err := os.MkdirAll(config.CIDir(projectRoot), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ci directory: %w", err)
	}
	if err := logging.Initialize(projectRoot); err != nil {
		return nil, err
	}

	cfg := config.NewFileAccessor(projectRoot)
	c := cfg()

	activityStore, err := store.New(config.DBPath(projectRoot))
	if err != nil {
		return nil, fmt.Errorf("failed to open activity store: %w", err)
	}

	chain, err := embedding.NewChain(c.Embedding)
	if err != nil {
		activityStore.Close()
		return nil, fmt.Errorf("failed to build embedding chain: %w", err)
	}

	vectorStore, err := vector.Open(config.VectorDBPath(projectRoot), chain)
	if err != nil {
		activityStore.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	ix := indexer.New(cfg, vectorStore)
	llmManager := llm.NewManager(cfg)
	proc := processor.New(cfg, activityStore, vectorStore, llmManager)

	app := &App{
		ProjectRoot: projectRoot,
		Config:      cfg,
		Store:       activityStore,
		Vector:      vectorStore,
		Chain:       chain,
		Indexer:     ix,
		Processor:   proc,
		LLM:         llmManager,
		Governance:  governance.NewEngine(cfg, activityStore),
		Tunnel:      tunnel.NewSupervisor(),
		Cloud:       cloud.NewClient(cfg),
		Index:       newIndexState(),
		Origins:     NewOriginSet(),
		Dedupe:      NewDedupeCache(512),
		startedAt:   time.Now(),
	}
	app.loadVersionStamp()
	return app, nil
}

// BaseURL returns the local API address, honoring the env override used by
// the CLI when talking to a remote daemon.
func (a *App) BaseURL() string {
	if url := os.Getenv(config.EnvBaseURL); url != "" {
		return url
	}
	c := a.Config()
	return fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
}

// Uptime reports how long the daemon has been running.
func (a *App) Uptime() time.Duration { return time.Since(a.startedAt) }

// loadVersionStamp reads the installed-CLI stamp and decides whether an
// update advisory should be shown.
func (a *App) loadVersionStamp() {
	installed := ""
	if data, err := os.ReadFile(config.StampPath(a.ProjectRoot)); err == nil {
		installed = string(data)
	}
	a.mu.Lock()
	a.installedVersion = version.BaseRelease(installed)
	a.updateAvailable = version.UpdateAvailable(version.Version, installed)
	a.mu.Unlock()
}

// WriteVersionStamp records the running version as the installed one.
func (a *App) WriteVersionStamp() error {
	if err := os.WriteFile(config.StampPath(a.ProjectRoot), []byte(version.Version+"\n"), 0o644); err != nil {
		return err
	}
	a.loadVersionStamp()
	return nil
}

// VersionInfo returns the running/installed versions and the advisory flag.
func (a *App) VersionInfo() (running, installed string, updateAvailable bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return version.Version, a.installedVersion, a.updateAvailable
}

// LastAutoBackup returns when the periodic backup last succeeded.
func (a *App) LastAutoBackup() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastAutoBackup
}

func (a *App) setLastAutoBackup(t time.Time) {
	a.mu.Lock()
	a.lastAutoBackup = t
	a.mu.Unlock()
}
