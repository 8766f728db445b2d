// Package cloud manages the optional relay that exposes the daemon through a
// deployed worker: scaffold checks, stepwise deployment, and the WebSocket
// link to the relay.
package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"oakci/internal/config"
	"oakci/internal/logging"
)

// StepError reports which deployment phase failed and how to recover.
type StepError struct {
	Phase      string `json:"phase"`
	Detail     string `json:"detail"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s", e.Phase, e.Detail)
}

// Deployment phases, in order.
const (
	PhaseScaffold = "scaffold"
	PhaseInstall  = "install"
	PhaseAuth     = "auth"
	PhaseDeploy   = "deploy"
	PhaseConnect  = "connect"
)

// Settings is the persisted relay configuration.
type Settings struct {
	RelayURL   string `json:"relay_url,omitempty"`
	AuthToken  string `json:"auth_token,omitempty"`
	WorkerName string `json:"worker_name,omitempty"`
	DeployedAt string `json:"deployed_at,omitempty"`
	LastPhase  string `json:"last_phase,omitempty"`
}

// Status is the relay state reported to the API.
type Status struct {
	Configured bool   `json:"configured"`
	Connected  bool   `json:"connected"`
	RelayURL   string `json:"relay_url,omitempty"`
	LastPhase  string `json:"last_phase,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// Client manages the relay lifecycle for one project.
type Client struct {
	cfg config.Accessor

	mu       sync.Mutex
	settings Settings
	conn     *websocket.Conn
	cancel   context.CancelFunc
	lastErr  string
}

// NewClient loads persisted settings if present.
func NewClient(cfg config.Accessor) *Client {
	c := &Client{cfg: cfg}
	if data, err := os.ReadFile(c.settingsPath()); err == nil {
		_ = json.Unmarshal(data, &c.settings)
	}
	return c
}

func (c *Client) settingsPath() string {
	return filepath.Join(config.CloudRelayDir(c.cfg().ProjectRoot), "settings.json")
}

func (c *Client) saveSettings() error {
	dir := config.CloudRelayDir(c.cfg().ProjectRoot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c.settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.settingsPath(), data, 0o600)
}

// Settings returns a copy of the persisted settings with the token redacted.
func (c *Client) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.settings
	if s.AuthToken != "" {
		s.AuthToken = "***"
	}
	return s
}

// UpdateSettings merges and persists relay settings.
func (c *Client) UpdateSettings(relayURL, authToken, workerName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if relayURL != "" {
		c.settings.RelayURL = relayURL
	}
	if authToken != "" {
		c.settings.AuthToken = authToken
	}
	if workerName != "" {
		c.settings.WorkerName = workerName
	}
	return c.saveSettings()
}

// Preflight verifies the deployment prerequisites without changing anything:
// the worker scaffold exists, its dependencies are installed, and the
// deployment CLI is authenticated.
func (c *Client) Preflight(ctx context.Context) *StepError {
	dir := config.CloudRelayDir(c.cfg().ProjectRoot)

	if _, err := os.Stat(filepath.Join(dir, "wrangler.toml")); err != nil {
		return &StepError{
			Phase:      PhaseScaffold,
			Detail:     "worker scaffold not found",
			Suggestion: "run the relay setup to generate the worker template",
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "node_modules")); err != nil {
		return &StepError{
			Phase:      PhaseInstall,
			Detail:     "worker dependencies not installed",
			Suggestion: "run `npm install` in " + dir,
		}
	}
	if err := c.checkAuth(ctx, dir); err != nil {
		return err
	}
	return nil
}

func (c *Client) checkAuth(ctx context.Context, dir string) *StepError {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "npx", "wrangler", "whoami")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &StepError{
			Phase:      PhaseAuth,
			Detail:     firstOutputLine(out, err),
			Suggestion: "run `npx wrangler login`",
		}
	}
	return nil
}

// Deploy runs the stepwise deployment: preflight, then the deploy command,
// then persists the resulting URL. Each failure is returned as the step it
// happened in.
func (c *Client) Deploy(ctx context.Context) (Settings, *StepError) {
	if stepErr := c.Preflight(ctx); stepErr != nil {
		c.recordPhase(stepErr.Phase, stepErr.Detail)
		return c.Settings(), stepErr
	}

	dir := config.CloudRelayDir(c.cfg().ProjectRoot)
	deployCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	cmd := exec.CommandContext(deployCtx, "npx", "wrangler", "deploy")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		stepErr := &StepError{
			Phase:      PhaseDeploy,
			Detail:     firstOutputLine(out, err),
			Suggestion: "inspect the wrangler output in " + dir,
		}
		c.recordPhase(PhaseDeploy, stepErr.Detail)
		return c.Settings(), stepErr
	}

	c.mu.Lock()
	if url := extractWorkerURL(string(out)); url != "" {
		c.settings.RelayURL = url
	}
	c.settings.DeployedAt = time.Now().UTC().Format(time.RFC3339)
	c.settings.LastPhase = PhaseDeploy
	c.lastErr = ""
	_ = c.saveSettings()
	c.mu.Unlock()

	logging.Cloud("Relay deployed: %s", c.settings.RelayURL)
	return c.Settings(), nil
}

func (c *Client) recordPhase(phase, detail string) {
	c.mu.Lock()
	c.settings.LastPhase = phase
	c.lastErr = detail
	_ = c.saveSettings()
	c.mu.Unlock()
}

// Connect opens the WebSocket to the relay and starts the read pump. The
// relay pushes requests which the daemon answers over its local API; here we
// only maintain the link.
func (c *Client) Connect(ctx context.Context) *StepError {
	c.mu.Lock()
	relayURL := c.settings.RelayURL
	token := c.settings.AuthToken
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if relayURL == "" {
		return &StepError{
			Phase:      PhaseConnect,
			Detail:     "no relay URL configured",
			Suggestion: "deploy the relay first",
		}
	}

	wsURL := strings.Replace(strings.Replace(relayURL, "https://", "wss://", 1), "http://", "ws://", 1)
	wsURL = strings.TrimRight(wsURL, "/") + "/ws"

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	header := map[string][]string{}
	if token != "" {
		header["Authorization"] = []string{"Bearer " + token}
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		stepErr := &StepError{
			Phase:      PhaseConnect,
			Detail:     err.Error(),
			Suggestion: "check the relay URL and auth token",
		}
		c.recordPhase(PhaseConnect, stepErr.Detail)
		return stepErr
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.settings.LastPhase = PhaseConnect
	c.lastErr = ""
	c.mu.Unlock()

	logging.Cloud("Relay connected: %s", wsURL)
	go c.readPump(pumpCtx, conn)
	return nil
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) {
	defer c.Disconnect()
	for {
		if ctx.Err() != nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logging.Get(logging.CategoryCloud).Warn("relay read failed: %v", err)
				c.mu.Lock()
				c.lastErr = err.Error()
				c.mu.Unlock()
			}
			return
		}
		logging.CloudDebug("relay message: %d bytes", len(message))
	}
}

// Disconnect closes the relay link.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		logging.Cloud("Relay disconnected")
	}
}

// Status returns a snapshot of the relay state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Configured: c.settings.RelayURL != "",
		Connected:  c.conn != nil,
		RelayURL:   c.settings.RelayURL,
		LastPhase:  c.settings.LastPhase,
		LastError:  c.lastErr,
	}
}

func firstOutputLine(out []byte, err error) string {
	text := strings.TrimSpace(string(out))
	if text == "" {
		return err.Error()
	}
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	return text
}

// extractWorkerURL finds the deployed worker URL in wrangler output.
func extractWorkerURL(out string) string {
	for _, field := range strings.Fields(out) {
		if strings.HasPrefix(field, "https://") && strings.Contains(field, ".workers.dev") {
			return strings.TrimRight(field, ".,")
		}
	}
	return ""
}
