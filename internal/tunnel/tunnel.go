// Package tunnel supervises an external tunnel process (cloudflared, ngrok)
// that exposes the local API, scraping the public URL from its output.
package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"oakci/internal/logging"
)

var urlPattern = regexp.MustCompile(`https://[a-zA-Z0-9.-]+\.(?:trycloudflare\.com|ngrok-free\.app|ngrok\.io|ngrok\.app)\S*`)

// Status is the supervisor state reported to the API.
type Status struct {
	Running   bool   `json:"running"`
	URL       string `json:"url,omitempty"`
	Command   string `json:"command,omitempty"`
	StartedAt string `json:"started_at,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Supervisor owns at most one tunnel subprocess.
type Supervisor struct {
	mu       sync.Mutex
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	status   Status
	waitDone chan struct{}
}

// NewSupervisor creates an idle supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Start launches the tunnel command, e.g.
// ["cloudflared", "tunnel", "--url", "http://127.0.0.1:37465"].
// The subprocess gets its own process group so stopping it kills helpers too.
func (s *Supervisor) Start(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("tunnel command is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return fmt.Errorf("tunnel already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return err
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start tunnel: %w", err)
	}

	s.cmd = cmd
	s.cancel = cancel
	s.waitDone = make(chan struct{})
	s.status = Status{
		Running:   true,
		Command:   strings.Join(args, " "),
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	logging.Tunnel("Tunnel starting: %s (pid %d)", s.status.Command, cmd.Process.Pid)

	go s.scrape(stdout)
	go s.scrape(stderr)
	go s.wait(cmd)
	return nil
}

// scrape watches process output for the public URL.
func (s *Supervisor) scrape(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if url := urlPattern.FindString(line); url != "" {
			s.mu.Lock()
			if s.status.URL == "" {
				s.status.URL = url
				logging.Tunnel("Tunnel URL: %s", url)
			}
			s.mu.Unlock()
		}
	}
}

func (s *Supervisor) wait(cmd *exec.Cmd) {
	err := cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == cmd {
		s.cmd = nil
		s.status.Running = false
		s.status.URL = ""
		if err != nil {
			s.status.LastError = err.Error()
		}
		close(s.waitDone)
	}
	if err != nil {
		logging.Tunnel("Tunnel exited: %v", err)
	} else {
		logging.Tunnel("Tunnel exited cleanly")
	}
}

// Stop terminates the tunnel, escalating from SIGTERM to SIGKILL after a
// grace period.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cmd := s.cmd
	done := s.waitDone
	s.mu.Unlock()
	if cmd == nil {
		return nil
	}

	// Negative pid signals the whole process group.
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logging.Tunnel("Tunnel did not stop on SIGTERM, killing")
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	return nil
}

// Status returns a snapshot of the supervisor state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
