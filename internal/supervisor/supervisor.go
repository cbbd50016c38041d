// Package supervisor owns the backend subprocess for the gateway's lifetime:
// it spawns the process with its derived port, forwards its output to the
// gateway log, reports its exit, and gates serving on a readiness probe.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"time"

	"reelscript-gateway/internal/platform/logger"
)

// PortEnvVar is the environment variable the backend reads its port from.
const PortEnvVar = "REELSCRIPT_PORT"

const probeTimeout = 2 * time.Second

// ErrNotReady is returned by AwaitReady when the backend never passes its
// health probe within the attempt budget.
var ErrNotReady = errors.New("backend did not become ready")

// Config describes how to launch and probe the backend subprocess.
type Config struct {
	// Command is the backend argv, e.g. {"python3", "backend/main.py"}.
	Command []string
	// Port is the loopback port the backend is told to listen on.
	Port int
	// Interval between health probes (default 1s).
	Interval time.Duration
	// MaxAttempts bounds the number of health probes (default 30).
	MaxAttempts int
	Log         *slog.Logger
}

// Supervisor manages a single backend subprocess. It is not restarted on
// exit: backend death is fatal to the whole gateway.
type Supervisor struct {
	cfg       Config
	healthURL string
	cmd       *exec.Cmd
	exited    chan error
	client    *http.Client
}

// New returns an unstarted Supervisor for the given config.
func New(cfg Config) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 30
	}
	return &Supervisor{
		cfg:       cfg,
		healthURL: fmt.Sprintf("http://127.0.0.1:%d/api/health", cfg.Port),
		exited:    make(chan error, 1),
		client:    &http.Client{Timeout: probeTimeout},
	}
}

// Start spawns the backend with PortEnvVar appended to the inherited
// environment and begins forwarding its output. It returns once the process
// is running; readiness is a separate step (AwaitReady).
func (s *Supervisor) Start() error {
	if len(s.cfg.Command) == 0 {
		return errors.New("supervisor: empty backend command")
	}
	cmd := exec.Command(s.cfg.Command[0], s.cfg.Command[1:]...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", PortEnvVar, s.cfg.Port))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("supervisor: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("supervisor: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: start backend: %w", err)
	}
	s.cmd = cmd

	blog := logger.Component(s.cfg.Log, "backend")
	go forwardLines(stdout, blog, "stdout")
	go forwardLines(stderr, blog, "stderr")

	go func() {
		s.exited <- cmd.Wait()
	}()

	s.cfg.Log.Info("backend launched",
		slog.Int("pid", cmd.Process.Pid),
		slog.Int("port", s.cfg.Port),
	)
	return nil
}

// AwaitReady polls the backend health endpoint at the configured interval
// until it answers 200, the attempt budget is exhausted, the backend exits,
// or ctx is done. Individual probe failures are expected while the backend
// boots and are not logged.
func (s *Supervisor) AwaitReady(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		if s.probe(ctx) {
			s.cfg.Log.Info("backend ready", slog.Int("attempts", attempt))
			return nil
		}
		if attempt >= s.cfg.MaxAttempts {
			return fmt.Errorf("%w after %d attempts", ErrNotReady, attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-s.exited:
			return fmt.Errorf("backend exited while starting: %w", errors.Join(err, ErrNotReady))
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Exited delivers the backend's exit error (possibly nil for exit 0) exactly
// once, whenever the subprocess terminates.
func (s *Supervisor) Exited() <-chan error {
	return s.exited
}

// Shutdown asks the backend to terminate with SIGTERM. Safe to call whether
// or not the process is still running.
func (s *Supervisor) Shutdown() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.cfg.Log.Warn("backend signal failed", slog.String("error", err.Error()))
	}
}

// forwardLines copies subprocess output line by line into the gateway log so
// backend output shows up interleaved with gateway events.
func forwardLines(r io.Reader, log *slog.Logger, stream string) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		log.Info(sc.Text(), slog.String("stream", stream))
	}
}
