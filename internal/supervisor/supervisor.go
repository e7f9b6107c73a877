package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lensfield/photoshell/internal/infrastructure/logging"
	"github.com/lensfield/photoshell/internal/infrastructure/monitoring"
)

// ErrSpawn marks a backend process that could not start. It is the only
// supervisor failure that propagates as a hard error; everything else has
// a degraded mode.
var ErrSpawn = errors.New("backend spawn failed")

// Environment variables injected into the child process.
const (
	PortEnv  = "PORT"
	HostEnv  = "HOST"
	TokenEnv = "PHOTOSHELL_API_TOKEN"
)

// State models the backend process lifecycle.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Transition records one lifecycle state change. The supervisor emits
// each transition exactly once; the health monitor consumes them.
type Transition struct {
	From     State
	To       State
	ExitCode *int
	At       time.Time
}

// Options configures the supervised backend.
type Options struct {
	Command       string
	Args          []string
	PreferredPort int
	// FixedPort returns PreferredPort unchanged from FindFreePort, for
	// tooling that expects a constant port in development.
	FixedPort    bool
	ReadyTimeout time.Duration
	// Env holds extra KEY=VALUE pairs for the child.
	Env []string
}

// Handle represents the live supervised child process. At most one live
// handle exists at a time.
type Handle struct {
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at"`

	token string
	cmd   *exec.Cmd
	done  chan struct{}
}

// Done is closed when the child process exits.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Token returns the ephemeral auth token generated for this run. It is
// never persisted.
func (h *Handle) Token() string {
	return h.token
}

// Supervisor owns the backend child process lifecycle: port selection,
// spawn, readiness polling, exit handling, and restart-on-demand.
//
// A crash after a successful start is not retried automatically; the UI
// learns about it through the health channel and must request Restart.
type Supervisor struct {
	opts    Options
	prober  *Prober
	logger  *logging.Logger
	metrics *monitoring.Metrics
	sink    *Sink

	mu           sync.Mutex
	state        State
	handle       *Handle
	port         int
	lastExitCode *int
	starting     chan struct{} // closed when the in-flight start resolves
	startErr     error
	startReady   bool

	transitions chan Transition
}

// New creates a supervisor. metrics may be nil.
func New(opts Options, prober *Prober, sink *Sink, logger *logging.Logger, metrics *monitoring.Metrics) *Supervisor {
	if logger == nil {
		logger = logging.NewNop()
	}
	if sink == nil {
		sink = NewSink(defaultSinkLines, logger)
	}
	return &Supervisor{
		opts:        opts,
		prober:      prober,
		logger:      logger,
		metrics:     metrics,
		sink:        sink,
		state:       StateStopped,
		transitions: make(chan Transition, 16),
	}
}

// Transitions exposes lifecycle state changes to the health monitor.
func (s *Supervisor) Transitions() <-chan Transition {
	return s.transitions
}

// Sink returns the child output sink.
func (s *Supervisor) Sink() *Sink {
	return s.sink
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether the child process is currently alive.
func (s *Supervisor) Running() bool {
	return s.State() == StateRunning
}

// Port returns the port selected for the backend, 0 before first start.
func (s *Supervisor) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Handle returns the live handle, or nil when stopped.
func (s *Supervisor) Handle() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// LastExitCode returns the exit code of the most recent child, if any.
func (s *Supervisor) LastExitCode() *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastExitCode
}

// FindFreePort selects the port for the backend. In fixed mode the
// preferred port is returned unchanged; otherwise the OS assigns an
// ephemeral port so concurrent runs never collide.
func FindFreePort(preferred int, fixed bool) (int, error) {
	if fixed {
		return preferred, nil
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("bind ephemeral port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Ensure makes sure the backend is running, starting it if needed, and
// reports whether it answered a readiness probe. Re-entrant callers
// during an in-flight start await the same outcome; a second child is
// never spawned.
func (s *Supervisor) Ensure(ctx context.Context) (bool, error) {
	s.mu.Lock()
	switch s.state {
	case StateRunning:
		s.mu.Unlock()
		return true, nil

	case StateStarting:
		inflight := s.starting
		s.mu.Unlock()
		select {
		case <-inflight:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		s.mu.Lock()
		ready, err := s.startReady, s.startErr
		s.mu.Unlock()
		return ready, err

	default: // StateStopped
		inflight := make(chan struct{})
		s.starting = inflight
		s.setStateLocked(StateStarting, nil)
		s.mu.Unlock()

		ready, err := s.startAndWait(ctx)

		s.mu.Lock()
		s.startReady, s.startErr = ready, err
		close(inflight)
		s.mu.Unlock()
		return ready, err
	}
}

// startAndWait runs the port->spawn->readiness sequence for one start.
// The caller has already moved the state to Starting.
func (s *Supervisor) startAndWait(ctx context.Context) (bool, error) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()

	if port == 0 {
		p, err := FindFreePort(s.opts.PreferredPort, s.opts.FixedPort)
		if err != nil {
			s.failStart(err)
			return false, fmt.Errorf("%w: %v", ErrSpawn, err)
		}
		port = p
	}

	if err := s.start(port); err != nil {
		s.failStart(err)
		return false, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	ready := s.prober.WaitUntilReady(ctx, port, s.opts.ReadyTimeout)
	if !ready {
		s.logger.Warn("backend did not become ready within deadline",
			zap.Int("port", port),
			zap.Duration("timeout", s.opts.ReadyTimeout))
	}
	return ready, nil
}

// failStart returns the supervisor to Stopped after a spawn failure,
// clearing the in-progress flag so a later Ensure can try again.
func (s *Supervisor) failStart(err error) {
	s.logger.Error("backend spawn failed", zap.Error(err))
	s.mu.Lock()
	s.setStateLocked(StateStopped, nil)
	s.mu.Unlock()
}

// start spawns the child on the given port with a fresh auth token and
// registers the exit watcher. It transitions Starting -> Running.
func (s *Supervisor) start(port int) error {
	token := uuid.NewString()

	cmd := exec.Command(s.opts.Command, s.opts.Args...)
	cmd.Env = append(os.Environ(),
		PortEnv+"="+strconv.Itoa(port),
		HostEnv+"=127.0.0.1",
		TokenEnv+"="+token,
	)
	cmd.Env = append(cmd.Env, s.opts.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.opts.Command, err)
	}

	handle := &Handle{
		PID:       cmd.Process.Pid,
		Port:      port,
		StartedAt: time.Now(),
		token:     token,
		cmd:       cmd,
		done:      make(chan struct{}),
	}

	s.sink.Attach("stdout", stdout)
	s.sink.Attach("stderr", stderr)

	s.mu.Lock()
	s.handle = handle
	s.port = port
	s.setStateLocked(StateRunning, nil)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.BackendSpawns.Inc()
		s.metrics.SetBackendRunning(true)
	}
	s.logger.Info("backend started",
		zap.Int("pid", handle.PID),
		zap.Int("port", port))

	go s.watchExit(handle)
	return nil
}

// watchExit waits for the child to exit and transitions back to Stopped.
func (s *Supervisor) watchExit(handle *Handle) {
	err := handle.cmd.Wait()
	exitCode := handle.cmd.ProcessState.ExitCode()
	close(handle.done)

	s.mu.Lock()
	// A restart may already have replaced the handle.
	if s.handle == handle {
		s.handle = nil
		s.lastExitCode = &exitCode
		s.setStateLocked(StateStopped, &exitCode)
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetBackendRunning(false)
	}
	s.logger.Warn("backend exited",
		zap.Int("pid", handle.PID),
		zap.Int("exit_code", exitCode),
		zap.Error(err))
}

// Stop terminates the child process, if any, and waits briefly for it to
// exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle == nil {
		return
	}

	if err := handle.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		handle.cmd.Process.Kill() //nolint:errcheck // already exiting
	}

	select {
	case <-handle.done:
	case <-time.After(5 * time.Second):
		handle.cmd.Process.Kill() //nolint:errcheck // force after grace period
		<-handle.done
	}
}

// Restart kills any live process and starts a fresh one on the
// previously selected port. A failed readiness wait afterwards is
// logged, not fatal; the shell stays up in a degraded state.
func (s *Supervisor) Restart(ctx context.Context) (bool, error) {
	s.Stop()

	s.mu.Lock()
	if s.state == StateStarting {
		// Someone else is already starting; join them.
		inflight := s.starting
		s.mu.Unlock()
		select {
		case <-inflight:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		s.mu.Lock()
		ready, err := s.startReady, s.startErr
		s.mu.Unlock()
		return ready, err
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.BackendRestarts.Inc()
	}
	return s.Ensure(ctx)
}

// setStateLocked updates the state and emits a transition. Callers hold mu.
func (s *Supervisor) setStateLocked(to State, exitCode *int) {
	if s.state == to {
		return
	}
	from := s.state
	s.state = to

	t := Transition{From: from, To: to, ExitCode: exitCode, At: time.Now()}
	select {
	case s.transitions <- t:
	default:
		// Consumer is behind; dropping is safe, the monitor rereads state.
	}
}
