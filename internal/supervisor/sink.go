package supervisor

import (
	"bufio"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/lensfield/photoshell/internal/infrastructure/logging"
)

const defaultSinkLines = 2000

// Sink captures child process output into a bounded ring of recent
// lines, mirroring each line to the shell log. When the ring is full the
// oldest lines are dropped, so a chatty backend cannot grow memory.
type Sink struct {
	logger *logging.Logger

	mu    sync.RWMutex
	lines []string
	head  int
	count int

	wg sync.WaitGroup
}

// NewSink creates a sink retaining up to capacity lines.
func NewSink(capacity int, logger *logging.Logger) *Sink {
	if capacity <= 0 {
		capacity = defaultSinkLines
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sink{
		logger: logger,
		lines:  make([]string, capacity),
	}
}

// Attach consumes r line by line on a new goroutine until EOF. The
// stream name tags mirrored log entries.
func (s *Sink) Attach(stream string, r io.Reader) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			s.append(line)
			s.logger.Debug("backend output",
				zap.String("stream", stream),
				zap.String("line", line))
		}
	}()
}

// Wait blocks until all attached streams have drained.
func (s *Sink) Wait() {
	s.wg.Wait()
}

// Lines returns the retained lines, oldest first.
func (s *Sink) Lines() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, s.count)
	start := s.head - s.count
	if start < 0 {
		start += len(s.lines)
	}
	for i := 0; i < s.count; i++ {
		out = append(out, s.lines[(start+i)%len(s.lines)])
	}
	return out
}

func (s *Sink) append(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines[s.head] = line
	s.head = (s.head + 1) % len(s.lines)
	if s.count < len(s.lines) {
		s.count++
	}
}
