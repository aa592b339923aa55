package scanner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"ticket-verifier/internal/status"
)

// LineSource reads payloads from a line-oriented reader such as a serial or
// keyboard-wedge barcode scanner: every non-empty line is one decoded code.
type LineSource struct {
	open func() (io.ReadCloser, error)

	mu     sync.Mutex
	cancel context.CancelFunc
	closer *onceCloser
	done   chan struct{}
}

// DeviceOpener opens the scanner device at path.
func DeviceOpener(path string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return os.Open(path)
	}
}

func NewLineSource(open func() (io.ReadCloser, error)) *LineSource {
	done := make(chan struct{})
	close(done)
	return &LineSource{open: open, done: done}
}

func (s *LineSource) Start(ctx context.Context, onDecode func(payload string)) error {
	s.mu.Lock()
	s.stopLocked()
	prev := s.done
	s.mu.Unlock()

	select {
	case <-prev:
	case <-ctx.Done():
		return ctx.Err()
	}

	rc, err := s.open()
	if err != nil {
		return fmt.Errorf("%w: %v", status.ErrCameraUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		rc.Close()
		return errors.New("scanner: started concurrently")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	closer := &onceCloser{rc: rc}
	done := make(chan struct{})
	s.cancel = cancel
	s.closer = closer
	s.done = done

	go s.loop(runCtx, closer, onDecode, done)
	return nil
}

func (s *LineSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

// stopLocked cancels the loop and closes the reader to unblock a pending read.
func (s *LineSource) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.closer.Close()
	s.cancel = nil
	s.closer = nil
}

func (s *LineSource) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *LineSource) loop(ctx context.Context, rc *onceCloser, onDecode func(string), done chan struct{}) {
	defer close(done)
	defer rc.Close()

	sc := bufio.NewScanner(rc.rc)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		onDecode(line)
	}

	if err := sc.Err(); err != nil && ctx.Err() == nil {
		slog.Warn("scanner: read device", "error", err)
	}
}

type onceCloser struct {
	rc   io.ReadCloser
	once sync.Once
}

func (c *onceCloser) Close() {
	c.once.Do(func() {
		c.rc.Close()
	})
}
