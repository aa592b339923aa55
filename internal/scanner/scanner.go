// Package scanner turns a camera or a barcode reader into a stream of decoded
// payload strings.
//
// A Source holds at most one device at a time. Stop never blocks on the
// decode loop, so it may be called from inside the onDecode callback; the
// device is released by the loop itself on every exit path and Done reports
// when that has happened. A payload decoded while Stop is in progress may
// still be delivered, so consumers latch.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"ticket-verifier/internal/status"
)

// Source produces decoded payloads until stopped.
type Source interface {
	// Start acquires the device and begins delivering payloads to onDecode.
	// A device that cannot be acquired yields an error wrapping
	// status.ErrCameraUnavailable.
	Start(ctx context.Context, onDecode func(payload string)) error

	// Stop halts decoding. Safe to call when not started, and more than once.
	Stop() error

	// Done is closed once the device of the latest run has been released.
	Done() <-chan struct{}
}

// Factory builds a fresh Source for one session.
type Factory func() Source

// Camera opens a frame-producing device.
type Camera interface {
	Open(ctx context.Context) (Device, error)
}

// Device is an opened camera.
type Device interface {
	Frame(ctx context.Context) (image.Image, error)
	Close() error
}

// Decoder extracts the text of a barcode from a frame.
type Decoder interface {
	Decode(img image.Image) (string, error)
}

type Config struct {
	// ScanRate is the number of frames decoded per second.
	ScanRate int
}

// Adapter is a camera-backed Source.
type Adapter struct {
	camera  Camera
	decoder Decoder
	period  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewAdapter(camera Camera, decoder Decoder, cfg Config) *Adapter {
	rate := cfg.ScanRate
	if rate <= 0 {
		rate = 10
	}

	done := make(chan struct{})
	close(done)

	return &Adapter{
		camera:  camera,
		decoder: decoder,
		period:  time.Second / time.Duration(rate),
		done:    done,
	}
}

func (a *Adapter) Start(ctx context.Context, onDecode func(payload string)) error {
	// One device at a time: finish the previous run before opening again.
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	prev := a.done
	a.mu.Unlock()

	select {
	case <-prev:
	case <-ctx.Done():
		return ctx.Err()
	}

	dev, err := a.camera.Open(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", status.ErrCameraUnavailable, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		dev.Close()
		return errors.New("scanner: started concurrently")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.cancel = cancel
	a.done = done

	go a.loop(runCtx, dev, onDecode, done)
	return nil
}

func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	return nil
}

func (a *Adapter) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

func (a *Adapter) loop(ctx context.Context, dev Device, onDecode func(string), done chan struct{}) {
	defer close(done)
	defer func() {
		if err := dev.Close(); err != nil {
			slog.Warn("scanner: release camera", "error", err)
		}
	}()

	ticker := time.NewTicker(a.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, err := dev.Frame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Debug("scanner: frame", "error", err)
			continue
		}

		payload, err := a.decoder.Decode(frame)
		if err != nil || payload == "" {
			// Most frames hold no readable code.
			continue
		}

		if ctx.Err() != nil {
			return
		}
		onDecode(payload)
	}
}
