package pressure

import (
	"context"
	"fmt"
	"time"

	"github.com/swapforge/swapforge/pkg/errors"
	"github.com/swapforge/swapforge/pkg/recovery"
	"github.com/swapforge/swapforge/pkg/types"
)

// Paths locates the two helper binaries. cmd/swapforge resolves these
// relative to its own executable at startup.
type Paths struct {
	Locker      string
	Pressurizer string
}

// Session enforces the ordering contract of spec §4.2: the Locker must
// be started before the Pressurizer, and must be signaled and reaped
// only after the Pressurizer has exited and before any swap
// configuration changes. internal/bench is the only caller.
//
// The Locker is supervised by a recovery.ConnectionManager rather than
// held as a bare handle: a multi-cell bench sweep can run for minutes,
// long enough for the kernel to OOM-kill an evictable (unpinned)
// Locker, and the manager's health-check loop notices and respawns it
// so one dead helper doesn't fail the whole sweep.
type Session struct {
	paths  Paths
	locker *recovery.ConnectionManager
}

// NewSession prepares a pressure session against the given helper binaries.
func NewSession(paths Paths) *Session {
	return &Session{paths: paths}
}

// Lock starts the Locker pinning lockBytes and waits for it to report
// ready. Per spec §4.2, a failure to pin (lack of CAP_IPC_LOCK, over
// RLIMIT_MEMLOCK) is surfaced as a soft, retryable warning rather than a
// fatal error: the allocation is still held, just evictable. That
// softness is why the ConnectionFactory below never fails on a
// WaitReady error — it returns the handle anyway, keeping the
// pin (evictable or not) rather than orphaning the child process.
func (s *Session) Lock(ctx context.Context, lockBytes uint64) error {
	cfg := recovery.DefaultConnectionConfig()
	cfg.HealthCheckInterval = 2 * time.Second // bench cells default to a 5s hold, so a dead Locker is caught well within one cell
	cfg.HealthCheckTimeout = 1 * time.Second
	cfg.MaxReconnectAttempts = 3

	factory := func(ctx context.Context) (interface{}, error) {
		h, err := LockerHandle(ctx, s.paths.Locker, lockBytes)
		if err != nil {
			return nil, err
		}
		if err := h.Start(ctx); err != nil {
			return nil, err
		}
		if err := h.WaitReady(ctx); err != nil {
			return h, nil
		}
		return h, nil
	}

	health := func(ctx context.Context, conn interface{}) error {
		h, ok := conn.(types.HelperHandle)
		if !ok || !h.Alive() {
			return fmt.Errorf("locker process is not running")
		}
		return nil
	}

	cm := recovery.NewConnectionManager("pressure-locker", cfg, factory, health)
	if err := cm.Connect(ctx); err != nil {
		return errors.New(errors.KindTransient, "Locker did not confirm pinning; continuing with an evictable allocation").
			WithComponent("pressure").WithCause(err)
	}
	s.locker = cm
	return nil
}

// RunPressurizer starts the Pressurizer, waits for it to exit, and
// returns its HelperHandle so the caller (internal/bench) can read its
// recorded timing before the handle is discarded. It never touches the
// Locker.
func (s *Session) RunPressurizer(ctx context.Context, bytes uint64, pattern types.CompressionPattern, holdSeconds int) (types.HelperHandle, error) {
	h, err := PressurizerHandle(ctx, s.paths.Pressurizer, bytes, pattern, holdSeconds)
	if err != nil {
		return nil, err
	}
	if err := h.Start(ctx); err != nil {
		return nil, err
	}
	if err := h.WaitReady(ctx); err != nil {
		return nil, errors.New(errors.KindBench, "Pressurizer failed to start").WithCause(err)
	}
	if err := h.Wait(); err != nil {
		return h, errors.New(errors.KindBench, "Pressurizer exited with an error").WithCause(err)
	}
	return h, nil
}

// Release signals and reaps the Locker. Must be called after the
// Pressurizer has exited and before any swap configuration change
// (spec §4.2's ordering contract); internal/bench calls this in a defer
// immediately after Lock succeeds. Closing the ConnectionManager stops
// its health-check goroutine and calls Close() on the underlying handle
// (SIGTERM then Wait) via its Close()-if-present type assertion.
func (s *Session) Release() error {
	if s.locker == nil {
		return nil
	}
	return s.locker.Close()
}
