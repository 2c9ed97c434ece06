// Package pressure models the Locker and Pressurizer helper processes of
// spec §4.2 as child-process handles. Per spec §9, their behavior is
// never reimplemented in-process — memory pinning at the scales this
// engine uses needs direct syscalls and a process the kernel can account
// for separately from the orchestrator.
package pressure

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/swapforge/swapforge/pkg/errors"
	"github.com/swapforge/swapforge/pkg/types"
)

// handle is the shared os/exec-backed implementation of types.HelperHandle.
type handle struct {
	cmd      *exec.Cmd
	readyCh  chan struct{}
	readyErr error
	stdout   *bufio.Scanner
}

var _ types.HelperHandle = (*handle)(nil)

// LockerHandle prepares cmd/swaplock to pin byteCount bytes resident and
// returns the handle unstarted. The caller calls Start, then WaitReady to
// block until the Locker reports ready (page touching and mlock
// complete), and Signal() to release the pin.
func LockerHandle(ctx context.Context, binary string, byteCount uint64) (types.HelperHandle, error) {
	cmd := exec.CommandContext(ctx, binary, "-bytes", strconv.FormatUint(byteCount, 10))
	return start(cmd)
}

// PressurizerHandle prepares cmd/swappressure to allocate byteCount bytes,
// fill them per pattern, and hold for holdSeconds, and returns the handle
// unstarted; the caller calls Start. Progress lines
// are newline-delimited JSON on stdout (spec §9's "SPEC_FULL" concrete
// instance of "periodic progress lines the engine parses").
func PressurizerHandle(ctx context.Context, binary string, byteCount uint64, pattern types.CompressionPattern, holdSeconds int) (types.HelperHandle, error) {
	cmd := exec.CommandContext(ctx, binary,
		"-bytes", strconv.FormatUint(byteCount, 10),
		"-pattern", string(pattern),
		"-hold", strconv.Itoa(holdSeconds),
	)
	return start(cmd)
}

func start(cmd *exec.Cmd) (*handle, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.New(errors.KindBench, "failed to attach stdout pipe").WithCause(err)
	}
	cmd.Stderr = os.Stderr

	h := &handle{
		cmd:     cmd,
		readyCh: make(chan struct{}),
		stdout:  bufio.NewScanner(stdout),
	}
	return h, nil
}

func (h *handle) Start(ctx context.Context) error {
	if err := h.cmd.Start(); err != nil {
		return errors.New(errors.KindBench, "failed to start helper process").WithCause(err)
	}
	go h.watchReady()
	return nil
}

// watchReady scans stdout for the first line; both helpers emit a
// {"ready":true} line before entering their hold loop, the concrete form
// of spec §4.2's "blocks until signaled" / "emits periodic progress
// lines."
func (h *handle) watchReady() {
	if h.stdout.Scan() {
		var msg struct {
			Ready bool `json:"ready"`
		}
		if err := json.Unmarshal(h.stdout.Bytes(), &msg); err == nil && msg.Ready {
			close(h.readyCh)
			return
		}
	}
	h.readyErr = fmt.Errorf("helper process did not report ready")
	close(h.readyCh)
}

func (h *handle) WaitReady(ctx context.Context) error {
	select {
	case <-h.readyCh:
		return h.readyErr
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return errors.New(errors.KindBench, "timed out waiting for helper process to report ready").
			WithDetail("pid", h.Pid())
	}
}

// Signal sends SIGTERM, the cooperative shutdown both helpers listen for
// to release their pin/allocation and exit cleanly.
func (h *handle) Signal() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

func (h *handle) Wait() error {
	return h.cmd.Wait()
}

func (h *handle) Pid() int {
	if h.cmd.Process == nil {
		return -1
	}
	return h.cmd.Process.Pid
}

// Alive reports whether the process is still running, by sending it the
// null signal (signal 0): no-op if the process exists, ESRCH if it
// doesn't.
func (h *handle) Alive() bool {
	if h.cmd.Process == nil {
		return false
	}
	return h.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Close signals and reaps the process, satisfying the io.Closer-shaped
// interface recovery.ConnectionManager looks for when it tears down a
// connection it manages. Safe to call on a handle that never started.
func (h *handle) Close() error {
	if h.cmd.Process == nil {
		return nil
	}
	if err := h.Signal(); err != nil {
		return err
	}
	return h.Wait()
}

// ProgressLine is one parsed line of Pressurizer progress output.
type ProgressLine struct {
	FilledBytes uint64  `json:"filled_bytes"`
	ElapsedS    float64 `json:"elapsed_s"`
}

// NextProgress reads and parses the next progress line from the helper's
// stdout, returning false once the stream ends or a line does not parse.
func NextProgress(h types.HelperHandle) (ProgressLine, bool) {
	hh, ok := h.(*handle)
	if !ok {
		return ProgressLine{}, false
	}
	if !hh.stdout.Scan() {
		return ProgressLine{}, false
	}
	var line ProgressLine
	if err := json.Unmarshal(hh.stdout.Bytes(), &line); err != nil {
		return ProgressLine{}, false
	}
	return line, true
}
