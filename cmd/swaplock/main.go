// Command swaplock is the Locker helper of spec §4.2: it allocates N
// bytes, touches every page with a non-zero pattern to defeat same-page
// deduplication and lazy allocation, pins the region resident, then
// blocks until signaled.
//
// It is deliberately a standalone binary rather than in-process logic
// (spec §9): memory pinning at the scales this engine uses needs direct
// syscalls and a process the kernel can account for separately from the
// orchestrator that drives it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

func main() {
	bytes := flag.Uint64("bytes", 0, "number of bytes to allocate and pin")
	flag.Parse()

	if *bytes == 0 {
		fmt.Fprintln(os.Stderr, "swaplock: -bytes must be > 0")
		os.Exit(1)
	}

	buf := make([]byte, *bytes)
	const pageSize = 4096
	for i := 0; i < len(buf); i += pageSize {
		buf[i] = 0xA5
	}

	pinned := true
	if err := unix.Mlock(buf); err != nil {
		pinned = false
		fmt.Fprintf(os.Stderr, "swaplock: mlock failed (%v); holding allocation without a pin\n", err)
	}

	emitReady(pinned)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	if pinned {
		_ = unix.Munlock(buf)
	}
}

func emitReady(pinned bool) {
	data, _ := json.Marshal(struct {
		Ready  bool `json:"ready"`
		Pinned bool `json:"pinned"`
	}{Ready: true, Pinned: pinned})
	fmt.Println(string(data))
}
