// Command swapiogen is the matrix test's disk I/O generator (spec
// §4.3.3). It runs a mixed 50/50 random read/write workload against a
// target file on the root filesystem for a fixed duration, using
// concurrency goroutines inside this one process — the single place
// spec §5 allows intra-engine concurrency, modeled here with
// github.com/sourcegraph/conc's bounded worker pool the way the rest of
// the pack reaches for conc instead of a hand-rolled sync.WaitGroup.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
)

func main() {
	file := flag.String("file", "", "path to the target file on the root filesystem")
	blockSizeKB := flag.Int("blocksize-kb", 4, "block size in KiB")
	concurrency := flag.Int("concurrency", 1, "number of concurrent worker goroutines")
	durationS := flag.Int("duration-s", 5, "how long to run, in seconds")
	queueDepth := flag.Int("queue-depth", 4, "in-flight I/O requests per worker (matches the kernel swap cluster max)")
	fileSizeMB := flag.Int("file-size-mb", 256, "size of the target file to create if it does not already exist")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "swapiogen: -file is required")
		os.Exit(1)
	}

	f, err := ensureFile(*file, int64(*fileSizeMB)*1024*1024)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swapiogen: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = f.Close() }()

	blockSize := *blockSizeKB * 1024
	fileSize, err := f.Seek(0, 2)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swapiogen: %v\n", err)
		os.Exit(1)
	}

	var readBytes, writeBytes atomic.Uint64
	deadline := time.Now().Add(time.Duration(*durationS) * time.Second)

	p := pool.New().WithMaxGoroutines(*concurrency)
	for w := 0; w < *concurrency; w++ {
		seed := int64(w) + 1
		p.Go(func() {
			runWorker(f, blockSize, fileSize, *queueDepth, deadline, seed, &readBytes, &writeBytes)
		})
	}
	p.Wait()

	elapsed := float64(*durationS)
	readMBPerS := float64(readBytes.Load()) / (1024 * 1024) / elapsed
	writeMBPerS := float64(writeBytes.Load()) / (1024 * 1024) / elapsed

	result, _ := json.Marshal(struct {
		ReadMBPerS     float64 `json:"read_mb_per_s"`
		WriteMBPerS    float64 `json:"write_mb_per_s"`
		CombinedMBPerS float64 `json:"combined_mb_per_s"`
	}{
		ReadMBPerS:     readMBPerS,
		WriteMBPerS:    writeMBPerS,
		CombinedMBPerS: readMBPerS + writeMBPerS,
	})
	fmt.Println(string(result))
}

// runWorker issues blockSize-aligned random reads and writes at a 50/50
// mix until deadline, queueDepth bounding how many requests this worker
// keeps outstanding before waiting on completion (here: synchronous
// pread/pwrite batched queueDepth at a time, mirroring the kernel swap
// subsystem's own cluster-max batching rather than true async I/O).
func runWorker(f *os.File, blockSize int, fileSize int64, queueDepth int, deadline time.Time, seed int64, readBytes, writeBytes *atomic.Uint64) {
	r := rand.New(rand.NewSource(seed))
	buf := make([]byte, blockSize)
	maxOffsetBlocks := fileSize / int64(blockSize)
	if maxOffsetBlocks == 0 {
		return
	}

	for time.Now().Before(deadline) {
		for q := 0; q < queueDepth && time.Now().Before(deadline); q++ {
			offset := (r.Int63() % maxOffsetBlocks) * int64(blockSize)
			if r.Intn(2) == 0 {
				n, err := f.ReadAt(buf, offset)
				if err == nil {
					readBytes.Add(uint64(n))
				}
			} else {
				n, err := f.WriteAt(buf, offset)
				if err == nil {
					writeBytes.Add(uint64(n))
				}
			}
		}
	}
}

func ensureFile(path string, size int64) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open target file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to size target file: %w", err)
		}
	}
	return f, nil
}
