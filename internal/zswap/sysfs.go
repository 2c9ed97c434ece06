// Package zswap wraps the compressed-cache kernel module's sysfs
// parameter interface and debugfs counters, shared by the benchmark
// engine's compressor/allocator sweeps (internal/bench) and the swap
// activator's configure_compressed_cache action (internal/activator).
package zswap

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PageSize is the kernel page size used to convert stored_pages counts
// into bytes when deriving compression_ratio.
const PageSize = 4096

// Sysfs is the sysfs/debugfs root for the compressed-cache module;
// overridden in tests to point at a temp directory standing in for
// /sys/module/zswap/parameters and /sys/kernel/debug/zswap.
type Sysfs struct {
	ParamsDir string
	DebugDir  string
}

// Default returns a Sysfs pointed at the real kernel interface paths.
func Default() Sysfs {
	return Sysfs{
		ParamsDir: "/sys/module/zswap/parameters",
		DebugDir:  "/sys/kernel/debug/zswap",
	}
}

// Quiesce disables the compressed-cache module, per spec §4.3.1 step 1
// ("Quiesce the compressed-cache module").
func (z Sysfs) Quiesce() error {
	return z.WriteParam("enabled", "N")
}

// Enable turns the module on with the given compressor and allocator,
// per spec §4.3.1 step 2.
func (z Sysfs) Enable(compressor, allocator string) error {
	if err := z.WriteParam("compressor", compressor); err != nil {
		return err
	}
	if err := z.WriteParam("zpool", allocator); err != nil {
		return err
	}
	return z.WriteParam("enabled", "Y")
}

// WriteParam writes value to the named parameter file.
func (z Sysfs) WriteParam(name, value string) error {
	path := filepath.Join(z.ParamsDir, name)
	if err := os.WriteFile(path, []byte(value), 0644); err != nil {
		return fmt.Errorf("failed to write %s=%s to %s: %w", name, value, path, err)
	}
	return nil
}

// Counters reads the compressed-cache pool's stored_pages and
// pool_total_size debugfs counters, used to derive compression_ratio per
// spec §4.3.1 step 4.
func (z Sysfs) Counters() (storedPages, poolBytes uint64, err error) {
	storedPages, err = z.readDebugUint("stored_pages")
	if err != nil {
		return 0, 0, err
	}
	poolBytes, err = z.readDebugUint("pool_total_size")
	if err != nil {
		return 0, 0, err
	}
	return storedPages, poolBytes, nil
}

func (z Sysfs) readDebugUint(name string) (uint64, error) {
	path := filepath.Join(z.DebugDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}
