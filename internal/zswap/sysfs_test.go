package zswap

import (
	"os"
	"path/filepath"
	"testing"
)

func testSysfs(t *testing.T) Sysfs {
	t.Helper()
	paramsDir := t.TempDir()
	debugDir := t.TempDir()
	for _, name := range []string{"enabled", "compressor", "zpool", "max_pool_percent"} {
		if err := os.WriteFile(filepath.Join(paramsDir, name), []byte(""), 0644); err != nil {
			t.Fatal(err)
		}
	}
	for name, val := range map[string]string{"stored_pages": "1000", "pool_total_size": "2048000"} {
		if err := os.WriteFile(filepath.Join(debugDir, name), []byte(val), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return Sysfs{ParamsDir: paramsDir, DebugDir: debugDir}
}

func TestQuiesceWritesDisabled(t *testing.T) {
	z := testSysfs(t)
	if err := z.Quiesce(); err != nil {
		t.Fatalf("Quiesce failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(z.ParamsDir, "enabled"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "N" {
		t.Errorf("expected enabled=N, got %q", data)
	}
}

func TestEnableWritesCompressorAllocatorAndEnabled(t *testing.T) {
	z := testSysfs(t)
	if err := z.Enable("zstd", "zbud"); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	for name, want := range map[string]string{"compressor": "zstd", "zpool": "zbud", "enabled": "Y"} {
		data, err := os.ReadFile(filepath.Join(z.ParamsDir, name))
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != want {
			t.Errorf("%s: expected %q, got %q", name, want, data)
		}
	}
}

func TestCountersReadsDebugfsFiles(t *testing.T) {
	z := testSysfs(t)
	stored, pool, err := z.Counters()
	if err != nil {
		t.Fatalf("Counters failed: %v", err)
	}
	if stored != 1000 || pool != 2048000 {
		t.Errorf("expected (1000, 2048000), got (%d, %d)", stored, pool)
	}
}
