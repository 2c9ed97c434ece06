package partition

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderScriptProducesExecutableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.sh")
	cfg := InitramfsConfig{ConfigPath: "/etc/swapforge/shrink.json", RootPartition: 1}

	if err := renderScript(preMountScriptTemplate, path, cfg); err != nil {
		t.Fatalf("renderScript failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected the script to exist: %v", err)
	}
	if info.Mode()&0100 == 0 {
		t.Error("expected the rendered script to be executable")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), cfg.ConfigPath) {
		t.Error("expected the rendered script to reference the config path")
	}
}

func TestWriteJSONRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shrink.json")
	cfg := InitramfsConfig{Disk: "/dev/sda", RootPartition: 1, NewBlockCount: 1000, SwapFirstNum: 2, SwapLastNum: 9, Priority: 100}

	if err := writeJSON(path, cfg); err != nil {
		t.Fatalf("writeJSON failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"disk": "/dev/sda"`) {
		t.Errorf("expected the written JSON to contain the disk field, got: %s", data)
	}
}
