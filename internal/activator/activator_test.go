package activator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFstabHasEntryDetectsExistingPartuuid(t *testing.T) {
	content := "UUID=1111-2222 / ext4 defaults 0 1\nPARTUUID=abc-123 none swap sw,pri=100 0 0\n"
	if !fstabHasEntry(content, "PARTUUID=abc-123") {
		t.Error("expected an existing PARTUUID entry to be detected")
	}
	if fstabHasEntry(content, "PARTUUID=zzz-999") {
		t.Error("did not expect a non-existent PARTUUID to match")
	}
}

func TestFstabHasEntrySkipsCommentsAndBlankLines(t *testing.T) {
	content := "# PARTUUID=abc-123 none swap sw,pri=100 0 0\n\n"
	if fstabHasEntry(content, "PARTUUID=abc-123") {
		t.Error("expected a commented-out line not to count as an existing entry")
	}
}

func TestReadFileReturnsEmptyForMissingFile(t *testing.T) {
	content, err := readFile(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("expected no error for a missing fstab, got %v", err)
	}
	if content != "" {
		t.Errorf("expected empty content, got %q", content)
	}
}

func TestReadFileReturnsExistingContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fstab")
	if err := os.WriteFile(path, []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	content, err := readFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if content != "hello\n" {
		t.Errorf("expected %q, got %q", "hello\n", content)
	}
}

func TestOneshotUnitRenderIncludesConditionAndExecStart(t *testing.T) {
	unit := OneshotUnit{
		Description:         "test unit",
		ExecStart:           "/bin/true",
		ConditionPathExists: "/etc/swapforge/shrink.json",
	}
	rendered := unit.Render()
	for _, want := range []string{"Description=test unit", "ExecStart=/bin/true", "ConditionPathExists=/etc/swapforge/shrink.json", "Type=oneshot"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("expected rendered unit to contain %q, got:\n%s", want, rendered)
		}
	}
}

func TestOneshotUnitRenderDefaultsAfterTarget(t *testing.T) {
	unit := OneshotUnit{Description: "d", ExecStart: "/bin/true"}
	rendered := unit.Render()
	if !strings.Contains(rendered, "After=local-fs.target") {
		t.Errorf("expected a default After=local-fs.target, got:\n%s", rendered)
	}
}

