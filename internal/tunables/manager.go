// Package tunables implements the C7 Kernel Tunable Manager: writing the
// Plan's sysctl values to a single drop-in file and applying them
// immediately with the system parameter loader.
package tunables

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/swapforge/swapforge/pkg/errors"
	"github.com/swapforge/swapforge/pkg/types"
	"github.com/swapforge/swapforge/pkg/utils"
)

// DropInPath is the stable path the engine exclusively owns, per spec
// §3's ownership rule ("it never edits foreign drop-ins").
const DropInPath = "/etc/sysctl.d/99-swapforge.conf"

const dropInHeader = "# Managed by swapforge. Do not edit by hand; this file is\n# regenerated from the computed Plan on every run.\n"

// Manager implements types.TunableManager against a sysctl drop-in file
// and the sysctl command-line loader.
type Manager struct {
	logger   *utils.StructuredLogger
	path     string // overridable in tests
	sysctl   string // path to sysctl, overridable in tests
}

var _ types.TunableManager = (*Manager)(nil)

// NewManager returns a Manager writing to the real drop-in path.
func NewManager(logger *utils.StructuredLogger) *Manager {
	return &Manager{logger: logger, path: DropInPath, sysctl: "sysctl"}
}

// Apply renders tunables into the drop-in file and loads it. Writing is
// idempotent: the same Plan always regenerates byte-identical content, so
// a second run with no changes makes no write at all (spec §8 scenario 6).
func (m *Manager) Apply(ctx context.Context, t types.Tunables) error {
	rendered := render(t)

	existing, err := os.ReadFile(m.path)
	if err == nil && string(existing) == rendered {
		m.logger.WithComponent("tunables").Debug("drop-in already matches the computed plan", nil)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return errors.New(errors.KindActivation, "failed to create sysctl drop-in directory").WithCause(err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(rendered), 0644); err != nil {
		return errors.New(errors.KindActivation, "failed to write sysctl drop-in").WithCause(err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return errors.New(errors.KindActivation, "failed to install sysctl drop-in").WithCause(err)
	}

	if out, err := exec.CommandContext(ctx, m.sysctl, "--system").CombinedOutput(); err != nil {
		return errors.New(errors.KindActivation, "sysctl --system failed to load the drop-in").
			WithComponent("tunables").WithDetail("output", string(out)).WithCause(err)
	}
	return nil
}

// Current reads back the tunables the drop-in currently holds, parsing
// its own rendered format rather than querying live sysctl state — this
// is what the drop-in contains, which may differ from the running kernel
// if another tool has changed it since.
func (m *Manager) Current(ctx context.Context) (types.Tunables, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.Tunables{}, nil
		}
		return types.Tunables{}, errors.New(errors.KindActivation, "failed to read sysctl drop-in").WithCause(err)
	}
	return parse(string(data))
}

func render(t types.Tunables) string {
	var b strings.Builder
	b.WriteString(dropInHeader)
	b.WriteString(fmt.Sprintf("vm.swappiness = %d\n", t.Swappiness))
	b.WriteString(fmt.Sprintf("vm.page-cluster = %d\n", t.PageCluster))
	b.WriteString(fmt.Sprintf("vm.vfs_cache_pressure = %d\n", t.CachePressure))
	b.WriteString(fmt.Sprintf("vm.watermark_scale_factor = %d\n", t.WatermarkScale))
	return b.String()
}

func parse(content string) (types.Tunables, error) {
	var t types.Tunables
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			continue
		}
		switch key {
		case "vm.swappiness":
			t.Swappiness = val
		case "vm.page-cluster":
			t.PageCluster = val
		case "vm.vfs_cache_pressure":
			t.CachePressure = val
		case "vm.watermark_scale_factor":
			t.WatermarkScale = val
		}
	}
	return t, nil
}
