// Package activator implements the C6 Swap Activator: formatting and
// enabling swap devices, persisting them across reboots by their stable
// GPT PARTUUID, and configuring the compressed in-memory cache module.
package activator

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/swapforge/swapforge/internal/zswap"
	"github.com/swapforge/swapforge/pkg/errors"
	"github.com/swapforge/swapforge/pkg/types"
	"github.com/swapforge/swapforge/pkg/utils"
)

const fstabPath = "/etc/fstab"

// Activator shells out to mkswap/swapon and edits /etc/fstab and the
// compressed-cache module parameters.
type Activator struct {
	logger     *utils.StructuredLogger
	fstab      string // overridable in tests
	blkidPath  string
	mkswapPath string
	swaponPath string
}

var _ types.Activator = (*Activator)(nil)

// NewActivator returns an Activator using the real system tools.
func NewActivator(logger *utils.StructuredLogger) *Activator {
	return &Activator{
		logger:     logger,
		fstab:      fstabPath,
		blkidPath:  "blkid",
		mkswapPath: "mkswap",
		swaponPath: "swapon",
	}
}

// FormatSwap tags device as swap, skipping mkswap if it is already
// formatted as swap — spec §4.6's idempotence requirement.
func (a *Activator) FormatSwap(ctx context.Context, device string) error {
	kind, err := a.blkidType(ctx, device)
	if err == nil && kind == "swap" {
		a.logger.WithComponent("activator").Debug("device already formatted as swap", map[string]interface{}{"device": device})
		return nil
	}
	if _, err := exec.CommandContext(ctx, a.mkswapPath, device).CombinedOutput(); err != nil {
		return errors.New(errors.KindActivation, "mkswap failed").
			WithComponent("activator").WithOperation("format_swap").
			WithDetail("device", device).WithCause(err)
	}
	return nil
}

func (a *Activator) blkidType(ctx context.Context, device string) (string, error) {
	out, err := exec.CommandContext(ctx, a.blkidPath, "-s", "TYPE", "-o", "value", device).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (a *Activator) partUUID(ctx context.Context, device string) (string, error) {
	out, err := exec.CommandContext(ctx, a.blkidPath, "-s", "PARTUUID", "-o", "value", device).Output()
	if err != nil {
		return "", errors.New(errors.KindActivation, "failed to read PARTUUID").
			WithComponent("activator").WithDetail("device", device).WithCause(err)
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		return "", errors.New(errors.KindActivation, "device has no stable PARTUUID; refusing to persist an unstable mount").
			WithComponent("activator").WithOperation("persist_mount").WithDetail("device", device)
	}
	return id, nil
}

// EnableSwap activates device at priority immediately via swapon.
func (a *Activator) EnableSwap(ctx context.Context, device string, priority int) error {
	args := []string{"-p", fmt.Sprintf("%d", priority), device}
	if out, err := exec.CommandContext(ctx, a.swaponPath, args...).CombinedOutput(); err != nil {
		return errors.New(errors.KindActivation, "swapon failed").
			WithComponent("activator").WithOperation("enable_swap").
			WithDetail("device", device).WithDetail("output", string(out)).WithCause(err)
	}
	return nil
}

// PersistMount appends a PARTUUID-keyed fstab line for device, skipping it
// if an entry for the same PARTUUID already exists — spec §4.6's "keyed by
// the partition-level stable identifier" requirement.
func (a *Activator) PersistMount(ctx context.Context, device string, priority int) error {
	id, err := a.partUUID(ctx, device)
	if err != nil {
		return err
	}
	ref := fmt.Sprintf("PARTUUID=%s", id)

	existing, err := readFile(a.fstab)
	if err != nil {
		return errors.New(errors.KindActivation, "failed to read fstab").WithCause(err)
	}
	if fstabHasEntry(existing, ref) {
		a.logger.WithComponent("activator").Debug("fstab already has an entry for this partition", map[string]interface{}{"partuuid": id})
		return nil
	}

	line := fmt.Sprintf("%s none swap sw,pri=%d 0 0\n", ref, priority)
	f, err := os.OpenFile(a.fstab, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.New(errors.KindActivation, "failed to open fstab for append").WithCause(err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(line); err != nil {
		return errors.New(errors.KindActivation, "failed to append fstab entry").WithCause(err)
	}
	return nil
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func fstabHasEntry(content, ref string) bool {
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == ref {
			return true
		}
	}
	return false
}

// ConfigureCompressedCache enables the compressed-cache module with
// compressor/allocator/poolPct, then installs a oneshot unit that
// re-applies the same parameters at boot — per spec §4.6's note that the
// kernel-command-line path is unreliable for compressors whose module
// isn't initramfs-bundled (notably zstd).
func (a *Activator) ConfigureCompressedCache(ctx context.Context, compressor, allocator string, poolPct int) error {
	zs := zswap.Default()
	if err := zs.Quiesce(); err != nil {
		return errors.New(errors.KindActivation, "failed to quiesce compressed cache before reconfiguring").
			WithComponent("activator").WithCause(err)
	}
	if err := zs.WriteParam("max_pool_percent", fmt.Sprintf("%d", poolPct)); err != nil {
		return errors.New(errors.KindActivation, "failed to set compressed cache pool percent").WithCause(err)
	}
	if err := zs.Enable(compressor, allocator); err != nil {
		return errors.New(errors.KindActivation, "failed to enable compressed cache").
			WithComponent("activator").WithDetail("compressor", compressor).WithDetail("allocator", allocator).WithCause(err)
	}

	unit := OneshotUnit{
		Name:        "swapforge-compressed-cache.service",
		Description: "swapforge late-boot compressed cache parameters",
		ExecStart: fmt.Sprintf(
			"/bin/sh -c 'echo 0 > %s/enabled; echo %s > %s/compressor; echo %s > %s/zpool; echo %d > %s/max_pool_percent; echo 1 > %s/enabled'",
			zs.ParamsDir, compressor, zs.ParamsDir, allocator, zs.ParamsDir, poolPct, zs.ParamsDir, zs.ParamsDir,
		),
	}
	return unit.Install("/etc/systemd/system/swapforge-compressed-cache.service")
}
