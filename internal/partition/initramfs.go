package partition

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/swapforge/swapforge/internal/activator"
	"github.com/swapforge/swapforge/pkg/errors"
	"github.com/swapforge/swapforge/pkg/types"
)

// InitramfsConfig is the small config file the pre-mount stage and the
// first-boot finalizer both read, per spec §4.5's SCHEDULE_INITRAMFS step.
type InitramfsConfig struct {
	Disk            string `json:"disk"`
	RootPartition   int    `json:"root_partition"`
	NewBlockCount   uint64 `json:"new_block_count"`
	PTablePath      string `json:"ptable_path"`
	SwapFirstNum    int    `json:"swap_first_num"`
	SwapLastNum     int    `json:"swap_last_num"`
	Priority        int    `json:"priority"`
	ConfigPath      string `json:"-"`
}

// StagingPaths locates every artifact SCHEDULE_INITRAMFS writes.
type StagingPaths struct {
	ConfigPath       string
	DumpPath         string
	PreMountScript   string
	HookScript       string
	FinalizerUnit    string
}

// DefaultStagingPaths returns the stable paths spec §6 requires these
// artifacts to live at.
func DefaultStagingPaths() StagingPaths {
	const base = "/etc/swapforge"
	return StagingPaths{
		ConfigPath:     filepath.Join(base, "shrink.json"),
		DumpPath:       filepath.Join(base, "shrink.dump"),
		PreMountScript: "/usr/share/initramfs-tools/scripts/init-premount/swapforge-shrink",
		HookScript:     "/usr/share/initramfs-tools/hooks/swapforge-shrink",
		FinalizerUnit:  "/etc/systemd/system/swapforge-finalize.service",
	}
}

const preMountScriptTemplate = `#!/bin/sh
# Installed by swapforge. Resizes the root filesystem and repartitions
# the disk before the root is mounted read-write; everything that needs
# a writable root is deferred to swapforge-finalize.service.
PREREQ=""
prereqs() { echo "$PREREQ"; }
case "$1" in prereqs) prereqs; exit 0;; esac

. /scripts/functions

CONFIG={{.ConfigPath}}
DUMP={{.PTablePath}}

if [ -f "$CONFIG" ]; then
	disk=$(sed -n 's/.*"disk": *"\([^"]*\)".*/\1/p' "$CONFIG")
	resize2fs "${disk}{{.RootPartitionPlaceholder}}" || true
	sgdisk --load-backup="$DUMP" "$disk" || true
	partprobe "$disk" || true
fi
`

const hookScriptTemplate = `#!/bin/sh
# Installed by swapforge: pulls resize2fs, sgdisk, and partprobe into the
# initramfs image so the pre-mount script above can call them.
PREREQ=""
prereqs() { echo "$PREREQ"; }
case "$1" in prereqs) prereqs; exit 0;; esac

. /usr/share/initramfs-tools/hook-functions
copy_exec /sbin/resize2fs
copy_exec /sbin/sgdisk
copy_exec /sbin/partprobe
`

// finalizerUnit describes the first-boot finalizer using the same
// OneshotUnit shape configure_compressed_cache's late-boot action uses —
// both are "one-shot service that runs once and writes durable state."
func finalizerUnit(configPath string) activator.OneshotUnit {
	return activator.OneshotUnit{
		Name:                "swapforge-finalize.service",
		Description:         "swapforge first-boot swap finalizer",
		ExecStart:           "/usr/libexec/swapforge/swapforge finalize",
		ConditionPathExists: configPath,
	}
}

// Scheduler implements SCHEDULE_INITRAMFS: a one-time offline-shrink
// handoff written to disk and picked up across the reboot it requires.
type Scheduler struct {
	paths StagingPaths
}

// NewScheduler returns a Scheduler writing to the given staging paths.
func NewScheduler(paths StagingPaths) *Scheduler {
	return &Scheduler{paths: paths}
}

// Schedule writes the config file, the backup dump, both initramfs
// scripts, and the first-boot finalizer unit, then rebuilds the
// initramfs image and requests a filesystem check on next boot.
func (s *Scheduler) Schedule(dump Dump, plan types.PartitionPlan, priority int) error {
	if err := os.MkdirAll(filepath.Dir(s.paths.ConfigPath), 0755); err != nil {
		return errors.New(errors.KindPartition, "failed to create staging directory").WithCause(err)
	}

	cfg := InitramfsConfig{
		Disk:          plan.Disk,
		RootPartition: 1,
		NewBlockCount: plan.NewRootSizeSectors,
		PTablePath:    s.paths.DumpPath,
		Priority:      priority,
		ConfigPath:    s.paths.ConfigPath,
	}
	if len(plan.SwapPartitions) > 0 {
		cfg.SwapFirstNum = plan.SwapPartitions[0].Index
		cfg.SwapLastNum = plan.SwapPartitions[len(plan.SwapPartitions)-1].Index
	}

	if err := writeJSON(s.paths.ConfigPath, cfg); err != nil {
		return err
	}
	if err := os.WriteFile(s.paths.DumpPath, []byte(dump.Serialize()), 0644); err != nil {
		return errors.New(errors.KindPartition, "failed to write staged partition dump").WithCause(err)
	}
	if err := renderScript(preMountScriptTemplate, s.paths.PreMountScript, cfg); err != nil {
		return err
	}
	if err := renderScript(hookScriptTemplate, s.paths.HookScript, cfg); err != nil {
		return err
	}
	if err := finalizerUnit(s.paths.ConfigPath).Install(s.paths.FinalizerUnit); err != nil {
		return err
	}

	if err := exec.Command("update-initramfs", "-u").Run(); err != nil {
		return errors.New(errors.KindTransient, "failed to rebuild the initramfs image").WithCause(err)
	}
	if err := exec.Command("touch", "/forcefsck").Run(); err != nil {
		return errors.New(errors.KindTransient, "failed to request a filesystem check on next boot").WithCause(err)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New(errors.KindPartition, "failed to write staged config").WithDetail("path", path).WithCause(err)
	}
	return nil
}

func renderScript(tmplText, path string, cfg InitramfsConfig) error {
	tmpl, err := template.New(filepath.Base(path)).Parse(tmplText)
	if err != nil {
		return errors.New(errors.KindPartition, "failed to parse script template").WithCause(err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0755)
	if err != nil {
		return errors.New(errors.KindPartition, "failed to open script for writing").WithDetail("path", path).WithCause(err)
	}
	defer func() { _ = f.Close() }()

	data := struct {
		InitramfsConfig
		RootPartitionPlaceholder string
	}{InitramfsConfig: cfg, RootPartitionPlaceholder: fmt.Sprintf("%d", cfg.RootPartition)}
	if err := tmpl.Execute(f, data); err != nil {
		return errors.New(errors.KindPartition, "failed to render script template").WithCause(err)
	}
	return nil
}
