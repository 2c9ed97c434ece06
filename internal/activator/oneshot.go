package activator

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/swapforge/swapforge/pkg/errors"
)

// OneshotUnit describes a systemd unit that runs once, writes durable
// state, and never needs to run again on its own — the shape shared by
// the offline-shrink finalizer (internal/partition) and
// configure_compressed_cache's late-boot parameter-setting action, per
// the unreliable-boot-parameter design note: compressor/allocator
// parameters must be set by a runtime action after module load, never
// trusted to the kernel command line.
type OneshotUnit struct {
	Name                string
	Description         string
	ExecStart           string
	ConditionPathExists string
	After               string
}

const oneshotUnitTemplate = `[Unit]
Description=%s
%sAfter=%s

[Service]
Type=oneshot
ExecStart=%s
RemainAfterExit=yes

[Install]
WantedBy=multi-user.target
`

// Render produces the unit file text for u.
func (u OneshotUnit) Render() string {
	condition := ""
	if u.ConditionPathExists != "" {
		condition = fmt.Sprintf("ConditionPathExists=%s\n", u.ConditionPathExists)
	}
	after := u.After
	if after == "" {
		after = "local-fs.target"
	}
	return fmt.Sprintf(oneshotUnitTemplate, u.Description, condition, after, u.ExecStart)
}

// Install writes the unit to unitPath and enables it with systemctl, the
// same install step the offline-shrink finalizer and
// configure_compressed_cache's scoped action both perform.
func (u OneshotUnit) Install(unitPath string) error {
	if err := os.MkdirAll(filepath.Dir(unitPath), 0755); err != nil {
		return errors.New(errors.KindActivation, "failed to create systemd unit directory").WithCause(err)
	}
	if err := os.WriteFile(unitPath, []byte(u.Render()), 0644); err != nil {
		return errors.New(errors.KindActivation, "failed to write oneshot unit").WithDetail("path", unitPath).WithCause(err)
	}
	if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
		return errors.New(errors.KindTransient, "systemctl daemon-reload failed").WithCause(err)
	}
	if err := exec.Command("systemctl", "enable", filepath.Base(unitPath)).Run(); err != nil {
		return errors.New(errors.KindActivation, "failed to enable oneshot unit").WithDetail("path", unitPath).WithCause(err)
	}
	return nil
}
