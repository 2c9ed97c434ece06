// Package inventory implements the C1 Inventory Probe: a one-shot,
// atomic read of everything the rest of the pipeline needs to know
// about the machine it is running on (spec §4.1).
package inventory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/swapforge/swapforge/pkg/errors"
	"github.com/swapforge/swapforge/pkg/types"
	"github.com/swapforge/swapforge/pkg/utils"
)

// defaultCompressors and defaultAllocators are the conservative
// hard-coded superset that DetectCapabilities narrows, and falls back to
// whole when narrowing leaves none of them.
var (
	defaultCompressors = []string{"lz4", "zstd", "lzo-rle"}
	defaultAllocators  = []string{"zsmalloc", "z3fold", "zbud"}
)

// Prober implements types.Prober against /proc, /sys, and golang.org/x/sys/unix.
type Prober struct {
	logger *utils.StructuredLogger
}

// NewProber returns a Prober. A nil logger disables logging.
func NewProber(logger *utils.StructuredLogger) *Prober {
	return &Prober{logger: logger}
}

var _ types.Prober = (*Prober)(nil)

// ProbeSystem gathers every Inventory attribute in one pass. It refuses
// to proceed (EnvironmentError) when the root device cannot be resolved
// to a real partition on a real disk — a device-mapper or LVM root is
// explicitly out of scope (spec §1, §4.1).
func (p *Prober) ProbeSystem(ctx context.Context) (*types.Inventory, error) {
	ramBytes, err := readMemTotal()
	if err != nil {
		return nil, errors.New(errors.KindProbe, "failed to read /proc/meminfo").
			WithComponent("inventory").WithOperation("probe_system").WithCause(err)
	}

	rootDevice, fsKind, err := rootMount()
	if err != nil {
		return nil, errors.New(errors.KindProbe, "failed to resolve root mount").
			WithComponent("inventory").WithOperation("probe_system").WithCause(err)
	}

	if isVirtualRoot(rootDevice) {
		return nil, errors.New(errors.KindEnvironment,
			fmt.Sprintf("root device %s is a device-mapper/LVM node; refusing to rewrite a virtualized partition table", rootDevice)).
			WithComponent("inventory").WithOperation("probe_system")
	}

	disk, partNum, err := diskAndPartition(rootDevice)
	if err != nil {
		return nil, errors.New(errors.KindProbe, "failed to split root device into disk and partition number").
			WithComponent("inventory").WithOperation("probe_system").WithCause(err)
	}

	geom, err := readGeometry(disk, partNum)
	if err != nil {
		return nil, errors.New(errors.KindProbe, "failed to read block device geometry").
			WithComponent("inventory").WithOperation("probe_system").WithCause(err)
	}

	if geom.rootStartSector+geom.rootSizeSectors > geom.diskSizeSectors {
		return nil, errors.New(errors.KindProbe, "root partition extends past disk end").
			WithComponent("inventory").WithOperation("probe_system").
			WithDetail("root_end", geom.rootStartSector+geom.rootSizeSectors).
			WithDetail("disk_size", geom.diskSizeSectors)
	}

	scheme := partitionScheme(disk)

	compressors, allocators, err := p.DetectCapabilities(ctx)
	if err != nil {
		return nil, err
	}

	kernelRelease, err := kernelReleaseString()
	if err != nil {
		kernelRelease = "unknown"
	}

	bootID, err := readBootID()
	if err != nil {
		bootID = ""
	}

	inv := &types.Inventory{
		RAMBytes:                 ramBytes,
		CPUCores:                 cpuCores(),
		RootDevicePath:           rootDevice,
		RootPartitionNumber:      partNum,
		RootPartitionStartSector: geom.rootStartSector,
		RootPartitionSizeSectors: geom.rootSizeSectors,
		DiskSizeSectors:          geom.diskSizeSectors,
		SectorSize:               geom.sectorSize,
		FilesystemKind:           fsKind,
		IsRotational:             geom.rotational,
		PartitionScheme:          scheme,
		AvailableCompressors:     compressors,
		AvailableAllocators:      allocators,
		KernelRelease:            kernelRelease,
		BootID:                   bootID,
		ZswapLoaded:              moduleLoaded("zswap"),
		ZramLoaded:               moduleLoaded("zram"),
	}

	if p.logger != nil {
		p.logger.WithComponent("inventory").Info("probed system", map[string]interface{}{
			"ram_bytes":   inv.RAMBytes,
			"root_device": inv.RootDevicePath,
			"filesystem":  string(inv.FilesystemKind),
		})
	}

	return inv, nil
}

// DetectCapabilities enumerates kernel-advertised compressor/allocator
// names: compressors are narrowed by /proc/crypto, allocators by
// /sys/module and modules.builtin, and either list falls back to the
// conservative superset when that check finds nothing. It never fails
// the run, since compressor/allocator availability is only narrowed,
// not required, before the bench stage attempts to set them.
func (p *Prober) DetectCapabilities(ctx context.Context) ([]string, []string, error) {
	compressors := narrowCompressors()
	allocators := narrowAllocators()
	return compressors, allocators, nil
}

// narrowCompressors cross-checks the hard-coded superset against
// /proc/crypto, which lists every compression algorithm the running
// kernel has registered, dropping any name that kernel doesn't advertise.
func narrowCompressors() []string {
	available := cryptoAlgorithms()
	if len(available) == 0 {
		return append([]string(nil), defaultCompressors...)
	}
	var out []string
	for _, c := range defaultCompressors {
		if available[c] || available[strings.ReplaceAll(c, "-", "_")] {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultCompressors...)
	}
	return out
}

// narrowAllocators cross-checks against /sys/module/<name> for the
// allocator's own kernel module, since zsmalloc/z3fold/zbud are each
// typically built as their own module.
func narrowAllocators() []string {
	var out []string
	for _, a := range defaultAllocators {
		if moduleLoaded(a) || builtinModule(a) {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultAllocators...)
	}
	return out
}

func cryptoAlgorithms() map[string]bool {
	f, err := os.Open("/proc/crypto")
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()

	names := make(map[string]bool)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "name") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				names[strings.TrimSpace(parts[1])] = true
			}
		}
	}
	return names
}

func moduleLoaded(name string) bool {
	_, err := os.Stat(filepath.Join("/sys/module", name))
	return err == nil
}

// builtinModule reports whether a kernel module was compiled directly
// into the kernel (no /sys/module entry) by checking the modules.builtin
// list for the running kernel release.
func builtinModule(name string) bool {
	release, err := kernelReleaseString()
	if err != nil {
		return false
	}
	data, err := os.ReadFile(filepath.Join("/lib/modules", release, "modules.builtin"))
	if err != nil {
		return false
	}
	return strings.Contains(string(data), name+".ko")
}

func readMemTotal() (uint64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && strings.TrimSuffix(fields[0], ":") == "MemTotal" {
			kb, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return 0, err
			}
			return kb * 1024, nil
		}
	}
	return 0, fmt.Errorf("MemTotal not found in /proc/meminfo")
}

func cpuCores() int {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return 1
	}
	count := strings.Count(string(data), "processor\t:")
	if count == 0 {
		count = strings.Count(string(data), "processor:")
	}
	if count == 0 {
		return 1
	}
	return count
}

// rootMount finds the device and filesystem kind backing "/" by reading
// /proc/mounts (mirrors the mountinfo-parsing idiom used elsewhere in the
// pack for /proc text tables: scan, split fields, match by mount point).
func rootMount() (device string, kind types.FilesystemKind, err error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return "", "", err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		if fields[1] == "/" {
			return fields[0], toFilesystemKind(fields[2]), nil
		}
	}
	return "", "", fmt.Errorf("no mount entry for /")
}

func toFilesystemKind(fstype string) types.FilesystemKind {
	switch fstype {
	case "ext2":
		return types.FSExt2
	case "ext3":
		return types.FSExt3
	case "ext4":
		return types.FSExt4
	case "xfs":
		return types.FSXFS
	case "btrfs":
		return types.FSBtrfs
	default:
		return types.FSOther
	}
}

func isVirtualRoot(device string) bool {
	return strings.HasPrefix(device, "/dev/mapper/") || strings.HasPrefix(device, "/dev/dm-")
}

// diskAndPartition splits e.g. /dev/sda3 into ("/dev/sda", 3) and
// /dev/nvme0n1p2 into ("/dev/nvme0n1", 2).
func diskAndPartition(device string) (string, int, error) {
	base := strings.TrimPrefix(device, "/dev/")
	i := len(base)
	for i > 0 && base[i-1] >= '0' && base[i-1] <= '9' {
		i--
	}
	if i == len(base) {
		return "", 0, fmt.Errorf("device %s has no trailing partition number", device)
	}
	numStr := base[i:]
	stem := base[:i]

	num, err := strconv.Atoi(numStr)
	if err != nil {
		return "", 0, err
	}

	disk := stem
	if strings.HasSuffix(stem, "p") && (strings.HasPrefix(stem, "nvme") || strings.HasPrefix(stem, "mmcblk") || strings.HasPrefix(stem, "loop")) {
		disk = strings.TrimSuffix(stem, "p")
	}

	return "/dev/" + disk, num, nil
}

type geometry struct {
	rootStartSector uint64
	rootSizeSectors uint64
	diskSizeSectors uint64
	sectorSize      uint32
	rotational      bool
}

// readGeometry reads /sys/block/<disk>/<disk><part>/{start,size},
// /sys/block/<disk>/size, the device's logical block (sector) size, and
// the rotational flag.
func readGeometry(disk string, partNum int) (geometry, error) {
	diskName := strings.TrimPrefix(disk, "/dev/")
	sysDisk := filepath.Join("/sys/block", diskName)

	partName := fmt.Sprintf("%s%d", diskName, partNum)
	if strings.HasSuffix(diskName, "0") || hasDigitSuffix(diskName) {
		partName = fmt.Sprintf("%sp%d", diskName, partNum)
	}
	sysPart := filepath.Join(sysDisk, partName)

	start, err := readSysUint(filepath.Join(sysPart, "start"))
	if err != nil {
		return geometry{}, err
	}
	size, err := readSysUint(filepath.Join(sysPart, "size"))
	if err != nil {
		return geometry{}, err
	}
	diskSize, err := readSysUint(filepath.Join(sysDisk, "size"))
	if err != nil {
		return geometry{}, err
	}

	sectorSize := uint32(512)
	if ls, err := readSysUint(filepath.Join(sysDisk, "queue", "logical_block_size")); err == nil && ls > 0 {
		sectorSize = uint32(ls)
	}

	rotational := true
	if rot, err := readSysUint(filepath.Join(sysDisk, "queue", "rotational")); err == nil {
		rotational = rot == 1
	}

	return geometry{
		rootStartSector: start,
		rootSizeSectors: size,
		diskSizeSectors: diskSize,
		sectorSize:       sectorSize,
		rotational:       rotational,
	}, nil
}

func hasDigitSuffix(name string) bool {
	if name == "" {
		return false
	}
	last := name[len(name)-1]
	return last >= '0' && last <= '9'
}

func readSysUint(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}

// partitionScheme reads the disk for the GPT header signature
// ("EFI PART" at LBA 1). On
// any read failure it conservatively reports MBR, since the engine only
// ever proceeds past PLAN for a GPT disk (spec §1).
func partitionScheme(disk string) types.PartitionScheme {
	f, err := os.Open(disk)
	if err != nil {
		return types.SchemeMBR
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 8)
	// GPT header signature lives at LBA 1, offset 0, which is byte
	// offset 512 on a 512-byte-sector disk.
	if _, err := f.ReadAt(buf, 512); err != nil {
		return types.SchemeMBR
	}
	if string(buf) == "EFI PART" {
		return types.SchemeGPT
	}
	return types.SchemeMBR
}

func kernelReleaseString() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}
	return charsToString(uts.Release[:]), nil
}

func charsToString(chars []byte) string {
	n := 0
	for n < len(chars) && chars[n] != 0 {
		n++
	}
	return string(chars[:n])
}

func readBootID() (string, error) {
	data, err := os.ReadFile("/proc/sys/kernel/random/boot_id")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
