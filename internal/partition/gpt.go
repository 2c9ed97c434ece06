// Package partition implements the Partition Transformer (spec §4.5): a
// dump->modify->verify->write->readback state machine over the root
// disk's GPT. The dump format below is a textual canonical form modeled
// the way the teacher models its own on-disk persistent structures —
// read the whole table into a typed in-memory model, mutate the model,
// serialize, write, then re-read and structurally compare.
package partition

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/swapforge/swapforge/pkg/errors"
)

// Entry is one partition row of a canonical GPT dump.
type Entry struct {
	Index       int
	StartSector uint64
	SizeSectors uint64
	TypeGUID    string
	Name        string
	PartUUID    string
}

// Dump is the complete typed model of a disk's partition table: the
// teacher's load/verify/save discipline applied to GPT instead of a
// cache manifest.
type Dump struct {
	Disk            string
	DiskSizeSectors uint64
	SectorSize      uint32
	Entries         []Entry
}

// EndSector is the sector immediately past this entry's last occupied one.
func (e Entry) EndSector() uint64 {
	return e.StartSector + e.SizeSectors
}

// ByIndex returns the entry with the given partition number, or false.
func (d Dump) ByIndex(index int) (Entry, bool) {
	for _, e := range d.Entries {
		if e.Index == index {
			return e, true
		}
	}
	return Entry{}, false
}

// Sorted returns the entries ordered by start sector, the order the
// canonical dump is always serialized in.
func (d Dump) Sorted() []Entry {
	out := make([]Entry, len(d.Entries))
	copy(out, d.Entries)
	sort.Slice(out, func(i, j int) bool { return out[i].StartSector < out[j].StartSector })
	return out
}

// Serialize renders the canonical textual dump: a header line followed
// by one `partition=N start=... size=... type=... name=... partuuid=...`
// line per partition, in start-sector
// order. This is the exact format ParseDump reads back.
func (d Dump) Serialize() string {
	var b strings.Builder
	fmt.Fprintf(&b, "disk=%s disk_size_sectors=%d sector_size=%d\n", d.Disk, d.DiskSizeSectors, d.SectorSize)
	for _, e := range d.Sorted() {
		fmt.Fprintf(&b, "partition=%d start=%d size=%d type=%s name=%s partuuid=%s\n",
			e.Index, e.StartSector, e.SizeSectors, e.TypeGUID, e.Name, e.PartUUID)
	}
	return b.String()
}

// ParseDump reads the canonical textual form back into a Dump.
func ParseDump(text string) (Dump, error) {
	var d Dump
	scanner := bufio.NewScanner(strings.NewReader(text))
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := parseKVLine(line)
		if first {
			d.Disk = fields["disk"]
			d.DiskSizeSectors = parseUint(fields["disk_size_sectors"])
			d.SectorSize = uint32(parseUint(fields["sector_size"]))
			first = false
			continue
		}
		idx, err := strconv.Atoi(fields["partition"])
		if err != nil {
			return Dump{}, errors.New(errors.KindPartition, "malformed dump line: bad partition index").
				WithComponent("partition").WithDetail("line", line)
		}
		d.Entries = append(d.Entries, Entry{
			Index:       idx,
			StartSector: parseUint(fields["start"]),
			SizeSectors: parseUint(fields["size"]),
			TypeGUID:    fields["type"],
			Name:        fields["name"],
			PartUUID:    fields["partuuid"],
		})
	}
	if d.Disk == "" {
		return Dump{}, errors.New(errors.KindPartition, "dump has no header line").WithComponent("partition")
	}
	return d, nil
}

func parseKVLine(line string) map[string]string {
	out := make(map[string]string)
	for _, tok := range strings.Fields(line) {
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

func parseUint(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

// WriteBackup writes dump's serialized form to a timestamped path under
// dir, returning the path — the BACKUP step of spec §4.5, always taken
// before any modification.
func WriteBackup(dir string, dump Dump) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.New(errors.KindPartition, "failed to create backup directory").WithCause(err)
	}
	path := fmt.Sprintf("%s/gpt-backup-%s-%d.dump", dir, sanitizeDiskName(dump.Disk), time.Now().UnixNano())
	if err := os.WriteFile(path, []byte(dump.Serialize()), 0644); err != nil {
		return "", errors.New(errors.KindPartition, "failed to write backup dump").
			WithComponent("partition").WithOperation("backup").WithCause(err)
	}
	return path, nil
}

func sanitizeDiskName(disk string) string {
	return strings.ReplaceAll(strings.TrimPrefix(disk, "/dev/"), "/", "_")
}

// StructurallyEqual compares two dumps ignoring serialization order,
// used by READBACK to assert the on-disk table matches what was written.
func StructurallyEqual(a, b Dump) bool {
	if a.Disk != b.Disk || a.DiskSizeSectors != b.DiskSizeSectors || len(a.Entries) != len(b.Entries) {
		return false
	}
	as, bs := a.Sorted(), b.Sorted()
	for i := range as {
		if as[i].Index != bs[i].Index || as[i].StartSector != bs[i].StartSector ||
			as[i].SizeSectors != bs[i].SizeSectors || as[i].TypeGUID != bs[i].TypeGUID {
			return false
		}
	}
	return true
}

// RollbackCommand is the exact invocation an operator runs to restore a
// disk from a backup dump, surfaced as structured error context on every
// PartitionError per spec §4.5's "backup_dump_path naming and the
// rollback command emission."
func RollbackCommand(disk, backupPath string) string {
	return fmt.Sprintf("sgdisk --load-backup=%s %s", backupPath, disk)
}
