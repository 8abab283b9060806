package tuckdb

import (
	"fmt"
	"sort"

	"github.com/tuckdb/tuckdb/crypt"
	"github.com/tuckdb/tuckdb/fio"
	"github.com/tuckdb/tuckdb/header"
	"github.com/tuckdb/tuckdb/region"
)

// ProbeInfo describes a database file without opening it for work.
type ProbeInfo struct {
	Version    uint32
	Generation uint64
	Encrypted  bool
	Level      crypt.Level
	Tables     []string
	FileSize   int64
}

// Probe reads a file's headers and plaintext schema region. It needs
// no password: table names, format version, and encryption level are
// readable on any file, encrypted or not.
func Probe(path string) (*ProbeInfo, error) {
	ioMgr, err := fio.OpenFileIO(path)
	if err != nil {
		return nil, fmt.Errorf("tuckdb: probe: %w", err)
	}
	defer ioMgr.Close()

	slotA, _ := header.ReadSlot(ioMgr, 0)
	slotB, _ := header.ReadSlot(ioMgr, 1)
	active, _ := header.SelectActive(slotA, slotB)
	if active == nil {
		return nil, fmt.Errorf("%w: no valid header slot", ErrCorruptDatabase)
	}

	info := &ProbeInfo{
		Version:    active.Version,
		Generation: active.Generation,
		Encrypted:  active.Level != crypt.LevelNone,
		Level:      active.Level,
	}
	if info.FileSize, err = ioMgr.Size(); err != nil {
		return nil, fmt.Errorf("tuckdb: probe: %w", err)
	}

	buf := make([]byte, active.Schema.Length)
	if _, err := ioMgr.ReadAt(buf, int64(active.Schema.Offset)); err != nil {
		return nil, fmt.Errorf("%w: schema region: %v", ErrCorruptDatabase, err)
	}
	payload, err := region.Unseal(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDatabase, err)
	}
	schemas, err := region.UnmarshalSchemas(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: schema region: %v", ErrCorruptDatabase, err)
	}
	for name := range schemas {
		info.Tables = append(info.Tables, name)
	}
	sort.Strings(info.Tables)
	return info, nil
}
