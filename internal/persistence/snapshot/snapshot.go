// Package snapshot writes whole-world exports: a JSON header line followed
// by a gob body, zstd compressed.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int     `json:"version"`
	WorldID string  `json:"world_id"`
	Tick    uint64  `json:"tick"`
	Hours   float64 `json:"hours"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed         int64   `json:"seed"`
	TickRate     int     `json:"tick_rate_hz"`
	HoursPerTick float64 `json:"hours_per_tick"`

	// Items is the item code to id table the entity records were written
	// under; importing remaps against the live registry.
	Items map[string]int32 `json:"items"`

	Chunks       []ChunkV1      `json:"chunks"`
	ItemEntities []ItemEntityV1 `json:"item_entities,omitempty"`

	Counters CountersV1 `json:"counters"`
}

// ChunkV1 is one chunk: a palette-packed dense block array plus one NBT
// record per block entity. chunkdb stores the same shape.
type ChunkV1 struct {
	CX       int        `json:"cx"`
	CY       int        `json:"cy"`
	CZ       int        `json:"cz"`
	Palette  []string   `json:"palette"`
	Runs     []byte     `json:"runs"`
	Entities []EntityV1 `json:"entities,omitempty"`
}

type EntityV1 struct {
	Pos    [3]int `json:"pos"`
	Block  string `json:"block"`
	Record []byte `json:"record"`
}

type ItemEntityV1 struct {
	EntityID    string     `json:"entity_id"`
	Pos         [3]float64 `json:"pos"`
	Item        string     `json:"item"`
	Count       int        `json:"count"`
	Attrs       []byte     `json:"attrs,omitempty"`
	CreatedTick uint64     `json:"created_tick"`
}

type CountersV1 struct {
	Drops   uint64 `json:"drops"`
	Placed  uint64 `json:"placed"`
	Broken  uint64 `json:"broken"`
	Changed uint64 `json:"changed"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

// ReadHeader reads only the header line, for listings.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	return h, nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	// The gob body repeats the header.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version > Version {
		return snap, fmt.Errorf("snapshot version %d is newer than %d", snap.Header.Version, Version)
	}
	return snap, nil
}
