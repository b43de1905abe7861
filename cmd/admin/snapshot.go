package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"voxelcraft.ai/blockentity/internal/attr"
	"voxelcraft.ai/blockentity/internal/behaviors"
	"voxelcraft.ai/blockentity/internal/geom"
	"voxelcraft.ai/blockentity/internal/persistence/snapshot"
	"voxelcraft.ai/blockentity/internal/sim/encoding"
	"voxelcraft.ai/blockentity/internal/sim/world"
)

const chunkVolume = geom.ChunkSize * geom.ChunkSize * geom.ChunkSize

var (
	snapPath   string
	headerOnly bool

	rollbackAABB  string
	rollbackSince uint64
	rollbackTo    uint64
	rollbackOut   string
)

func init() {
	snapshotCmd.Flags().StringVar(&snapPath, "snapshot", "", "snapshot path (default: the world's latest)")
	snapshotCmd.Flags().BoolVar(&headerOnly, "header", false, "read the header only")

	rf := rollbackCmd.Flags()
	rf.StringVar(&snapPath, "snapshot", "", "snapshot to rollback from (default: the world's latest)")
	rf.StringVar(&rollbackAABB, "aabb", "", "AABB filter: x1,y1,z1:x2,y2,z2 (required)")
	rf.Uint64Var(&rollbackSince, "since_tick", 0, "rollback changes since tick (inclusive)")
	rf.Uint64Var(&rollbackTo, "to_tick", 0, "rollback changes up to tick (inclusive; default: snapshot tick)")
	rf.StringVar(&rollbackOut, "out", "", "output snapshot path (default: <world>/snapshots/<tick>.rollback.snap.zst)")
	_ = rollbackCmd.MarkFlagRequired("aabb")
}

// resolveSnapshot returns --snapshot or the world's latest snapshot.
func resolveSnapshot() (path, dir string, err error) {
	if p := strings.TrimSpace(snapPath); p != "" {
		dir, _ = worldDir()
		return p, dir, nil
	}
	dir, err = worldDir()
	if err != nil {
		return "", "", err
	}
	if p := latestSnapshot(dir); p != "" {
		return p, dir, nil
	}
	return "", dir, fmt.Errorf("no snapshot found; pass --snapshot or run the server until it writes one")
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Summarize a snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _, err := resolveSnapshot()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if headerOnly {
			h, err := snapshot.ReadHeader(path)
			if err != nil {
				return fmt.Errorf("read header: %w", err)
			}
			fmt.Fprintf(out, "snapshot v%d world=%s tick=%d hours=%.2f\n", h.Version, h.WorldID, h.Tick, h.Hours)
			return nil
		}

		snap, err := snapshot.ReadSnapshot(path)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		byBlock := map[string]int{}
		entities := 0
		for _, c := range snap.Chunks {
			for _, ev := range c.Entities {
				byBlock[ev.Block]++
				entities++
			}
		}
		fmt.Fprintf(out, "snapshot v%d world=%s tick=%d hours=%.2f seed=%d chunks=%d entities=%d items=%d registry=%d\n",
			snap.Header.Version, snap.Header.WorldID, snap.Header.Tick, snap.Header.Hours, snap.Seed,
			len(snap.Chunks), entities, len(snap.ItemEntities), len(snap.Items))
		fmt.Fprintf(out, "counters placed=%d broken=%d changed=%d drops=%d\n",
			snap.Counters.Placed, snap.Counters.Broken, snap.Counters.Changed, snap.Counters.Drops)
		blocks := make([]string, 0, len(byBlock))
		for b := range byBlock {
			blocks = append(blocks, b)
		}
		sort.Strings(blocks)
		for _, b := range blocks {
			fmt.Fprintf(out, "  %s %d\n", b, byBlock[b])
		}
		return nil
	},
}

// rollbackCmd reverts block changes recorded in the audit log inside an
// AABB, newest first, and writes the result as a new snapshot. Restored
// block entities come back empty; the audit log does not keep contents.
var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Revert audited block changes inside an AABB into a new snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		min, max, err := parseAABB(rollbackAABB)
		if err != nil {
			return fmt.Errorf("bad --aabb: %w", err)
		}
		path, dir, err := resolveSnapshot()
		if err != nil {
			return err
		}
		if dir == "" {
			return fmt.Errorf("missing --world")
		}
		snap, err := snapshot.ReadSnapshot(path)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}

		endTick := rollbackTo
		if endTick == 0 || endTick > snap.Header.Tick {
			endTick = snap.Header.Tick
		}
		recs, err := readAudit(dir, auditFilter{
			Since:   rollbackSince,
			To:      endTick,
			Min:     min,
			Max:     max,
			Actions: map[string]bool{world.AuditPlace: true, world.AuditBreak: true, world.AuditTransition: true},
		})
		if err != nil {
			return fmt.Errorf("read audit: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(recs) == 0 {
			fmt.Fprintln(out, "no matching audit entries; nothing to rollback")
			return nil
		}
		reverseChronological(recs)

		applied, skipped, err := applyRollback(&snap, recs)
		if err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		dst := strings.TrimSpace(rollbackOut)
		if dst == "" {
			dst = filepath.Join(dir, "snapshots", fmt.Sprintf("%d.rollback.snap.zst", snap.Header.Tick))
		}
		if err := snapshot.WriteSnapshot(dst, snap); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		fmt.Fprintf(out, "rollback ok: snapshot=%s tick=%d aabb=%s since=%d to=%d entries=%d applied=%d skipped=%d out=%s\n",
			filepath.Base(path), snap.Header.Tick, rollbackAABB, rollbackSince, endTick, len(recs), applied, skipped, dst)
		return nil
	},
}

// applyRollback sets every audited position back to the block it held
// before the change. recs must be newest first. Entries in chunks the
// snapshot does not hold are skipped.
func applyRollback(snap *snapshot.SnapshotV1, recs []auditRec) (applied, skipped int, err error) {
	type decoded struct {
		chunk  *snapshot.ChunkV1
		blocks []string
	}
	chunks := map[geom.ChunkKey]*decoded{}
	for i := range snap.Chunks {
		c := &snap.Chunks[i]
		chunks[geom.ChunkKey{CX: c.CX, CY: c.CY, CZ: c.CZ}] = &decoded{chunk: c}
	}
	empty, err := attr.EncodeNBT(attr.New())
	if err != nil {
		return 0, 0, err
	}

	for _, r := range recs {
		pos := geom.FromArray(r.Entry.Pos)
		key := pos.Chunk()
		d := chunks[key]
		if d == nil {
			skipped++
			continue
		}
		if d.blocks == nil {
			blocks, err := encoding.DecodePalette(d.chunk.Palette, d.chunk.Runs, chunkVolume)
			if err != nil {
				return applied, skipped, fmt.Errorf("chunk %d,%d,%d: %w", key.CX, key.CY, key.CZ, err)
			}
			d.blocks = blocks
		}
		lx := pos.X - key.CX*geom.ChunkSize
		ly := pos.Y - key.CY*geom.ChunkSize
		lz := pos.Z - key.CZ*geom.ChunkSize
		d.blocks[lx+lz*geom.ChunkSize+ly*geom.ChunkSize*geom.ChunkSize] = r.Entry.From

		ents := d.chunk.Entities[:0]
		for _, ev := range d.chunk.Entities {
			if geom.FromArray(ev.Pos) != pos {
				ents = append(ents, ev)
			}
		}
		if r.Entry.From != "" {
			if _, ok := behaviors.New(r.Entry.From, pos); ok {
				ents = append(ents, snapshot.EntityV1{Pos: r.Entry.Pos, Block: r.Entry.From, Record: empty})
			}
		}
		d.chunk.Entities = ents
		applied++
	}

	for _, d := range chunks {
		if d.blocks != nil {
			d.chunk.Palette, d.chunk.Runs = encoding.EncodePalette(d.blocks)
		}
	}
	return applied, skipped, nil
}
