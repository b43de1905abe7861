package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"voxelcraft.ai/blockentity/internal/attr"
	"voxelcraft.ai/blockentity/internal/container"
	"voxelcraft.ai/blockentity/internal/geom"
	"voxelcraft.ai/blockentity/internal/logger"
	"voxelcraft.ai/blockentity/internal/persistence/chunkdb"
)

func openStore() (*chunkdb.Store, error) {
	dir, err := worldDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "chunks.sqlite")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("chunk store: %w", err)
	}
	log := logger.New(os.Stderr)
	log.SetLevel(logrus.WarnLevel)
	store, err := chunkdb.Open(path, log)
	if err != nil {
		return nil, fmt.Errorf("open chunk store: %w", err)
	}
	return store, nil
}

var chunksCmd = &cobra.Command{
	Use:   "chunks",
	Short: "List stored chunks with entity counts and sizes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		out := cmd.OutOrStdout()

		for _, key := range []string{"world_id", "registry_digest"} {
			if v, ok, err := store.Meta(key); err == nil && ok {
				fmt.Fprintf(out, "%s=%s\n", key, v)
			}
		}
		list, err := store.List()
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
		entities, bytes := 0, 0
		for _, c := range list {
			fmt.Fprintf(out, "%d,%d,%d entities=%d bytes=%d saved_at=%s\n", c.Key.CX, c.Key.CY, c.Key.CZ, c.Entities, c.Bytes, c.SavedAt)
			entities += c.Entities
			bytes += c.Bytes
		}
		fmt.Fprintf(out, "chunks=%d entities=%d bytes=%d\n", len(list), entities, bytes)
		return nil
	},
}

var containerRaw bool

// containerCmd prints the stored record of one block entity with its slots
// decoded. Slot ids are the ones the chunk was saved under.
var containerCmd = &cobra.Command{
	Use:     "container <x,y,z>",
	Short:   "Show the stored record of the block entity at a position",
	Example: "  admin container --world world_1 3,64,-7",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := geom.ParseVec3i(args[0])
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		saved, mapping, ok, err := store.LoadChunk(pos.Chunk())
		if err != nil {
			return fmt.Errorf("load chunk: %w", err)
		}
		if !ok {
			return fmt.Errorf("chunk %+v not stored", pos.Chunk())
		}
		for _, ev := range saved.Entities {
			if geom.FromArray(ev.Pos) != pos {
				continue
			}
			rec, err := attr.DecodeNBT(ev.Record)
			if err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			printRecord(cmd, ev.Block, len(ev.Record), mapping.Digest(), rec)
			return nil
		}
		return fmt.Errorf("no block entity at %s", pos)
	},
}

func init() {
	containerCmd.Flags().BoolVar(&containerRaw, "raw", false, "print the whole record as JSON")
}

func printRecord(cmd *cobra.Command, block string, size int, digest string, rec attr.Tree) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "block=%s record_bytes=%d registry=%s\n", block, size, digest)
	if containerRaw {
		b, _ := attr.EncodeJSON(rec)
		fmt.Fprintln(out, string(b))
	}
	inv, ok := rec.Tree(container.InventoryKey)
	if !ok {
		fmt.Fprintln(out, "no inventory")
		return
	}
	for i, s := range container.DecodeSlots(inv, container.SlotCount(inv)) {
		if s.IsEmpty() {
			continue
		}
		line := fmt.Sprintf("slot %d: %s", i, s)
		if len(s.Attrs) > 0 {
			b, _ := json.Marshal(s.Attrs)
			line += " attrs=" + string(b)
		}
		fmt.Fprintln(out, line)
	}
}
