// Command admin inspects a world's data directory offline: the chunk store,
// stored container records, snapshots and the audit log. It can also build a
// rolled-back snapshot for the server to import, and poke a running server's
// admin endpoints.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// Persistent flags; each defaults to its VC_* environment variable.
var (
	dataDir string
	worldID string
	baseURL string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "admin",
	Short:         "Inspect and repair block-entity world data",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&dataDir, "data", envOr("VC_DATA", "./data"), "runtime data directory (env VC_DATA)")
	pf.StringVar(&worldID, "world", os.Getenv("VC_WORLD"), "world id (env VC_WORLD)")
	pf.StringVar(&baseURL, "url", envOr("VC_URL", "http://127.0.0.1:8080"), "server base url for state/save (env VC_URL)")

	rootCmd.AddCommand(worldsCmd, chunksCmd, containerCmd, snapshotCmd, rollbackCmd, auditCmd, stateCmd, saveCmd)
}

var worldsCmd = &cobra.Command{
	Use:   "worlds",
	Short: "List worlds, or the files of --world",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		base := filepath.Join(dataDir, "worlds")
		if worldID != "" {
			base = filepath.Join(base, worldID)
		}
		entries, err := os.ReadDir(base)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		for _, e := range entries {
			fmt.Fprintln(cmd.OutOrStdout(), e.Name())
		}
		return nil
	},
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func worldDir() (string, error) {
	w := strings.TrimSpace(worldID)
	if w == "" {
		return "", fmt.Errorf("missing --world")
	}
	return filepath.Join(dataDir, "worlds", w), nil
}

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}
