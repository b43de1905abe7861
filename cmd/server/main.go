package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"voxelcraft.ai/blockentity/internal/logger"
	"voxelcraft.ai/blockentity/internal/persistence/chunkdb"
	persistlog "voxelcraft.ai/blockentity/internal/persistence/log"
	"voxelcraft.ai/blockentity/internal/persistence/snapshot"
	"voxelcraft.ai/blockentity/internal/registry"
	"voxelcraft.ai/blockentity/internal/sim/tuning"
	"voxelcraft.ai/blockentity/internal/sim/world"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		configDir  = flag.String("configs", "./configs", "config directory (items, blocks, loot)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to server.yaml (default: <configs>/server.yaml)")

		snapPath   = flag.String("snapshot", "", "snapshot to import before starting (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "import the latest snapshot when the chunk store is empty and -snapshot is unset")
	)
	flag.Parse()

	log := logger.Std()

	reg, err := registry.Load(*configDir)
	if err != nil {
		log.WithError(err).Fatal("load registry")
	}
	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "server.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		log.WithError(err).Fatal("load tuning")
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	if err := os.MkdirAll(worldDir, 0o755); err != nil {
		log.WithError(err).Fatal("create world dir")
	}

	store, err := chunkdb.Open(filepath.Join(worldDir, "chunks.sqlite"), log)
	if err != nil {
		log.WithError(err).Fatal("open chunk store")
	}
	checkStoreMeta(store, *worldID, reg, log)

	w, err := world.New(world.Config{ID: *worldID, Tuning: tune}, reg, log)
	if err != nil {
		log.WithError(err).Fatal("world")
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		if list, err := store.List(); err == nil && len(list) == 0 {
			snapshotToLoad = latestSnapshot(worldDir)
		}
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			log.WithError(err).Fatal("read snapshot")
		}
		if snap.Header.WorldID != "" && snap.Header.WorldID != *worldID {
			log.Fatalf("snapshot world id mismatch: flag=%s snap=%s", *worldID, snap.Header.WorldID)
		}
		if err := w.ImportSnapshot(snap); err != nil {
			log.WithError(err).Fatal("import snapshot")
		}
		log.WithFields(logrus.Fields{"snapshot": filepath.Base(snapshotToLoad), "tick": w.CurrentTick()}).Info("resumed from snapshot")
	}
	// Imported chunks go to the store on the first save.
	w.SetChunkStore(store)

	auditLog := persistlog.NewAuditLogger(worldDir)
	defer auditLog.Close()
	w.SetAuditLogger(auditLog)

	ctx, cancel := signalContext()
	defer cancel()

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					log.WithError(err).Warn("snapshot write")
					continue
				}
				log.WithFields(logrus.Fields{"path": path, "chunks": len(snap.Chunks)}).Info("snapshot written")
			}
		}
	}()

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("world stopped")
		}
	}()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newMux(w, store, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	log.WithField("addr", *addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("ListenAndServe")
		cancel()
	}

	// The loop saves every chunk on exit; wait for it before closing the store.
	<-worldDone
	if err := store.Close(); err != nil {
		log.WithError(err).Error("close chunk store")
	}
	st := store.Stats()
	log.WithFields(logrus.Fields{"saved": st.Saved, "failed": st.Failed}).Info("chunk store closed")
}

// checkStoreMeta records the world id and logs when the item registry
// changed since the last run; stored chunks are remapped as they load.
func checkStoreMeta(store *chunkdb.Store, worldID string, reg *registry.Registry, log logrus.FieldLogger) {
	if prev, ok, err := store.Meta("world_id"); err == nil && ok && prev != worldID {
		log.Fatalf("chunk store belongs to world %s, not %s", prev, worldID)
	}
	_ = store.SetMeta("world_id", worldID)

	digest := reg.Items.Mapping.Digest()
	if prev, ok, _ := store.Meta("registry_digest"); ok && prev != digest {
		log.WithFields(logrus.Fields{"was": prev, "now": digest}).Info("item registry changed; chunks will be remapped on load")
	}
	_ = store.SetMeta("registry_digest", digest)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
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

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
