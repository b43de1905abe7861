// Command viewer connects to a server as a player, mirrors the containers it
// opens and renders display blocks through the mesh cache. It logs what it
// draws; there is no window.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"voxelcraft.ai/blockentity/internal/client"
	"voxelcraft.ai/blockentity/internal/geom"
	"voxelcraft.ai/blockentity/internal/logger"
	"voxelcraft.ai/blockentity/internal/registry"
	"voxelcraft.ai/blockentity/internal/sim/tuning"
)

func main() {
	var (
		url        = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name       = flag.String("name", "viewer", "player name")
		creative   = flag.Bool("creative", false, "join as a creative player")
		configDir  = flag.String("configs", "./configs", "config directory (items, blocks, loot)")
		tuningPath = flag.String("tuning", "", "path to server.yaml (default: <configs>/server.yaml)")
		rate       = flag.Int("fps", 0, "presentation ticks per second (0: server rate)")
		statsEvery = flag.Duration("stats_every", 5*time.Second, "mesh stats log interval")

		demo     = flag.String("demo_block", "", "place this block at -demo_pos and open it (optional)")
		demoPos  = flag.String("demo_pos", "0,64,0", "x,y,z of the demo block")
		demoTurn = flag.Float64("demo_yaw", 0, "yaw for the demo block")
	)
	flag.Parse()

	log := logger.Std().WithField("cmd", "viewer")

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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := client.Dial(dialCtx, client.Config{
		URL:        *url,
		Name:       *name,
		Creative:   *creative,
		TickRateHz: *rate,
		Dialogs:    tune.Dialogs,
		Layouts:    tune.Layouts,
	}, reg, log)
	dialCancel()
	if err != nil {
		log.WithError(err).Fatal("connect")
	}
	wel := c.Welcome()
	log.WithFields(logrus.Fields{
		"player_id": wel.PlayerID,
		"tick_rate": wel.WorldParams.TickRateHz,
		"seed":      wel.WorldParams.Seed,
	}).Info("WELCOME")

	if *demo != "" {
		pos, err := geom.ParseVec3i(*demoPos)
		if err != nil {
			log.WithError(err).Fatal("demo_pos")
		}
		block, yaw := *demo, *demoTurn
		c.Do(func() {
			if err := c.Place(pos, block, yaw); err != nil {
				log.WithError(err).Warn("place")
			}
		})
		// The open intent needs the server's BLOCK echo first.
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			c.Do(func() { c.Interact(pos) })
		}()
	}

	go func() {
		t := time.NewTicker(*statsEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.Do(func() {
					frames, drawn := c.Rendered()
					st := c.Meshes().Stats()
					log.WithFields(logrus.Fields{
						"frames":  frames,
						"drawn":   drawn,
						"cached":  c.Meshes().Len(),
						"hits":    st.Hits,
						"misses":  st.Misses,
						"builds":  st.Builds,
						"dropped": c.Dialogs().Dropped(),
					}).Info("mesh stats")
				})
			}
		}
	}()

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("viewer stopped")
		os.Exit(1)
	}
}
