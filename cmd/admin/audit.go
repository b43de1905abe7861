package main

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"voxelcraft.ai/blockentity/internal/geom"
	persistlog "voxelcraft.ai/blockentity/internal/persistence/log"
	"voxelcraft.ai/blockentity/internal/sim/world"
)

type auditFilter struct {
	Since, To uint64
	Min, Max  [3]int
	// Actions keeps only the named actions; nil keeps all.
	Actions map[string]bool
	Actor   string
}

func (f auditFilter) match(e world.AuditEntry) bool {
	if e.Tick < f.Since || e.Tick > f.To {
		return false
	}
	if f.Actions != nil && !f.Actions[e.Action] {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	return withinAABB(e.Pos, f.Min, f.Max)
}

type auditRec struct {
	Seq   uint64
	Entry world.AuditEntry
}

// readAudit returns the matching entries in log order.
func readAudit(worldDir string, f auditFilter) ([]auditRec, error) {
	files, err := persistlog.AuditFiles(worldDir)
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	var out []auditRec
	var seq uint64
	for _, path := range files {
		err := persistlog.ReadAudit(path, func(e world.AuditEntry) error {
			seq++
			if f.match(e) {
				out = append(out, auditRec{Seq: seq, Entry: e})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// reverseChronological orders recs highest tick first; entries of the same
// tick go in reverse read order.
func reverseChronological(recs []auditRec) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Entry.Tick != recs[j].Entry.Tick {
			return recs[i].Entry.Tick > recs[j].Entry.Tick
		}
		return recs[i].Seq > recs[j].Seq
	})
}

var (
	auditAABB    string
	auditSince   uint64
	auditTo      uint64
	auditActions string
	auditActor   string
	auditJSON    bool
)

func init() {
	f := auditCmd.Flags()
	f.StringVar(&auditAABB, "aabb", "", "AABB filter: x1,y1,z1:x2,y2,z2")
	f.Uint64Var(&auditSince, "since_tick", 0, "first tick (inclusive)")
	f.Uint64Var(&auditTo, "to_tick", 0, "last tick (inclusive; default: no limit)")
	f.StringVar(&auditActions, "action", "", "comma-separated actions, e.g. PLACE,BREAK")
	f.StringVar(&auditActor, "actor", "", "player id or \"world\"")
	f.BoolVar(&auditJSON, "json", false, "print entries as JSON lines")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Print audit log entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := worldDir()
		if err != nil {
			return err
		}
		f := auditFilter{
			Since: auditSince,
			To:    auditTo,
			Min:   [3]int{math.MinInt, math.MinInt, math.MinInt},
			Max:   [3]int{math.MaxInt, math.MaxInt, math.MaxInt},
			Actor: strings.TrimSpace(auditActor),
		}
		if f.To == 0 {
			f.To = math.MaxUint64
		}
		if strings.TrimSpace(auditAABB) != "" {
			if f.Min, f.Max, err = parseAABB(auditAABB); err != nil {
				return fmt.Errorf("bad --aabb: %w", err)
			}
		}
		if a := strings.TrimSpace(auditActions); a != "" {
			f.Actions = map[string]bool{}
			for _, s := range strings.Split(a, ",") {
				f.Actions[strings.ToUpper(strings.TrimSpace(s))] = true
			}
		}

		recs, err := readAudit(dir, f)
		if err != nil {
			return fmt.Errorf("read audit: %w", err)
		}
		out := cmd.OutOrStdout()
		enc := json.NewEncoder(out)
		for _, r := range recs {
			e := r.Entry
			if auditJSON {
				_ = enc.Encode(e)
				continue
			}
			line := fmt.Sprintf("tick=%d %s %s pos=%d,%d,%d", e.Tick, e.Action, e.Actor, e.Pos[0], e.Pos[1], e.Pos[2])
			if e.From != "" || e.To != "" {
				line += fmt.Sprintf(" %s->%s", orAir(e.From), orAir(e.To))
			}
			if e.Container != "" {
				line += " container=" + e.Container
			}
			if e.Reason != "" {
				line += " reason=" + e.Reason
			}
			fmt.Fprintln(out, line)
		}
		if !auditJSON {
			fmt.Fprintf(out, "entries=%d\n", len(recs))
		}
		return nil
	},
}

func orAir(code string) string {
	if code == "" {
		return "air"
	}
	return code
}

func withinAABB(pos [3]int, min, max [3]int) bool {
	return pos[0] >= min[0] && pos[0] <= max[0] &&
		pos[1] >= min[1] && pos[1] <= max[1] &&
		pos[2] >= min[2] && pos[2] <= max[2]
}

func parseAABB(s string) (min, max [3]int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return min, max, fmt.Errorf("expected x1,y1,z1:x2,y2,z2")
	}
	a, err := geom.ParseVec3i(parts[0])
	if err != nil {
		return min, max, err
	}
	b, err := geom.ParseVec3i(parts[1])
	if err != nil {
		return min, max, err
	}
	av, bv := a.ToArray(), b.ToArray()
	for i := 0; i < 3; i++ {
		if av[i] <= bv[i] {
			min[i], max[i] = av[i], bv[i]
		} else {
			min[i], max[i] = bv[i], av[i]
		}
	}
	return min, max, nil
}
