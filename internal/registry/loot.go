package registry

import (
	"math/rand"

	"voxelcraft.ai/blockentity/internal/inventory"
)

type LootCatalog struct {
	Tables map[string]LootTable
}

type LootTable struct {
	Rolls   int         `yaml:"rolls"`
	Entries []LootEntry `yaml:"entries"`
}

type LootEntry struct {
	Item   string `yaml:"item"`
	Min    int    `yaml:"min"`
	Max    int    `yaml:"max"`
	Weight int    `yaml:"weight"`
}

type lootFile struct {
	Tables map[string]LootTable `yaml:"tables"`
}

// RollLoot draws the table's rolls from rng. An unknown table yields nothing.
func (r *Registry) RollLoot(table string, rng *rand.Rand) []*inventory.ItemStack {
	t, ok := r.Loot.Tables[table]
	if !ok || len(t.Entries) == 0 || rng == nil {
		return nil
	}
	total := 0
	for _, e := range t.Entries {
		total += max(e.Weight, 1)
	}
	rolls := max(t.Rolls, 1)
	out := make([]*inventory.ItemStack, 0, rolls)
	for i := 0; i < rolls; i++ {
		pick := rng.Intn(total)
		for _, e := range t.Entries {
			pick -= max(e.Weight, 1)
			if pick >= 0 {
				continue
			}
			lo, hi := max(e.Min, 1), max(e.Max, e.Min, 1)
			n := lo
			if hi > lo {
				n += rng.Intn(hi - lo + 1)
			}
			s := inventory.NewStack(e.Item, n)
			if id, ok := r.ItemID(e.Item); ok {
				s.Ref.ID = id
			}
			out = append(out, s)
			break
		}
	}
	return out
}
