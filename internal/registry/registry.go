// Package registry loads the content catalogs (items, blocks, loot tables)
// and exposes the code<->id mapping that saved worlds are remapped against.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"voxelcraft.ai/blockentity/internal/inventory"
)

// Resolver maps item codes to live ids. Container code depends only on this.
type Resolver interface {
	ItemID(code string) (int32, bool)
	ItemCode(id int32) (string, bool)
	MaxStack(code string) int
}

type Registry struct {
	Items  ItemCatalog
	Blocks BlockCatalog
	Loot   LootCatalog
}

type ItemCatalog struct {
	Defs    map[string]ItemDef
	Mapping Mapping
}

type ItemDef struct {
	Code     string  `yaml:"code"`
	ID       int32   `yaml:"id,omitempty"`
	MaxStack int     `yaml:"max_stack,omitempty"`
	Kind     string  `yaml:"kind,omitempty"` // "block","tool","food","material"
	Scale    float32 `yaml:"scale,omitempty"`
}

type BlockCatalog struct {
	Codes  map[string]struct{}
	Digest string
}

type itemsFile struct {
	Items []ItemDef `yaml:"items"`
}

type blocksFile struct {
	Blocks []string `yaml:"blocks"`
}

// Load reads items.yaml, blocks.yaml and loot.yaml from dir. loot.yaml is optional.
func Load(dir string) (*Registry, error) {
	var items itemsFile
	if err := readYAML(filepath.Join(dir, "items.yaml"), &items); err != nil {
		return nil, err
	}
	var blocks blocksFile
	if err := readYAML(filepath.Join(dir, "blocks.yaml"), &blocks); err != nil {
		return nil, err
	}
	var loot lootFile
	if err := readYAML(filepath.Join(dir, "loot.yaml"), &loot); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return Build(items.Items, blocks.Blocks, loot.Tables)
}

// Build assembles a registry from in-memory definitions. Items without an
// explicit id get the next free id in declaration order.
func Build(items []ItemDef, blocks []string, loot map[string]LootTable) (*Registry, error) {
	r := &Registry{
		Items: ItemCatalog{Defs: map[string]ItemDef{}},
		Blocks: BlockCatalog{
			Codes: map[string]struct{}{},
		},
		Loot: LootCatalog{Tables: map[string]LootTable{}},
	}

	used := map[int32]string{}
	for _, d := range items {
		if d.ID != 0 {
			if prev, ok := used[d.ID]; ok {
				return nil, fmt.Errorf("items: id %d used by %s and %s", d.ID, prev, d.Code)
			}
			used[d.ID] = d.Code
		}
	}
	next := int32(1)
	codes := map[string]int32{}
	for _, d := range items {
		d.Code = strings.TrimSpace(d.Code)
		if d.Code == "" {
			return nil, fmt.Errorf("items: empty code")
		}
		if _, dup := r.Items.Defs[d.Code]; dup {
			return nil, fmt.Errorf("items: duplicate code %s", d.Code)
		}
		if d.ID == 0 {
			for used[next] != "" {
				next++
			}
			d.ID = next
			used[next] = d.Code
		}
		if d.MaxStack <= 0 {
			d.MaxStack = inventory.DefaultMaxStack
		}
		if d.Scale <= 0 {
			d.Scale = 1
		}
		r.Items.Defs[d.Code] = d
		codes[d.Code] = d.ID
	}
	r.Items.Mapping = NewMapping(codes)

	for _, b := range blocks {
		b = strings.TrimSpace(b)
		if b != "" {
			r.Blocks.Codes[b] = struct{}{}
		}
	}
	r.Blocks.Digest = digestStrings(r.Blocks.List())

	for name, t := range loot {
		for _, e := range t.Entries {
			if _, ok := r.Items.Defs[e.Item]; !ok {
				return nil, fmt.Errorf("loot %s: unknown item %s", name, e.Item)
			}
		}
		r.Loot.Tables[name] = t
	}
	return r, nil
}

func (r *Registry) ItemID(code string) (int32, bool) { return r.Items.Mapping.ID(code) }

func (r *Registry) ItemCode(id int32) (string, bool) { return r.Items.Mapping.Code(id) }

func (r *Registry) MaxStack(code string) int {
	if d, ok := r.Items.Defs[code]; ok {
		return d.MaxStack
	}
	return inventory.DefaultMaxStack
}

func (r *Registry) Item(code string) (ItemDef, bool) {
	d, ok := r.Items.Defs[code]
	return d, ok
}

func (r *Registry) HasBlock(code string) bool {
	_, ok := r.Blocks.Codes[code]
	return ok
}

func (c BlockCatalog) List() []string {
	out := make([]string, 0, len(c.Codes))
	for k := range c.Codes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func readYAML(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

func digestStrings(ss []string) string {
	b, _ := json.Marshal(ss)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
