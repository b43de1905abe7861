// Package mesh memoizes item meshes for display containers.
//
// One Cache is owned by the presentation side and shared by every display
// on it. Builds may run on a render goroutine; the cache locks its own maps
// and display reads take the inventory lock only for the slot copy.
package mesh

import (
	"fmt"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/sirupsen/logrus"

	"voxelcraft.ai/blockentity/internal/inventory"
)

// RotationBuckets splits a full turn about Y into 22.5 degree steps.
const RotationBuckets = 16

type Mesh struct {
	Vertices []mgl32.Vec3
	Indices  []uint32
}

// Params are the render parameters of one request. Role names the slot within
// its layout and so determines Offset; Offset is not part of the key.
type Params struct {
	Rotation uint8
	Role     string
	Offset   mgl32.Vec3
}

type Key struct {
	Identity inventory.Identity
	Rotation uint8
	Role     string
}

func (p Params) key(id inventory.Identity) Key {
	return Key{Identity: id, Rotation: p.Rotation % RotationBuckets, Role: p.Role}
}

// Builder produces an item's untransformed default visual.
type Builder interface {
	Build(s *inventory.ItemStack) (*Mesh, error)
}

type Stats struct {
	Hits          uint64
	Misses        uint64
	Builds        uint64
	Invalidations uint64
	Flushes       uint64
}

type Cache struct {
	builder Builder
	log     logrus.FieldLogger

	mu         sync.Mutex
	entries    map[Key]*Mesh
	byIdentity map[inventory.Identity]map[Key]struct{}
	stats      Stats
}

func NewCache(b Builder, log logrus.FieldLogger) *Cache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{
		builder:    b,
		log:        log.WithField("component", "mesh"),
		entries:    map[Key]*Mesh{},
		byIdentity: map[inventory.Identity]map[Key]struct{}{},
	}
}

// Bucket maps a yaw in degrees to its rotation bucket.
func Bucket(yaw float64) uint8 {
	b := int(math.Round(yaw/(360.0/RotationBuckets))) % RotationBuckets
	if b < 0 {
		b += RotationBuckets
	}
	return uint8(b)
}

// GetOrBuild returns the shared mesh for s under p, building it on a miss.
// Equal identities with equal parameters get the same *Mesh.
func (c *Cache) GetOrBuild(s *inventory.ItemStack, p Params) (*Mesh, error) {
	if s.IsEmpty() {
		return nil, fmt.Errorf("mesh: empty stack")
	}
	k := p.key(s.Identity())
	c.mu.Lock()
	if m, ok := c.entries[k]; ok {
		c.stats.Hits++
		c.mu.Unlock()
		return m, nil
	}
	c.stats.Misses++
	c.mu.Unlock()

	base, err := c.builder.Build(s)
	if err != nil {
		return nil, fmt.Errorf("mesh: build %s: %w", s.Ref, err)
	}
	built := transform(base, p.Offset, k.Rotation)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Builds++
	// Another goroutine may have built the same key meanwhile; keep the first.
	if m, ok := c.entries[k]; ok {
		return m, nil
	}
	c.entries[k] = built
	keys := c.byIdentity[k.Identity]
	if keys == nil {
		keys = map[Key]struct{}{}
		c.byIdentity[k.Identity] = keys
	}
	keys[k] = struct{}{}
	return built, nil
}

// Invalidate drops every entry for id and returns how many went.
func (c *Cache) Invalidate(id inventory.Identity) int {
	if id == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.byIdentity[id]
	for k := range keys {
		delete(c.entries, k)
	}
	delete(c.byIdentity, id)
	if len(keys) > 0 {
		c.stats.Invalidations++
	}
	return len(keys)
}

// InvalidateKey drops the single entry k.
func (c *Cache) InvalidateKey(k Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[k]; !ok {
		return false
	}
	delete(c.entries, k)
	if keys := c.byIdentity[k.Identity]; keys != nil {
		delete(keys, k)
		if len(keys) == 0 {
			delete(c.byIdentity, k.Identity)
		}
	}
	c.stats.Invalidations++
	return true
}

// FlushAll clears the cache, for asset reloads.
func (c *Cache) FlushAll() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = map[Key]*Mesh{}
	c.byIdentity = map[inventory.Identity]map[Key]struct{}{}
	c.stats.Flushes++
	c.mu.Unlock()
	c.log.WithField("entries", n).Debug("mesh cache flushed")
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func transform(m *Mesh, offset mgl32.Vec3, rotation uint8) *Mesh {
	angle := mgl32.DegToRad(float32(rotation) * (360.0 / RotationBuckets))
	mat := mgl32.Translate3D(offset.X(), offset.Y(), offset.Z()).Mul4(mgl32.HomogRotate3DY(angle))
	out := &Mesh{
		Vertices: make([]mgl32.Vec3, len(m.Vertices)),
		Indices:  append([]uint32(nil), m.Indices...),
	}
	for i, v := range m.Vertices {
		out.Vertices[i] = mgl32.TransformCoordinate(v, mat)
	}
	return out
}
