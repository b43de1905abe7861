package mesh

import (
	"github.com/go-gl/mathgl/mgl32"

	"voxelcraft.ai/blockentity/internal/inventory"
	"voxelcraft.ai/blockentity/internal/registry"
)

// ItemDefs looks up item definitions; *registry.Registry implements it.
type ItemDefs interface {
	Item(code string) (registry.ItemDef, bool)
}

// CubeBuilder renders every item as a cube centered on the origin, scaled by
// the item's registry scale.
type CubeBuilder struct {
	Items ItemDefs
}

var cubeCorners = [8]mgl32.Vec3{
	{-1, -1, -1}, {1, -1, -1}, {1, 1, -1}, {-1, 1, -1},
	{-1, -1, 1}, {1, -1, 1}, {1, 1, 1}, {-1, 1, 1},
}

var cubeIndices = []uint32{
	0, 2, 1, 0, 3, 2, // -z
	4, 5, 6, 4, 6, 7, // +z
	0, 1, 5, 0, 5, 4, // -y
	3, 6, 2, 3, 7, 6, // +y
	0, 4, 7, 0, 7, 3, // -x
	1, 2, 6, 1, 6, 5, // +x
}

func (b CubeBuilder) Build(s *inventory.ItemStack) (*Mesh, error) {
	scale := float32(1)
	if b.Items != nil {
		if d, ok := b.Items.Item(s.Ref.Code); ok && d.Scale > 0 {
			scale = float32(d.Scale)
		}
	}
	half := scale / 2
	m := &Mesh{
		Vertices: make([]mgl32.Vec3, len(cubeCorners)),
		Indices:  append([]uint32(nil), cubeIndices...),
	}
	for i, v := range cubeCorners {
		m.Vertices[i] = v.Mul(half)
	}
	return m, nil
}
