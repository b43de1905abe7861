package geom

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// ChunkSize is the edge length of a persistence unit.
const ChunkSize = 16

type Vec3i struct {
	X int
	Y int
	Z int
}

func (v Vec3i) ToArray() [3]int { return [3]int{v.X, v.Y, v.Z} }

func FromArray(a [3]int) Vec3i { return Vec3i{X: a[0], Y: a[1], Z: a[2]} }

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func (v Vec3i) String() string { return fmt.Sprintf("%d/%d/%d", v.X, v.Y, v.Z) }

// ParseVec3i reads "x,y,z"; "/" also separates, so String output parses back.
func ParseVec3i(s string) (Vec3i, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '/' })
	if len(parts) != 3 {
		return Vec3i{}, fmt.Errorf("geom: bad position %q", s)
	}
	var a [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Vec3i{}, fmt.Errorf("geom: bad position %q: %w", s, err)
		}
		a[i] = n
	}
	return FromArray(a), nil
}

// Center is the visual center of the block at v.
func (v Vec3i) Center() mgl64.Vec3 {
	return mgl64.Vec3{float64(v.X) + 0.5, float64(v.Y) + 0.5, float64(v.Z) + 0.5}
}

// Floor is the block containing p.
func Floor(p mgl64.Vec3) Vec3i {
	return Vec3i{int(math.Floor(p[0])), int(math.Floor(p[1])), int(math.Floor(p[2]))}
}

type ChunkKey struct {
	CX int
	CY int
	CZ int
}

func (v Vec3i) Chunk() ChunkKey {
	return ChunkKey{CX: floorDiv(v.X, ChunkSize), CY: floorDiv(v.Y, ChunkSize), CZ: floorDiv(v.Z, ChunkSize)}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func Manhattan(a, b Vec3i) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y) + abs(a.Z-b.Z)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
