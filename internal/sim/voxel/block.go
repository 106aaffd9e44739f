package voxel

import "strings"

type Material uint8

const (
	Air Material = iota
	CaveAir
	VoidAir
	Fire
	Stone
	Dirt
	Grass
	Bedrock
	Netherrack
	EndStone
	Obsidian
	NetherPortal
	EndPortal
	EndPortalFrame
	Water
	Lava
	Glass
)

var materialNames = [...]string{
	Air:            "minecraft:air",
	CaveAir:        "minecraft:cave_air",
	VoidAir:        "minecraft:void_air",
	Fire:           "minecraft:fire",
	Stone:          "minecraft:stone",
	Dirt:           "minecraft:dirt",
	Grass:          "minecraft:grass_block",
	Bedrock:        "minecraft:bedrock",
	Netherrack:     "minecraft:netherrack",
	EndStone:       "minecraft:end_stone",
	Obsidian:       "minecraft:obsidian",
	NetherPortal:   "minecraft:nether_portal",
	EndPortal:      "minecraft:end_portal",
	EndPortalFrame: "minecraft:end_portal_frame",
	Water:          "minecraft:water",
	Lava:           "minecraft:lava",
	Glass:          "minecraft:glass",
}

func (m Material) String() string {
	if int(m) < len(materialNames) {
		return materialNames[m]
	}
	return "minecraft:unknown"
}

// MaterialByName resolves a namespaced block id. Unknown ids report false.
func MaterialByName(name string) (Material, bool) {
	if name != "" && !strings.Contains(name, ":") {
		name = "minecraft:" + name
	}
	for i, n := range materialNames {
		if n == name {
			return Material(i), true
		}
	}
	return Air, false
}

func (m Material) IsAir() bool { return m == Air || m == CaveAir || m == VoidAir }

func (m Material) IsLiquid() bool { return m == Water || m == Lava }

func (m Material) IsSolid() bool {
	switch m {
	case Stone, Dirt, Grass, Bedrock, Netherrack, EndStone, Obsidian, EndPortalFrame, Glass:
		return true
	}
	return false
}

// HasCollision reports whether an entity cannot occupy the cell.
func (m Material) HasCollision() bool { return m.IsSolid() }

// Block is a placed block state.
type Block struct {
	Material Material
	Axis     Axis // nether portal orientation
	Eye      bool // end portal frame filled
}

func B(m Material) Block { return Block{Material: m} }

func PortalBlock(axis Axis) Block { return Block{Material: NetherPortal, Axis: axis} }

func FrameWithEye() Block { return Block{Material: EndPortalFrame, Eye: true} }

func (b Block) pack() uint16 {
	v := uint16(b.Material)
	if b.Axis == AxisZ {
		v |= 1 << 8
	}
	if b.Eye {
		v |= 1 << 9
	}
	return v
}

func unpack(v uint16) Block {
	b := Block{Material: Material(v & 0xff)}
	if v&(1<<8) != 0 {
		b.Axis = AxisZ
	}
	if v&(1<<9) != 0 {
		b.Eye = true
	}
	return b
}
