package dimension

import "strings"

// ID is a namespaced dimension key such as "minecraft:overworld".
type ID string

// GroupID names a configured world group.
type GroupID string

const (
	Overworld ID = "minecraft:overworld"
	Nether    ID = "minecraft:the_nether"
	End       ID = "minecraft:the_end"
)

// Kind is the terrain/linking flavour of a dimension.
type Kind uint8

const (
	KindOverworld Kind = iota
	KindNether
	KindEnd
	KindFlat
)

func (k Kind) String() string {
	switch k {
	case KindOverworld:
		return "overworld"
	case KindNether:
		return "nether"
	case KindEnd:
		return "end"
	default:
		return "flat"
	}
}

type Bounds struct {
	MinY   int
	Height int
}

// MaxY is exclusive.
func (b Bounds) MaxY() int { return b.MinY + b.Height }

func VanillaBounds(id ID) (Bounds, bool) {
	switch id {
	case Overworld:
		return Bounds{MinY: -64, Height: 384}, true
	case Nether, End:
		return Bounds{MinY: 0, Height: 256}, true
	default:
		return Bounds{}, false
	}
}

func BoundsForKind(k Kind) Bounds {
	switch k {
	case KindNether, KindEnd:
		return Bounds{MinY: 0, Height: 256}
	default:
		return Bounds{MinY: -64, Height: 384}
	}
}

// GuessKind infers a kind from the path of an id ("x:foo_nether" -> nether).
func GuessKind(id ID) Kind {
	switch id {
	case Overworld:
		return KindOverworld
	case Nether:
		return KindNether
	case End:
		return KindEnd
	}
	p := strings.ToLower(id.Path())
	switch {
	case strings.Contains(p, "nether"):
		return KindNether
	case strings.HasSuffix(p, "end") || strings.Contains(p, "the_end"):
		return KindEnd
	case strings.Contains(p, "spawn") || strings.Contains(p, "hub") || strings.Contains(p, "lobby"):
		return KindFlat
	default:
		return KindOverworld
	}
}

func (id ID) Namespace() string {
	s := string(id)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return "minecraft"
}

func (id ID) Path() string {
	s := string(id)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func (id ID) String() string { return string(id) }

// Normalize trims whitespace and adds the default namespace when missing.
func Normalize(s string) ID {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, ":") {
		s = "minecraft:" + s
	}
	return ID(s)
}
