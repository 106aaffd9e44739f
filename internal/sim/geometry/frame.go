package geometry

import "worldmemory.ai/internal/sim/voxel"

// FrameRules constrains accepted inner sizes of a linking frame.
type FrameRules struct {
	MinWidth      int
	MinHeight     int
	MaxWidth      int
	MaxHeight     int
	AllowOversize bool
}

func DefaultFrameRules() FrameRules {
	return FrameRules{MinWidth: 2, MinHeight: 3, MaxWidth: 21, MaxHeight: 21, AllowOversize: true}
}

// FrameBounds is the interior rectangle of a frame. A is the coordinate
// along Axis (x for AxisX, z for AxisZ); Plane is the fixed other one.
type FrameBounds struct {
	Axis  voxel.Axis
	Plane int
	MinA  int
	MaxA  int
	MinY  int
	MaxY  int
}

func (f FrameBounds) Width() int  { return f.MaxA - f.MinA + 1 }
func (f FrameBounds) Height() int { return f.MaxY - f.MinY + 1 }

// Cell maps (a, y) in frame coordinates to a world cell.
func (f FrameBounds) Cell(a, y int) voxel.Vec3i {
	if f.Axis == voxel.AxisX {
		return voxel.Vec3i{X: a, Y: y, Z: f.Plane}
	}
	return voxel.Vec3i{X: f.Plane, Y: y, Z: a}
}

// Contains reports whether p is an interior cell.
func (f FrameBounds) Contains(p voxel.Vec3i) bool {
	a, plane := p.X, p.Z
	if f.Axis == voxel.AxisZ {
		a, plane = p.Z, p.X
	}
	return plane == f.Plane && a >= f.MinA && a <= f.MaxA && p.Y >= f.MinY && p.Y <= f.MaxY
}

// IsInteriorEmpty covers cells a frame interior may hold before or after
// activation.
func IsInteriorEmpty(w voxel.World, p voxel.Vec3i) bool {
	switch w.Block(p).Material {
	case voxel.Air, voxel.CaveAir, voxel.VoidAir, voxel.Fire, voxel.NetherPortal:
		return true
	}
	return false
}

func isFrame(w voxel.World, p voxel.Vec3i) bool { return w.Block(p).Material == voxel.Obsidian }

// FindNetherFrame locates the interior of a complete rectangular obsidian
// frame. probe may be an interior cell or a frame block touching it.
func FindNetherFrame(w voxel.World, probe voxel.Vec3i, rules FrameRules) (FrameBounds, bool) {
	for _, c := range frameCandidates(w, probe) {
		if fb, ok := scanFrame(w, c.base, c.axis, rules); ok {
			return fb, true
		}
		if fb, ok := scanFrame(w, c.base, c.axis.Other(), rules); ok {
			return fb, true
		}
	}
	return FrameBounds{}, false
}

type frameStart struct {
	base voxel.Vec3i
	axis voxel.Axis
}

// frameCandidates lists interior starting cells with a first axis guess.
func frameCandidates(w voxel.World, probe voxel.Vec3i) []frameStart {
	if IsInteriorEmpty(w, probe) {
		return []frameStart{{base: probe, axis: guessAxis(w, probe)}}
	}
	if !isFrame(w, probe) {
		return nil
	}
	var out []frameStart
	// bottom and top edge clicks
	for _, p := range []voxel.Vec3i{probe.Up(), probe.Down()} {
		if IsInteriorEmpty(w, p) {
			out = append(out, frameStart{base: p, axis: guessAxis(w, p)})
		}
	}
	for _, p := range []voxel.Vec3i{probe, probe.Up()} {
		for _, n := range []struct {
			dx, dz int
			axis   voxel.Axis
		}{{-1, 0, voxel.AxisX}, {1, 0, voxel.AxisX}, {0, -1, voxel.AxisZ}, {0, 1, voxel.AxisZ}} {
			c := p.Add(n.dx, 0, n.dz)
			if IsInteriorEmpty(w, c) {
				out = append(out, frameStart{base: c, axis: n.axis})
			}
		}
	}
	return out
}

// guessAxis looks for frame material beside p along each horizontal axis.
func guessAxis(w voxel.World, p voxel.Vec3i) voxel.Axis {
	for _, d := range []int{1, 2} {
		if isFrame(w, p.Add(-d, 0, 0)) || isFrame(w, p.Add(d, 0, 0)) {
			return voxel.AxisX
		}
		if isFrame(w, p.Add(0, 0, -d)) || isFrame(w, p.Add(0, 0, d)) {
			return voxel.AxisZ
		}
	}
	return voxel.AxisX
}

func scanFrame(w voxel.World, base voxel.Vec3i, axis voxel.Axis, rules FrameRules) (FrameBounds, bool) {
	rules = rules.normalized()
	fb := FrameBounds{Axis: axis, MinY: base.Y, MaxY: base.Y}
	if axis == voxel.AxisX {
		fb.Plane, fb.MinA, fb.MaxA = base.Z, base.X, base.X
	} else {
		fb.Plane, fb.MinA, fb.MaxA = base.X, base.Z, base.Z
	}

	for IsInteriorEmpty(w, fb.Cell(fb.MinA-1, base.Y)) {
		fb.MinA--
		if fb.Width() > rules.MaxWidth {
			return FrameBounds{}, false
		}
	}
	for IsInteriorEmpty(w, fb.Cell(fb.MaxA+1, base.Y)) {
		fb.MaxA++
		if fb.Width() > rules.MaxWidth {
			return FrameBounds{}, false
		}
	}
	for rowInterior(w, fb, fb.MinY-1) {
		fb.MinY--
		if fb.Height() > rules.MaxHeight {
			return FrameBounds{}, false
		}
	}
	for rowInterior(w, fb, fb.MaxY+1) {
		fb.MaxY++
		if fb.Height() > rules.MaxHeight {
			return FrameBounds{}, false
		}
	}

	if !rules.accepts(fb.Width(), fb.Height()) {
		return FrameBounds{}, false
	}
	if !rowFrame(w, fb, fb.MinY-1) || !rowFrame(w, fb, fb.MaxY+1) {
		return FrameBounds{}, false
	}
	if !colFrame(w, fb, fb.MinA-1) || !colFrame(w, fb, fb.MaxA+1) {
		return FrameBounds{}, false
	}
	return fb, true
}

func (r FrameRules) normalized() FrameRules {
	d := DefaultFrameRules()
	if r.MinWidth <= 0 {
		r.MinWidth = d.MinWidth
	}
	if r.MinHeight <= 0 {
		r.MinHeight = d.MinHeight
	}
	if r.MaxWidth <= 0 {
		r.MaxWidth = d.MaxWidth
	}
	if r.MaxHeight <= 0 {
		r.MaxHeight = d.MaxHeight
	}
	return r
}

func (r FrameRules) accepts(width, height int) bool {
	if width < r.MinWidth || height < r.MinHeight {
		return false
	}
	if !r.AllowOversize {
		return width == r.MinWidth && height == r.MinHeight
	}
	return width <= r.MaxWidth && height <= r.MaxHeight
}

func rowInterior(w voxel.World, fb FrameBounds, y int) bool {
	for a := fb.MinA; a <= fb.MaxA; a++ {
		if !IsInteriorEmpty(w, fb.Cell(a, y)) {
			return false
		}
	}
	return true
}

func rowFrame(w voxel.World, fb FrameBounds, y int) bool {
	for a := fb.MinA; a <= fb.MaxA; a++ {
		if !isFrame(w, fb.Cell(a, y)) {
			return false
		}
	}
	return true
}

func colFrame(w voxel.World, fb FrameBounds, a int) bool {
	for y := fb.MinY; y <= fb.MaxY; y++ {
		if !isFrame(w, fb.Cell(a, y)) {
			return false
		}
	}
	return true
}

// FillFrame places axis-oriented portal blocks in every empty interior cell.
func FillFrame(w voxel.Editor, fb FrameBounds) bool {
	placed := false
	portal := voxel.PortalBlock(fb.Axis)
	for a := fb.MinA; a <= fb.MaxA; a++ {
		for y := fb.MinY; y <= fb.MaxY; y++ {
			p := fb.Cell(a, y)
			if w.Block(p) == portal {
				continue
			}
			if IsInteriorEmpty(w, p) {
				w.SetBlock(p, portal)
				placed = true
			}
		}
	}
	return placed
}

// FillNetherInterior detects the frame at probe and lights it.
func FillNetherInterior(w voxel.Editor, probe voxel.Vec3i, rules FrameRules) (FrameBounds, bool) {
	fb, ok := FindNetherFrame(w, probe, rules)
	if !ok {
		return FrameBounds{}, false
	}
	return fb, FillFrame(w, fb)
}

// IsNetherPortalCell reports whether p is an active nether-like cell.
func IsNetherPortalCell(w voxel.World, p voxel.Vec3i) bool {
	return w.Block(p).Material == voxel.NetherPortal
}

// IsEndPortalCell reports whether p is an active end-like cell.
func IsEndPortalCell(w voxel.World, p voxel.Vec3i) bool {
	return w.Block(p).Material == voxel.EndPortal
}

// IsEndRingComplete probes the 3x3 candidate centres around near for the 12
// eye-filled frames (y = near.Y) with a clear interior one layer below.
func IsEndRingComplete(w voxel.World, near voxel.Vec3i) (voxel.Vec3i, bool) {
	for ox := -1; ox <= 1; ox++ {
		for oz := -1; oz <= 1; oz++ {
			c := near.Add(ox, 0, oz)
			if endRingAt(w, c) {
				return c, true
			}
		}
	}
	return voxel.Vec3i{}, false
}

func endRingAt(w voxel.World, c voxel.Vec3i) bool {
	for dx := -2; dx <= 2; dx++ {
		for dz := -2; dz <= 2; dz++ {
			edgeX, edgeZ := abs(dx) == 2, abs(dz) == 2
			if edgeX == edgeZ {
				// interior or corner
				continue
			}
			if b := w.Block(c.Add(dx, 0, dz)); b.Material != voxel.EndPortalFrame || !b.Eye {
				return false
			}
		}
	}
	for dx := -1; dx <= 1; dx++ {
		for dz := -1; dz <= 1; dz++ {
			m := w.Block(c.Add(dx, -1, dz)).Material
			if !m.IsAir() && m != voxel.EndPortal {
				return false
			}
		}
	}
	return true
}

// FillEndInterior lights the 3x3 interior one layer below centre.
func FillEndInterior(w voxel.Editor, centre voxel.Vec3i) bool {
	placed := false
	for dx := -1; dx <= 1; dx++ {
		for dz := -1; dz <= 1; dz++ {
			p := centre.Add(dx, -1, dz)
			if w.Block(p).Material.IsAir() {
				w.SetBlock(p, voxel.B(voxel.EndPortal))
				placed = true
			}
		}
	}
	return placed
}
