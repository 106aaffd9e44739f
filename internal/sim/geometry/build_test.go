package geometry

import (
	"testing"

	"worldmemory.ai/internal/sim/dimension"
	"worldmemory.ai/internal/sim/voxel"
)

func TestYawToAxis(t *testing.T) {
	cases := map[float32]voxel.Axis{
		0:    voxel.AxisZ,
		90:   voxel.AxisX,
		-90:  voxel.AxisX,
		180:  voxel.AxisZ,
		270:  voxel.AxisX,
		45:   voxel.AxisZ,
		450:  voxel.AxisX,
		-200: voxel.AxisZ,
	}
	for yaw, want := range cases {
		if got := YawToAxis(yaw); got != want {
			t.Fatalf("YawToAxis(%v) = %v, want %v", yaw, got, want)
		}
	}
}

func TestBuildFrame_ProducesDetectableLitFrame(t *testing.T) {
	w := flatWorld()
	fb, ok := BuildFrame(w, voxel.Vec3i{X: 0, Y: 64, Z: 0}, voxel.AxisX)
	if !ok {
		t.Fatalf("BuildFrame failed on open ground")
	}
	if fb.Axis != voxel.AxisX || fb.Width() != 2 || fb.Height() != 3 {
		t.Fatalf("unexpected bounds %+v", fb)
	}
	got, ok := FindNetherFrame(w, fb.Cell(fb.MinA, fb.MinY), DefaultFrameRules())
	if !ok || got != fb {
		t.Fatalf("built frame not detected: %+v %v", got, ok)
	}
	if w.Block(fb.Cell(fb.MaxA, fb.MaxY)) != voxel.PortalBlock(voxel.AxisX) {
		t.Fatalf("interior not lit with x axis")
	}
}

func TestBuildFrame_FallsBackToPerpendicularAxis(t *testing.T) {
	w := flatWorld()
	corner := voxel.Vec3i{X: 0, Y: 64, Z: 0}
	w.SetBlock(voxel.Vec3i{X: 2, Y: 66, Z: 0}, voxel.B(voxel.Stone)) // inside the x-axis interior
	fb, ok := BuildFrame(w, corner, voxel.AxisX)
	if !ok {
		t.Fatalf("BuildFrame should fall back to z axis")
	}
	if fb.Axis != voxel.AxisZ {
		t.Fatalf("axis = %v, want z", fb.Axis)
	}
}

func TestEnsureReturnPortal_ReusesNearestExisting(t *testing.T) {
	w := flatWorld()
	far, _ := BuildFrame(w, voxel.Vec3i{X: 20, Y: 64, Z: 0}, voxel.AxisX)
	near, _ := BuildFrame(w, voxel.Vec3i{X: -6, Y: 64, Z: 0}, voxel.AxisX)

	cell, ok := EnsureReturnPortal(w, voxel.Vec3i{X: 0, Y: 65, Z: 0}, voxel.AxisZ, 32, true)
	if !ok {
		t.Fatalf("expected an existing portal")
	}
	if !near.Contains(cell) {
		t.Fatalf("cell %v not in nearest frame %+v (far %+v)", cell, near, far)
	}
}

func TestEnsureReturnPortal_BuildsOnGroundWhenMissing(t *testing.T) {
	w := flatWorld()
	if _, ok := EnsureReturnPortal(w, voxel.Vec3i{X: 0, Y: 80, Z: 0}, voxel.AxisX, 8, false); ok {
		t.Fatalf("creation disabled but a portal was returned")
	}
	cell, ok := EnsureReturnPortal(w, voxel.Vec3i{X: 0, Y: 80, Z: 0}, voxel.AxisX, 8, true)
	if !ok {
		t.Fatalf("expected a built portal")
	}
	if cell.Y != 65 {
		t.Fatalf("portal cell y = %d, want 65 (frame base on the ground at 64)", cell.Y)
	}
	if !IsNetherPortalCell(w, cell) {
		t.Fatalf("returned cell %v is not a portal", cell)
	}
	first, ok := FindNetherFrame(w, cell, DefaultFrameRules())
	if !ok {
		t.Fatalf("built return portal not detectable")
	}
	again, _ := EnsureReturnPortal(w, voxel.Vec3i{X: 0, Y: 80, Z: 0}, voxel.AxisX, 8, true)
	if !first.Contains(again) {
		t.Fatalf("second call built elsewhere: %v vs %+v", again, first)
	}
}

func TestEnsureReturnPortal_CarvesWhenBuried(t *testing.T) {
	w := flatWorld()
	cell, ok := EnsureReturnPortal(w, voxel.Vec3i{X: 3, Y: 40, Z: 3}, voxel.AxisZ, 4, true)
	if !ok || !IsNetherPortalCell(w, cell) {
		t.Fatalf("buried portal not carved: %v %v", cell, ok)
	}
}

func TestFindPortalSpot_SkipsBlockedCandidates(t *testing.T) {
	w := flatWorld()
	for y := 64; y < 70; y++ {
		w.SetBlock(voxel.Vec3i{X: 0, Y: y, Z: 0}, voxel.B(voxel.Stone))
	}
	fb, ok := FindPortalSpot(w, voxel.Vec3i{X: 0, Y: 64, Z: 0}, voxel.AxisX, 3)
	if !ok {
		t.Fatalf("no spot found")
	}
	if _, ok := FindNetherFrame(w, fb.Cell(fb.MinA, fb.MinY), DefaultFrameRules()); !ok {
		t.Fatalf("spawned frame not detectable: %+v", fb)
	}
}

func TestEnsureArrivalPlatform_FindsIslandNearOrigin(t *testing.T) {
	w := voxel.NewTerrainStore(dimension.KindEnd, dimension.Bounds{})
	opts := DefaultPlatform()
	opts.SearchRadius = 16
	got := EnsureArrivalPlatform(w, voxel.Vec3i{X: 500, Y: 64, Z: 500}, opts)
	if got != (voxel.Vec3i{X: 0, Y: 60, Z: 0}) {
		t.Fatalf("arrival = %v, want (0,60,0)", got)
	}
	if !IsSafeStandingCell(w, got) {
		t.Fatalf("arrival %v is not safe", got)
	}
}

func TestEnsureArrivalPlatform_VoidFallbackBuildsFloor(t *testing.T) {
	w := emptyWorld()
	opts := DefaultPlatform()
	opts.SearchRadius = 8
	got := EnsureArrivalPlatform(w, voxel.Vec3i{X: 900, Y: 200, Z: -900}, opts)
	if got != (voxel.Vec3i{X: 900, Y: 80, Z: -900}) {
		t.Fatalf("arrival = %v, want clamped fallback", got)
	}
	for dx := -3; dx <= 3; dx++ {
		if w.Block(got.Add(dx, -1, dx)).Material != voxel.EndStone {
			t.Fatalf("platform missing at offset %d", dx)
		}
	}
	if !IsSafeStandingCell(w, got) {
		t.Fatalf("arrival %v is not safe", got)
	}
}

func TestEnsureArrivalPlatform_DisabledReturnsNear(t *testing.T) {
	w := emptyWorld()
	near := voxel.Vec3i{X: 1, Y: 2, Z: 3}
	if got := EnsureArrivalPlatform(w, near, PlatformOptions{}); got != near {
		t.Fatalf("disabled platform moved arrival to %v", got)
	}
}
