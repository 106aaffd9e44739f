package host

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"worldmemory.ai/internal/config"
	"worldmemory.ai/internal/sim/geometry"
	"worldmemory.ai/internal/sim/voxel"
)

// PlaceSafely runs the wide safe search around desired in the client's
// current dimension, clears blocking entities and places the client there.
func PlaceSafely(s Server, id uuid.UUID, desired voxel.Pose, opts geometry.SearchOptions, p config.PlacementSpec) (voxel.Pose, error) {
	c, w, err := current(s, id)
	if err != nil {
		return desired, err
	}
	safe, _ := geometry.FindSafe(w, desired, opts)
	if p.KillBlockingEntities {
		s.ClearBlocking(c.Dimension, safe, math.Max(0.25, p.KillBlockingRadius))
	}
	return safe, s.Place(id, safe)
}

// PlaceExact places the client at desired when it is immediately safe,
// else straight below it, else nearby.
func PlaceExact(s Server, id uuid.UUID, desired voxel.Pose, opts geometry.SearchOptions) (voxel.Pose, error) {
	_, w, err := current(s, id)
	if err != nil {
		return desired, err
	}
	at, _ := geometry.PlaceExactOrNearby(w, desired, opts)
	return at, s.Place(id, at)
}

func current(s Server, id uuid.UUID) (Client, voxel.Editor, error) {
	c, ok := s.Client(id)
	if !ok {
		return Client{}, nil, ErrClientGone
	}
	w, ok := s.World(c.Dimension)
	if !ok {
		return c, nil, fmt.Errorf("%s: %w", c.Dimension, ErrDimensionNotFound)
	}
	return c, w, nil
}
