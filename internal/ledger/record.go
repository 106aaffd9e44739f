package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"worldmemory.ai/internal/sim/dimension"
)

// Record is the durable per-client form.
type Record struct {
	Positions            map[string]PositionRecord `json:"positions"`
	LastDefaultDimension string                    `json:"lastDefaultDimension,omitempty"`
	LastGroupMember      map[string]string         `json:"lastGroupMember,omitempty"`
}

type PositionRecord struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Yaw       float32 `json:"yaw"`
	Pitch     float32 `json:"pitch"`
	Timestamp int64   `json:"timestamp"` // unix millis
}

func RecordFromEntry(e Entry) Record {
	r := Record{
		Positions:            make(map[string]PositionRecord, len(e.Positions)),
		LastDefaultDimension: string(e.LastDefault),
	}
	for dim, p := range e.Positions {
		pr := PositionRecord{X: p.X, Y: p.Y, Z: p.Z, Yaw: p.Yaw, Pitch: p.Pitch}
		if !p.CapturedAt.IsZero() {
			pr.Timestamp = p.CapturedAt.UnixMilli()
		}
		r.Positions[string(dim)] = pr
	}
	if len(e.LastGroupMember) > 0 {
		r.LastGroupMember = make(map[string]string, len(e.LastGroupMember))
		for g, dim := range e.LastGroupMember {
			r.LastGroupMember[string(g)] = string(dim)
		}
	}
	return r
}

func (p PositionRecord) saved() SavedPosition {
	s := SavedPosition{X: p.X, Y: p.Y, Z: p.Z, Yaw: p.Yaw, Pitch: p.Pitch}
	if p.Timestamp > 0 {
		s.CapturedAt = time.UnixMilli(p.Timestamp)
	}
	return s
}

func EncodeRecord(e Entry) ([]byte, error) {
	return json.MarshalIndent(RecordFromEntry(e), "", "  ")
}

// DecodeRecord reads the current record layout, falling back to the legacy
// bare map of dimension -> position. Fields that fail to parse are dropped
// individually; only a document that is not a JSON object is an error.
func DecodeRecord(b []byte) (Entry, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(b, &top); err != nil {
		return Entry{}, fmt.Errorf("decode ledger record: %w", err)
	}
	var e Entry
	raw, ok := top["positions"]
	if !ok {
		e.Positions = decodePositionMap(top)
		return e, nil
	}
	var m map[string]json.RawMessage
	if json.Unmarshal(raw, &m) == nil {
		e.Positions = decodePositionMap(m)
	}
	var last string
	if json.Unmarshal(top["lastDefaultDimension"], &last) == nil && last != "" {
		e.LastDefault = dimension.ID(last)
	}
	var groups map[string]json.RawMessage
	if json.Unmarshal(top["lastGroupMember"], &groups) == nil {
		for g, v := range groups {
			var dim string
			if json.Unmarshal(v, &dim) != nil || dim == "" {
				continue
			}
			if e.LastGroupMember == nil {
				e.LastGroupMember = map[dimension.GroupID]dimension.ID{}
			}
			e.LastGroupMember[dimension.GroupID(g)] = dimension.ID(dim)
		}
	}
	return e, nil
}

func decodePositionMap(m map[string]json.RawMessage) map[dimension.ID]SavedPosition {
	out := map[dimension.ID]SavedPosition{}
	for dim, raw := range m {
		if p, ok := decodePosition(raw); ok {
			out[dimension.ID(dim)] = p
		}
	}
	return out
}

// decodePosition needs x, y and z; facing and timestamp are optional.
func decodePosition(raw json.RawMessage) (SavedPosition, bool) {
	var f map[string]json.RawMessage
	if json.Unmarshal(raw, &f) != nil {
		return SavedPosition{}, false
	}
	var pr PositionRecord
	if !number(f["x"], &pr.X) || !number(f["y"], &pr.Y) || !number(f["z"], &pr.Z) {
		return SavedPosition{}, false
	}
	var v float64
	if number(f["yaw"], &v) {
		pr.Yaw = float32(v)
	}
	if number(f["pitch"], &v) {
		pr.Pitch = float32(v)
	}
	if number(f["timestamp"], &v) {
		pr.Timestamp = int64(v)
	}
	return pr.saved(), true
}

func number(raw json.RawMessage, dst *float64) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}
