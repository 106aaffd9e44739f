package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"worldmemory.ai/internal/ledger"
	"worldmemory.ai/internal/sim/dimension"
)

func openTestIndex(t *testing.T) (*SQLiteIndex, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	return idx, path
}

func TestSQLiteIndex_SaveLoadDelete(t *testing.T) {
	idx, _ := openTestIndex(t)
	defer idx.Close()

	id := uuid.New()
	at := time.UnixMilli(1700000000000)
	in := ledger.Entry{
		Positions: map[dimension.ID]ledger.SavedPosition{
			dimension.Overworld: {X: 10.5, Y: 64, Z: -3.5, Yaw: 90, Pitch: -15, CapturedAt: at},
			"mwp:survival":      {X: 1, Y: 70, Z: 2},
		},
		LastDefault:     dimension.Overworld,
		LastGroupMember: map[dimension.GroupID]dimension.ID{"survival": "mwp:survival"},
	}
	if err := idx.Save(id, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// A second save replaces rather than merges.
	in2 := in.Clone()
	delete(in2.Positions, "mwp:survival")
	if err := idx.Save(id, in2); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	out, ok, err := idx.Load(id)
	if err != nil || !ok {
		t.Fatalf("Load: %v %v", ok, err)
	}
	if len(out.Positions) != 1 {
		t.Fatalf("positions = %+v", out.Positions)
	}
	p := out.Positions[dimension.Overworld]
	if p.Pose() != in.Positions[dimension.Overworld].Pose() || !p.CapturedAt.Equal(at) {
		t.Fatalf("position = %+v", p)
	}
	if out.LastDefault != dimension.Overworld || out.LastGroupMember["survival"] != "mwp:survival" {
		t.Fatalf("entry = %+v", out)
	}

	if err := idx.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, err := idx.Load(id); ok || err != nil {
		t.Fatalf("Load after delete = %v %v", ok, err)
	}
	rows, err := idx.PositionsIn(dimension.Overworld)
	if err != nil || len(rows) != 0 {
		t.Fatalf("positions not cascaded: %+v %v", rows, err)
	}
}

func TestSQLiteIndex_ListAndPositionsIn(t *testing.T) {
	idx, _ := openTestIndex(t)
	defer idx.Close()

	a, b := uuid.New(), uuid.New()
	_ = idx.Save(a, ledger.Entry{Positions: map[dimension.ID]ledger.SavedPosition{dimension.End: {Y: 60}}})
	_ = idx.Save(b, ledger.Entry{Positions: map[dimension.ID]ledger.SavedPosition{dimension.Nether: {Y: 40}}})

	ids, err := idx.List()
	if err != nil || len(ids) != 2 {
		t.Fatalf("List = %v %v", ids, err)
	}
	rows, err := idx.PositionsIn(dimension.End)
	if err != nil || len(rows) != 1 || rows[0].ClientID != a || rows[0].Position.Y != 60 {
		t.Fatalf("PositionsIn = %+v %v", rows, err)
	}
}

func TestSQLiteIndex_RecordOutcome(t *testing.T) {
	idx, path := openTestIndex(t)

	id := uuid.New()
	idx.RecordOutcome(OutcomeRow{
		At:       time.UnixMilli(5000),
		ClientID: id,
		From:     "mwp:survival",
		To:       dimension.Overworld,
		Final:    "mwp:survival",
		Outcome:  "redirected",
		Cause:    "command",
		X:        1, Y: 64, Z: 2,
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Rows queued after close are ignored.
	idx.RecordOutcome(OutcomeRow{ClientID: id})

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var (
		at      int64
		outcome string
		final   string
		n       int
	)
	row := db.QueryRow(`SELECT at,outcome,final_dim FROM outcomes WHERE client_id=?`, id.String())
	if err := row.Scan(&at, &outcome, &final); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if at != 5000 || outcome != "redirected" || final != "mwp:survival" {
		t.Fatalf("row mismatch: at=%d outcome=%q final=%q", at, outcome, final)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM outcomes`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("count=%d err=%v", n, err)
	}
}

func TestSQLiteIndex_RecentOutcomesNewestFirst(t *testing.T) {
	idx, path := openTestIndex(t)
	id := uuid.New()
	for i, o := range []string{"proceeded", "redirected", "blocked"} {
		idx.RecordOutcome(OutcomeRow{At: time.UnixMilli(int64(i + 1)), ClientID: id, Outcome: o})
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	got, err := idx.RecentOutcomes(id, 2)
	if err != nil {
		t.Fatalf("RecentOutcomes: %v", err)
	}
	if len(got) != 2 || got[0].Outcome != "blocked" || got[1].Outcome != "redirected" {
		t.Fatalf("recent = %+v", got)
	}
}

func TestSQLiteIndex_ImportFromFileStore(t *testing.T) {
	fs, err := ledger.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	for _, id := range ids {
		if err := fs.Save(id, ledger.Entry{Positions: map[dimension.ID]ledger.SavedPosition{dimension.Overworld: {X: 3}}}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	idx, _ := openTestIndex(t)
	defer idx.Close()
	n, err := idx.Import(fs)
	if err != nil || n != 2 {
		t.Fatalf("Import = %d %v", n, err)
	}
	e, ok, err := idx.Load(ids[1])
	if err != nil || !ok || e.Positions[dimension.Overworld].X != 3 {
		t.Fatalf("imported = %+v %v %v", e, ok, err)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan OutcomeRow, 1)}
	s.ch <- OutcomeRow{Outcome: "proceeded"}

	s.RecordOutcome(OutcomeRow{Outcome: "blocked"})

	st := s.Stats()
	if st.DropOutcomeTotal != 1 {
		t.Fatalf("DropOutcomeTotal=%d want=1", st.DropOutcomeTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}
