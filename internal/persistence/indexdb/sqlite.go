package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"worldmemory.ai/internal/ledger"
	"worldmemory.ai/internal/sim/dimension"
)

// SQLiteIndex is a ledger.Store backed by sqlite that also keeps a queryable
// history of transition outcomes. Ledger reads and writes are synchronous;
// outcome rows are queued and written by a single background goroutine.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan OutcomeRow
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

var _ ledger.Store = (*SQLiteIndex)(nil)

type OutcomeRow struct {
	At       time.Time
	ClientID uuid.UUID
	From     dimension.ID
	To       dimension.ID
	Final    dimension.ID
	Outcome  string
	Cause    string
	X, Y, Z  float64
	Err      string
}

type PositionRow struct {
	ClientID  uuid.UUID
	Dimension dimension.ID
	Position  ledger.SavedPosition
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan OutcomeRow, 8192),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS clients (
			client_id TEXT PRIMARY KEY,
			last_default TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS positions (
			client_id TEXT NOT NULL REFERENCES clients(client_id) ON DELETE CASCADE,
			dimension TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			yaw REAL NOT NULL,
			pitch REAL NOT NULL,
			captured_at INTEGER NOT NULL,
			PRIMARY KEY (client_id, dimension)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_dimension ON positions(dimension);`,
		`CREATE TABLE IF NOT EXISTS group_members (
			client_id TEXT NOT NULL REFERENCES clients(client_id) ON DELETE CASCADE,
			group_id TEXT NOT NULL,
			dimension TEXT NOT NULL,
			PRIMARY KEY (client_id, group_id)
		);`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			at INTEGER NOT NULL,
			client_id TEXT NOT NULL,
			from_dim TEXT NOT NULL,
			to_dim TEXT NOT NULL,
			final_dim TEXT NOT NULL,
			outcome TEXT NOT NULL,
			cause TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_client ON outcomes(client_id, at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Load(id uuid.UUID) (ledger.Entry, bool, error) {
	var last string
	err := s.db.QueryRow(`SELECT last_default FROM clients WHERE client_id=?`, id.String()).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, err
	}
	e := ledger.Entry{
		Positions:   map[dimension.ID]ledger.SavedPosition{},
		LastDefault: dimension.ID(last),
	}

	rows, err := s.db.Query(`SELECT dimension,x,y,z,yaw,pitch,captured_at FROM positions WHERE client_id=?`, id.String())
	if err != nil {
		return e, false, err
	}
	for rows.Next() {
		var dim string
		var p ledger.SavedPosition
		var yaw, pitch float64
		var at int64
		if err := rows.Scan(&dim, &p.X, &p.Y, &p.Z, &yaw, &pitch, &at); err != nil {
			continue
		}
		p.Yaw, p.Pitch = float32(yaw), float32(pitch)
		if at > 0 {
			p.CapturedAt = time.UnixMilli(at)
		}
		e.Positions[dimension.ID(dim)] = p
	}
	if err := rows.Close(); err != nil {
		return e, true, err
	}

	rows, err = s.db.Query(`SELECT group_id,dimension FROM group_members WHERE client_id=?`, id.String())
	if err != nil {
		return e, true, err
	}
	defer rows.Close()
	for rows.Next() {
		var gid, dim string
		if err := rows.Scan(&gid, &dim); err != nil {
			continue
		}
		if e.LastGroupMember == nil {
			e.LastGroupMember = map[dimension.GroupID]dimension.ID{}
		}
		e.LastGroupMember[dimension.GroupID(gid)] = dimension.ID(dim)
	}
	return e, true, rows.Err()
}

// Save replaces the client's rows in one transaction.
func (s *SQLiteIndex) Save(id uuid.UUID, e ledger.Entry) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	cid := id.String()
	if _, err := tx.Exec(`DELETE FROM clients WHERE client_id=?`, cid); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO clients(client_id,last_default,updated_at) VALUES(?,?,?)`,
		cid, string(e.LastDefault), time.Now().UnixMilli()); err != nil {
		return err
	}
	for dim, p := range e.Positions {
		var at int64
		if !p.CapturedAt.IsZero() {
			at = p.CapturedAt.UnixMilli()
		}
		if _, err := tx.Exec(`INSERT INTO positions(client_id,dimension,x,y,z,yaw,pitch,captured_at) VALUES(?,?,?,?,?,?,?,?)`,
			cid, string(dim), p.X, p.Y, p.Z, float64(p.Yaw), float64(p.Pitch), at); err != nil {
			return err
		}
	}
	for gid, dim := range e.LastGroupMember {
		if _, err := tx.Exec(`INSERT INTO group_members(client_id,group_id,dimension) VALUES(?,?,?)`,
			cid, string(gid), string(dim)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Delete(id uuid.UUID) error {
	_, err := s.db.Exec(`DELETE FROM clients WHERE client_id=?`, id.String())
	return err
}

func (s *SQLiteIndex) List() ([]uuid.UUID, error) {
	rows, err := s.db.Query(`SELECT client_id FROM clients ORDER BY client_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return out, err
		}
		if id, err := uuid.Parse(raw); err == nil {
			out = append(out, id)
		}
	}
	return out, rows.Err()
}

// Import copies every record of src into the index and reports how many
// clients were written.
func (s *SQLiteIndex) Import(src ledger.Store) (int, error) {
	ids, err := src.List()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		e, ok, err := src.Load(id)
		if err != nil {
			return n, fmt.Errorf("load %s: %w", id, err)
		}
		if !ok {
			continue
		}
		if err := s.Save(id, e); err != nil {
			return n, fmt.Errorf("save %s: %w", id, err)
		}
		n++
	}
	return n, nil
}

// PositionsIn lists every saved position in dim.
func (s *SQLiteIndex) PositionsIn(dim dimension.ID) ([]PositionRow, error) {
	rows, err := s.db.Query(`SELECT client_id,x,y,z,yaw,pitch,captured_at FROM positions WHERE dimension=? ORDER BY client_id`, string(dim))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PositionRow
	for rows.Next() {
		var raw string
		var r PositionRow
		var yaw, pitch float64
		var at int64
		if err := rows.Scan(&raw, &r.Position.X, &r.Position.Y, &r.Position.Z, &yaw, &pitch, &at); err != nil {
			return out, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		r.ClientID, r.Dimension = id, dim
		r.Position.Yaw, r.Position.Pitch = float32(yaw), float32(pitch)
		if at > 0 {
			r.Position.CapturedAt = time.UnixMilli(at)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordOutcome queues a row. It never blocks; rows are dropped when the
// writer falls behind.
func (s *SQLiteIndex) RecordOutcome(r OutcomeRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

type Stats struct {
	QueueDepth       int
	QueueCapacity    int
	DropOutcomeTotal uint64
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropOutcomeTotal: s.dropped.Load(),
	}
}

// RecentOutcomes returns up to limit rows for the client, newest first.
func (s *SQLiteIndex) RecentOutcomes(id uuid.UUID, limit int) ([]OutcomeRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT at,from_dim,to_dim,final_dim,outcome,cause,x,y,z,error FROM outcomes WHERE client_id=? ORDER BY seq DESC LIMIT ?`, id.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OutcomeRow
	for rows.Next() {
		r := OutcomeRow{ClientID: id}
		var at int64
		var from, to, final string
		if err := rows.Scan(&at, &from, &to, &final, &r.Outcome, &r.Cause, &r.X, &r.Y, &r.Z, &r.Err); err != nil {
			return out, err
		}
		r.At = time.UnixMilli(at)
		r.From, r.To, r.Final = dimension.ID(from), dimension.ID(to), dimension.ID(final)
		out = append(out, r)
	}
	return out, rows.Err()
}

const outcomeBatch = 256

func (s *SQLiteIndex) loop() {
	ctx := context.Background()
	insert, _ := s.db.Prepare(`INSERT INTO outcomes(at,client_id,from_dim,to_dim,final_dim,outcome,cause,x,y,z,error) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insert != nil {
			_ = insert.Close()
		}
	}()

	for r := range s.ch {
		if insert == nil {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.dropped.Add(1)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		stmt := tx.Stmt(insert)
		ok := s.insertOutcome(stmt, r)
		// Drain what is already queued into the same transaction.
	drain:
		for n := 1; ok && n < outcomeBatch; n++ {
			select {
			case next, more := <-s.ch:
				if !more {
					break drain
				}
				ok = s.insertOutcome(stmt, next)
			default:
				break drain
			}
		}
		if !ok {
			_ = tx.Rollback()
			continue
		}
		_ = tx.Commit()
	}
}

func (s *SQLiteIndex) insertOutcome(stmt *sql.Stmt, r OutcomeRow) bool {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := stmt.Exec(at.UnixMilli(), r.ClientID.String(), string(r.From), string(r.To), string(r.Final),
		r.Outcome, r.Cause, r.X, r.Y, r.Z, r.Err)
	if err != nil {
		s.dropped.Add(1)
		return false
	}
	return true
}
