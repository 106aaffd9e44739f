package main

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"worldmemory.ai/internal/config"
	"worldmemory.ai/internal/ledger"
	"worldmemory.ai/internal/persistence/indexdb"
	"worldmemory.ai/internal/sim/dimension"
)

type positionRow struct {
	ClientID  string  `json:"client_id"`
	Dimension string  `json:"dimension"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Yaw       float32 `json:"yaw"`
	Pitch     float32 `json:"pitch"`
	At        string  `json:"captured_at,omitempty"`
}

type outcomeRow struct {
	At      string     `json:"at"`
	From    string     `json:"from"`
	To      string     `json:"to"`
	Final   string     `json:"final,omitempty"`
	Outcome string     `json:"outcome"`
	Cause   string     `json:"cause"`
	Pos     [3]float64 `json:"pos"`
	Error   string     `json:"error,omitempty"`
}

func dbCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("db", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/ledger.sqlite)")
	dim := fs.String("dimension", "", "dimension id (positions-in)")
	client := fs.String("client", "", "client uuid (outcomes)")
	limit := fs.Int("limit", 20, "result limit (outcomes)")
	records := fs.String("records", "", "json records dir to import (default: <data>/worldpositions)")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	q := "positions-in"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "ledger.sqlite")
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer idx.Close()

	switch q {
	case "positions-in":
		d := dimension.Normalize(*dim)
		if d == "" {
			return usageError("db positions-in: missing -dimension")
		}
		rows, err := idx.PositionsIn(d)
		if err != nil {
			return err
		}
		for _, r := range rows {
			row := positionRow{
				ClientID:  r.ClientID.String(),
				Dimension: string(r.Dimension),
				X:         r.Position.X,
				Y:         r.Position.Y,
				Z:         r.Position.Z,
				Yaw:       r.Position.Yaw,
				Pitch:     r.Position.Pitch,
			}
			if !r.Position.CapturedAt.IsZero() {
				row.At = r.Position.CapturedAt.UTC().Format(time.RFC3339)
			}
			printJSON(out, row)
		}
	case "outcomes":
		id, err := uuid.Parse(strings.TrimSpace(*client))
		if err != nil {
			return usageError("db outcomes: bad -client")
		}
		rows, err := idx.RecentOutcomes(id, *limit)
		if err != nil {
			return err
		}
		for _, r := range rows {
			printJSON(out, outcomeRow{
				At:      r.At.UTC().Format(time.RFC3339Nano),
				From:    string(r.From),
				To:      string(r.To),
				Final:   string(r.Final),
				Outcome: r.Outcome,
				Cause:   r.Cause,
				Pos:     [3]float64{r.X, r.Y, r.Z},
				Error:   r.Err,
			})
		}
	case "import":
		dir := strings.TrimSpace(*records)
		if dir == "" {
			dir = recordsDir(*dataDir, config.Default().Storage)
		}
		src, err := ledger.NewFileStore(dir)
		if err != nil {
			return err
		}
		n, err := idx.Import(src)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "imported %d records from %s\n", n, dir)
	default:
		return usageError("db: unknown query " + q)
	}
	return nil
}
