package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	persistlog "worldmemory.ai/internal/persistence/log"
)

func run(t *testing.T, fn func([]string, io.Writer) error, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	if err := fn(args, &out); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out.String()
}

func TestPositions_SetInfoClearOffline(t *testing.T) {
	data := t.TempDir()
	id := uuid.NewString()

	out := run(t, positionsCmd, "set", "-data", data, "-client", id, "-dimension", "overworld", "-x", "10.5", "-y", "64", "-z", "-3.5", "-yaw", "90")
	if !strings.Contains(out, "set minecraft:overworld") {
		t.Fatalf("set: %q", out)
	}
	run(t, positionsCmd, "set", "-data", data, "-client", id, "-dimension", "minecraft:the_nether", "-y", "40")

	out = run(t, positionsCmd, "info", "-data", data, "-client", id)
	if !strings.HasPrefix(out, "lastDefaultDimension=minecraft:overworld, savedDimensions=2") {
		t.Fatalf("info: %q", out)
	}
	if out := run(t, positionsCmd, "list", "-data", data); strings.TrimSpace(out) != id {
		t.Fatalf("list: %q", out)
	}

	out = run(t, positionsCmd, "clear", "-data", data, "-client", id, "-dimension", "the_nether")
	if !strings.HasPrefix(out, "cleared minecraft:the_nether") {
		t.Fatalf("clear: %q", out)
	}
	out = run(t, positionsCmd, "clear", "-data", data, "-client", id, "-dimension", "the_nether")
	if !strings.HasPrefix(out, "no position stored") {
		t.Fatalf("second clear: %q", out)
	}
	run(t, positionsCmd, "clear", "-data", data, "-client", id)
	if out := run(t, positionsCmd, "list", "-data", data); out != "" {
		t.Fatalf("list after clear all: %q", out)
	}
}

func TestPositions_UsageErrors(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"info", "-data", t.TempDir(), "-client", "nope"},
		{"set", "-data", t.TempDir(), "-client", uuid.NewString()},
		{"teleport", "-data", t.TempDir(), "-client", uuid.NewString()},
	} {
		err := positionsCmd(args, io.Discard)
		if _, ok := err.(usageError); !ok {
			t.Fatalf("%v: err = %v", args, err)
		}
	}
}

func TestDB_ImportThenQuery(t *testing.T) {
	data := t.TempDir()
	id := uuid.NewString()
	run(t, positionsCmd, "set", "-data", data, "-client", id, "-dimension", "overworld", "-x", "1", "-y", "70", "-z", "2")

	if out := run(t, dbCmd, "-data", data, "import"); !strings.HasPrefix(out, "imported 1 records") {
		t.Fatalf("import: %q", out)
	}
	out := run(t, dbCmd, "-data", data, "-dimension", "overworld", "positions-in")
	var row positionRow
	if err := json.Unmarshal([]byte(out), &row); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if row.ClientID != id || row.Y != 70 || row.Dimension != "minecraft:overworld" {
		t.Fatalf("row = %+v", row)
	}
	if out := run(t, dbCmd, "-data", data, "-client", id, "outcomes"); out != "" {
		t.Fatalf("outcomes = %q", out)
	}
}

func TestArchive_CreateAndList(t *testing.T) {
	data := t.TempDir()
	run(t, positionsCmd, "set", "-data", data, "-client", uuid.NewString(), "-dimension", "overworld", "-y", "64")

	out := run(t, archiveCmd, "create", "-data", data, "-reason", "before reset")
	if !strings.HasPrefix(out, "archived 1 records and 0 inventories") {
		t.Fatalf("create: %q", out)
	}
	if out := run(t, archiveCmd, "list", "-data", data); len(strings.Fields(out)) != 1 {
		t.Fatalf("list: %q", out)
	}
}

func TestAudit_FiltersByClient(t *testing.T) {
	data := t.TempDir()
	a, b := uuid.NewString(), uuid.NewString()
	l := persistlog.NewAuditLogger(data)
	for _, id := range []string{a, b, a} {
		if err := l.WriteOutcome(persistlog.OutcomeEntry{ClientID: id, Origin: "minecraft:overworld", Destination: "minecraft:the_nether", Outcome: "restored"}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	out := run(t, auditCmd, "outcomes", "-data", data, "-client", a)
	if n := strings.Count(out, "\n"); n != 2 {
		t.Fatalf("lines = %d: %q", n, out)
	}
	if out := run(t, auditCmd, "outcomes", "-data", data, "-limit", "1"); strings.Count(out, "\n") != 1 || !strings.Contains(out, a) {
		t.Fatalf("limit: %q", out)
	}
	if err := auditCmd([]string{"chat"}, io.Discard); err == nil {
		t.Fatalf("unknown stream accepted")
	}
}

func TestHTTP_PostsAdminRequests(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = append(got, r.Method+" "+r.URL.Path+" "+string(b))
		if r.URL.Path == "/admin/v1/reload" {
			rw.WriteHeader(http.StatusInternalServerError)
		}
		_, _ = rw.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	id := uuid.NewString()
	run(t, func(args []string, w io.Writer) error { return httpCmd("move", args, w) }, "-url", srv.URL, "-client", id, "-dimension", "minecraft:the_end")
	run(t, func(args []string, w io.Writer) error { return httpCmd("group", args, w) }, "-url", srv.URL)
	if err := httpCmd("reload", []string{"-url", srv.URL}, io.Discard); err == nil {
		t.Fatalf("500 reload reported success")
	}
	if len(got) != 3 ||
		got[0] != `POST /admin/v1/move {"client_id":"`+id+`","dimension":"minecraft:the_end"}` ||
		got[1] != "GET /admin/v1/group " {
		t.Fatalf("requests = %q", got)
	}
}
