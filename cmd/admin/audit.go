package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

func auditCmd(args []string, out io.Writer) error {
	if len(args) == 0 {
		return usageError("audit: missing outcomes|transfers")
	}
	stream := args[0]
	if stream != "outcomes" && stream != "transfers" {
		return usageError("audit: unknown stream " + stream)
	}
	fs := flag.NewFlagSet("audit "+stream, flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	client := fs.String("client", "", "client uuid filter (optional)")
	limit := fs.Int("limit", 0, "print only the last N matches (0 = all)")
	if err := fs.Parse(args[1:]); err != nil {
		return usageError(err.Error())
	}

	lines, err := readAudit(filepath.Join(*dataDir, "audit"), stream, strings.TrimSpace(*client))
	if err != nil {
		return err
	}
	if *limit > 0 && len(lines) > *limit {
		lines = lines[len(lines)-*limit:]
	}
	for _, l := range lines {
		fmt.Fprintln(out, string(l))
	}
	return nil
}

// readAudit returns the raw entries of every <stream>-*.jsonl.zst segment in
// dir, oldest segment first, keeping only those for client when it is set.
func readAudit(dir, stream, client string) ([]json.RawMessage, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, stream+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []json.RawMessage
	for _, name := range names {
		recs, err := readSegment(filepath.Join(dir, name), client)
		if err != nil {
			return out, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

func readSegment(path, client string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []json.RawMessage
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var head struct {
			ClientID string `json:"client_id"`
		}
		if err := json.Unmarshal(sc.Bytes(), &head); err != nil {
			return out, fmt.Errorf("unmarshal: %w", err)
		}
		if client != "" && head.ClientID != client {
			continue
		}
		out = append(out, append(json.RawMessage(nil), sc.Bytes()...))
	}
	return out, sc.Err()
}
