package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const stampLayout = "20060102T150405Z"

type Meta struct {
	CreatedAt   string `json:"created_at"`
	Reason      string `json:"reason,omitempty"`
	Records     int    `json:"records"`
	Inventories int    `json:"inventories"`
	Bytes       int64  `json:"bytes"`
}

// ArchiveLedger copies the ledger record directory and the inventory
// snapshot directory into <dataDir>/archives/<stamp>/. A missing source
// directory is skipped. Partially written .tmp files are never copied.
func ArchiveLedger(dataDir, recordsDir, inventoryDir, reason string, now time.Time) (string, Meta, error) {
	dst := filepath.Join(dataDir, "archives", now.UTC().Format(stampLayout))
	if _, err := os.Stat(dst); err == nil {
		return "", Meta{}, fmt.Errorf("archive %s already exists", dst)
	}
	meta := Meta{CreatedAt: now.UTC().Format(time.RFC3339Nano), Reason: reason}

	for _, src := range []struct {
		dir, name string
		count     *int
		suffix    string
	}{
		{recordsDir, "worldpositions", &meta.Records, ".json"},
		{inventoryDir, "inventories", &meta.Inventories, ".inv.zst"},
	} {
		if src.dir == "" {
			continue
		}
		n, size, err := copyTree(src.dir, filepath.Join(dst, src.name), src.suffix)
		if err != nil {
			return "", Meta{}, fmt.Errorf("archive %s: %w", src.name, err)
		}
		*src.count += n
		meta.Bytes += size
	}

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", Meta{}, err
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", Meta{}, err
	}
	if err := os.WriteFile(filepath.Join(dst, "meta.json"), b, 0o644); err != nil {
		return "", Meta{}, err
	}
	return dst, meta, nil
}

// List returns the archive directories under dataDir, newest first.
func List(dataDir string) ([]string, error) {
	ents, err := os.ReadDir(filepath.Join(dataDir, "archives"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		if _, err := time.Parse(stampLayout, e.Name()); err != nil {
			continue
		}
		out = append(out, filepath.Join(dataDir, "archives", e.Name()))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

func copyTree(srcDir, dstDir, suffix string) (int, int64, error) {
	if _, err := os.Stat(srcDir); os.IsNotExist(err) {
		return 0, 0, nil
	}
	var (
		n    int
		size int64
	)
	err := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		dst := filepath.Join(dstDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		written, err := copyFile(p, dst)
		if err != nil {
			return err
		}
		n++
		size += written
		return nil
	})
	return n, size, err
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer func() { _ = out.Close() }()

	n, err := io.Copy(out, in)
	if err != nil {
		return n, err
	}
	return n, out.Close()
}
