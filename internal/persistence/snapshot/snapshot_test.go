package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestInventoryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inv", "g.inv.zst")
	in := InventoryV1{
		Header: Header{Version: Version, ClientID: "c", Group: "g", SavedAt: 42},
		Items: []ItemV1{
			{Slot: 0, Item: "minecraft:stone", Count: 64},
			{Slot: 8, Item: "minecraft:blaze_rod", Count: 1, Tag: "{named}"},
		},
		XPLevel:    7,
		XPProgress: 0.5,
	}
	if err := WriteInventory(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
	out, err := ReadInventory(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Header != in.Header || out.XPLevel != 7 || out.XPProgress != 0.5 || len(out.Items) != 2 || out.Items[1] != in.Items[1] {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestReadInventory_RejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.inv.zst")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc, _ := zstd.NewWriter(f)
	_, _ = enc.Write([]byte(`{"version":9}` + "\n"))
	_ = enc.Close()
	_ = f.Close()

	if _, err := ReadInventory(path); err == nil || !strings.Contains(err.Error(), "version") {
		t.Fatalf("expected version error, got %v", err)
	}
}
