package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"worldmemory.ai/internal/config"
	"worldmemory.ai/internal/ledger"
	"worldmemory.ai/internal/persistence/indexdb"
	"worldmemory.ai/internal/persistence/offsite"
)

// openLedgerStore picks the durable ledger backend. The sqlite index is
// opened for outcome rows whatever the backend, unless disabled; with the
// sqlite backend it is also the store, seeded once from the JSON records.
func openLedgerStore(dataDir string, spec config.StorageSpec, backend string, disableDB bool, mirror *offsiteRuntime, logger *log.Logger) (ledger.Store, *indexdb.SQLiteIndex, error) {
	backend = strings.ToLower(strings.TrimSpace(backend))
	if backend == "" {
		backend = spec.Backend
	}
	jsonDir := spec.Dir
	if !filepath.IsAbs(jsonDir) {
		jsonDir = filepath.Join(dataDir, jsonDir)
	}

	var idx *indexdb.SQLiteIndex
	if !disableDB || backend == "sqlite" {
		var err error
		idx, err = indexdb.OpenSQLite(filepath.Join(dataDir, "index", "ledger.sqlite"))
		if err != nil {
			return nil, nil, fmt.Errorf("open index: %w", err)
		}
	}

	switch backend {
	case "json":
		fs, err := ledger.NewFileStore(jsonDir)
		if err != nil {
			closeIndex(idx)
			return nil, nil, err
		}
		if mirror != nil && mirror.enabled {
			return offsite.MirrorStore(fs, mirror.mirror), idx, nil
		}
		return fs, idx, nil
	case "sqlite":
		if err := seedFromJSON(idx, jsonDir, logger); err != nil {
			closeIndex(idx)
			return nil, nil, err
		}
		return idx, idx, nil
	default:
		closeIndex(idx)
		return nil, nil, fmt.Errorf("unsupported storage backend: %s", backend)
	}
}

func seedFromJSON(idx *indexdb.SQLiteIndex, jsonDir string, logger *log.Logger) error {
	ids, err := idx.List()
	if err != nil || len(ids) > 0 {
		return err
	}
	if _, err := os.Stat(jsonDir); err != nil {
		return nil
	}
	fs, err := ledger.NewFileStore(jsonDir)
	if err != nil {
		return err
	}
	n, err := idx.Import(fs)
	if err != nil {
		return fmt.Errorf("import %s: %w", jsonDir, err)
	}
	if n > 0 {
		logger.Printf("ledger: imported %d json records into sqlite", n)
	}
	return nil
}

func closeIndex(idx *indexdb.SQLiteIndex) {
	if idx != nil {
		_ = idx.Close()
	}
}
