package main

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"worldmemory.ai/internal/config"
	"worldmemory.ai/internal/persistence/archive"
)

func archiveCmd(args []string, out io.Writer) error {
	if len(args) == 0 {
		return usageError("archive: missing create|list")
	}
	fs := flag.NewFlagSet("archive "+args[0], flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	configPath := fs.String("config", "", "mwp.yaml path (optional)")
	reason := fs.String("reason", "", "note stored with the archive")
	if err := fs.Parse(args[1:]); err != nil {
		return usageError(err.Error())
	}

	switch args[0] {
	case "create":
		cfg := config.Default()
		if *configPath != "" {
			c, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			cfg = c
		}
		dst, meta, err := archive.ArchiveLedger(*dataDir, recordsDir(*dataDir, cfg.Storage), filepath.Join(*dataDir, "inventories"), *reason, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "archived %d records and %d inventories (%s) to %s\n",
			meta.Records, meta.Inventories, humanize.Bytes(uint64(meta.Bytes)), dst)
	case "list":
		names, err := archive.List(*dataDir)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(out, n)
		}
	default:
		return usageError("archive: unknown op " + args[0])
	}
	return nil
}
