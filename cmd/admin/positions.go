package main

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"worldmemory.ai/internal/command"
	"worldmemory.ai/internal/config"
	"worldmemory.ai/internal/hostsim"
	"worldmemory.ai/internal/ledger"
	"worldmemory.ai/internal/persistence/indexdb"
	"worldmemory.ai/internal/sim/dimension"
)

// offline is a command service over the durable ledger and a host with no
// clients, so every edit lands in the stored record.
type offline struct {
	cfg   config.Config
	store ledger.Store
	cmds  *command.Service
	close func()
}

func openOffline(dataDir, configPath string) (*offline, error) {
	cfg := config.Default()
	if strings.TrimSpace(configPath) != "" {
		c, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = c
	}
	store, closeFn, err := openStore(dataDir, cfg.Storage)
	if err != nil {
		return nil, err
	}
	src := config.Static(cfg)
	h := hostsim.New(hostsim.Config{Dimensions: cfg.Dimensions()}, nil)
	led := ledger.New(src, store, nil)
	return &offline{
		cfg:   cfg,
		store: store,
		cmds:  command.New(src, h, led, command.Options{}),
		close: closeFn,
	}, nil
}

func openStore(dataDir string, spec config.StorageSpec) (ledger.Store, func(), error) {
	if spec.Backend == "sqlite" {
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "ledger.sqlite"))
		if err != nil {
			return nil, nil, err
		}
		return idx, func() { _ = idx.Close() }, nil
	}
	fs, err := ledger.NewFileStore(recordsDir(dataDir, spec))
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}

func recordsDir(dataDir string, spec config.StorageSpec) string {
	if filepath.IsAbs(spec.Dir) {
		return spec.Dir
	}
	return filepath.Join(dataDir, spec.Dir)
}

func positionsCmd(args []string, out io.Writer) error {
	if len(args) == 0 {
		return usageError("positions: missing info|clear|set|list")
	}
	op := args[0]
	fs := flag.NewFlagSet("positions "+op, flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	configPath := fs.String("config", "", "mwp.yaml path (optional)")
	client := fs.String("client", "", "client uuid")
	dim := fs.String("dimension", "", "dimension id (clear: empty clears everything)")
	x := fs.Float64("x", 0, "x")
	y := fs.Float64("y", 0, "y")
	z := fs.Float64("z", 0, "z")
	yaw := fs.String("yaw", "", "yaw (optional)")
	pitch := fs.String("pitch", "", "pitch (optional)")
	if err := fs.Parse(args[1:]); err != nil {
		return usageError(err.Error())
	}

	o, err := openOffline(*dataDir, *configPath)
	if err != nil {
		return err
	}
	defer o.close()

	if op == "list" {
		ids, err := o.store.List()
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	id, err := uuid.Parse(strings.TrimSpace(*client))
	if err != nil {
		return usageError("positions: bad -client")
	}
	switch op {
	case "info":
		info, err := o.cmds.Info(id)
		if err != nil {
			return err
		}
		for _, line := range info.Lines() {
			fmt.Fprintln(out, line)
		}
	case "clear":
		if *dim == "" {
			if err := o.cmds.ClearAll(id); err != nil {
				return err
			}
			fmt.Fprintf(out, "cleared all positions for %s\n", id)
			return nil
		}
		d := dimension.Normalize(*dim)
		removed, err := o.cmds.Clear(id, d)
		if err != nil {
			return err
		}
		if !removed {
			fmt.Fprintf(out, "no position stored for %s in %s\n", id, d)
			return nil
		}
		fmt.Fprintf(out, "cleared %s for %s\n", d, id)
	case "set":
		if *dim == "" {
			return usageError("positions set: missing -dimension")
		}
		yp, err := optFloat32(*yaw)
		if err != nil {
			return usageError("positions set: bad -yaw")
		}
		pp, err := optFloat32(*pitch)
		if err != nil {
			return usageError("positions set: bad -pitch")
		}
		pose, err := o.cmds.Set(id, dimension.ID(*dim), *x, *y, *z, yp, pp)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "set %s for %s to %s\n", dimension.Normalize(*dim), id, pose)
	default:
		return usageError("positions: unknown op " + op)
	}
	return nil
}

func optFloat32(s string) (*float32, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var f float32
	if _, err := fmt.Sscan(s, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
