package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"strings"

	"worldmemory.ai/internal/command"
	"worldmemory.ai/internal/config"
	"worldmemory.ai/internal/hostsim"
	"worldmemory.ai/internal/inventory"
	"worldmemory.ai/internal/ledger"
	"worldmemory.ai/internal/multiworld"
	"worldmemory.ai/internal/persistence/indexdb"
	persistlog "worldmemory.ai/internal/persistence/log"
	"worldmemory.ai/internal/portal"
	"worldmemory.ai/internal/transport/admin"
	"worldmemory.ai/internal/transport/ws"
)

type runtimeConfig struct {
	ConfigPath string
	DataDir    string
	Store      string
	TickHz     int
	DisableDB  bool
}

// runtime is everything one server process owns, in start order.
type runtime struct {
	logger  *log.Logger
	holder  *config.Holder
	host    *hostsim.Server
	ledger  *ledger.Ledger
	manager *multiworld.Manager
	cmds    *command.Service
	ws      *ws.Server
	index   *indexdb.SQLiteIndex
	audit   *persistlog.AuditLogger
	offsite *offsiteRuntime
}

func loadHolder(path string, logger *log.Logger) (*config.Holder, error) {
	path = strings.TrimSpace(path)
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return config.LoadHolder(path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		logger.Printf("config %s not found; using defaults", path)
	}
	return config.NewHolder(path, config.Default()), nil
}

func buildRuntime(rc runtimeConfig, logger *log.Logger) (*runtime, error) {
	holder, err := loadHolder(rc.ConfigPath, logger)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg := holder.Get()
	if err := os.MkdirAll(rc.DataDir, 0o755); err != nil {
		return nil, err
	}

	rt := &runtime{logger: logger, holder: holder}
	rt.offsite, err = buildOffsiteRuntime(rc.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("offsite: %w", err)
	}
	store, idx, err := openLedgerStore(rc.DataDir, cfg.Storage, rc.Store, rc.DisableDB, rt.offsite, logger)
	if err != nil {
		rt.offsite.Close()
		return nil, err
	}
	rt.index = idx

	rt.host = hostsim.New(hostsim.Config{TickRateHz: rc.TickHz, Dimensions: cfg.Dimensions()}, logger)
	holder.OnChange(func(c config.Config) {
		for _, d := range c.Dimensions() {
			rt.host.AddDimension(d)
		}
	})

	rt.audit = persistlog.NewAuditLogger(rc.DataDir)
	if rt.offsite.enabled {
		rt.audit.OnSegmentClosed(rt.offsite.Enqueue)
	}

	rt.ledger = ledger.New(holder, store, logger)
	swapper := inventory.NewSwapper(holder, rt.host, ledger.NewInventoryStore(filepath.Join(rc.DataDir, "inventories")), logger)
	linker := portal.NewLinker(holder, rt.host, portal.Options{
		Ledger:    rt.ledger,
		Inventory: swapper,
		Audit:     rt.audit,
		Logger:    logger,
	})

	opts := multiworld.Options{
		Ledger:    rt.ledger,
		Inventory: swapper,
		Linker:    linker,
		State:     portal.NewState(),
		Audit:     rt.audit,
		Logger:    logger,
		StateFile: filepath.Join(rc.DataDir, "multiworld", "stats.json"),
	}
	if idx != nil {
		opts.Index = idx
	}
	rt.manager, err = multiworld.NewManager(holder, rt.host, opts)
	if err != nil {
		rt.closeStores()
		return nil, err
	}
	rt.host.SetHandler(rt.manager)

	rt.cmds = command.New(holder, rt.host, rt.ledger, command.Options{Reloader: holder, Logger: logger})
	rt.ws = ws.NewServer(rt.host, rt.cmds, logger)
	return rt, nil
}

func (rt *runtime) routes(enableAdmin, enablePprof bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		rt.writeMetrics(rw)
	})
	if enableAdmin {
		admin.New(rt.cmds, rt.host, rt.logger).Register(mux)
	} else {
		rt.logger.Printf("admin endpoints disabled (MWP_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		rt.logger.Printf("pprof endpoints disabled (MWP_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", rt.ws.Handler())
	return mux
}

// shutdown runs after the tick loop has returned: it saves every connected
// client, flushes the outcome totals and closes the stores. Closing the
// audit logger finishes the current segments, which the mirror then uploads.
func (rt *runtime) shutdown(ctx context.Context) error {
	err := rt.manager.Shutdown(ctx)
	rt.manager.Close()
	rt.closeStores()
	return err
}

func (rt *runtime) closeStores() {
	if rt.audit != nil {
		if err := rt.audit.Close(); err != nil {
			rt.logger.Printf("audit close: %v", err)
		}
	}
	rt.offsite.Close()
	closeIndex(rt.index)
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
