package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"worldmemory.ai/internal/config"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		configPath  = flag.String("config", "./configs/mwp.yaml", "mwp.yaml path (defaults are used when missing)")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		store       = flag.String("store", "", "ledger backend: json | sqlite (default: storage.backend from config)")
		tickHz      = flag.Int("tick_hz", 20, "host tick rate")
		watchConfig = flag.Bool("watch_config", true, "reload the config file when it changes")
		disableDB   = flag.Bool("disable_db", false, "disable the sqlite outcome index (ignored with -store=sqlite)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[mwp] ", log.LstdFlags|log.Lmicroseconds)

	rt, err := buildRuntime(runtimeConfig{
		ConfigPath: *configPath,
		DataDir:    *dataDir,
		Store:      *store,
		TickHz:     *tickHz,
		DisableDB:  *disableDB,
	}, logger)
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if *watchConfig {
		if err := config.Watch(ctx, rt.holder, logger); err != nil {
			logger.Printf("config watch disabled: %v", err)
		}
	}

	hostDone := make(chan struct{})
	go func() {
		defer close(hostDone)
		if err := rt.host.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("host: %v", err)
		}
	}()

	enableAdminHTTP := envBool("MWP_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("MWP_ENABLE_PPROF_HTTP", false)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           rt.routes(enableAdminHTTP, enablePprofHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (tick=%dHz dims=%d)", *addr, rt.host.TickRateHz(), len(rt.host.DimensionIDs()))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	cancel()
	<-hostDone
	ctx3, cancel3 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel3()
	if err := rt.shutdown(ctx3); err != nil {
		logger.Printf("shutdown: %v", err)
	}
	logger.Printf("stopped")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
