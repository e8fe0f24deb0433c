package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"darkarts.ai/internal/logging"
	persistlog "darkarts.ai/internal/persistence/log"
	"darkarts.ai/internal/sim/category"
	"darkarts.ai/internal/sim/dispatch"
	"darkarts.ai/internal/sim/tuning"
	"darkarts.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (defaults apply when missing)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (units are then kept in memory)")
		logLevel   = flag.String("log_level", "", "override tuning log level (debug|info|warn|error)")
	)
	flag.Parse()

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(2)
		}
		tune = tuning.Defaults()
	}
	if *logLevel != "" {
		tune.Log.Level = *logLevel
	}
	lvl, err := tuning.ParseLevel(tune.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := logging.New(logging.Options{File: tune.Log.File})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer logger.Close()
	logger.Level.Set(lvl)
	log := logger.Logger

	if err := run(*addr, *dataDir, *disableDB, tune, logger); err != nil {
		log.Error("server stopped", "error", err)
		_ = logger.Close()
		os.Exit(1)
	}
}

func run(addr, dataDir string, disableDB bool, tune tuning.Tuning, logger *logging.Logger) error {
	log := logger.Logger

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	idx, err := openRuntimeIndex(dataDir, disableDB)
	if err != nil {
		return fmt.Errorf("open index backend: %w", err)
	}
	defer idx.Close()

	units := category.NewIndex(idx, log)
	a, err := units.Load(ctx)
	if err != nil {
		return fmt.Errorf("load units: %w", err)
	}
	n := 0
	for _, ids := range a {
		n += len(ids)
	}
	log.Info("units loaded", "members", n)

	thresholds, err := tune.ThresholdStore()
	if err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}

	mirror, err := buildMirror(dataDir, log)
	if err != nil {
		return err
	}
	defer mirror.Close()

	dlog := persistlog.NewDispatchLog(dataDir)
	if mirror != nil {
		dlog.SetLayout(persistlog.MinuteLayout)
		dlog.OnSealed(mirror.Enqueue)
		log.Info("offsite mirror enabled")
	}
	// Closed before the mirror so the last segment is still uploaded.
	defer dlog.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	if envBool("DARKARTS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		registerAdmin(mux, adminDeps{units: units, thresholds: thresholds, index: idx, mirror: mirror})
	} else {
		log.Info("admin endpoints disabled (DARKARTS_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("DARKARTS_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(ws.Options{
		Thresholds: thresholds,
		Index:      units,
		Recorder:   dispatch.Recorders{dlog, idx},
		Engine:     tune.Engine(),
		Logger:     log,
	}).Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", addr, "data", filepath.Clean(dataDir))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	return g.Wait()
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
