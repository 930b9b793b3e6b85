// Package main is the entry point of the warden script host.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dshills/warden/internal/config"
	"github.com/dshills/warden/internal/host"
	"github.com/dshills/warden/internal/logging"
	"github.com/dshills/warden/internal/metrics"
	"github.com/dshills/warden/internal/runtime"
	"github.com/dshills/warden/internal/runtime/api"
	plua "github.com/dshills/warden/internal/runtime/lua"
	"github.com/dshills/warden/internal/security"
	"github.com/dshills/warden/internal/watcher"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	tenant string
	owner  string
	user   string
	run    string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, opts, logger); err != nil {
		logger.Error("warden stopped", zap.Error(err))
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg *config.Config, opts options, logger *zap.Logger) error {
	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
	}

	quotas, err := config.LoadQuotas(cfg.Quota.File)
	if err != nil {
		return err
	}

	store, err := host.OpenStore(cfg.Store.DSN, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	h, err := host.New(store,
		host.WithLogger(logger),
		host.WithMetrics(m),
		host.WithQuotas(quotas),
	)
	if err != nil {
		return err
	}

	reg, err := api.DefaultRegistry()
	if err != nil {
		return err
	}
	logger.Debug("script modules registered", zap.Strings("modules", reg.List()))

	rt, err := runtime.New(
		runtime.WithLogger(logger),
		runtime.WithMetrics(m),
		runtime.WithModules(reg.Modules()...),
		runtime.WithQueueSize(cfg.Runtime.QueueSize),
		runtime.WithStateOptions(
			plua.WithCallStackSize(cfg.Runtime.CallStackSize),
			plua.WithRegistryLimits(cfg.Runtime.RegistrySize, cfg.Runtime.RegistryMaxSize),
		),
	)
	if err != nil {
		return err
	}
	defer rt.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mgr := runtime.NewManager(rt,
		runtime.WithManagerLogger(logger),
		runtime.WithOnBroken(func(reason string) {
			logger.Error("runtime broken, shutting down", zap.String("reason", reason))
			cancel()
		}),
	)
	defer mgr.Close()

	caps, err := security.NewSet(cfg.Runtime.Capabilities...)
	if err != nil {
		return err
	}
	iso, err := rt.NewIsolate(caps, runtime.WithName("main"))
	if err != nil {
		return err
	}
	mgr.SetMainIsolate(iso)

	scripts := host.NewScripts(os.DirFS(cfg.Scripts.Dir))

	if opts.run != "" {
		return runOnce(ctx, cfg, opts, h, scripts, iso)
	}

	if cfg.Scripts.Watch {
		w, err := watcher.New(
			watcher.WithExtensions(host.ScriptExt),
			watcher.WithDebounce(cfg.Scripts.Delay),
			watcher.WithIgnoreHidden(true),
			watcher.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		defer w.Close()
		w.OnChange(watcher.InvalidateOnChange(mgr, logger))
		if err := w.Watch(cfg.Scripts.Dir); err != nil {
			return fmt.Errorf("watching %s: %w", cfg.Scripts.Dir, err)
		}
	}

	if cfg.Dispatch.Schedule != "" {
		d := host.NewDispatcher(h, scripts, mgr,
			host.WithSchedule(cfg.Dispatch.Schedule),
			host.WithDispatchCaps(caps.Strings()...),
			host.WithSpawnTimeout(cfg.Runtime.SpawnTimeout),
			host.WithDispatchLogger(logger),
		)
		if err := d.Start(ctx); err != nil {
			return err
		}
		defer d.Stop()
	}

	logger.Info("warden started",
		zap.String("version", version),
		zap.String("scripts", cfg.Scripts.Dir),
		zap.Strings("capabilities", caps.Strings()),
	)
	<-ctx.Done()
	logger.Info("shutting down")

	if rt.IsBroken() {
		return rt.Err()
	}
	return nil
}

// runOnce runs one template for a tenant and prints its results as JSON.
func runOnce(ctx context.Context, cfg *config.Config, opts options, h *host.Host, scripts *host.Scripts, iso *runtime.Isolate) error {
	code, err := scripts.Load(opts.run)
	if err != nil {
		return err
	}
	name, _ := scripts.Path(opts.run)

	pctx := h.NewContext(opts.tenant,
		host.WithOwner(opts.owner),
		host.WithUser(opts.user),
		host.WithCaps(iso.Capabilities().Strings()...),
	)

	ctx, cancel := context.WithTimeout(ctx, cfg.Runtime.SpawnTimeout)
	defer cancel()

	vals, err := iso.Spawn(ctx, name, code, pctx)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(vals)
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.tenant, "tenant", "default", "Tenant to run as")
	flag.StringVar(&opts.owner, "owner", "", "Tenant owning the template (defaults to -tenant)")
	flag.StringVar(&opts.user, "user", "", "User triggering the run")
	flag.StringVar(&opts.run, "run", "", "Run one template and exit")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "warden - multi-tenant script host\n\n")
		fmt.Fprintf(os.Stderr, "Usage: warden [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nSettings are read from %s_* environment variables.\n", config.EnvPrefix)
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  warden                            Serve scheduled executions\n")
		fmt.Fprintf(os.Stderr, "  warden -run jobs/cleanup -tenant g1  Run one template\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("warden %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	return opts
}
