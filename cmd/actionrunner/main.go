// Command actionrunner wires the Transport, CDP Adapter, Session
// Registry, Network Tap, Snapshot Sampler, Anchor Resolver, Tool Runtime,
// Evidence Binding, Recipe Store and Agent Loop Controller against a
// launcher-booted Chromium, for manual and integration runs. The actual
// planning decisions come from a scripted YAML step list rather than a
// model provider: the planner itself is an external collaborator this
// entrypoint does not implement.
//
// -url is rejected up front when its host resolves to a non-public address
// (-allow-private-hosts overrides this for local/dev targets); a host name
// that fails to resolve is not rejected by this check. Separately,
// -trace-sql routes the evidence and recipe stores through the SQL tracing
// driver for slow-query diagnosis.
//
// Usage:
//
//	actionrunner -config run.yaml
//	actionrunner -url https://example.com -goal "open the page" -log-level debug
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/RcityLucas/SoulBrowser-sub002/dbopen"
	"github.com/RcityLucas/SoulBrowser-sub002/horosafe"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/agentloop"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/anchor"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/cdpadapter"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/eventbus"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/evidence"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/ids"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/judge"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/networktap"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/recipes"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/registry"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/snapshot"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/toolruntime"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/transport"
	"github.com/RcityLucas/SoulBrowser-sub002/observability"
	"github.com/RcityLucas/SoulBrowser-sub002/trace"
	"github.com/RcityLucas/SoulBrowser-sub002/watch"
)

func main() {
	configPath := flag.String("config", "", "path to an actionrunner YAML config")
	url := flag.String("url", "", "single URL to open (ignored when -config is set)")
	goal := flag.String("goal", "", "goal text recorded on the run result (ignored when -config is set)")
	maxSteps := flag.Int("max-steps", 0, "override the agent loop's max steps (0 keeps the config/default)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	traceSQL := flag.Bool("trace-sql", false, "trace every evidence/recipe store query to <data-dir>/sql-trace.db")
	allowPrivateHosts := flag.Bool("allow-private-hosts", false, "skip the SSRF guard on -url (only for local/dev targets)")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(*configPath, *url, *goal)
	if err != nil {
		logger.Error("actionrunner: fatal", "error", err)
		os.Exit(1)
	}
	if *maxSteps > 0 {
		cfg.MaxSteps = *maxSteps
	}
	cfg.TraceSQL = *traceSQL
	cfg.AllowPrivateHosts = *allowPrivateHosts

	result, err := run(ctx, logger, cfg)
	if err != nil {
		logger.Error("actionrunner: fatal", "error", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	os.Stdout.Write(out)
	os.Stdout.Write([]byte("\n"))
}

func loadConfig(configPath, url, goal string) (*RunConfig, error) {
	if configPath != "" {
		return LoadRunConfig(configPath)
	}
	if url == "" {
		return nil, fmt.Errorf("usage: actionrunner -config <file> | -url <url> -goal <text>")
	}
	cfg := &RunConfig{URL: url, Goal: goal}
	cfg.applyDefaults()
	return cfg, nil
}

// run wires every component and drives one agent loop to completion.
func run(ctx context.Context, logger *slog.Logger, cfg *RunConfig) (agentloop.Result, error) {
	if !cfg.AllowPrivateHosts {
		if err := horosafe.ValidateURL(cfg.URL); err != nil {
			return agentloop.Result{}, fmt.Errorf("actionrunner: refusing to navigate: %w", err)
		}
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return agentloop.Result{}, fmt.Errorf("actionrunner: data dir: %w", err)
	}

	storeDriver := "sqlite"
	if cfg.TraceSQL {
		traceRawDB, err := dbopen.Open(filepath.Join(cfg.DataDir, "sql-trace.db"), dbopen.WithMkdirAll())
		if err != nil {
			return agentloop.Result{}, fmt.Errorf("actionrunner: open trace store: %w", err)
		}
		defer traceRawDB.Close()
		traceStore := trace.NewStore(traceRawDB)
		if err := traceStore.Init(); err != nil {
			return agentloop.Result{}, fmt.Errorf("actionrunner: init trace store: %w", err)
		}
		defer traceStore.Close()
		trace.SetStore(traceStore)
		defer trace.SetStore(nil)
		storeDriver = "sqlite-trace"
	}

	eventDB, err := dbopen.Open(filepath.Join(cfg.DataDir, "events.db"), dbopen.WithMkdirAll())
	if err != nil {
		return agentloop.Result{}, fmt.Errorf("actionrunner: open event store: %w", err)
	}
	defer eventDB.Close()
	historyStore, err := eventbus.NewSQLiteHistoryStore(eventDB, 256, time.Second, eventbus.DefaultRetentionPolicy(), logger)
	if err != nil {
		return agentloop.Result{}, fmt.Errorf("actionrunner: history store: %w", err)
	}
	defer historyStore.Close()

	evidenceDB, err := dbopen.Open(filepath.Join(cfg.DataDir, "evidence.db"), dbopen.WithMkdirAll(), dbopen.WithDriver(storeDriver))
	if err != nil {
		return agentloop.Result{}, fmt.Errorf("actionrunner: open evidence db: %w", err)
	}
	defer evidenceDB.Close()
	evidenceStore, err := evidence.Open(filepath.Join(cfg.DataDir, "evidence"), evidenceDB, evidence.Options{Logger: logger})
	if err != nil {
		return agentloop.Result{}, fmt.Errorf("actionrunner: evidence store: %w", err)
	}
	defer evidenceStore.Close()

	recipeDB, err := dbopen.Open(filepath.Join(cfg.DataDir, "recipes.db"), dbopen.WithMkdirAll(), dbopen.WithDriver(storeDriver))
	if err != nil {
		return agentloop.Result{}, fmt.Errorf("actionrunner: open recipe db: %w", err)
	}
	defer recipeDB.Close()
	recipeStore, err := recipes.Open(recipeDB)
	if err != nil {
		return agentloop.Result{}, fmt.Errorf("actionrunner: recipe store: %w", err)
	}
	defer recipeStore.Close()

	obsDB, err := dbopen.Open(filepath.Join(cfg.DataDir, "observability.db"), dbopen.WithMkdirAll())
	if err != nil {
		return agentloop.Result{}, fmt.Errorf("actionrunner: open observability db: %w", err)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		return agentloop.Result{}, fmt.Errorf("actionrunner: init observability schema: %w", err)
	}
	eventLogger := observability.NewEventLogger(obsDB)
	metrics := observability.NewMetricsManager(obsDB, 100, 5*time.Second)
	defer metrics.Close()
	heartbeat := observability.NewHeartbeatWriter(obsDB, "actionrunner", 15*time.Second)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	bus := eventbus.New(eventbus.WithLogger(logger), eventbus.WithHistoryStore(historyStore))
	reg := registry.New()
	tap := networktap.New(bus, networktap.Options{Logger: logger})
	adapter := cdpadapter.New(reg, tap, bus, cdpadapter.Options{Logger: logger})
	sampler := snapshot.New(adapter, snapshot.Options{Logger: logger})
	resolver := anchor.New(adapter, sampler, anchor.Options{Logger: logger})
	toolrt := toolruntime.New(adapter, resolver, sampler, tap, toolruntime.Options{
		Logger:    logger,
		Bus:       bus,
		JudgeOpts: judge.DefaultOptions(),
	})

	tr := transport.New(transport.Config{Logger: logger})
	browser, err := tr.Start(ctx)
	if err != nil {
		return agentloop.Result{}, fmt.Errorf("actionrunner: start browser: %w", err)
	}
	defer tr.Close()

	adapter.Start(ctx, browser)

	evidenceWatcher := watch.New(evidenceDB, watch.Options{
		Interval: 2 * time.Second,
		Debounce: 500 * time.Millisecond,
		Logger:   logger,
	})
	go evidenceWatcher.OnChange(ctx, func() error {
		_, err := evidenceStore.Sweep(ctx, time.Now())
		return err
	})

	page, err := tr.OpenPage(ctx, cfg.URL, true, 30*time.Second)
	if err != nil {
		return agentloop.Result{}, fmt.Errorf("actionrunner: open page: %w", err)
	}
	defer tr.ClosePage(page)

	pageID, err := awaitPageID(ctx, reg, string(page.TargetID))
	if err != nil {
		return agentloop.Result{}, fmt.Errorf("actionrunner: %w", err)
	}

	driver := &scriptedRun{
		logger:   logger,
		reg:      reg,
		adapter:  adapter,
		sampler:  sampler,
		toolrt:   toolrt,
		evidence: evidenceStore,
		recipes:  recipeStore,
		events:   eventLogger,
		metrics:  metrics,
		page:     pageID,
		steps:    cfg.Steps,
	}

	loopCfg := agentloop.DefaultConfiguration()
	if cfg.MaxSteps > 0 {
		loopCfg.MaxSteps = cfg.MaxSteps
	}
	controller := agentloop.New(loopCfg, agentloop.WithLogger(logger))

	result := controller.Run(ctx, cfg.Goal, driver.observe, driver.decide, driver.execute)
	return result, nil
}

// awaitPageID polls the registry for the page the adapter's Target event
// listener assigns to targetID, since that assignment happens
// asynchronously on the adapter's own event-dispatch goroutine.
func awaitPageID(ctx context.Context, reg *registry.Registry, targetID string) (ids.PageId, error) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		if page, ok := reg.PageByTarget(targetID); ok {
			return page, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("page %s never registered", targetID)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}
