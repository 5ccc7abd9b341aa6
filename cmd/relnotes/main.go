// Package main is the relnotes CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/batch"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/cli"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/config"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/metrics"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/models"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/queue"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/server"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/similarity"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/storage"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/watcher"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/relnotes/config.yaml"
	defaultServerURL  = "http://localhost:8484"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "related":
		runRelated()
	case "status":
		runStatus()
	case "reindex":
		runReindex()
	case "version", "--version", "-v":
		fmt.Printf("relnotes version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads the config and builds the logger shared by every subcommand.
func setup(configPath string, debugFlag bool) (*config.Config, string, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || debugFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, resolved, logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger := setup(*configPath, *debug)
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("family", cfg.Similarity.Family),
		zap.Strings("vault", cfg.Vault.Directories))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	components, err := initializeComponents(cfg, logger, reg)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine := components.Engine

	if _, err := engine.LoadSnapshot(ctx, components.Snapshots); err != nil {
		logger.Warn("snapshot restore skipped", zap.Error(err))
	}

	q := queue.New(engine,
		queue.WithDebounce(cfg.Indexing.Debounce),
		queue.WithMinBatchInterval(cfg.Indexing.MinBatchInterval),
		queue.WithResync(func(ctx context.Context) error {
			_, err := engine.Initialize(ctx, nil)
			return err
		}),
		queue.WithLogger(logger))
	go func() {
		if err := q.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("update queue stopped", zap.Error(err))
		}
	}()

	if components.Files != nil {
		w := watcher.New(components.Files, q, cfg.Vault.RecursiveOrDefault(), watcher.WithLogger(logger))
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
	}

	go func() {
		rep, err := engine.Initialize(ctx, progressLogger(logger))
		if err != nil {
			logger.Error("initial indexing failed", zap.Error(err))
			return
		}
		logger.Info("initial indexing done",
			zap.String("run_id", rep.RunID),
			zap.Stringer("outcome", rep.Outcome),
			zap.Int("documents", engine.Len()))
	}()

	srv := server.NewServer(engine, components.Docs, cfg, logger, server.WithMetrics(components.Metrics, reg))
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	engine.Cancel()
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = srv.Stop(stopCtx)
	if err := engine.SaveSnapshot(stopCtx, components.Snapshots); err != nil {
		logger.Warn("snapshot save failed", zap.Error(err))
	}
}

func runRelated() {
	fs := flag.NewFlagSet("related", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, `server URL (empty = index the vault directly)`)
	limit := fs.Int("limit", 0, "maximum number of related documents (0 = config max_results)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: relnotes related [flags] <document-id>")
		os.Exit(1)
	}
	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	query := models.RelatedQuery{ID: fs.Arg(0), Limit: *limit}

	var response *models.RelatedResponse
	if *serverURL != "" {
		response, err = relatedViaHTTP(*serverURL, query)
	} else {
		response, err = relatedDirect(*configPath, query)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Related failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteRelated(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// relatedDirect brings the local index up to date and queries it without a server.
func relatedDirect(configPath string, query models.RelatedQuery) (*models.RelatedResponse, error) {
	cfg, _, logger := setup(configPath, false)
	defer logger.Sync()
	if err := query.Validate(cfg.Similarity.MaxResults); err != nil {
		return nil, err
	}
	components, err := initializeComponents(cfg, logger, nil)
	if err != nil {
		return nil, err
	}
	defer components.Close()

	ctx := context.Background()
	engine := components.Engine
	if _, err := engine.LoadSnapshot(ctx, components.Snapshots); err != nil {
		logger.Warn("snapshot restore skipped", zap.Error(err))
	}
	if _, err := engine.Initialize(ctx, nil); err != nil {
		return nil, err
	}
	if err := engine.SaveSnapshot(ctx, components.Snapshots); err != nil {
		logger.Warn("snapshot save failed", zap.Error(err))
	}

	start := time.Now()
	if _, ok := engine.Document(query.ID); !ok {
		if err := engine.AddDocument(ctx, query.ID, nil); err != nil {
			return nil, err
		}
	}
	return buildRelatedResponse(engine, query, start), nil
}

func buildRelatedResponse(engine *similarity.Engine, query models.RelatedQuery, start time.Time) *models.RelatedResponse {
	related := engine.Related(query.ID, query.Limit)
	stats := engine.Statistics()
	resp := &models.RelatedResponse{
		ID:        query.ID,
		Results:   make([]*models.RelatedResult, len(related)),
		Total:     len(related),
		QueryTime: time.Since(start).Milliseconds(),
		Sampled:   stats.Sampled,
		Relaxed:   stats.Relaxed,
	}
	for i := range related {
		resp.Results[i] = &related[i]
	}
	return resp
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read the saved snapshot)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var stats similarity.Stats
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		stats = res.Engine
	} else {
		cfg, _, logger := setup(*configPath, false)
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		if _, err := components.Engine.LoadSnapshot(context.Background(), components.Snapshots); err != nil {
			fmt.Fprintf(os.Stderr, "Snapshot load failed: %v\n", err)
			os.Exit(1)
		}
		stats = components.Engine.Statistics()
	}
	if err := cli.WriteStats(os.Stdout, stats, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runReindex() {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = rebuild the saved index directly)")
	cancelRun := fs.Bool("cancel", false, "cancel the server's running reindex")
	incremental := fs.Bool("incremental", false, "only recompute documents that changed")
	_ = fs.Parse(os.Args[2:])

	if *serverURL != "" {
		msg, err := reindexViaHTTP(*serverURL, *cancelRun, *incremental)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Reindex failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(msg)
		return
	}
	if *cancelRun {
		fmt.Fprintln(os.Stderr, "--cancel needs a running server")
		os.Exit(1)
	}

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger, nil)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	engine := components.Engine
	run := engine.ForceReindex
	if *incremental {
		if _, err := engine.LoadSnapshot(ctx, components.Snapshots); err != nil {
			logger.Warn("snapshot restore skipped", zap.Error(err))
		}
		run = engine.Initialize
	}
	rep, err := run(ctx, func(processed, total int) {
		fmt.Fprintf(os.Stderr, "\rindexed %d/%d", processed, total)
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Reindex failed: %v\n", err)
		os.Exit(1)
	}
	if err := engine.SaveSnapshot(context.Background(), components.Snapshots); err != nil {
		fmt.Fprintf(os.Stderr, "Snapshot save failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("run %s %s: %d processed, %d unchanged, %d removed, %d failed in %s\n",
		rep.RunID, rep.Outcome, rep.Processed, rep.Skipped, rep.Removed, len(rep.Failed), rep.Duration.Round(time.Millisecond))
}

// progressLogger logs bulk progress in steps of 10%.
func progressLogger(logger *zap.Logger) batch.Progress {
	last := -10
	return func(processed, total int) {
		if total == 0 {
			return
		}
		pct := processed * 100 / total
		if pct/10 == last/10 && processed != total {
			return
		}
		last = pct
		logger.Info("indexing progress", zap.Int("processed", processed), zap.Int("total", total))
	}
}

// argsReorder moves any flags (and their values) that appear after the positional
// arguments to the front so that flag.Parse sees them. Go's flag package stops at
// the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// Components holds initialized services.
type Components struct {
	Docs      *storage.SQLiteStorage
	Files     *storage.FileStore
	Snapshots *storage.SnapshotStore
	Metrics   *metrics.Metrics
	Engine    *similarity.Engine
}

// Close releases the database.
func (c *Components) Close() {
	if c.Docs != nil {
		_ = c.Docs.Close()
	}
}

// initializeComponents opens the database, the vault store and the engine. A nil
// reg disables metrics.
func initializeComponents(cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*Components, error) {
	docs, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Docs: docs, Snapshots: storage.NewSnapshotStore(docs, logger)}

	var stores storage.MultiStore
	if len(cfg.Vault.Directories) > 0 {
		c.Files, err = storage.NewFileStore(storage.FileStoreConfig{
			Roots:      cfg.Vault.Directories,
			Extensions: cfg.Vault.Extensions,
			Recursive:  cfg.Vault.RecursiveOrDefault(),
			CacheSize:  cfg.Indexing.ContentCacheSize,
			Logger:     logger,
		})
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to open vault: %w", err)
		}
		stores = append(stores, c.Files)
	}
	stores = append(stores, docs)
	store := storage.NewRetryStore(stores, storage.RetryConfig{
		MaxAttempts: cfg.Indexing.FetchRetries,
		Timeout:     30 * time.Second,
	}, logger)

	if reg != nil {
		c.Metrics = metrics.New(reg)
	}
	opts := []similarity.Option{
		similarity.WithLogger(logger),
		similarity.WithMetrics(c.Metrics),
		similarity.WithBatchSize(cfg.Indexing.BatchSize),
		similarity.WithConcurrency(cfg.Indexing.Concurrency),
	}
	if cfg.Indexing.YieldInterval > 0 {
		opts = append(opts, similarity.WithYielder(batch.PacedYielder(cfg.Indexing.YieldInterval)))
	}
	c.Engine, err = similarity.New(cfg.Similarity, store, opts...)
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func printUsage() {
	fmt.Println(`relnotes - related-document index for a notes vault

Usage:
  relnotes server [flags]          Start the HTTP server and watch the vault
  relnotes related [flags] <id>    List documents related to <id>
  relnotes status [flags]          Show index statistics
  relnotes reindex [flags]         Rebuild the index
  relnotes version                 Show version
  relnotes help                    Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/relnotes/config.yaml)
  --debug            Enable debug logging

Related Flags:
  --server string    Server URL (default: http://localhost:8484). Use --server "" to index the vault directly.
  --config string    Config file path (direct mode)
  --limit int        Maximum number of results (default from config)
  --output string    Output format: text or json (default: text)

Status Flags:
  --server string    Server URL. Use --server "" to read the saved snapshot.
  --output string    Output format: text or json (default: text)

Reindex Flags:
  --server string    Server URL. Use --server "" to rebuild the saved index directly.
  --incremental      Only recompute documents that changed
  --cancel           Cancel the server's running reindex

Examples:
  relnotes server
  relnotes related projects/roadmap.md
  relnotes related --output json --limit 5 projects/roadmap.md
  relnotes related --server "" daily/2024-01-03.md
  relnotes status --output json
  relnotes reindex --incremental`)
}
