// Package main is the uttree CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hyperjump/uttree/internal/cli"
	"github.com/hyperjump/uttree/internal/config"
	"github.com/hyperjump/uttree/internal/embedding"
	"github.com/hyperjump/uttree/internal/graph"
	"github.com/hyperjump/uttree/internal/ingest"
	"github.com/hyperjump/uttree/internal/keyword"
	"github.com/hyperjump/uttree/internal/metrics"
	"github.com/hyperjump/uttree/internal/models"
	"github.com/hyperjump/uttree/internal/pipeline"
	"github.com/hyperjump/uttree/internal/search"
	"github.com/hyperjump/uttree/internal/server"
	"github.com/hyperjump/uttree/internal/storage"
	"github.com/hyperjump/uttree/internal/vector"
	"github.com/hyperjump/uttree/internal/watcher"
	"github.com/hyperjump/uttree/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/uttree/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory takes precedence if it exists, so running from a
// project directory uses that project's config.
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
	// Secrets such as OPENAI_API_KEY and NEO4J_PASSWORD may live in .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
	}
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "build":
		runBuild()
	case "similar":
		runSimilar()
	case "twins":
		runTwins()
	case "concepts":
		runConcepts()
	case "delete":
		runDelete()
	case "status":
		runStatus()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("uttree version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config, creates the logger, and initializes components.
// Failures exit the process.
func setup(configPath string, debug bool) (*config.Config, string, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("Config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	components, err := initializeComponents(context.Background(), cfg, logger, nil)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, resolved, logger, components
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	watchSvc := watcher.New(components.Pipeline,
		watcher.WithLogger(logger),
		watcher.WithDirectories(cfg.Watch.Directories...),
		watcher.WithExtensions(cfg.Watch.Extensions...),
		watcher.WithRecursive(cfg.Watch.RecursiveOrDefault()),
	)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	go watchSvc.SyncExistingFiles()

	srv := server.NewServer(
		components.Pipeline,
		components.Engine,
		components.Storage,
		components.Index,
		cfg,
		logger,
		server.WithWatch(watchSvc, resolvedConfigPath),
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
	components.SaveSnapshot(cfg.Storage.VectorSnapshotPath)
}

func runBuild() {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	force := fs.Bool("force", false, "reprocess files that have not changed since the last build")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: uttree build [flags] <file-or-directory>")
		os.Exit(1)
	}
	format := outputFormatOrExit(*outputFormat)
	path := fs.Arg(0)

	cfg, _, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stat path: %v\n", err)
		os.Exit(1)
	}
	var report *pipeline.BatchReport
	if info.IsDir() {
		report, err = components.Pipeline.ProcessDirectory(ctx, path, *force)
	} else {
		report, err = components.Pipeline.ProcessFile(ctx, path, *force)
	}
	if report != nil {
		_ = cli.WriteBatchReport(os.Stdout, report, format)
	}
	components.SaveSnapshot(cfg.Storage.VectorSnapshotPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
		os.Exit(1)
	}
}

func runSimilar() {
	fs := flag.NewFlagSet("similar", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open storage directly)")
	k := fs.Int("k", models.DefaultK, "number of neighbors")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: uttree similar [flags] <admission-id>")
		os.Exit(1)
	}
	format := outputFormatOrExit(*outputFormat)
	id := fs.Arg(0)

	var resp models.SimilarityResponse
	if *serverURL != "" {
		target := fmt.Sprintf("%s/api/v1/admissions/%s/similar?k=%d", *serverURL, url.PathEscape(id), *k)
		if err := requestJSON(http.MethodGet, target, nil, http.StatusOK, &resp); err != nil {
			exitf("Similar failed: %v\n", err)
		}
	} else {
		_, _, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		r, err := components.Engine.SimilarTo(context.Background(), id, *k)
		if err != nil {
			exitf("Similar failed: %v\n", err)
		}
		resp = *r
	}
	if err := cli.WriteSimilarity(os.Stdout, &resp, format); err != nil {
		exitf("Output failed: %v\n", err)
	}
}

func runTwins() {
	fs := flag.NewFlagSet("twins", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open storage directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: uttree twins [flags] <admission-id>")
		os.Exit(1)
	}
	format := outputFormatOrExit(*outputFormat)
	id := fs.Arg(0)

	var twins []*models.AdmissionSummary
	if *serverURL != "" {
		var out struct {
			Twins []*models.AdmissionSummary `json:"twins"`
		}
		target := fmt.Sprintf("%s/api/v1/admissions/%s/twins", *serverURL, url.PathEscape(id))
		if err := requestJSON(http.MethodGet, target, nil, http.StatusOK, &out); err != nil {
			exitf("Twins failed: %v\n", err)
		}
		twins = out.Twins
	} else {
		_, _, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		var err error
		if twins, err = components.Engine.StructuralTwins(context.Background(), id); err != nil {
			exitf("Twins failed: %v\n", err)
		}
	}
	if err := cli.WriteTwins(os.Stdout, id, twins, format); err != nil {
		exitf("Output failed: %v\n", err)
	}
}

// buildQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves flags that appear after the positional arguments to the
// front so flag.Parse sees them. The flag package stops at the first non-flag
// argument, so "uttree similar 123 -k 5" would otherwise ignore -k.
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

func runConcepts() {
	fs := flag.NewFlagSet("concepts", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open storage directly)")
	limit := fs.Int("limit", models.DefaultK, "number of results")
	fuzzy := fs.Bool("fuzzy", false, "enable typo-tolerant matching")
	category := fs.String("category", "", "restrict to one event category (Diagnosis, Drug, Lab, Procedure, ExtractedConcept)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	query := buildQuery(fs.Args())
	if query == "" {
		fmt.Println("Usage: uttree concepts [flags] <query>")
		os.Exit(1)
	}
	format := outputFormatOrExit(*outputFormat)

	var resp models.ConceptResponse
	if *serverURL != "" {
		v := url.Values{}
		v.Set("q", query)
		v.Set("limit", strconv.Itoa(*limit))
		v.Set("fuzzy", strconv.FormatBool(*fuzzy))
		if *category != "" {
			v.Set("category", *category)
		}
		if err := requestJSON(http.MethodGet, *serverURL+"/api/v1/concepts?"+v.Encode(), nil, http.StatusOK, &resp); err != nil {
			exitf("Concept search failed: %v\n", err)
		}
	} else {
		_, _, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		r, err := components.Engine.FindByConcept(context.Background(), &models.ConceptQuery{
			Query: query, Limit: *limit, Fuzzy: *fuzzy, Category: *category,
		})
		if err != nil {
			exitf("Concept search failed: %v\n", err)
		}
		resp = *r
	}
	if err := cli.WriteConcepts(os.Stdout, &resp, format); err != nil {
		exitf("Output failed: %v\n", err)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: uttree delete [flags] <admission-id>")
		os.Exit(1)
	}
	id := fs.Arg(0)

	cfg, _, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	if err := components.Pipeline.DeleteAdmission(context.Background(), id); err != nil {
		exitf("Deletion failed: %v\n", err)
	}
	components.SaveSnapshot(cfg.Storage.VectorSnapshotPath)
	fmt.Printf("Admission deleted: %s\n", id)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open storage directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := outputFormatOrExit(*outputFormat)

	var report cli.StatusReport
	if *serverURL != "" {
		var raw statusResponse
		if err := requestJSON(http.MethodGet, *serverURL+"/api/v1/status", nil, http.StatusOK, &raw); err != nil {
			exitf("Status failed: %v\n", err)
		}
		report = raw.report()
	} else {
		cfg, _, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		st, err := components.Pipeline.Status(context.Background())
		if err != nil {
			exitf("Status failed: %v\n", err)
		}
		report.Status = st
		usage, err := storage.MeasureDiskUsage(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath, cfg.Storage.VectorSnapshotPath)
		if err == nil {
			report.DiskUsage = usage
		}
	}
	if err := cli.WriteStatus(os.Stdout, &report, format); err != nil {
		exitf("Output failed: %v\n", err)
	}
}

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	Admissions  int64             `json:"admissions"`
	Quadruples  int64             `json:"quadruples"`
	IndexSize   int               `json:"index_size"`
	ConceptDocs uint64            `json:"concept_documents"`
	DiskUsage   storage.DiskUsage `json:"disk_usage"`
	Config      struct {
		IndexType      string `json:"index_type"`
		Metric         string `json:"metric"`
		Dimensions     int    `json:"dimensions"`
		EmbeddingModel string `json:"embedding_model"`
		Workers        int    `json:"workers"`
	} `json:"config"`
}

func (r statusResponse) report() cli.StatusReport {
	return cli.StatusReport{
		Status: &pipeline.Status{
			Admissions:     r.Admissions,
			Quadruples:     r.Quadruples,
			IndexSize:      r.IndexSize,
			IndexType:      r.Config.IndexType,
			Metric:         r.Config.Metric,
			Dimensions:     r.Config.Dimensions,
			EmbeddingModel: r.Config.EmbeddingModel,
			ConceptDocs:    r.ConceptDocs,
			Workers:        r.Config.Workers,
		},
		DiskUsage: r.DiskUsage,
	}
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: uttree watch <add|remove|list> [path]")
		fmt.Println("  uttree watch add <path>     Add an inbox directory")
		fmt.Println("  uttree watch remove <path>  Stop watching an inbox directory")
		fmt.Println("  uttree watch list           List inbox directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(argsReorder(os.Args[3:]))
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			exitf("Usage: uttree watch add <path>\n")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		body := map[string]interface{}{"path": path, "sync": true}
		if err := requestJSON(http.MethodPost, *serverURL+"/api/v1/watch/directories", body, http.StatusCreated, nil); err != nil {
			exitf("Add failed: %v\n", err)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			exitf("Usage: uttree watch remove <path>\n")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		target := *serverURL + "/api/v1/watch/directories?path=" + url.QueryEscape(path)
		if err := requestJSON(http.MethodDelete, target, nil, http.StatusOK, nil); err != nil {
			exitf("Remove failed: %v\n", err)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := requestJSON(http.MethodGet, *serverURL+"/api/v1/watch/directories", nil, http.StatusOK, &out); err != nil {
			exitf("List failed: %v\n", err)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		exitf("Unknown watch subcommand: %s\n", sub)
	}
}

// requestJSON sends body (when non-nil) as JSON and decodes the response into
// out (when non-nil). A status other than want is an error carrying the body.
func requestJSON(method, target string, body interface{}, want int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func outputFormatOrExit(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		exitf("%v\n", err)
	}
	return format
}

func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}

// Components holds initialized services.
type Components struct {
	Storage  storage.Storage
	Embedder embedding.Embedder
	Index    vector.SimilarityIndex
	Concepts *keyword.BleveIndex
	Linker   graph.Linker
	Pipeline *pipeline.Pipeline
	Engine   *search.Engine
	logger   *zap.Logger
}

// SaveSnapshot writes the similarity index to path. Failures are logged.
func (c *Components) SaveSnapshot(path string) {
	if path == "" || c.Index == nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		c.logger.Warn("Failed to create snapshot directory", zap.String("path", path), zap.Error(err))
		return
	}
	if err := c.Index.Save(path); err != nil {
		c.logger.Warn("Vector snapshot save failed", zap.String("path", path), zap.Error(err))
		return
	}
	c.logger.Debug("Vector snapshot saved", zap.String("path", path), zap.Int("entries", c.Index.Size()))
}

func (c *Components) Close() {
	if c.Linker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = c.Linker.Close(ctx)
		cancel()
	}
	if c.Concepts != nil {
		_ = c.Concepts.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// initializeComponents opens storage and indexes and assembles the pipeline.
// Metrics register with reg, or the default registerer when reg is nil.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*Components, error) {
	dims := cfg.Vector.Dimensions
	metric, err := vector.ParseMetric(cfg.Vector.Metric)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Pipeline.Location()
	if err != nil {
		return nil, err
	}

	for _, p := range []string{cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Storage: store, logger: logger}

	c.Embedder, err = embedding.New(cfg.Embedding, dims, logger)
	if err != nil {
		logger.Warn("Embedding provider unavailable, falling back to mock",
			zap.String("provider", cfg.Embedding.Provider), zap.Error(err))
		c.Embedder = embedding.NewCachedEmbedder(embedding.NewMockEmbedder(dims), cfg.Embedding.CacheSize)
	}

	c.Index, err = vector.NewSimilarityIndex(cfg.Vector.Type, dims, metric)
	if err != nil {
		if cfg.Vector.Type == string(vector.IndexTypeMemory) {
			c.Close()
			return nil, fmt.Errorf("failed to initialize similarity index: %w", err)
		}
		logger.Warn("Failed to create similarity index, falling back to memory",
			zap.String("requested_type", cfg.Vector.Type), zap.Error(err))
		if c.Index, err = vector.NewMemoryIndex(dims, metric); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize similarity index: %w", err)
		}
	}

	c.Concepts, err = keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize concept index: %w", err)
	}

	c.Linker = graph.NopLinker{}
	if cfg.Graph.Enabled {
		linker, err := graph.NewNeo4jLinker(ctx, cfg.Graph, logger)
		if err != nil {
			logger.Warn("Graph linking disabled", zap.String("uri", cfg.Graph.URI), zap.Error(err))
		} else {
			c.Linker = linker
		}
	}

	m := metrics.NewPipelineMetrics(reg)
	c.Pipeline = pipeline.New(store, c.Embedder, c.Index,
		pipeline.WithLogger(logger),
		pipeline.WithConceptIndex(c.Concepts),
		pipeline.WithLinker(c.Linker),
		pipeline.WithMetrics(m),
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithReader(ingest.NewReader(loc)),
	)
	c.Engine = search.NewEngine(store, c.Index, c.Concepts, search.WithLogger(logger), search.WithMetrics(m))

	if err := c.loadIndex(ctx, cfg.Storage.VectorSnapshotPath); err != nil {
		c.Close()
		return nil, err
	}
	logger.Info("Similarity index ready",
		zap.String("type", c.Index.Type()),
		zap.String("metric", string(metric)),
		zap.Int("dimensions", dims),
		zap.Int("entries", c.Index.Size()),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()))
	return c, nil
}

// loadIndex restores the snapshot at path, rebuilding from stored embeddings
// when the snapshot is missing, unreadable, or out of step with storage.
func (c *Components) loadIndex(ctx context.Context, path string) error {
	stored, err := c.Storage.CountAdmissions(ctx)
	if err != nil {
		return fmt.Errorf("count admissions: %w", err)
	}
	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			loadErr := c.Index.Load(path)
			if loadErr == nil && int64(c.Index.Size()) == stored {
				return nil
			}
			c.logger.Warn("Vector snapshot stale or unreadable, rebuilding",
				zap.String("path", path),
				zap.Int("snapshot_entries", c.Index.Size()),
				zap.Int64("stored_admissions", stored),
				zap.Error(loadErr))
		}
	}
	if stored == 0 {
		return nil
	}
	n, err := c.Pipeline.RebuildIndex(ctx)
	if err != nil {
		return fmt.Errorf("rebuild similarity index: %w", err)
	}
	c.logger.Info("Similarity index rebuilt from storage", zap.Int("entries", n))
	return nil
}

func printUsage() {
	fmt.Println(`uttree - temporal-tree canonicalization and admission similarity

Usage:
  uttree server [flags]                 Start the HTTP server and inbox watcher
  uttree build [flags] <file|dir>       Process quadruple files (CSV, JSON, XLSX)
  uttree similar [flags] <id>           Find admissions similar to an admission
  uttree twins [flags] <id>             List admissions with an identical canonical tree
  uttree concepts [flags] <query>       Find admissions by event values
  uttree delete [flags] <id>            Delete an admission
  uttree status [flags]                 Show storage and index status
  uttree watch <add|remove|list>        Manage inbox directories
  uttree version                        Show version
  uttree help                           Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/uttree/config.yaml)
  --server string    Server URL for similar, twins, concepts, status (default: http://localhost:8080).
                     Use --server "" to open storage directly when the server is not running.
  --output string    Output format: text or json (default: text)

Build Flags:
  --force            Reprocess files unchanged since the last build
  --debug            Enable debug logging

Similar Flags:
  --k int            Number of neighbors (default: 10)

Concepts Flags:
  --limit int        Number of results (default: 10)
  --fuzzy            Typo-tolerant matching
  --category string  Restrict to one event category

Examples:
  uttree server
  uttree build ./admissions/
  uttree build --force admissions.csv
  uttree similar 20044 --k 5
  uttree concepts --category Drug heparin
  uttree status --output json
  uttree watch add /data/inbox`)
}
