// Package main is the kotae CLI entry point.
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
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/pipeline"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/watcher"
	"github.com/hyperjump/kotae/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kotae/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if present, and a missing default file means built-in
// defaults. Returns the config and the path that was loaded ("" for defaults).
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
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			return config.Default(), "", nil
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
	case "ingest":
		runIngest()
	case "ask":
		runQuery("ask")
	case "retrieve":
		runQuery("retrieve")
	case "status":
		runStatus()
	case "init":
		runInit()
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// Components holds the initialized pipeline and the collaborators it does not own.
type Components struct {
	Service  *pipeline.Service
	Embedder embedding.Embedder
}

// Close releases the live index and the embedder.
func (c *Components) Close() {
	if c.Service != nil {
		_ = c.Service.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	embedder, err := embedding.New(&cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	generator, err := generation.New(&cfg.Generation)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize generator: %w", err)
	}
	svc, err := pipeline.New(cfg, embedder, generator, logger)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}
	logger.Info("pipeline initialized",
		zap.String("data_directory", cfg.Ingest.DataDirectory),
		zap.String("index_path", cfg.Storage.IndexPath),
		zap.String("embedding_model", embedder.Name()),
		zap.String("generation_model", generator.Name()))
	return &Components{Service: svc, Embedder: embedder}, nil
}

// setup loads config and builds the logger and components, exiting on failure.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolvedConfigPath, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode))

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return cfg, logger, components
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	return format
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()
	svc := components.Service

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ingest up front so the first request does not pay for it. A missing or empty
	// data directory is reported and retried on first use.
	if _, err := svc.Ingest(ctx, pipeline.IngestOptions{}); err != nil {
		logger.Warn("initial ingestion failed", zap.Error(err))
	}

	if cfg.Watch.Enabled {
		watchSvc := watcher.NewWatcher(
			svc.DataDirectory(),
			func(ctx context.Context) {
				if _, err := svc.Refresh(ctx); err != nil {
					logger.Warn("watch refresh failed", zap.Error(err))
				}
			},
			watcher.WithLogger(logger),
			watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMs)*time.Millisecond),
		)
		if err := watchSvc.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
	}

	srv := server.NewServer(svc, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	rebuild := fs.Bool("rebuild", false, "replace the existing index")
	debug := fs.Bool("debug", false, "enable debug logging")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	_, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	res, err := components.Service.Ingest(context.Background(), pipeline.IngestOptions{Rebuild: *rebuild})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingestion failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteIngest(os.Stdout, res, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// printQueryUsage prints ask/retrieve usage.
func printQueryUsage(fs *flag.FlagSet, command string) {
	fmt.Fprintf(fs.Output(), "Usage: kotae %s [flags] <question>\n\n", command)
	fmt.Fprintf(fs.Output(), "The question is all remaining arguments joined by spaces, with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  kotae %[1]s what was the revenue in 2023
  kotae %[1]s --top-k 8 "what was the revenue in 2023"
  kotae %[1]s --output json --server http://localhost:8080 revenue 2023
`, command)
}

// buildQuestion joins all positional args with spaces so multi-word questions
// work the same with or without shell quoting.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// queryArgsReorder moves any flags (and their values) that appear after the question
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func queryArgsReorder(args []string) []string {
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

// runQuery runs the ask or retrieve command, in process or against a running server.
func runQuery(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = run in process)")
	topK := fs.Int("top-k", 0, "number of chunks to retrieve (default from config)")
	debug := fs.Bool("debug", false, "enable debug logging")
	outputFormat := fs.String("output", "text", "output format: text or json")
	var template *string
	if command == "ask" {
		template = fs.String("template", "", "prompt template with {context} and {question} (default from config)")
	}
	fs.Usage = func() { printQueryUsage(fs, command) }
	_ = fs.Parse(queryArgsReorder(os.Args[2:]))

	question := buildQuestion(fs.Args())
	if question == "" {
		printQueryUsage(fs, command)
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)
	req := &models.QueryRequest{Question: question, TopK: *topK}
	if template != nil {
		req.Template = *template
	}

	if *serverURL != "" {
		var err error
		if command == "ask" {
			var res models.AnswerResponse
			if err = postJSON(*serverURL+"/api/v1/ask", req, &res); err == nil {
				err = cli.WriteAnswer(os.Stdout, &res, format)
			}
		} else {
			var res models.RetrieveResponse
			if err = postJSON(*serverURL+"/api/v1/retrieve", req, &res); err == nil {
				err = cli.WriteRetrieveResults(os.Stdout, &res, format)
			}
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	_, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	var err error
	if command == "ask" {
		var res *models.AnswerResponse
		if res, err = components.Service.Ask(ctx, req); err == nil {
			err = cli.WriteAnswer(os.Stdout, res, format)
		}
	} else {
		var res *models.RetrieveResponse
		if res, err = components.Service.Retrieve(ctx, req); err == nil {
			err = cli.WriteRetrieveResults(os.Stdout, res, format)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read the index directly)")
	debug := fs.Bool("debug", false, "enable debug logging")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	var status *models.IndexStatus
	if *serverURL != "" {
		var res models.IndexStatus
		if err := getJSON(*serverURL+"/api/v1/status", &res); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = &res
	} else {
		_, logger, components := setup(*configPath, *debug)
		defer logger.Sync()
		defer components.Close()
		res, err := components.Service.Status(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = res
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// runInit writes a config file with defaults, refusing to overwrite an existing one.
func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "config file to write")
	dataDir := fs.String("data-dir", "data", "directory holding the PDF and JSON files")
	_ = fs.Parse(os.Args[2:])

	if _, err := os.Stat(*configPath); err == nil {
		fmt.Fprintf(os.Stderr, "Config already exists: %s\n", *configPath)
		os.Exit(1)
	}
	cfg := config.Default()
	cfg.Ingest.DataDirectory = *dataDir
	if err := config.Save(*configPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", *configPath)
}

func postJSON(url string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func getJSON(url string, out any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printUsage() {
	fmt.Println(`kotae - Local question answering over PDF and JSON documents

Usage:
  kotae ingest [flags]              Build or load the index for the data directory
  kotae ask [flags] <question>      Answer a question from the indexed documents
  kotae retrieve [flags] <question> Show the chunks that best match a question
  kotae server [flags]              Start the HTTP server
  kotae status [flags]              Show index status
  kotae init [flags]                Write a config file with defaults
  kotae version                     Show version
  kotae help                        Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/kotae/config.yaml,
                     or ./config.yaml when present, or built-in defaults)
  --output string    Output format: text or json (default: text)
  --debug            Enable debug logging

Ingest Flags:
  --rebuild          Replace the existing index

Ask / Retrieve Flags:
  --top-k int        Number of chunks to retrieve (default from config)
  --server string    Send the question to a running server instead
  --template string  Prompt template with {context} and {question} (ask only)

Status Flags:
  --server string    Read status from a running server instead

Init Flags:
  --config string    Config file to write (default: config.yaml)
  --data-dir string  Data directory recorded in the config (default: data)

Examples:
  kotae init --data-dir ./docs
  kotae ingest
  kotae ingest --rebuild
  kotae ask what was the revenue in 2023
  kotae retrieve --top-k 8 --output json "quarterly revenue"
  kotae server --debug
  kotae status --output json`)
}
