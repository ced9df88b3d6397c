package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/docchat/pkg/cache"
	"github.com/xhad/docchat/pkg/chunker"
	"github.com/xhad/docchat/pkg/config"
	"github.com/xhad/docchat/pkg/extract"
	"github.com/xhad/docchat/pkg/llm"
	"github.com/xhad/docchat/pkg/pipeline"
	"github.com/xhad/docchat/pkg/rerank"
	"github.com/xhad/docchat/pkg/store"
	"github.com/xhad/docchat/server"
)

type cliFlags struct {
	configPath string
	dataDir    string
	serveAddr  string
	reset      bool
	ollamaURL  string
	dbURL      string
	rerankURL  string
	model      string
	streaming  bool
}

func main() {
	godotenv.Load()

	flags := parseFlags()
	cfg, err := loadConfig(flags)
	if err != nil {
		log.Fatal(err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %s: %s", e.Field, e.Message)
		}
		os.Exit(1)
	}

	if err := run(cfg, flags); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() cliFlags {
	var flags cliFlags
	flag.StringVar(&flags.configPath, "config", "", "Path to config file")
	flag.StringVar(&flags.dataDir, "data", "", "Directory of documents to ingest")
	flag.StringVar(&flags.serveAddr, "serve", "", "Start WebSocket server on this address (e.g. :8080)")
	flag.BoolVar(&flags.reset, "reset", false, "Drop the vector index table before doing anything else")
	flag.StringVar(&flags.ollamaURL, "ollama-url", "", "Ollama server URL")
	flag.StringVar(&flags.dbURL, "db-url", "", "PostgreSQL connection string")
	flag.StringVar(&flags.rerankURL, "reranker-url", "", "Reranker service URL")
	flag.StringVar(&flags.model, "model", "", "Chat model to use")
	flag.BoolVar(&flags.streaming, "stream", true, "Enable streaming responses")
	flag.Parse()
	return flags
}

func loadConfig(flags cliFlags) (*config.Config, error) {
	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}

	// Flags are given last, so they win over file and environment.
	if flags.ollamaURL != "" {
		cfg.LLM.BaseURL = flags.ollamaURL
	}
	if flags.dbURL != "" {
		cfg.Database.URL = flags.dbURL
	}
	if flags.rerankURL != "" {
		cfg.Reranker.BaseURL = flags.rerankURL
	}
	if flags.model != "" {
		cfg.LLM.Model = flags.model
	}
	cfg.UI.Streaming = flags.streaming

	return cfg, nil
}

func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline.Pipeline, func(), error) {
	cacheStore, err := cache.New(cfg.Cache.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open cache: %v", err)
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:     cfg.LLM.EmbedModel,
		BaseURL:   cfg.LLM.BaseURL,
		RateLimit: cfg.LLM.RateLimit,
	})
	if err != nil {
		cacheStore.Close()
		return nil, nil, err
	}

	boundary, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:     cfg.LLM.BoundaryModel,
		BaseURL:   cfg.LLM.BaseURL,
		RateLimit: cfg.LLM.RateLimit,
	})
	if err != nil {
		cacheStore.Close()
		return nil, nil, err
	}

	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		BaseURL:     cfg.LLM.BaseURL,
	})
	if err != nil {
		cacheStore.Close()
		return nil, nil, fmt.Errorf("failed to initialize chat engine: %v", err)
	}

	index, err := store.NewWithConfig(ctx, store.VectorIndexConfig{
		ConnString: cfg.Database.URL,
		TableName:  cfg.Database.TableName,
		VectorDim:  cfg.Database.VectorDim,
		BatchSize:  cfg.Database.BatchSize,
	})
	if err != nil {
		cacheStore.Close()
		return nil, nil, fmt.Errorf("failed to initialize vector index: %v", err)
	}

	p := pipeline.NewWithConfig(
		pipeline.PipelineConfig{
			Workers:     cfg.Ingest.Workers,
			SearchLimit: cfg.Ingest.SearchLimit,
			VectorDim:   cfg.Database.VectorDim,
		},
		pipeline.Deps{
			Extractor: extract.New(),
			Chunker: chunker.NewWithConfig(chunker.ChunkerConfig{
				WindowSize:          cfg.Chunker.WindowSize,
				PercentileThreshold: cfg.Chunker.PercentileThreshold,
				MaxChunkSize:        cfg.Chunker.MaxChunkSize,
			}, boundary),
			Cache:    cacheStore,
			Embedder: embedder,
			Index:    index,
			Reranker: rerank.NewWithConfig(rerank.RerankerConfig{
				BaseURL: cfg.Reranker.BaseURL,
				Model:   cfg.Reranker.Model,
				Timeout: time.Duration(cfg.Reranker.TimeoutSecs) * time.Second,
				TopK:    cfg.Reranker.TopK,
			}),
			Generator: chatEngine,
		})

	cleanup := func() {
		index.Close()
		cacheStore.Close()
	}
	return p, cleanup, nil
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func run(cfg *config.Config, flags cliFlags) error {
	ctx := context.Background()

	p, cleanup, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if flags.reset {
		if err := p.Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset index: %v", err)
		}
		color.Yellow("Vector index dropped and recreated")
	}

	warmupSpinner := getSpinner("Preparing index and reranker...")
	if err := p.Init(ctx); err != nil {
		warmupSpinner.Finish()
		color.Yellow("\nWarmup failed (continuing): %v", err)
	} else {
		warmupSpinner.Finish()
		fmt.Print("\r")
	}

	if flags.dataDir != "" {
		if err := ingestDirectory(ctx, p, flags.dataDir); err != nil {
			return err
		}
	}

	if flags.serveAddr != "" {
		return server.Run(flags.serveAddr, p)
	}

	return chatLoop(ctx, p, cfg.UI.Streaming)
}

func ingestDirectory(ctx context.Context, p *pipeline.Pipeline, dir string) error {
	paths, err := extract.ListSupported(dir)
	if err != nil {
		return fmt.Errorf("failed to list documents: %v", err)
	}
	if len(paths) == 0 {
		color.Yellow("No supported documents found in %s", dir)
		return nil
	}

	color.Blue("\nIngesting %d documents from %s\n", len(paths), dir)
	bar := getProgressBar(len(paths), "Processing documents...")

	result, err := p.Ingest(ctx, paths, func(ev pipeline.IngestEvent) {
		if ev.File == "" {
			return
		}
		if ev.State == pipeline.StateDone || ev.State == pipeline.StateError {
			bar.Add(1)
		}
	})
	bar.Finish()
	if err != nil {
		return fmt.Errorf("ingest failed: %v", err)
	}

	color.Green("\n✓ Ingested %d/%d files, %d chunks, %d points stored\n",
		result.FilesUsable, result.FilesTotal, result.ChunksTotal, result.PointsStored)
	if result.FilesFailed > 0 {
		color.Yellow("Skipped %d files: %s", result.FilesFailed, strings.Join(result.FailedFiles, ", "))
	}
	return nil
}

func chatLoop(ctx context.Context, p *pipeline.Pipeline, streaming bool) error {
	color.Cyan("\nAsk questions about your documents (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		question := strings.TrimSpace(scanner.Text())
		if strings.ToLower(question) == "exit" {
			break
		}
		if question == "" {
			continue
		}

		spinner := getSpinner("Searching documents...")
		started := false

		onToken := func(token string) {
			if !started {
				started = true
				spinner.Finish()
				fmt.Print("\r")
				assistantPrompt("Assistant: ")
			}
			if streaming {
				fmt.Print(token)
			}
		}

		result, err := p.Query(ctx, question, nil, onToken)
		spinner.Finish()
		if err != nil {
			fmt.Print("\r")
			color.Red("Error: %v\n", err)
			continue
		}

		if !started {
			fmt.Print("\r")
			assistantPrompt("Assistant: ")
		}
		if !streaming || !started {
			fmt.Print(result.Answer)
		}
		fmt.Println()

		if len(result.Sources) > 0 {
			color.Blue("\nSources:")
			for _, source := range result.Sources {
				color.Blue("  %d. %s #%d (%.3f)", source.Rank, source.File, source.ChunkIndex, source.Score)
			}
		}
	}

	return nil
}
