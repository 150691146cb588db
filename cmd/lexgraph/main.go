package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/lexgraph/lexgraph"
)

func main() {
	app := &cli.App{
		Name:  "lexgraph",
		Usage: "Hybrid graph and vector retrieval over contract documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (JSON)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Ingest contracts into the graph and vector index",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "dir",
						Usage: "Directory of extraction JSON files",
					},
					&cli.StringFlag{
						Name:  "pdf",
						Usage: "Path to a single contract PDF to extract and ingest",
					},
					&cli.Int64Flag{
						Name:  "id",
						Usage: "Contract id to assign when ingesting a single PDF",
					},
					&cli.BoolFlag{
						Name:  "resume",
						Usage: "Only embed excerpts that are missing vectors",
					},
				},
			},
			{
				Name:      "ask",
				Usage:     "Route a question through the retrieval engine",
				ArgsUsage: "<question>",
				Action:    askCommand,
			},
			{
				Name:   "schema",
				Usage:  "Print the graph schema",
				Action: schemaCommand,
			},
			{
				Name:   "stats",
				Usage:  "Print node and edge counts",
				Action: statsCommand,
			},
			{
				Name:   "serve",
				Usage:  "Run the HTTP API server",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address",
						Value: ":8080",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func setupLogger(c *cli.Context) error {
	var level slog.Level
	switch strings.ToLower(c.String("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.String("log-level"))
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
	return nil
}

// loadConfig reads the config file (if any) and applies env overrides.
func loadConfig(c *cli.Context) (lexgraph.Config, error) {
	cfg := lexgraph.DefaultConfig()

	if path := c.String("config"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("opening config: %w", err)
		}
		defer f.Close()
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}

	if v := os.Getenv("LEXGRAPH_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LEXGRAPH_CHAT_PROVIDER"); v != "" {
		cfg.Chat.Provider = v
	}
	if v := os.Getenv("LEXGRAPH_CHAT_MODEL"); v != "" {
		cfg.Chat.Model = v
	}
	if v := os.Getenv("LEXGRAPH_CHAT_BASE_URL"); v != "" {
		cfg.Chat.BaseURL = v
	}
	if v := os.Getenv("LEXGRAPH_CHAT_API_KEY"); v != "" {
		cfg.Chat.APIKey = v
	}
	if v := os.Getenv("LEXGRAPH_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("LEXGRAPH_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("LEXGRAPH_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("LEXGRAPH_EMBED_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}

	// Fallback: well-known provider env var for API keys.
	if cfg.Chat.APIKey == "" && cfg.Chat.Provider == "openai" {
		cfg.Chat.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	return cfg, nil
}

func openEngine(c *cli.Context) (lexgraph.Engine, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return lexgraph.New(cfg)
}

func ingestCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	switch {
	case c.Bool("resume"):
		n, err := engine.EmbedPending(c.Context)
		if err != nil {
			return err
		}
		fmt.Printf("embedded %d pending excerpts\n", n)
	case c.String("dir") != "":
		n, err := engine.IngestExtractionDir(c.Context, c.String("dir"))
		if err != nil {
			return err
		}
		fmt.Printf("ingested %d contracts\n", n)
	case c.String("pdf") != "":
		id := c.Int64("id")
		if id <= 0 {
			return fmt.Errorf("--id is required when ingesting a PDF")
		}
		if err := engine.IngestPDF(c.Context, c.String("pdf"), id); err != nil {
			return err
		}
		fmt.Printf("ingested contract %d\n", id)
	default:
		return fmt.Errorf("one of --dir, --pdf, or --resume is required")
	}
	return nil
}

func askCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("a question is required")
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	rs, err := engine.Ask(c.Context, question)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rs)
}

func schemaCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	fmt.Println(engine.SchemaText())
	return nil
}

func statsCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	st, err := engine.Stats(c.Context)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}
