package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/wolfman30/dental-booking-agent/cmd/mainconfig"
	"github.com/wolfman30/dental-booking-agent/internal/app/bootstrap"
	appconfig "github.com/wolfman30/dental-booking-agent/internal/config"
	"github.com/wolfman30/dental-booking-agent/internal/knowledge"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: seed-knowledge <knowledge-file.json>")
		os.Exit(1)
	}
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx := context.Background()

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		logger.Error("failed to read seed file", "error", err)
		os.Exit(1)
	}
	seed, err := knowledge.ParseSeedFile(data)
	if err != nil {
		logger.Error("invalid seed file", "error", err)
		os.Exit(1)
	}
	if seed.Source == "" {
		seed.Source = os.Args[1]
	}

	rt, err := bootstrap.NewRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	embedder, err := rt.BuildEmbedder(awsCfg, bootstrap.BuildOpenAIClient(cfg))
	if err != nil {
		logger.Error("failed to build embedder", "error", err)
		os.Exit(1)
	}

	ingester := knowledge.NewIngester(embedder, knowledge.NewPostgresRepository(rt.Pool), logger)
	res, err := ingester.Ingest(ctx, seed)
	fmt.Printf("inserted=%d skipped=%d failed=%d\n", res.Inserted, res.Skipped, res.Failed)
	if err != nil {
		os.Exit(1)
	}
}
