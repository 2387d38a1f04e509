// Command analyze computes indicators and tier states once for the
// configured instruments and prints the reports as JSON.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	json "github.com/goccy/go-json"

	"github.com/rjmoor/AI-ForXBot/config"
	"github.com/rjmoor/AI-ForXBot/internal/app"
	"github.com/rjmoor/AI-ForXBot/internal/broker"
	"github.com/rjmoor/AI-ForXBot/internal/logger"
	"github.com/rjmoor/AI-ForXBot/internal/pipeline"
)

func main() {
	configPath := flag.String("config", os.Getenv("FORXBOT_CONFIG"), "Path to YAML config (empty: defaults + env)")
	instruments := flag.String("instruments", "", "Comma-separated instruments (default: trading.instruments)")
	populate := flag.Bool("populate", false, "Fetch candles from the broker before analysing")
	live := flag.Bool("live", false, "Read candles straight from the broker instead of sqlite")
	pretty := flag.Bool("pretty", false, "Indent JSON output")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[analyze] config: %v", err)
	}
	if *instruments != "" {
		cfg.Trading.Instruments = strings.Split(strings.ToUpper(*instruments), ",")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[analyze] invalid config: %v", err)
	}
	// Reports go to stdout, logs to stderr.
	logger.InitTo(os.Stderr, "analyze", logger.ParseLevel(cfg.App.LogLevel), "text")

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("[analyze] init failed: %v", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *populate {
		if a.Population == nil {
			log.Printf("[analyze] -populate ignored: no broker token configured")
		} else if _, err := a.Population.Populate(ctx); err != nil {
			log.Printf("[analyze] population: %v", err)
		}
	}

	svc := a.Pipeline
	if *live {
		if a.MarketData == nil {
			log.Fatalf("[analyze] -live needs broker.token")
		}
		svc = pipeline.New(broker.Source(a.MarketData, cfg.Trading.CandleCount), a.Tiers, a.Pipeline.Machine(), pipeline.Options{
			Tiers:   a.Pipeline.Tiers(),
			Workers: cfg.Trading.Workers,
			Metrics: a.Metrics,
		})
	}

	reports, err := svc.AnalyzeAll(ctx, cfg.Trading.Instruments)
	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if encErr := enc.Encode(reports); encErr != nil {
		log.Printf("[analyze] encode: %v", encErr)
	}
	if err != nil {
		log.Printf("[analyze] %v", err)
		a.Close()
		os.Exit(1)
	}
}
