package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rjmoor/AI-ForXBot/config"
	"github.com/rjmoor/AI-ForXBot/internal/app"
	"github.com/rjmoor/AI-ForXBot/internal/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("FORXBOT_CONFIG"), "Path to YAML config (empty: defaults + env)")
	autostart := flag.Bool("autostart", false, "Start the trading loop immediately")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[forxbot] config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[forxbot] invalid config: %v", err)
	}
	logger.Init(cfg.App.Name, logger.ParseLevel(cfg.App.LogLevel), cfg.App.LogFormat)
	log.Printf("[forxbot] starting: instruments=%v tiers=%v broker=%s", cfg.Trading.Instruments, cfg.Trading.Tiers, cfg.Broker.Kind)

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("[forxbot] init failed: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if *autostart {
		if err := a.Trading.Start(ctx); err != nil {
			log.Printf("[forxbot] autostart: %v", err)
		}
	}

	if err := a.Run(ctx); err != nil {
		log.Printf("[forxbot] fatal: %v", err)
		a.Close()
		os.Exit(1)
	}
	log.Println("[forxbot] stopped")
}
