// Package app assembles the service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"

	"github.com/rjmoor/AI-ForXBot/config"
	"github.com/rjmoor/AI-ForXBot/internal/api"
	"github.com/rjmoor/AI-ForXBot/internal/breaker"
	"github.com/rjmoor/AI-ForXBot/internal/broker"
	"github.com/rjmoor/AI-ForXBot/internal/markethours"
	"github.com/rjmoor/AI-ForXBot/internal/metrics"
	"github.com/rjmoor/AI-ForXBot/internal/model"
	"github.com/rjmoor/AI-ForXBot/internal/notification"
	"github.com/rjmoor/AI-ForXBot/internal/pipeline"
	"github.com/rjmoor/AI-ForXBot/internal/population"
	"github.com/rjmoor/AI-ForXBot/internal/scoring"
	redisstore "github.com/rjmoor/AI-ForXBot/internal/store/redis"
	"github.com/rjmoor/AI-ForXBot/internal/store/sqlite"
	"github.com/rjmoor/AI-ForXBot/internal/stream"
	"github.com/rjmoor/AI-ForXBot/internal/tierconfig"
	"github.com/rjmoor/AI-ForXBot/internal/trading"
)

// App holds every long-lived component.
type App struct {
	Config   *config.Config
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus

	SQLite *sqlite.Store
	Redis  *redisstore.Store // nil when disabled

	Broker     broker.Broker
	MarketData broker.Broker // OANDA when credentials are set, else nil
	Tiers      *tierconfig.Config
	Pipeline   *pipeline.Service
	Trading    *trading.Manager
	Population *population.Service // nil when MarketData is nil
	Hub        *stream.Hub
	Watcher    *notification.StateWatcher
}

// New builds the application. Close releases what it opened.
func New(cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.NewMetrics(a.Registry)
	a.Health = metrics.NewHealthStatus()

	tiers, err := tierconfig.Load(cfg.Trading.IndicatorConfig)
	if err != nil {
		return nil, err
	}
	a.Tiers = tiers

	if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	a.SQLite, err = sqlite.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if cfg.Storage.RedisAddr != "" {
		a.Health.SetRedisEnabled(true)
		cb := breaker.New("redis", 5, 10*time.Second)
		a.Metrics.WatchBreaker(cb)
		a.Redis, err = redisstore.New(redisstore.Config{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
			CacheTTL: cfg.Storage.CacheTTL,
		}, cb)
		if err != nil {
			log.Printf("[app] WARNING: redis unavailable, continuing without it: %v", err)
			a.Redis = nil
		}
	}

	if err := a.buildBroker(); err != nil {
		a.Close()
		return nil, err
	}

	var source model.DataSource = a.SQLite.Source(cfg.Trading.CandleCount)
	if a.Redis != nil {
		source = a.Redis.CachedSource(source)
	}

	byTier := make(map[model.Tier]string, len(cfg.Trading.Tiers))
	for name, gran := range cfg.Trading.Tiers {
		t, err := model.ParseTier(name)
		if err != nil {
			a.Close()
			return nil, err
		}
		byTier[t] = gran
	}

	a.Hub = stream.NewHub(a.Metrics)
	a.Watcher = notification.NewStateWatcher(buildNotifier(cfg.Notify), a.Metrics)

	consumers := []model.ClassificationConsumer{a.Watcher}
	if paper, ok := a.Broker.(*broker.Paper); ok {
		// New bars mean a new reference price for resting limit orders.
		consumers = append(consumers, model.ConsumerFunc(func(ctx context.Context, r model.Report) error {
			err := paper.Sweep(ctx, r.Instrument)
			var unavailable *model.DataUnavailableError
			if errors.As(err, &unavailable) || errors.Is(err, broker.ErrNoPrice) {
				return nil
			}
			return err
		}))
	}
	if a.Redis != nil {
		// The hub is fed from the Redis subscription in Run so that every
		// instance streams every report.
		consumers = append(consumers, a.Redis)
	} else {
		consumers = append(consumers, a.Hub)
	}

	machine := scoring.NewStateMachine(scoring.NewEngine(tiers, cfg.Trading.Threshold))
	a.Pipeline = pipeline.New(source, tiers, machine, pipeline.Options{
		Tiers:       byTier,
		Workers:     cfg.Trading.Workers,
		PersistBars: cfg.Storage.PersistBars,
		Results:     a.SQLite,
		Consumers:   consumers,
		Metrics:     a.Metrics,
	})

	a.Trading = trading.NewManager(a.Pipeline, trading.Config{
		Instruments:       cfg.Trading.Instruments,
		Interval:          cfg.Trading.Interval,
		IgnoreMarketHours: cfg.Trading.IgnoreHours,
	}, a.Metrics, a.Health)

	if a.MarketData != nil {
		var cache population.Invalidator
		if a.Redis != nil {
			cache = a.Redis
		}
		a.Population = population.New(a.MarketData, a.SQLite, cache, population.Config{
			Instruments:   cfg.Trading.Instruments,
			Granularities: cfg.Population.Granularities,
			Count:         cfg.Population.Count,
		}, a.Metrics)
	}
	return a, nil
}

// buildBroker selects the execution venue. OANDA credentials, when present,
// also provide market data for population even in paper mode.
func (a *App) buildBroker() error {
	bc := a.Config.Broker
	var oanda *broker.Oanda
	if bc.Token != "" {
		cb := breaker.New("oanda", bc.BreakerFailures, bc.BreakerReset)
		a.Metrics.WatchBreaker(cb)
		oanda = broker.NewOanda(broker.OandaConfig{
			Environment: bc.Environment,
			BaseURL:     bc.BaseURL,
			AccountID:   bc.AccountID,
			Token:       bc.Token,
			Timeout:     bc.Timeout,
		}, cb)
		oanda.OnRequest = a.Metrics.ObserveBroker
		a.MarketData = oanda
	}

	switch bc.Kind {
	case "oanda":
		if oanda == nil {
			return errors.New("broker.kind oanda requires broker.token")
		}
		a.Broker = oanda
	case "paper":
		a.Broker = broker.NewPaper(broker.PaperConfig{
			AccountID:   bc.AccountID,
			Currency:    bc.PaperCurrency,
			Balance:     decimal.NewFromFloat(bc.PaperBalance),
			SlippageBps: bc.SlippageBps,
		}, a.SQLite.Source(a.Config.Trading.CandleCount), "M1")
	default:
		return fmt.Errorf("unknown broker kind %q", bc.Kind)
	}
	log.Printf("[app] broker=%s market_data=%t", a.Broker.Name(), a.MarketData != nil)
	return nil
}

func buildNotifier(nc config.NotifyConfig) notification.Notifier {
	multi := notification.Multi{notification.NewLogNotifier()}
	if nc.Telegram.Enabled {
		tg, err := notification.NewTelegramNotifier(nc.Telegram.BotToken, nc.Telegram.ChatID)
		if err != nil {
			log.Printf("[app] WARNING: telegram disabled: %v", err)
		} else {
			multi = append(multi, tg)
		}
	}
	if nc.WebhookURL != "" {
		multi = append(multi, notification.NewWebhookNotifier(nc.WebhookURL))
	}
	return multi
}

// Handler returns the HTTP API. base bounds the trading loop when it is
// started over HTTP.
func (a *App) Handler(base context.Context) http.Handler {
	deps := api.Deps{
		Base:       base,
		Analyzer:   a.Pipeline,
		Trading:    a.Trading,
		Broker:     a.Broker,
		Journal:    a.SQLite,
		Results:    a.SQLite,
		Indicators: a.Tiers,
		Settings:   a.Config.Redacted(),
		Stream:     a.Hub,
		Health:     a.Health,
		Metrics:    a.Metrics,
		TOTPSecret: a.Config.HTTP.TOTPSecret,
	}
	if a.Population != nil {
		deps.Populator = a.Population
	}
	if a.Redis != nil {
		deps.Reports = a.Redis
	}
	return api.NewRouter(deps)
}

// Run serves HTTP and metrics, runs background loops and blocks until ctx
// is cancelled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config
	slog.Info("market status", "status", markethours.StatusString(time.Now()))

	probes := metrics.Probes{SQLite: a.SQLite.DB()}
	if a.Redis != nil {
		probes.Redis = a.Redis.Client()
		reports := make(chan model.Report, 64)
		go func() {
			if err := a.Redis.SubscribeReports(ctx, reports); err != nil && ctx.Err() == nil {
				log.Printf("[app] report subscription ended: %v", err)
			}
		}()
		go a.Hub.Forward(ctx, reports)
	}
	probes.Broker = func(ctx context.Context) error {
		_, err := a.Broker.Account(ctx)
		return err
	}
	a.Health.StartLivenessChecker(ctx, probes, 15*time.Second)

	if err := a.Pipeline.PersistParams(ctx); err != nil {
		log.Printf("[app] WARNING: persist indicator params: %v", err)
	}

	if a.Population != nil {
		if cfg.Population.OnStartup {
			go func() {
				if _, err := a.Population.Populate(ctx); err != nil {
					log.Printf("[app] startup population: %v", err)
				}
			}()
		}
		if cfg.Population.Interval > 0 {
			go a.Population.Run(ctx, cfg.Population.Interval)
		}
	}

	metricsSrv := metrics.NewServer(cfg.HTTP.MetricsAddr, a.Health, a.Registry)
	metricsSrv.Start()

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      a.Handler(ctx),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[app] http listening on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	log.Println("[app] shutting down...")
	if a.Trading.IsRunning() {
		a.Trading.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	return runErr
}

// Close releases storage handles.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.SQLite != nil {
		errs = append(errs, a.SQLite.Close())
	}
	return errors.Join(errs...)
}
