package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rewired-gh/polyanalytics/internal/analytics"
	"github.com/rewired-gh/polyanalytics/internal/blackswan"
	"github.com/rewired-gh/polyanalytics/internal/cache"
	"github.com/rewired-gh/polyanalytics/internal/collector"
	"github.com/rewired-gh/polyanalytics/internal/config"
	"github.com/rewired-gh/polyanalytics/internal/logger"
	"github.com/rewired-gh/polyanalytics/internal/monitor"
	"github.com/rewired-gh/polyanalytics/internal/polymarket"
	"github.com/rewired-gh/polyanalytics/internal/resolution"
	"github.com/rewired-gh/polyanalytics/internal/simulation"
	"github.com/rewired-gh/polyanalytics/internal/storage"
	"github.com/rewired-gh/polyanalytics/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{"run", "collect on a schedule, optionally serving the API", runScheduler},
	{"collect", "run a single collection cycle", runCollect},
	{"detect-moves", "run large move detection once", runDetectMoves},
	{"stats", "print overview and calibration by bucket", runStats},
	{"movers", "print the biggest movers in the detection window", runMovers},
	{"black-swans", "print black swans (-source local|api)", runBlackSwans},
	{"simulate", "print markets as priced on a date (-source local|api)", runSimulate},
	{"serve", "serve the dashboard API", runServe},
	{"init-db", "create or migrate the database", runInitDB},
	{"purge", "delete deactivated markets past the retention", runPurge},
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config path] <command> [flags]\n\nCommands:\n", os.Args[0])
	for _, c := range commands {
		fmt.Fprintf(flag.CommandLine.Output(), "  %-13s %s\n", c.name, c.usage)
	}
	fmt.Fprintln(flag.CommandLine.Output(), "\nFlags:")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == flag.Arg(0) {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logger.Setup(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		MaxBackups: cfg.Logging.MaxBackups,
	}); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	logger.Debug("Configuration loaded from %s", *configPath)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	a, err := newApp(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize: %v", err)
	}

	err = cmd.run(ctx, a, flag.Args()[1:])
	a.close()
	if err != nil {
		logger.Error("%s failed: %v", cmd.name, err)
		os.Exit(1)
	}
}

// app holds the wired components shared by all commands.
type app struct {
	cfg        *config.Config
	store      *storage.Store
	client     *polymarket.Client
	monitor    *monitor.Monitor
	analytics  *analytics.Engine
	collector  *collector.Collector
	telegram   *telegram.Client
	cache      cache.Cache
	closeCache func() error
}

func newApp(cfg *config.Config) (*app, error) {
	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pm := cfg.Polymarket
	client := polymarket.NewClient(pm.GammaURL, pm.ClobURL, pm.Timeout, polymarket.ClientConfig{
		MaxRetries:        pm.MaxRetries,
		RetryDelayBase:    pm.RetryDelayBase,
		RequestsPerSecond: pm.RequestsPerSecond,
		Burst:             pm.Burst,
	})

	mon := monitor.New(store, monitor.Config{
		Threshold: cfg.Analysis.LargeMoveThreshold,
		Window:    cfg.Analysis.LargeMoveWindow,
	})
	classifier := resolution.New(resolution.Config{
		Boundaries:         cfg.Analysis.Buckets,
		BlackSwanThreshold: cfg.Analysis.BlackSwanThreshold,
		LookbackDays:       cfg.Analysis.LookbackDays,
	})
	coll := collector.New(store, client, classifier, mon, collector.Config{
		Filter: polymarket.Filter{
			MinVolume:           cfg.Collector.MinVolume,
			MinLiquidity:        cfg.Collector.MinLiquidity,
			MaxDaysToResolution: cfg.Collector.MaxDaysToResolution,
			Limit:               pm.MarketLimit,
			PageSize:            pm.PageSize,
			MaxPages:            pm.MaxPages,
		},
		RefreshConcurrency: cfg.Collector.RefreshConcurrency,
		Retention:          cfg.Storage.Retention,
	})

	a := &app{
		cfg:       cfg,
		store:     store,
		client:    client,
		monitor:   mon,
		analytics: analytics.New(store, cfg.Analysis.Buckets),
		collector: coll,
	}

	if cfg.Telegram.Enabled {
		a.telegram, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}
	return a, nil
}

func (a *app) close() {
	if a.closeCache != nil {
		if err := a.closeCache(); err != nil {
			logger.Warn("Failed to close cache: %v", err)
		}
	}
	if err := a.store.Close(); err != nil {
		logger.Error("Failed to close storage: %v", err)
	}
}

// apiCache opens the configured cache backend once. An unreachable Redis
// falls back to the in-memory cache.
func (a *app) apiCache(ctx context.Context) cache.Cache {
	if a.cache != nil {
		return a.cache
	}
	a.cache = cache.NewMemory()
	if a.cfg.Cache.Backend == "redis" {
		r, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:     a.cfg.Cache.RedisAddr,
			Password: a.cfg.Cache.RedisPassword,
			DB:       a.cfg.Cache.RedisDB,
		})
		if err != nil {
			logger.Warn("Redis cache unavailable, using memory: %v", err)
		} else {
			a.cache = r
			a.closeCache = r.Close
		}
	}
	return a.cache
}

// scanner builds the API black swan search.
func (a *app) scanner(ctx context.Context) *blackswan.Scanner {
	bs := a.cfg.BlackSwan
	return blackswan.New(a.client, a.apiCache(ctx), blackswan.Config{
		LookbackDays:   bs.LookbackDays,
		MinVolume:      bs.MinVolume,
		PriceThreshold: bs.PriceThreshold,
		CheckDays:      bs.CheckDays,
		Tolerance:      bs.Tolerance,
		Concurrency:    bs.Concurrency,
		MaxPages:       bs.MaxPages,
		CacheTTL:       a.cfg.Cache.TTL,
	})
}

// simulator builds the API historical simulation. It shares the black swan
// search's paging, concurrency and tolerance settings.
func (a *app) simulator(ctx context.Context) *simulation.Builder {
	cfg := simulation.DefaultConfig()
	bs := a.cfg.BlackSwan
	if bs.Tolerance > 0 {
		cfg.Tolerance = bs.Tolerance
	}
	if bs.Concurrency > 0 {
		cfg.Concurrency = bs.Concurrency
	}
	if bs.MaxPages > 0 {
		cfg.MaxPages = bs.MaxPages
	}
	if a.cfg.Cache.TTL > 0 {
		cfg.CacheTTL = a.cfg.Cache.TTL
	}
	return simulation.New(a.client, a.apiCache(ctx), cfg)
}
