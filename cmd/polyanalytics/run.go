package main

import (
	"context"
	"flag"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/polyanalytics/internal/collector"
	"github.com/rewired-gh/polyanalytics/internal/logger"
	"github.com/rewired-gh/polyanalytics/internal/models"
	"github.com/rewired-gh/polyanalytics/internal/server"
)

// runScheduler collects immediately and then on every tick until ctx ends.
func runScheduler(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	withAPI := fs.Bool("api", false, "also serve the dashboard API")
	if err := fs.Parse(args); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if *withAPI {
		srv := a.server(ctx)
		g.Go(func() error {
			return srv.Run(ctx, a.cfg.Server.Addr, a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout)
		})
	}
	g.Go(func() error {
		a.schedule(ctx)
		return nil
	})
	return g.Wait()
}

func (a *app) schedule(ctx context.Context) {
	logger.Info("Starting collection service (interval: %v, large_move_threshold: %.1f, window: %v)",
		a.cfg.Collector.Interval,
		a.cfg.Analysis.LargeMoveThreshold,
		a.cfg.Analysis.LargeMoveWindow,
	)

	ticker := time.NewTicker(a.cfg.Collector.Interval)
	defer ticker.Stop()

	consecutiveFailures := 0

	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Collection cycle failed: %v", err)
			if consecutiveFailures == 1 && a.telegram != nil {
				if sendErr := a.telegram.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
			return
		}
		if consecutiveFailures > 0 && a.telegram != nil {
			if sendErr := a.telegram.SendRecovery(consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
			}
		}
		consecutiveFailures = 0
	}

	logger.Debug("Running initial collection cycle")
	handleCycleResult(a.cycle(ctx))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return
		case <-ticker.C:
			logger.Debug("Starting scheduled collection cycle")
			handleCycleResult(a.cycle(ctx))
		}
	}
}

func (a *app) cycle(ctx context.Context) error {
	stats, err := a.collector.RunCycle(ctx)
	if err != nil {
		return err
	}
	for _, e := range stats.Errors {
		logger.Warn("Cycle: %s", e)
	}
	a.notify(ctx, stats)
	return nil
}

// notify forwards the cycle's new large moves and black swans to Telegram.
func (a *app) notify(ctx context.Context, stats collector.CycleStats) {
	if a.telegram == nil {
		return
	}
	if err := a.telegram.SendLargeMoves(stats.Moves); err != nil {
		logger.Error("Failed to send large move notification: %v", err)
	} else if len(stats.Moves) > 0 {
		logger.Info("Sent Telegram notification for %d large moves", len(stats.Moves))
	}

	var swans []models.BlackSwanView
	for _, ra := range stats.Resolutions {
		if !ra.IsBlackSwan {
			continue
		}
		view := models.BlackSwanView{
			MarketID:         ra.MarketID,
			FinalProbability: ra.FinalProbability,
			Outcome:          ra.Outcome,
			ResolvedAt:       ra.ResolvedAt,
		}
		if m, err := a.store.GetMarket(ctx, ra.MarketID); err == nil {
			view.Question = m.Question
			view.Category = m.Category
		} else {
			view.Question = ra.MarketID
		}
		swans = append(swans, view)
	}
	if err := a.telegram.SendBlackSwans(swans); err != nil {
		logger.Error("Failed to send black swan notification: %v", err)
	}
}

func runServe(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", a.cfg.Server.Addr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return a.server(ctx).Run(ctx, *addr, a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout)
}

func (a *app) server(ctx context.Context) *server.Server {
	srv := server.New(a.analytics, a.monitor, a.scanner(ctx))
	srv.SetSimulator(a.simulator(ctx))
	if a.cfg.Server.Pprof {
		srv.EnablePprof()
		logger.Info("Profiling endpoints enabled under /debug/pprof")
	}
	return srv
}
