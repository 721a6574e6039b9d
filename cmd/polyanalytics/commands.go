package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rewired-gh/polyanalytics/internal/logger"
	"github.com/rewired-gh/polyanalytics/internal/simulation"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCollect(ctx context.Context, a *app, _ []string) error {
	stats, err := a.collector.RunCycle(ctx)
	if err != nil {
		return err
	}
	a.notify(ctx, stats)
	return printJSON(stats)
}

func runDetectMoves(ctx context.Context, a *app, _ []string) error {
	events, detErrs, err := a.monitor.DetectLargeMoves(ctx)
	if err != nil {
		return fmt.Errorf("failed to detect large moves: %w", err)
	}
	for _, e := range detErrs {
		logger.Warn("%v", e)
	}
	if a.telegram != nil {
		if err := a.telegram.SendLargeMoves(events); err != nil {
			logger.Error("Failed to send large move notification: %v", err)
		}
	}
	fmt.Printf("Recorded %d new large moves\n", len(events))
	for _, e := range events {
		fmt.Printf("  %-60.60s %5.1f -> %5.1f (%+.1f pts)\n", e.Question, e.ProbabilityStart, e.ProbabilityEnd, e.ChangePoints)
	}
	return nil
}

func runStats(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	o, err := a.analytics.Overview(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(o)
	}

	fmt.Printf("Markets tracked: %d (active %d, resolved %d)\n", o.TotalMarketsTracked, o.ActiveMarkets, o.ResolvedMarkets)
	fmt.Printf("Snapshots: %d\n", o.TotalSnapshots)
	fmt.Printf("Black swans: %d\n", o.BlackSwanCount)
	fmt.Printf("Large moves (24h): %d\n\n", o.RecentLargeMoves)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BUCKET\tRESOLVED\tCORRECT\tINCORRECT\tACCURACY\tBLACK SWANS")
	for _, b := range o.BucketStats {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f%%\t%d\n", b.Bucket, b.TotalResolved, b.Correct, b.Incorrect, b.AccuracyRate, b.BlackSwanCount)
	}
	return w.Flush()
}

func runMovers(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("movers", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum number of movers")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	movers, err := a.monitor.RecentMovers(ctx, *limit)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(movers)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MARKET\tSTART\tEND\tCHANGE\tMAX SWING\tVOLUME")
	for _, m := range movers {
		fmt.Fprintf(w, "%.60s\t%.1f\t%.1f\t%+.1f\t%.1f\t%.0f\n", m.Question, m.ProbabilityStart, m.ProbabilityEnd, m.Change, m.MaxSwing, m.Volume)
	}
	return w.Flush()
}

func runBlackSwans(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("black-swans", flag.ExitOnError)
	source := fs.String("source", "local", "local (classified resolutions) or api (closed market price history)")
	limit := fs.Int("limit", 50, "maximum number of results")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	switch *source {
	case "local":
		swans, err := a.analytics.BlackSwans(ctx, *limit)
		if err != nil {
			return err
		}
		if *asJSON {
			return printJSON(swans)
		}
		fmt.Fprintln(w, "MARKET\tOUTCOME\tFINAL\tRESOLVED")
		for _, s := range swans {
			fmt.Fprintf(w, "%.60s\t%s\t%.1f%%\t%s\n", s.Question, s.Outcome, s.FinalProbability, s.ResolvedAt.Format(time.DateOnly))
		}
	case "api":
		results, err := a.scanner(ctx).Scan(ctx)
		if err != nil {
			return err
		}
		if len(results) > *limit {
			results = results[:*limit]
		}
		if *asJSON {
			return printJSON(results)
		}
		fmt.Fprintln(w, "MARKET\tWINNER\tMIN PRICE\tVOLUME\tENDED")
		for _, r := range results {
			fmt.Fprintf(w, "%.60s\t%s\t%.2f\t%.0f\t%s\n", r.Question, r.Winner, r.MinPrice, r.Volume, r.EndDate.Format(time.DateOnly))
		}
	default:
		return fmt.Errorf("unknown source %q: must be local or api", *source)
	}
	return w.Flush()
}

func runSimulate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	day := fs.String("date", "", "simulation date (YYYY-MM-DD)")
	source := fs.String("source", "local", "local (stored snapshots) or api (CLOB price history of resolved markets)")
	limit := fs.Int("limit", 50, "maximum number of markets")
	minVolume := fs.Float64("min-volume", 100000, "minimum volume (api source)")
	anyResolved := fs.Bool("any-resolved", false, "ignore the end date window (api source)")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	date, err := time.Parse(time.DateOnly, *day)
	if err != nil {
		return fmt.Errorf("-date must be YYYY-MM-DD: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	switch *source {
	case "local":
		markets, err := a.analytics.SimulationMarkets(ctx, *day, *limit)
		if err != nil {
			return err
		}
		if *asJSON {
			return printJSON(markets)
		}
		fmt.Fprintln(w, "MARKET\tPROBABILITY\tVOLUME")
		for _, m := range markets {
			fmt.Fprintf(w, "%.60s\t%.1f\t%.0f\n", m.Question, m.Probability, m.Volume)
		}
	case "api":
		markets, err := a.simulator(ctx).Markets(ctx, simulation.Query{
			Date:        date,
			MinVolume:   *minVolume,
			Limit:       *limit,
			AnyResolved: *anyResolved,
		})
		if err != nil {
			return err
		}
		if *asJSON {
			return printJSON(markets)
		}
		fmt.Fprintln(w, "MARKET\tYES AT DATE\tRESOLVED\tVOLUME\tENDED")
		for _, m := range markets {
			yes, ok := m.PricesAtDate["Yes"]
			price := "-"
			if ok {
				price = fmt.Sprintf("%.2f", yes)
			}
			fmt.Fprintf(w, "%.60s\t%s\t%s\t%.0f\t%s\n", m.Question, price, m.ResolutionOutcome, m.Volume, m.EndDate.Format(time.DateOnly))
		}
	default:
		return fmt.Errorf("unknown source %q: must be local or api", *source)
	}
	return w.Flush()
}

// runInitDB relies on newApp having opened the store, which applies pending
// migrations.
func runInitDB(_ context.Context, a *app, _ []string) error {
	fmt.Printf("Database ready at %s\n", a.cfg.Database.Path)
	return nil
}

func runPurge(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	olderThan := fs.Duration("older-than", a.cfg.Storage.Retention, "delete deactivated markets not updated within this duration")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *olderThan <= 0 {
		return fmt.Errorf("-older-than must be positive (storage.retention is %v)", a.cfg.Storage.Retention)
	}

	n, err := a.store.PurgeInactiveMarkets(ctx, time.Now().Add(-*olderThan))
	if err != nil {
		return err
	}
	fmt.Printf("Purged %d inactive markets\n", n)
	return nil
}
