package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rewired-gh/pricewatch/internal/logger"
	"github.com/rewired-gh/pricewatch/internal/pricesource"
	"github.com/rewired-gh/pricewatch/internal/scheduler"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the monitor until interrupted",
		Long:  "Start the scheduler: refresh prices and evaluate alerts on every interval, reset daily statistics once a day.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore(s)

			src, err := a.buildSource(s)
			if err != nil {
				return err
			}
			if sim, ok := src.(*pricesource.Simulated); ok {
				if n, err := sim.Seed(ctx); err != nil {
					logger.Warn("Seeding prices failed: %v", err)
				} else if n > 0 {
					logger.Info("Seeded %d symbol(s)", n)
				}
			}
			tg := a.newTelegram(s)
			if tg != nil {
				tg.ListenForCommands(ctx)
			}
			runner := a.buildRunner(s, src, tg)

			schedCfg, err := a.schedulerConfig()
			if err != nil {
				return err
			}
			sched := scheduler.New(runner, src, schedCfg)

			logger.Info("Starting price monitor (interval: %v, workers: %d, source: %s, storage: %s)",
				a.cfg.Scheduler.Interval, a.cfg.Evaluator.Workers, a.cfg.Source.Kind, a.cfg.Storage.Driver)
			if err := sched.Start(); err != nil {
				return err
			}

			<-ctx.Done()
			logger.Info("Shutdown signal received, waiting for the current cycle...")
			sched.Stop()
			logger.Info("Service stopped")
			return nil
		},
	}
}

func newOnceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single refresh-and-evaluate cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Scheduler.CycleTimeout+5*time.Second)
			defer cancel()

			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore(s)

			src, err := a.buildSource(s)
			if err != nil {
				return err
			}
			report := a.buildRunner(s, src, a.newTelegram(s)).RunOnce(ctx)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Cycle finished in %v\n", report.Duration.Round(time.Millisecond))
			if sum := report.Summary; sum != nil {
				fmt.Fprintf(out, "Pending: %d  Triggered: %d  Not met: %d  Deferred: %d  Failed: %d\n",
					sum.Pending, sum.Triggered, sum.NotMet, sum.Deferred, sum.Failed)
				for _, id := range sum.TriggeredIDs() {
					fmt.Fprintf(out, "  triggered %s\n", id)
				}
			}
			if report.Failed() {
				return report.Err()
			}
			return nil
		},
	}
}

func newSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Write seed prices for configured symbols that have none",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore(s)

			sim, err := a.simulated(s)
			if err != nil {
				return err
			}
			n, err := sim.Seed(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d of %d symbol(s)\n", n, len(sim.Symbols()))
			return err
		},
	}
}

func newPricesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prices",
		Short: "List the latest stored prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore(s)

			prices, err := s.ListPrices(ctx)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd, prices)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SYMBOL\tPRICE\tCHANGE\tOPEN\tHIGH\tLOW\tUPDATED")
			for _, p := range prices {
				fmt.Fprintf(w, "%s\t%s\t%s%%\t%s\t%s\t%s\t%s\n",
					p.Symbol, p.Price.StringFixed(2), p.ChangePercent().StringFixed(2),
					p.Open.StringFixed(2), p.High.StringFixed(2), p.Low.StringFixed(2),
					p.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}
