package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentworkforce/ordersync/internal/ordersync"
	"github.com/spf13/cobra"
)

func newSyncCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull orders from Shopify into the store",
	}
	cmd.AddCommand(newSyncOnceCommand(opts))
	cmd.AddCommand(newSyncFullCommand(opts))
	cmd.AddCommand(newSyncWatchCommand(opts))
	return cmd
}

func newSyncOnceCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Store new orders from the most recent page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(opts, true)
			if err != nil {
				return err
			}
			defer rt.Close()
			result, err := rt.orch.RunBoundedSync(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts.Output, result)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", ordersync.DefaultBoundedLimit, "orders to fetch (max 250)")
	return cmd
}

func newSyncFullCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "full",
		Short: "Page through every upstream order and store the new ones",
		Long: "Runs a full sync in the foreground and prints the finished job record.\n" +
			"Interrupting the run marks the job as failed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(opts, true)
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			job, err := rt.orch.CreateJob(ctx)
			if err != nil {
				return err
			}
			rt.logger.Info("full sync started", "job_id", job.ID)
			progress, runErr := rt.orch.RunFullSync(ctx, job.ID)
			rt.logger.Info("full sync finished", "job_id", job.ID,
				"synced", progress.Synced, "skipped", progress.Skipped, "errors", progress.Errors)

			final, err := rt.orch.Jobs().Get(context.WithoutCancel(ctx), job.ID)
			if err != nil {
				return err
			}
			if err := writeOutput(cmd.OutOrStdout(), opts.Output, final); err != nil {
				return err
			}
			return runErr
		},
	}
}

type watchOptions struct {
	interval time.Duration
	jitter   float64
	timeout  time.Duration
	limit    int
	once     bool
}

func newSyncWatchCommand(opts *rootOptions) *cobra.Command {
	wo := watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run a bounded sync on a jittered interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(opts, true)
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rng := rand.New(rand.NewSource(time.Now().UnixNano()))
			return watchLoop(ctx, wo, rng.Float64, func(ctx context.Context) {
				result, err := rt.orch.RunBoundedSync(ctx, wo.limit)
				if err != nil {
					rt.logger.Error("sync cycle failed", "error", err)
					return
				}
				rt.logger.Info("sync cycle completed", "synced", result.Synced, "errors", result.Errors)
			})
		},
	}
	cmd.Flags().DurationVar(&wo.interval, "interval", 5*time.Minute, "sync interval")
	cmd.Flags().Float64Var(&wo.jitter, "jitter", 0.2, "sync interval jitter ratio (0.0-1.0)")
	cmd.Flags().DurationVar(&wo.timeout, "timeout", 2*time.Minute, "per-cycle timeout")
	cmd.Flags().IntVar(&wo.limit, "limit", ordersync.DefaultBoundedLimit, "orders to fetch per cycle (max 250)")
	cmd.Flags().BoolVar(&wo.once, "once", false, "run one cycle and exit")
	return cmd
}

// watchLoop runs cycle immediately and then after every jittered interval
// until ctx is done. sample supplies values in [0, 1).
func watchLoop(ctx context.Context, wo watchOptions, sample func() float64, cycle func(ctx context.Context)) error {
	if wo.interval <= 0 {
		wo.interval = 5 * time.Minute
	}
	if wo.timeout <= 0 {
		wo.timeout = 2 * time.Minute
	}
	wo.jitter = clampJitterRatio(wo.jitter)

	run := func() {
		cycleCtx, cancel := context.WithTimeout(ctx, wo.timeout)
		defer cancel()
		cycle(cycleCtx)
	}

	run()
	if wo.once {
		return nil
	}
	timer := time.NewTimer(jitteredIntervalWithSample(wo.interval, wo.jitter, sample()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			run()
			timer.Reset(jitteredIntervalWithSample(wo.interval, wo.jitter, sample()))
		}
	}
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
