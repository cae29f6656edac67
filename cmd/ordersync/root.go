package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/agentworkforce/ordersync/internal/config"
	"github.com/agentworkforce/ordersync/internal/docstore"
	"github.com/agentworkforce/ordersync/internal/logging"
	"github.com/agentworkforce/ordersync/internal/orders"
	"github.com/agentworkforce/ordersync/internal/ordersync"
	"github.com/agentworkforce/ordersync/internal/shopify"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	ConfigFile string
	Output     string
}

var validOutputs = []string{"json", "yaml"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "ordersync",
		Short:         "Sync Shopify orders into a document store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, candidate := range validOutputs {
				if opts.Output == candidate {
					return nil
				}
			}
			return fmt.Errorf("invalid output %q: must be one of %s", opts.Output, strings.Join(validOutputs, ", "))
		},
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (yaml)")
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "json", "output format (json|yaml)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newJobsCommand(opts))
	cmd.AddCommand(newOrdersCommand(opts))
	return cmd
}

// runtime holds everything a command needs, built from configuration.
type runtime struct {
	cfg       config.Config
	logger    *slog.Logger
	logCloser io.Closer
	store     docstore.Store
	validator *orders.Validator
	orch      *ordersync.Orchestrator
}

// openRuntime loads configuration and opens the store. The upstream client
// and orchestrator are only built when withSource is set, so read-only
// commands work without Shopify credentials.
func openRuntime(opts *rootOptions, withSource bool) (*runtime, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, logCloser, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, logCloser: logCloser}

	rt.store, err = docstore.BuildStoreFromDSN(cfg.Store.DSN)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Debug("store opened", "backend", docstore.DescribeDSN(cfg.Store.DSN))
	if !withSource {
		return rt, nil
	}

	if err := cfg.RequireShopify(); err != nil {
		rt.Close()
		return nil, err
	}
	client, err := shopify.NewClient(shopify.Options{
		StoreURL:    cfg.Shopify.StoreURL,
		AccessToken: cfg.Shopify.AccessToken,
		APIVersion:  cfg.Shopify.APIVersion,
		Filter:      cfg.Shopify.OrderFilter,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.validator, err = orders.NewValidatorFromFile(cfg.Sync.SchemaFile)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.orch, err = ordersync.NewOrchestrator(ordersync.Options{
		Source:           client,
		Store:            rt.store,
		Validator:        rt.validator,
		Logger:           logging.Printf(logger, "component", "sync"),
		OrdersCollection: cfg.Store.OrdersCollection,
		JobsCollection:   cfg.Store.JobsCollection,
		PageSize:         cfg.Sync.PageSize,
		BatchSize:        cfg.Sync.BatchSize,
		PageDelay:        explicitDelay(cfg.Sync.PageDelay),
		Retry: ordersync.RetryPolicy{
			MaxAttempts: cfg.Sync.RetryAttempts,
			Delay:       explicitDelay(cfg.Sync.RetryDelay),
		},
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) retryPolicy() ordersync.RetryPolicy {
	return ordersync.RetryPolicy{MaxAttempts: rt.cfg.Sync.RetryAttempts, Delay: explicitDelay(rt.cfg.Sync.RetryDelay)}
}

func (rt *runtime) jobs() *ordersync.JobTracker {
	if rt.orch != nil {
		return rt.orch.Jobs()
	}
	return ordersync.NewJobTracker(rt.store, rt.cfg.Store.JobsCollection, rt.retryPolicy(), logging.Printf(rt.logger, "component", "jobs"))
}

func (rt *runtime) Close() {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn("close store", "error", err)
		}
	}
	if rt.logCloser != nil {
		_ = rt.logCloser.Close()
	}
}

// explicitDelay maps a configured zero onto "no pause"; the orchestrator
// reads zero as "use the default".
func explicitDelay(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}
