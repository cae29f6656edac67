package main

import (
	"github.com/agentworkforce/ordersync/internal/ordersync"
	"github.com/spf13/cobra"
)

func newJobsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect sync jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <job-id>",
		Short: "Print a sync job record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(opts, false)
			if err != nil {
				return err
			}
			defer rt.Close()
			job, err := rt.jobs().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts.Output, job)
		},
	})
	return cmd
}

func newOrdersCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect stored orders",
	}
	var pageSize, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored orders, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(opts, false)
			if err != nil {
				return err
			}
			defer rt.Close()
			listing, err := ordersync.ListOrders(cmd.Context(), rt.store, rt.cfg.Store.OrdersCollection, pageSize, offset)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts.Output, listing)
		},
	}
	list.Flags().IntVar(&pageSize, "page-size", 25, "orders per page (0 lists all)")
	list.Flags().IntVar(&offset, "offset", 0, "orders to skip")
	cmd.AddCommand(list)
	return cmd
}
