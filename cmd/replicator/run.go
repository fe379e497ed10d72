package main

import (
	"context"

	replication "github.com/Vinicius-Luiz/data-replication-python-service-sub000"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the task with its configured replication type",
	RunE: func(cmd *cobra.Command, args []string) error {
		return execute(func(ctx context.Context, r *replication.Replicator) error {
			return r.Strategy().Execute(ctx)
		})
	},
}

var fullLoadCmd = &cobra.Command{
	Use:   "full-load",
	Short: "Copy every tracked table once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return execute(func(ctx context.Context, r *replication.Replicator) error {
			return r.FullLoad().Execute(ctx)
		})
	},
}

var produceCmd = &cobra.Command{
	Use:   "produce",
	Short: "Capture changes and publish them to the task queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return execute(func(ctx context.Context, r *replication.Replicator) error {
			return r.CDC(replication.RoleProducer).Execute(ctx)
		})
	},
}

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Apply published changes to the target",
	Long:  "Consumes the task queue. The table definitions come from the task state a producer recorded in the metadata store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return execute(func(ctx context.Context, r *replication.Replicator) error {
			return r.CDC(replication.RoleConsumer).Execute(ctx)
		})
	},
}
