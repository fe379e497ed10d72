package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/config"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/catalog"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/endpoint"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/metadata"
	"github.com/spf13/cobra"
)

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "Inspect the task's replication slots",
}

var listSlotsCmd = &cobra.Command{
	Use:   "list",
	Short: "List logical slots sharing the task's slot prefix",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSource(cmd.Context(), func(ctx context.Context, cfg *config.Config, src *endpoint.PostgresSource) error {
			slots, err := src.Slots(ctx, cfg.Source.SlotPrefix)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPLUGIN\tACTIVE\tTASK")
			for _, s := range slots {
				fmt.Fprintf(w, "%s\t%s\t%t\t%t\n", s.Name, s.Plugin, s.Active, s.Name == cfg.SlotName())
			}
			return w.Flush()
		})
	},
}

var dropSlotCmd = &cobra.Command{
	Use:   "drop [slot-name]",
	Short: "Drop a replication slot (defaults to the task's slot)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSource(cmd.Context(), func(ctx context.Context, cfg *config.Config, src *endpoint.PostgresSource) error {
			name := cfg.SlotName()
			if len(args) == 1 {
				name = args[0]
			}
			if err := src.DropSlot(ctx, name); err != nil {
				return err
			}
			fmt.Printf("slot %s dropped\n", name)
			return nil
		})
	},
}

var exceptionsCmd = &cobra.Command{
	Use:   "exceptions",
	Short: "Print the task's exception ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		store, err := metadata.Open(cfg.Metadata.Path, config.Sanitize(cfg.Task.Name))
		if err != nil {
			return err
		}
		defer store.Close()

		exceptions, err := store.Exceptions(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTRANSACTION\tTABLE\tKIND\tCODE\tMESSAGE")
		for _, e := range exceptions {
			fmt.Fprintf(w, "%s\t%s\t%s.%s\t%s\t%s\t%s\n", e.Time.Format("2006-01-02 15:04:05"),
				e.TransactionID, e.Schema, e.Table, e.Kind, e.Code, e.Message)
		}
		return w.Flush()
	},
}

func init() {
	slotsCmd.AddCommand(listSlotsCmd, dropSlotCmd)
}

func withSource(ctx context.Context, fn func(context.Context, *config.Config, *endpoint.PostgresSource) error) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	src, err := endpoint.NewPostgresSource(ctx, cfg.Source, catalog.Postgres())
	if err != nil {
		return err
	}
	defer src.Close()
	return fn(ctx, cfg, src)
}
