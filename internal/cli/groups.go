package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/featureload/internal/config"
	"github.com/featureload/internal/logger"
	"github.com/featureload/internal/runner"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newDescribeCommand(cfg *config.Config, deps Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "describe NAME",
		Short: "Show the status and schema of a feature group.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateStore(); err != nil {
				return err
			}
			ctx := commandContext(cmd)
			store, err := deps.OpenStore(ctx, cfg, logger.GetLogger())
			if err != nil {
				return err
			}
			defer store.Close()

			d, err := store.DescribeFeatureGroup(ctx, args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "name:\t%s\n", d.Name)
			fmt.Fprintf(tw, "arn:\t%s\n", d.ARN)
			fmt.Fprintf(tw, "status:\t%s\n", d.Status)
			if d.FailureReason != "" {
				fmt.Fprintf(tw, "failure reason:\t%s\n", d.FailureReason)
			}
			if d.OfflineStoreStatus != "" {
				fmt.Fprintf(tw, "offline store:\t%s\n", d.OfflineStoreStatus)
			}
			fmt.Fprintf(tw, "record identifier:\t%s\n", d.RecordIdentifierFeatureName)
			fmt.Fprintf(tw, "event time:\t%s\n", d.EventTimeFeatureName)
			if !d.CreatedAt.IsZero() {
				fmt.Fprintf(tw, "created:\t%s\n", d.CreatedAt.UTC().Format(time.RFC3339))
			}
			for _, fd := range d.FeatureDefinitions {
				fmt.Fprintf(tw, "  %s\t%s\n", fd.Name, fd.Type)
			}
			return tw.Flush()
		},
	}
}

func newGetCommand(cfg *config.Config, deps Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "get NAME ID",
		Short: "Look up one record by identifier.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateStore(); err != nil {
				return err
			}
			ctx := commandContext(cmd)
			log := logger.GetLogger()
			store, err := deps.OpenStore(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := runner.Verify(ctx, store, args[0], args[1], log)
			if err != nil {
				return err
			}
			if !res.Found {
				return errors.Errorf("record %s not found in %s", args[1], args[0])
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, fv := range res.Record {
				fmt.Fprintf(tw, "%s\t%s\n", fv.Name, fv.Value)
			}
			return tw.Flush()
		},
	}
}

func newDeleteCommand(cfg *config.Config, deps Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a feature group.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateStore(); err != nil {
				return err
			}
			ctx := commandContext(cmd)
			store, err := deps.OpenStore(ctx, cfg, logger.GetLogger())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteFeatureGroup(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
