package cli

import (
	"fmt"

	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/featureload/internal/config"
	"github.com/featureload/internal/dataset"
	"github.com/featureload/internal/logger"
	"github.com/featureload/internal/runner"
	"github.com/spf13/cobra"
)

func newRunCommand(cfg *config.Config, deps Deps) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Create a feature group from a CSV dataset and ingest it.",
		Long: `Loads the dataset, converts untyped columns to strings, stamps every row
with the current time in the event time column, infers the feature group
schema, creates the group, waits until it is Created, ingests every row
and looks one record up.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			log := logger.GetLogger()
			ctx := commandContext(cmd)

			var s3client s3iface.S3API
			if dataset.IsS3URI(cfg.Source.Location()) {
				var err error
				if s3client, err = deps.NewS3(cfg, log); err != nil {
					return err
				}
			}
			store, err := deps.OpenStore(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			w := &runner.Workflow{
				Config: cfg,
				Loader: dataset.NewLoader(s3client, dataset.ParseOptions{LowercaseColumns: cfg.Source.LowercaseColumns}, log),
				Store:  store,
				Logger: log,
			}
			rep, err := w.Run(ctx)
			if err != nil {
				return err
			}
			printReport(cmd, rep)
			return nil
		},
	}

	flags := runCmd.Flags()
	flags.StringVar(&cfg.Source.URI, "source-uri", cfg.Source.URI, "Dataset location: a local path or s3://bucket/key.")
	flags.StringVar(&cfg.Source.Bucket, "source-bucket", cfg.Source.Bucket, "Dataset bucket, used with --source-key when --source-uri is empty.")
	flags.StringVar(&cfg.Source.Key, "source-key", cfg.Source.Key, "Dataset object key.")
	flags.BoolVar(&cfg.Source.LowercaseColumns, "lowercase-columns", cfg.Source.LowercaseColumns, "Trim and lower-case column names.")

	flags.StringVar(&cfg.FeatureGroup.Name, "feature-group-name", cfg.FeatureGroup.Name, "Feature group name; generated from --name-prefix when empty.")
	flags.StringVar(&cfg.FeatureGroup.NamePrefix, "name-prefix", cfg.FeatureGroup.NamePrefix, "Prefix of generated feature group names.")
	flags.StringVar(&cfg.FeatureGroup.RecordIdentifier, "record-identifier", cfg.FeatureGroup.RecordIdentifier, "Column identifying a record.")
	flags.StringVar(&cfg.FeatureGroup.EventTime, "event-time", cfg.FeatureGroup.EventTime, "Event time column, set to the current time on every row.")
	flags.StringVar(&cfg.FeatureGroup.RoleARN, "role-arn", cfg.FeatureGroup.RoleARN, "IAM role the feature store assumes (sagemaker).")
	flags.StringVar(&cfg.FeatureGroup.OfflineStoreURI, "offline-store-uri", cfg.FeatureGroup.OfflineStoreURI, "s3:// prefix of the offline store; empty disables it.")
	flags.StringVar(&cfg.FeatureGroup.Description, "description", cfg.FeatureGroup.Description, "Feature group description.")
	flags.BoolVar(&cfg.FeatureGroup.EnableOnlineStore, "enable-online-store", cfg.FeatureGroup.EnableOnlineStore, "Enable the online store.")
	flags.BoolVar(&cfg.FeatureGroup.GenerateRecordID, "generate-record-id", cfg.FeatureGroup.GenerateRecordID, "Add a row index identifier column when the dataset has none.")

	flags.IntVar(&cfg.Ingest.MaxWorkers, "max-workers", cfg.Ingest.MaxWorkers, "Concurrent put workers.")
	flags.IntVar(&cfg.Ingest.BatchSize, "batch-size", cfg.Ingest.BatchSize, "Records per write.")
	flags.DurationVar(&cfg.Ingest.BatchWait, "batch-wait", cfg.Ingest.BatchWait, "Max wait before flushing a partial batch.")
	flags.IntVar(&cfg.Ingest.RowsPerSecond, "rows-per-second", cfg.Ingest.RowsPerSecond, "Rate limit of puts; 0 is unlimited.")
	flags.BoolVar(&cfg.Ingest.Wait, "wait", cfg.Ingest.Wait, "Wait for ingestion before looking up a record.")
	flags.DurationVar(&cfg.Ingest.ProgressInterval, "progress-interval", cfg.Ingest.ProgressInterval, "Interval between progress logs.")
	flags.StringVar(&cfg.Ingest.LookupID, "lookup-id", cfg.Ingest.LookupID, "Identifier to look up; defaults to the first row's.")
	flags.IntVar(&cfg.Ingest.VerifySamples, "verify-samples", cfg.Ingest.VerifySamples, "Additional lookups over identifiers sampled from the dataset.")

	flags.DurationVar(&cfg.Poll.Interval, "poll-interval", cfg.Poll.Interval, "Interval between feature group status checks.")
	flags.DurationVar(&cfg.Poll.Timeout, "poll-timeout", cfg.Poll.Timeout, "Give up waiting for creation after this long; 0 waits forever.")
	return runCmd
}

func printReport(cmd *cobra.Command, rep *runner.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "feature group: %s\n", rep.FeatureGroup)
	fmt.Fprintf(out, "arn: %s\n", rep.ARN)
	fmt.Fprintf(out, "features: %d\n", len(rep.Definitions))
	if rep.Ingest != nil {
		fmt.Fprintf(out, "rows: %d submitted, %d failed in %s\n", rep.Ingest.Submitted, len(rep.Ingest.FailedRows), rep.Ingest.Elapsed)
	}
	if rep.Lookup != nil {
		status := "found"
		if !rep.Lookup.Found {
			status = "not found"
		}
		fmt.Fprintf(out, "lookup %s: %s\n", rep.Lookup.ID, status)
	}
	if rep.Samples != nil {
		fmt.Fprintf(out, "sampled lookups: %d, %d misses, avg latency %s\n", rep.Samples.Count, rep.Samples.Misses, rep.Samples.AvgLatency())
	}
}
