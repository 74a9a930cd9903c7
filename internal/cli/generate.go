package cli

import (
	"fmt"

	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/featureload/internal/config"
	"github.com/featureload/internal/datagen"
	"github.com/featureload/internal/dataset"
	"github.com/featureload/internal/logger"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newGenerateCommand(cfg *config.Config, deps Deps) *cobra.Command {
	opts := datagen.Options{Rows: 1000, Seed: 1, PositiveRatio: 0.002}
	var output string
	genCmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic transactions CSV.",
		Long: `Writes a CSV with the columns time, v1..v28, amount and class, optionally
followed by record_id. The output is a local path or s3://bucket/key.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return errors.New("--output is required")
			}
			log := logger.GetLogger()
			data, err := datagen.Generate(opts)
			if err != nil {
				return err
			}
			var s3client s3iface.S3API
			if dataset.IsS3URI(output) {
				if s3client, err = deps.NewS3(cfg, log); err != nil {
					return err
				}
			}
			if err := dataset.WriteFileOrURL(commandContext(cmd), output, data, s3client); err != nil {
				return err
			}
			log.Info().Str("output", output).Int("rows", opts.Rows).Int("bytes", len(data)).Msg("dataset written")
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", opts.Rows, output)
			return nil
		},
	}
	flags := genCmd.Flags()
	flags.StringVarP(&output, "output", "o", "", "Destination: a local path or s3://bucket/key.")
	flags.IntVar(&opts.Rows, "rows", opts.Rows, "Rows to generate.")
	flags.Int64Var(&opts.Seed, "seed", opts.Seed, "Random seed; the same seed writes the same file.")
	flags.Float64Var(&opts.PositiveRatio, "positive-ratio", opts.PositiveRatio, "Share of rows with class 1.")
	flags.BoolVar(&opts.RecordID, "record-id", opts.RecordID, "Add a record_id column.")
	flags.Float64Var(&opts.DuplicateRatio, "duplicate-ratio", opts.DuplicateRatio, "Share of rows reusing an earlier record_id.")
	return genCmd
}
