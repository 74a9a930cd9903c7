// Package cli holds the featureload commands.
package cli

import (
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/featureload/internal/awsutil"
	"github.com/featureload/internal/clickhouse"
	"github.com/featureload/internal/config"
	"github.com/featureload/internal/featurestore"
	"github.com/featureload/internal/featurestore/sagemaker"
	"github.com/featureload/internal/logger"
	"github.com/featureload/internal/postgres"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "FEATURELOAD"

// Deps builds the external collaborators of the commands.
type Deps struct {
	OpenStore func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (featurestore.Store, error)
	NewS3     func(cfg *config.Config, logger zerolog.Logger) (s3iface.S3API, error)
}

// DefaultDeps talks to AWS and the configured databases.
func DefaultDeps() Deps {
	return Deps{OpenStore: openStore, NewS3: newS3}
}

// NewRootCommand returns the featureload command tree.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	return newRootCommand(stdout, stderr, DefaultDeps())
}

func newRootCommand(stdout, stderr io.Writer, deps Deps) *cobra.Command {
	cfg := config.Default()
	rc := &cobra.Command{
		Use:   "featureload",
		Short: "Load a CSV dataset into a feature store.",
		Long: `featureload reads a tabular dataset, derives a feature group schema from it,
creates the feature group, ingests every row and reads one record back.

The sagemaker store targets the SageMaker Feature Store. The postgres and
clickhouse stores keep feature groups in a self-hosted database.

Every flag can also be set with a FEATURELOAD_ environment variable
(dashes become underscores) or a TOML file passed with --config.
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setAllConfig(viper.New(), cmd.Flags()); err != nil {
				return err
			}
			logger.SetDebug(cfg.Debug)
			return nil
		},
	}
	flags := rc.PersistentFlags()
	flags.StringP("config", "c", "", "Configuration file to read from.")
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging.")
	flags.StringVar(&cfg.Store, "store", cfg.Store, "Feature store backend: sagemaker, postgres or clickhouse.")
	flags.StringVar(&cfg.AWS.Region, "aws-region", cfg.AWS.Region, "AWS region, overriding the default chain.")
	flags.StringVar(&cfg.AWS.Profile, "aws-profile", cfg.AWS.Profile, "AWS shared credentials profile.")
	databaseFlags(flags, "postgres", &cfg.Postgres)
	databaseFlags(flags, "clickhouse", &cfg.ClickHouse)
	flags.StringVar(&cfg.ClickHouse.Cluster, "clickhouse-cluster", cfg.ClickHouse.Cluster, "ClickHouse cluster for replicated tables; empty for a single server.")

	rc.AddCommand(newRunCommand(cfg, deps))
	rc.AddCommand(newGenerateCommand(cfg, deps))
	rc.AddCommand(newDescribeCommand(cfg, deps))
	rc.AddCommand(newGetCommand(cfg, deps))
	rc.AddCommand(newDeleteCommand(cfg, deps))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

func databaseFlags(flags *pflag.FlagSet, name string, db *config.Database) {
	flags.StringVar(&db.Host, name+"-host", db.Host, name+" host.")
	flags.IntVar(&db.Port, name+"-port", db.Port, name+" port.")
	flags.StringVar(&db.Name, name+"-database", db.Name, name+" database.")
	flags.StringVar(&db.User, name+"-user", db.User, name+" user.")
	flags.StringVar(&db.Password, name+"-password", db.Password, name+" password.")
	flags.IntVar(&db.PoolSize, name+"-pool-size", db.PoolSize, name+" connections to keep open.")
}

// setAllConfig applies, for every flag in flags, the first value found on
// the command line, in a FEATURELOAD_ environment variable (upper case,
// dashes and dots replaced by underscores) or in the TOML file named by
// the config flag. Keys in the file that are not flags are rejected.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	validTags := make(map[string]bool)
	flags.VisitAll(func(f *pflag.Flag) {
		validTags[f.Name] = true
	})

	if c := v.GetString("config"); c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "reading configuration file '%s'", c)
		}
		for _, key := range v.AllKeys() {
			if !validTags[key] {
				return errors.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			return
		}
		if err := f.Value.Set(v.GetString(f.Name)); err != nil {
			flagErr = errors.Wrapf(err, "setting %s", f.Name)
		}
	})
	return flagErr
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (featurestore.Store, error) {
	switch cfg.Store {
	case config.StoreSageMaker:
		sess, err := awsutil.NewSession(cfg.AWS, logger)
		if err != nil {
			return nil, err
		}
		return sagemaker.New(sess, logger), nil
	case config.StorePostgres:
		s, err := postgres.Open(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreClickHouse:
		s, err := clickhouse.Open(ctx, cfg.ClickHouse, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.Errorf("unknown store %q", cfg.Store)
	}
}

func newS3(cfg *config.Config, logger zerolog.Logger) (s3iface.S3API, error) {
	sess, err := awsutil.NewSession(cfg.AWS, logger)
	if err != nil {
		return nil, err
	}
	return s3.New(sess), nil
}
