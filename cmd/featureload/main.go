// featureload loads a CSV dataset into a feature store: SageMaker Feature
// Store, PostgreSQL or ClickHouse.
// A producer enqueues rows at the target rate; workers batch and write them in parallel.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/featureload/internal/cli"
	"github.com/featureload/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rc := cli.NewRootCommand(os.Stdout, os.Stderr)
	rc.SilenceErrors = true
	if err := rc.ExecuteContext(ctx); err != nil {
		log := logger.GetLogger()
		log.Error().Err(err).Msg("featureload failed")
		stop()
		os.Exit(1)
	}
}
