package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/featureload/internal/dataset"
	"github.com/featureload/internal/featurestore"
	"github.com/featureload/internal/model"
	"github.com/featureload/internal/producer"
	"github.com/featureload/internal/progress"
	"github.com/featureload/internal/worker"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxListedRows = 20

// IngestOptions controls the put pipeline.
type IngestOptions struct {
	MaxWorkers       int
	BatchSize        int
	BatchWait        time.Duration
	RowsPerSecond    int
	Wait             bool
	ProgressInterval time.Duration
}

// IngestResult summarizes a finished ingestion.
type IngestResult struct {
	RunID         string
	Rows          int
	Submitted     int
	FailedRows    []int
	Elapsed       time.Duration
	AvgPutLatency time.Duration
}

// IngestionError reports rows the store did not accept.
type IngestionError struct {
	FeatureGroup string
	Rows         int
	FailedRows   []int
}

func (e *IngestionError) Error() string {
	listed := e.FailedRows
	more := ""
	if len(listed) > maxListedRows {
		listed = listed[:maxListedRows]
		more = fmt.Sprintf(" and %d more", len(e.FailedRows)-maxListedRows)
	}
	ids := make([]string, len(listed))
	for i, r := range listed {
		ids[i] = fmt.Sprint(r)
	}
	return fmt.Sprintf("failed to ingest %d of %d rows into %s: rows [%s]%s",
		len(e.FailedRows), e.Rows, e.FeatureGroup, strings.Join(ids, " "), more)
}

// IngestJob is a running ingestion.
type IngestJob struct {
	RunID  string
	done   chan struct{}
	result *IngestResult
	err    error
}

// Done is closed when every row has been submitted or has failed.
func (j *IngestJob) Done() <-chan struct{} { return j.done }

// Wait blocks until the job finishes. err is an *IngestionError when any
// row failed, or the context error when ingestion was canceled.
func (j *IngestJob) Wait() (*IngestResult, error) {
	<-j.done
	return j.result, j.err
}

// Ingest writes every row of t to the feature group called name. Rows are
// submitted as they are, duplicate identifiers included. With opts.Wait it
// blocks and returns the Wait error; otherwise it returns immediately.
func Ingest(ctx context.Context, store featurestore.Store, name string, t *dataset.Table, opts IngestOptions, logger zerolog.Logger) (*IngestJob, error) {
	workers := opts.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	batchSize := opts.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	job := &IngestJob{RunID: uuid.NewString(), done: make(chan struct{})}
	logger = logger.With().Str("run_id", job.RunID).Str("feature_group", name).Logger()
	logger.Info().
		Int("rows", t.NumRows()).
		Int("workers", workers).
		Int("batch_size", batchSize).
		Dur("batch_wait", opts.BatchWait).
		Int("rows_per_second", opts.RowsPerSecond).
		Msg("starting ingestion")

	go func() {
		defer close(job.done)
		job.result, job.err = runIngest(ctx, store, name, t, workers, batchSize, opts, logger)
		job.result.RunID = job.RunID
	}()

	if !opts.Wait {
		return job, nil
	}
	_, err := job.Wait()
	return job, err
}

func runIngest(ctx context.Context, store featurestore.Store, name string, t *dataset.Table, workers, batchSize int, opts IngestOptions, logger zerolog.Logger) (*IngestResult, error) {
	queue := make(chan *model.PutJob, max(workers*8, batchSize*workers*2))
	stats := &progress.IngestStats{}
	start := time.Now()

	progressCtx, stopProgress := context.WithCancel(ctx)
	defer stopProgress()
	go progress.Run(progressCtx, logger, stats, nil, opts.ProgressInterval)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		w := &worker.PutWorker{
			Store:        store,
			FeatureGroup: name,
			Table:        t,
			Stats:        stats,
			BatchSize:    batchSize,
			BatchWait:    opts.BatchWait,
			Logger:       logger,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx, queue)
		}()
	}

	prodErr := producer.Run(ctx, t.NumRows(), queue, producer.NewLimiter(opts.RowsPerSecond), workers)
	wg.Wait()
	stopProgress()

	snap := stats.Snapshot()
	res := &IngestResult{
		Rows:          t.NumRows(),
		Submitted:     snap.Submitted,
		FailedRows:    stats.FailedRows(),
		Elapsed:       time.Since(start),
		AvgPutLatency: snap.AvgPutLatency(),
	}
	rate := 0.0
	if res.Elapsed > 0 {
		rate = float64(res.Submitted) / res.Elapsed.Seconds()
	}
	logger.Info().
		Int("submitted", res.Submitted).
		Int("failed", len(res.FailedRows)).
		Dur("elapsed", res.Elapsed).
		Float64("rows_per_sec", rate).
		Dur("avg_put_latency", res.AvgPutLatency).
		Msg("ingestion finished")

	if prodErr != nil {
		return res, prodErr
	}
	if len(res.FailedRows) > 0 {
		return res, &IngestionError{FeatureGroup: name, Rows: res.Rows, FailedRows: res.FailedRows}
	}
	return res, nil
}
