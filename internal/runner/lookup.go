package runner

import (
	"context"
	"time"

	"github.com/featureload/internal/dataset"
	"github.com/featureload/internal/featurestore"
	"github.com/featureload/internal/model"
	"github.com/featureload/internal/progress"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// LookupResult is the outcome of one point lookup.
type LookupResult struct {
	ID      string
	Found   bool
	Record  featurestore.Record
	Latency time.Duration
}

// Verify reads back the record identified by id. A missing record is
// logged as a warning and reported with Found false: freshly ingested
// records may not be visible yet.
func Verify(ctx context.Context, store featurestore.Store, name, id string, logger zerolog.Logger) (*LookupResult, error) {
	t0 := time.Now()
	rec, err := store.GetRecord(ctx, name, id)
	res := &LookupResult{ID: id, Latency: time.Since(t0)}
	if err != nil {
		if errors.Cause(err) == featurestore.ErrRecordNotFound {
			logger.Warn().Str("feature_group", name).Str("record_id", id).Msg("record not found (it may not be visible yet)")
			return res, nil
		}
		return nil, errors.Wrapf(err, "looking up record %s", id)
	}
	res.Found = true
	res.Record = rec
	ev := logger.Info().Str("feature_group", name).Str("record_id", id).Dur("latency", res.Latency)
	for _, fv := range rec {
		ev = ev.Str(fv.Name, fv.Value)
	}
	ev.Msg("record found")
	return res, nil
}

// FirstIdentifier returns the identifier of row 0.
func FirstIdentifier(t *dataset.Table, idColumn string) (string, error) {
	ids, err := SampleIdentifiers(t, idColumn, 1)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", errors.Errorf("no value in column %s to look up", idColumn)
	}
	return ids[0], nil
}

// SampleIdentifiers picks n identifiers spread evenly over the table,
// starting at row 0. Missing values are skipped.
func SampleIdentifiers(t *dataset.Table, idColumn string, n int) ([]string, error) {
	col, ok := t.Column(idColumn)
	if !ok {
		return nil, errors.Errorf("record identifier column %s not found", idColumn)
	}
	rows := t.NumRows()
	if n <= 0 || rows == 0 {
		return nil, nil
	}
	if n > rows {
		n = rows
	}
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if s, ok := col.StringValue(i * rows / n); ok {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

// SampleLookups looks up every id through a pool of workers and returns
// hit and latency counts. Misses are counted, not returned as errors.
func SampleLookups(ctx context.Context, store featurestore.Store, name string, ids []string, workers int, progressInterval time.Duration, logger zerolog.Logger) (progress.LookupSnapshot, error) {
	if workers < 1 {
		workers = 1
	}
	stats := &progress.LookupStats{}
	queue := make(chan *model.LookupJob, workers*4)

	progressCtx, stopProgress := context.WithCancel(ctx)
	defer stopProgress()
	go progress.Run(progressCtx, logger, nil, stats, progressInterval)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return runLookupWorker(gctx, store, name, queue, stats)
		})
	}
	g.Go(func() error {
		defer func() {
			for i := 0; i < workers; i++ {
				queue <- nil
			}
		}()
		for _, id := range ids {
			select {
			case queue <- &model.LookupJob{ID: id, EnqueuedAt: time.Now()}:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	err := g.Wait()
	snap := stats.Snapshot()
	logger.Info().
		Int("lookups", snap.Count).
		Int("misses", snap.Misses).
		Dur("avg_latency", snap.AvgLatency()).
		Msg("sampled lookups finished")
	return snap, err
}

// runLookupWorker stops at the nil sentinel. After a failure it keeps
// draining so the sender never blocks.
func runLookupWorker(ctx context.Context, store featurestore.Store, name string, queue <-chan *model.LookupJob, stats *progress.LookupStats) error {
	var firstErr error
	for job := range queue {
		if job == nil {
			return firstErr
		}
		if firstErr != nil || ctx.Err() != nil {
			continue
		}
		t0 := time.Now()
		_, err := store.GetRecord(ctx, name, job.ID)
		latency := time.Since(t0)
		switch {
		case err == nil:
			stats.Add(true, latency)
		case errors.Cause(err) == featurestore.ErrRecordNotFound:
			stats.Add(false, latency)
		default:
			firstErr = errors.Wrapf(err, "looking up record %s", job.ID)
		}
	}
	return firstErr
}
