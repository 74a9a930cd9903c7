package worker

import (
	"context"
	"time"

	"github.com/featureload/internal/dataset"
	"github.com/featureload/internal/featurestore"
	"github.com/featureload/internal/model"
	"github.com/featureload/internal/progress"
	"github.com/rs/zerolog"
)

const getPollSec = 5 * time.Millisecond

// PutWorker turns queued row indices into records and writes them to one
// feature group.
type PutWorker struct {
	Store        featurestore.Store
	FeatureGroup string
	Table        *dataset.Table
	Stats        *progress.IngestStats
	BatchSize    int
	BatchWait    time.Duration
	Logger       zerolog.Logger
}

type pending struct {
	row int
	rec featurestore.Record
}

// Run consumes queue, batching by BatchSize or BatchWait, until it
// receives nil. Put errors are recorded in Stats and never stop the worker.
func (w *PutWorker) Run(ctx context.Context, queue <-chan *model.PutJob) {
	batchSize := w.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	var batch []pending
	batchStart := time.Now()
	for {
		timeout := getPollSec
		if left := w.BatchWait - time.Since(batchStart); left > 0 && left < timeout {
			timeout = left
		}
		if timeout < time.Millisecond {
			timeout = time.Millisecond
		}

		select {
		case job := <-queue:
			if job == nil {
				w.flush(ctx, batch)
				return
			}
			batch = append(batch, pending{row: job.Row, rec: featurestore.RecordFromRow(w.Table, job.Row)})
			if len(batch) >= batchSize {
				w.flush(ctx, batch)
				batch = nil
				batchStart = time.Now()
			}
		case <-time.After(timeout):
			if len(batch) > 0 && time.Since(batchStart) >= w.BatchWait {
				w.flush(ctx, batch)
				batch = nil
				batchStart = time.Now()
			}
		}
	}
}

func (w *PutWorker) flush(ctx context.Context, batch []pending) {
	if len(batch) == 0 {
		return
	}
	if bw, ok := w.Store.(featurestore.BatchWriter); ok && len(batch) > 1 {
		recs := make([]featurestore.Record, len(batch))
		rows := make([]int, len(batch))
		for i, p := range batch {
			recs[i] = p.rec
			rows[i] = p.row
		}
		t0 := time.Now()
		if err := bw.PutRecords(ctx, w.FeatureGroup, recs); err != nil {
			w.Logger.Error().Err(err).Ints("rows", rows).Msg("batch put failed")
			w.Stats.AddFailed(rows...)
			return
		}
		w.Stats.AddSubmitted(len(batch), time.Since(t0))
		return
	}

	submitted := 0
	t0 := time.Now()
	for _, p := range batch {
		if err := w.Store.PutRecord(ctx, w.FeatureGroup, p.rec); err != nil {
			w.Logger.Error().Err(err).Int("row", p.row).Msg("put failed")
			w.Stats.AddFailed(p.row)
			continue
		}
		submitted++
	}
	if submitted > 0 {
		w.Stats.AddSubmitted(submitted, time.Since(t0))
	}
}
