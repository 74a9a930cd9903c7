package worker

import (
	"context"
	"testing"
	"time"

	"github.com/featureload/internal/dataset"
	"github.com/featureload/internal/featurestore"
	"github.com/featureload/internal/featurestore/featurestoretest"
	"github.com/featureload/internal/model"
	"github.com/featureload/internal/progress"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable(t *testing.T, ids ...int64) *dataset.Table {
	t.Helper()
	tbl := dataset.NewTable(len(ids))
	idVals := make([]interface{}, len(ids))
	etVals := make([]interface{}, len(ids))
	for i, id := range ids {
		idVals[i] = id
		etVals[i] = 1700000000.5
	}
	require.NoError(t, tbl.AddColumn(&dataset.Column{Name: "record_id", Kind: dataset.Int64, Values: idVals}))
	require.NoError(t, tbl.AddColumn(&dataset.Column{Name: "event_time", Kind: dataset.Float64, Values: etVals}))
	return tbl
}

func createGroup(t *testing.T, store featurestore.Store) {
	t.Helper()
	_, err := store.CreateFeatureGroup(context.Background(), &featurestore.FeatureGroup{
		Name:                        "fg",
		RecordIdentifierFeatureName: "record_id",
		EventTimeFeatureName:        "event_time",
		FeatureDefinitions: []dataset.FeatureDefinition{
			{Name: "record_id", Type: dataset.FeatureTypeIntegral},
			{Name: "event_time", Type: dataset.FeatureTypeFractional},
		},
	})
	require.NoError(t, err)
}

func runWorker(w *PutWorker, rows int) {
	queue := make(chan *model.PutJob, rows+1)
	for i := 0; i < rows; i++ {
		queue <- &model.PutJob{Row: i}
	}
	queue <- nil
	w.Run(context.Background(), queue)
}

func TestPutWorkerSingleRecords(t *testing.T) {
	store := featurestoretest.New()
	createGroup(t, store)
	stats := &progress.IngestStats{}
	w := &PutWorker{Store: store, FeatureGroup: "fg", Table: testTable(t, 1, 1, 2), Stats: stats, BatchSize: 1, Logger: zerolog.Nop()}

	runWorker(w, 3)

	assert.Equal(t, 3, store.Puts())
	assert.Equal(t, 2, store.Records("fg"))
	assert.Equal(t, 3, stats.Snapshot().Submitted)
	assert.Empty(t, stats.FailedRows())
}

func TestPutWorkerBatches(t *testing.T) {
	store := featurestoretest.NewBatch()
	createGroup(t, store)
	stats := &progress.IngestStats{}
	w := &PutWorker{Store: store, FeatureGroup: "fg", Table: testTable(t, 1, 2, 3, 4, 5), Stats: stats, BatchSize: 2, BatchWait: time.Hour, Logger: zerolog.Nop()}

	runWorker(w, 5)

	// the trailing single row is flushed on the sentinel through PutRecord
	assert.Equal(t, []int{2, 2}, store.Batches())
	assert.Equal(t, 5, store.Puts())
	assert.Equal(t, 5, stats.Snapshot().Submitted)
}

func TestPutWorkerBatchWait(t *testing.T) {
	store := featurestoretest.NewBatch()
	createGroup(t, store)
	stats := &progress.IngestStats{}
	w := &PutWorker{Store: store, FeatureGroup: "fg", Table: testTable(t, 1, 2), Stats: stats, BatchSize: 10, BatchWait: 10 * time.Millisecond, Logger: zerolog.Nop()}

	queue := make(chan *model.PutJob, 3)
	done := make(chan struct{})
	go func() {
		w.Run(context.Background(), queue)
		close(done)
	}()
	queue <- &model.PutJob{Row: 0}
	queue <- &model.PutJob{Row: 1}
	assert.Eventually(t, func() bool { return stats.Snapshot().Submitted == 2 }, time.Second, 5*time.Millisecond)
	queue <- nil
	<-done
	assert.Equal(t, []int{2}, store.Batches())
}

func TestPutWorkerRecordsFailures(t *testing.T) {
	store := featurestoretest.New()
	createGroup(t, store)
	store.PutErr = func(rec featurestore.Record) error {
		if id, _ := rec.Get("record_id"); id == "2" {
			return errors.New("throttled")
		}
		return nil
	}
	stats := &progress.IngestStats{}
	w := &PutWorker{Store: store, FeatureGroup: "fg", Table: testTable(t, 1, 2, 3, 2), Stats: stats, BatchSize: 1, Logger: zerolog.Nop()}

	runWorker(w, 4)

	assert.Equal(t, []int{1, 3}, stats.FailedRows())
	assert.Equal(t, 2, stats.Snapshot().Submitted)
}

func TestPutWorkerBatchFailureFailsAllRows(t *testing.T) {
	store := featurestoretest.NewBatch()
	createGroup(t, store)
	store.PutErr = func(featurestore.Record) error { return errors.New("validation") }
	stats := &progress.IngestStats{}
	w := &PutWorker{Store: store, FeatureGroup: "fg", Table: testTable(t, 1, 2), Stats: stats, BatchSize: 2, BatchWait: time.Hour, Logger: zerolog.Nop()}

	runWorker(w, 2)

	assert.Equal(t, []int{0, 1}, stats.FailedRows())
	assert.Zero(t, stats.Snapshot().Submitted)
}
