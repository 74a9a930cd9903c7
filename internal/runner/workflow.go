package runner

import (
	"context"
	"time"

	"github.com/featureload/internal/config"
	"github.com/featureload/internal/dataset"
	"github.com/featureload/internal/featurestore"
	"github.com/featureload/internal/poller"
	"github.com/featureload/internal/progress"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// TableLoader fetches and parses a dataset.
type TableLoader interface {
	Load(ctx context.Context, location string) (*dataset.Table, error)
}

// Workflow loads a dataset, creates a feature group shaped like it, waits
// for the group, ingests every row and reads one record back.
type Workflow struct {
	Config *config.Config
	Loader TableLoader
	Store  featurestore.Store
	Logger zerolog.Logger
	// Now defaults to time.Now. It stamps the event time and the group name.
	Now func() time.Time
	// Sleep defaults to poller.Sleep.
	Sleep poller.SleepFunc
}

// Report is what a workflow run did.
type Report struct {
	FeatureGroup string
	ARN          string
	Rows         int
	Definitions  []dataset.FeatureDefinition
	Ingest       *IngestResult
	Lookup       *LookupResult
	Samples      *progress.LookupSnapshot
}

// Run executes the workflow. The first error stops it; the partial report
// is returned alongside.
func (w *Workflow) Run(ctx context.Context) (rep *Report, err error) {
	cfg := w.Config
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	rep = &Report{}

	table, err := w.Loader.Load(ctx, cfg.Source.Location())
	if err != nil {
		return rep, err
	}
	rep.Rows = table.NumRows()
	if rep.Rows == 0 {
		return rep, errors.Errorf("dataset %s has no rows", cfg.Source.Location())
	}

	prepared, err := dataset.Prepare(table, dataset.PrepareOptions{
		EventTimeColumn:  cfg.FeatureGroup.EventTime,
		RecordIDColumn:   cfg.FeatureGroup.RecordIdentifier,
		GenerateRecordID: cfg.FeatureGroup.GenerateRecordID,
		Now:              now,
	})
	if err != nil {
		return rep, errors.Wrap(err, "preparing dataset")
	}
	w.Logger.Info().
		Strs("coerced", prepared.Coerced).
		Float64("event_time", prepared.EventTime).
		Bool("record_id_generated", prepared.RecordIDGenerated).
		Msg("dataset prepared")

	defs, err := table.FeatureDefinitions()
	if err != nil {
		return rep, errors.Wrap(err, "inferring feature definitions")
	}
	rep.Definitions = defs
	for _, d := range defs {
		w.Logger.Debug().Str("feature", d.Name).Str("type", string(d.Type)).Msg("feature definition")
	}

	fg := &featurestore.FeatureGroup{
		Name:                        cfg.FeatureGroup.ResolveName(now()),
		RecordIdentifierFeatureName: cfg.FeatureGroup.RecordIdentifier,
		EventTimeFeatureName:        cfg.FeatureGroup.EventTime,
		FeatureDefinitions:          defs,
		OfflineStoreURI:             cfg.FeatureGroup.OfflineStoreURI,
		RoleARN:                     cfg.FeatureGroup.RoleARN,
		EnableOnlineStore:           cfg.FeatureGroup.EnableOnlineStore,
		Description:                 cfg.FeatureGroup.Description,
	}
	rep.FeatureGroup = fg.Name
	logger := w.Logger.With().Str("feature_group", fg.Name).Logger()

	if rep.ARN, err = w.Store.CreateFeatureGroup(ctx, fg); err != nil {
		return rep, err
	}
	if err := w.waitForCreated(ctx, fg.Name, logger); err != nil {
		return rep, err
	}

	job, err := Ingest(ctx, w.Store, fg.Name, table, IngestOptions{
		MaxWorkers:       cfg.Ingest.MaxWorkers,
		BatchSize:        cfg.Ingest.BatchSize,
		BatchWait:        cfg.Ingest.BatchWait,
		RowsPerSecond:    cfg.Ingest.RowsPerSecond,
		Wait:             cfg.Ingest.Wait,
		ProgressInterval: cfg.Ingest.ProgressInterval,
	}, logger)
	if cfg.Ingest.Wait {
		rep.Ingest, _ = job.Wait()
		if err != nil {
			return rep, err
		}
	} else {
		// lookups below race the ingestion; join it on every return
		defer func() {
			var ingestErr error
			rep.Ingest, ingestErr = job.Wait()
			if err == nil {
				err = ingestErr
			}
		}()
	}

	err = w.verify(ctx, table, fg.Name, rep, logger)
	return rep, err
}

func (w *Workflow) waitForCreated(ctx context.Context, name string, logger zerolog.Logger) error {
	if t := w.Config.Poll.Timeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	p := poller.New(w.Store, w.Config.Poll.Interval, logger)
	if w.Sleep != nil {
		p.WithSleep(w.Sleep)
	}
	_, err := p.WaitForCreated(ctx, name)
	return err
}

func (w *Workflow) verify(ctx context.Context, table *dataset.Table, name string, rep *Report, logger zerolog.Logger) error {
	cfg := w.Config
	id := cfg.Ingest.LookupID
	if id == "" {
		var err error
		if id, err = FirstIdentifier(table, cfg.FeatureGroup.RecordIdentifier); err != nil {
			return err
		}
	}
	res, err := Verify(ctx, w.Store, name, id, logger)
	if err != nil {
		return err
	}
	rep.Lookup = res

	if cfg.Ingest.VerifySamples <= 0 {
		return nil
	}
	ids, err := SampleIdentifiers(table, cfg.FeatureGroup.RecordIdentifier, cfg.Ingest.VerifySamples)
	if err != nil {
		return err
	}
	snap, err := SampleLookups(ctx, w.Store, name, ids, cfg.Ingest.MaxWorkers, cfg.Ingest.ProgressInterval, logger)
	rep.Samples = &snap
	return err
}
