// Package featurestoretest provides an in-memory featurestore.Store for tests.
package featurestoretest

import (
	"context"
	"sync"
	"time"

	"github.com/featureload/internal/featurestore"
	"github.com/pkg/errors"
)

// Store is an in-memory featurestore.Store. Zero value is not usable; use New.
type Store struct {
	// Statuses scripts the status reported by successive describes of a
	// group. The last entry repeats. Empty means Created.
	Statuses      []string
	FailureReason string
	CreateErr     error
	// PutErr, when set, decides per record whether a put fails.
	PutErr func(rec featurestore.Record) error

	mu        sync.Mutex
	groups    map[string]*group
	puts      int
	describes int
	closed    bool
}

type group struct {
	fg        featurestore.FeatureGroup
	arn       string
	describes int
	created   time.Time
	records   map[string]featurestore.Record
}

// New returns an empty Store.
func New() *Store {
	return &Store{groups: make(map[string]*group)}
}

func (s *Store) CreateFeatureGroup(_ context.Context, fg *featurestore.FeatureGroup) (string, error) {
	if s.CreateErr != nil {
		return "", s.CreateErr
	}
	if err := fg.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[fg.Name]; ok {
		return "", errors.Errorf("feature group %s already exists", fg.Name)
	}
	g := &group{
		fg:      *fg,
		arn:     "arn:aws:sagemaker:us-east-1:000000000000:feature-group/" + fg.Name,
		created: time.Now(),
		records: make(map[string]featurestore.Record),
	}
	s.groups[fg.Name] = g
	return g.arn, nil
}

func (s *Store) DescribeFeatureGroup(_ context.Context, name string) (*featurestore.Description, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.describes++
	g, ok := s.groups[name]
	if !ok {
		return nil, errors.Wrap(featurestore.ErrFeatureGroupNotFound, name)
	}
	status := featurestore.StatusCreated
	if n := len(s.Statuses); n > 0 {
		i := g.describes
		if i >= n {
			i = n - 1
		}
		status = s.Statuses[i]
	}
	g.describes++
	d := &featurestore.Description{
		Name:                        name,
		ARN:                         g.arn,
		Status:                      status,
		RecordIdentifierFeatureName: g.fg.RecordIdentifierFeatureName,
		EventTimeFeatureName:        g.fg.EventTimeFeatureName,
		FeatureDefinitions:          g.fg.FeatureDefinitions,
		CreatedAt:                   g.created,
	}
	if status != featurestore.StatusCreated && status != featurestore.StatusCreating {
		d.FailureReason = s.FailureReason
	}
	return d, nil
}

func (s *Store) DeleteFeatureGroup(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[name]; !ok {
		return errors.Wrap(featurestore.ErrFeatureGroupNotFound, name)
	}
	delete(s.groups, name)
	return nil
}

func (s *Store) PutRecord(_ context.Context, name string, rec featurestore.Record) error {
	if s.PutErr != nil {
		if err := s.PutErr(rec); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(name, rec)
}

func (s *Store) putLocked(name string, rec featurestore.Record) error {
	g, ok := s.groups[name]
	if !ok {
		return errors.Wrap(featurestore.ErrFeatureGroupNotFound, name)
	}
	s.puts++
	id, ok := rec.Get(g.fg.RecordIdentifierFeatureName)
	if !ok {
		return errors.Errorf("record has no %s", g.fg.RecordIdentifierFeatureName)
	}
	if old, ok := g.records[id]; ok {
		latest := featurestore.LatestByIdentifier([]featurestore.Record{old, rec}, g.fg.RecordIdentifierFeatureName, g.fg.EventTimeFeatureName)
		g.records[id] = latest[0]
		return nil
	}
	g.records[id] = rec
	return nil
}

func (s *Store) GetRecord(_ context.Context, name, id string) (featurestore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[name]
	if !ok {
		return nil, errors.Wrap(featurestore.ErrFeatureGroupNotFound, name)
	}
	rec, ok := g.records[id]
	if !ok {
		return nil, featurestore.ErrRecordNotFound
	}
	return rec, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Puts returns the number of records written, failed puts excluded.
func (s *Store) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// Describes returns the number of describe calls.
func (s *Store) Describes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.describes
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Records returns the number of distinct identifiers stored in a group.
func (s *Store) Records(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.groups[name]; ok {
		return len(g.records)
	}
	return 0
}

// BatchStore adds featurestore.BatchWriter to Store and remembers batch sizes.
type BatchStore struct {
	*Store

	mu      sync.Mutex
	batches []int
}

// NewBatch returns an empty BatchStore.
func NewBatch() *BatchStore {
	return &BatchStore{Store: New()}
}

func (b *BatchStore) PutRecords(ctx context.Context, name string, recs []featurestore.Record) error {
	for _, rec := range recs {
		if b.PutErr != nil {
			if err := b.PutErr(rec); err != nil {
				return err
			}
		}
	}
	b.mu.Lock()
	b.batches = append(b.batches, len(recs))
	b.mu.Unlock()

	b.Store.mu.Lock()
	defer b.Store.mu.Unlock()
	for _, rec := range recs {
		if err := b.putLocked(name, rec); err != nil {
			return err
		}
	}
	return nil
}

// Batches returns the size of every PutRecords call.
func (b *BatchStore) Batches() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.batches...)
}
