package postgres

import (
	"context"
	"sync"
	"time"

	"github.com/featureload/internal/config"
	"github.com/featureload/internal/dataset"
	"github.com/featureload/internal/featurestore"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Pool is the part of *pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

var _ Pool = (*pgxpool.Pool)(nil)

// Store keeps feature groups in PostgreSQL: a registry table describes the
// groups and each group gets its own table keyed by the record identifier.
type Store struct {
	pool   Pool
	logger zerolog.Logger

	mu     sync.RWMutex
	groups map[string]*featurestore.FeatureGroup
}

var (
	_ featurestore.Store       = (*Store)(nil)
	_ featurestore.BatchWriter = (*Store)(nil)
)

// Open connects, prewarms the pool and creates the registry.
func Open(ctx context.Context, db config.Database, logger zerolog.Logger) (*Store, error) {
	logger.Info().Str("host", db.Host).Int("port", db.Port).Int("pool_size", db.PoolSize).Msg("creating PostgreSQL connection pool")
	pool, err := CreatePool(ctx, db)
	if err != nil {
		return nil, err
	}
	if err := PrewarmPool(ctx, pool, db.PoolSize, logger); err != nil {
		pool.Close()
		return nil, err
	}
	if err := InitSchema(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return NewWithPool(pool, logger), nil
}

// NewWithPool returns a Store over an initialized pool.
func NewWithPool(pool Pool, logger zerolog.Logger) *Store {
	return &Store{pool: pool, logger: logger, groups: make(map[string]*featurestore.FeatureGroup)}
}

// CreateFeatureGroup registers fg and creates its table. The DDL runs
// synchronously: the group ends up Created, or CreateFailed with the
// database error as failure reason.
func (s *Store) CreateFeatureGroup(ctx context.Context, fg *featurestore.FeatureGroup) (string, error) {
	if err := fg.Validate(); err != nil {
		return "", err
	}
	ddl, err := createTableSQL(fg)
	if err != nil {
		return "", err
	}
	arn := featurestore.LocalARN(config.StorePostgres, fg.Name)
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, insertRegistrySQL,
		fg.Name, arn, fg.RecordIdentifierFeatureName, fg.EventTimeFeatureName, fg.FeatureDefinitions,
		featurestore.StatusCreating, fg.OfflineStoreURI, fg.Description, now)
	if err != nil {
		return "", errors.Wrapf(err, "registering feature group %s", fg.Name)
	}
	if tag.RowsAffected() == 0 {
		return "", errors.Errorf("feature group %s already exists", fg.Name)
	}

	status, reason := featurestore.StatusCreated, ""
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		status, reason = featurestore.StatusCreateFailed, err.Error()
		s.logger.Warn().Err(err).Str("feature_group", fg.Name).Msg("creating feature table failed")
	}
	if _, err := s.pool.Exec(ctx, updateStatusSQL, fg.Name, status, reason, time.Now().UTC()); err != nil {
		return "", errors.Wrapf(err, "updating status of feature group %s", fg.Name)
	}
	s.logger.Info().Str("feature_group", fg.Name).Str("status", status).Msg("feature group registered")
	return arn, nil
}

func (s *Store) DescribeFeatureGroup(ctx context.Context, name string) (*featurestore.Description, error) {
	d := &featurestore.Description{}
	var defs []dataset.FeatureDefinition
	err := s.pool.QueryRow(ctx, describeSQL, name).Scan(
		&d.Name, &d.ARN, &d.Status, &d.FailureReason,
		&d.RecordIdentifierFeatureName, &d.EventTimeFeatureName, &defs, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrap(featurestore.ErrFeatureGroupNotFound, name)
		}
		return nil, errors.Wrapf(err, "describing feature group %s", name)
	}
	d.FeatureDefinitions = defs
	return d, nil
}

// DeleteFeatureGroup drops the group's table and its registry row in one
// transaction.
func (s *Store) DeleteFeatureGroup(ctx context.Context, name string) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, dropTableSQL(name)); err != nil {
			return errors.Wrapf(err, "dropping table of feature group %s", name)
		}
		tag, err := tx.Exec(ctx, deleteRegistrySQL, name)
		if err != nil {
			return errors.Wrapf(err, "deleting feature group %s", name)
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrap(featurestore.ErrFeatureGroupNotFound, name)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.groups, name)
	s.mu.Unlock()
	return nil
}

func (s *Store) PutRecord(ctx context.Context, name string, rec featurestore.Record) error {
	return s.PutRecords(ctx, name, []featurestore.Record{rec})
}

// PutRecords upserts recs. Records sharing an identifier are collapsed to
// the newest first, as one statement cannot touch a row twice.
func (s *Store) PutRecords(ctx context.Context, name string, recs []featurestore.Record) error {
	fg, err := s.group(ctx, name)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if _, ok := rec.Get(fg.RecordIdentifierFeatureName); !ok {
			return errors.Errorf("putting record into %s: missing %s", name, fg.RecordIdentifierFeatureName)
		}
	}
	recs = featurestore.LatestByIdentifier(recs, fg.RecordIdentifierFeatureName, fg.EventTimeFeatureName)

	per := rowsPerStatement(len(fg.FeatureDefinitions))
	for start := 0; start < len(recs); start += per {
		chunk := recs[start:min(start+per, len(recs))]
		args := make([]interface{}, 0, len(chunk)*len(fg.FeatureDefinitions))
		for _, rec := range chunk {
			row, err := featurestore.TypedRow(fg.FeatureDefinitions, rec)
			if err != nil {
				return errors.Wrapf(err, "putting record into %s", name)
			}
			args = append(args, row...)
		}
		if _, err := s.pool.Exec(ctx, upsertSQL(fg, len(chunk)), args...); err != nil {
			return errors.Wrapf(err, "putting %d records into %s", len(chunk), name)
		}
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, name, id string) (featurestore.Record, error) {
	fg, err := s.group(ctx, name)
	if err != nil {
		return nil, err
	}
	idDef, _ := fg.Definition(fg.RecordIdentifierFeatureName)
	key, err := featurestore.ParseValue(idDef.Type, id)
	if err != nil {
		// an identifier of the wrong type cannot match any row
		return nil, errors.Wrapf(featurestore.ErrRecordNotFound, "%s in %s", id, name)
	}

	rows, err := s.pool.Query(ctx, selectSQL(fg), key)
	if err != nil {
		return nil, errors.Wrapf(err, "getting record %s from %s", id, name)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errors.Wrapf(err, "getting record %s from %s", id, name)
		}
		return nil, errors.Wrapf(featurestore.ErrRecordNotFound, "%s in %s", id, name)
	}
	values, err := rows.Values()
	if err != nil {
		return nil, errors.Wrapf(err, "reading record %s from %s", id, name)
	}
	return featurestore.RecordFromValues(fg.FeatureDefinitions, values), nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// group returns the definition of a Created group, cached after the first
// registry read.
func (s *Store) group(ctx context.Context, name string) (*featurestore.FeatureGroup, error) {
	s.mu.RLock()
	fg, ok := s.groups[name]
	s.mu.RUnlock()
	if ok {
		return fg, nil
	}
	d, err := s.DescribeFeatureGroup(ctx, name)
	if err != nil {
		return nil, err
	}
	if d.Status != featurestore.StatusCreated {
		return nil, errors.Errorf("feature group %s is %s", name, d.Status)
	}
	fg = d.FeatureGroup()
	s.mu.Lock()
	s.groups[name] = fg
	s.mu.Unlock()
	return fg, nil
}
