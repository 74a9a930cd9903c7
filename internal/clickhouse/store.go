package clickhouse

import (
	"context"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/featureload/internal/config"
	"github.com/featureload/internal/dataset"
	"github.com/featureload/internal/featurestore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// statusDeleted marks a registry row removed by DeleteFeatureGroup.
const statusDeleted = "Deleted"

// Store keeps feature groups in ClickHouse. The registry is a
// ReplacingMergeTree keyed by group name; each group is an append-only
// MergeTree table and lookups read the newest version of a record.
type Store struct {
	pool   *connPool
	schema schema
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	groups map[string]*featurestore.FeatureGroup
}

var (
	_ featurestore.Store       = (*Store)(nil)
	_ featurestore.BatchWriter = (*Store)(nil)
)

// Open connects db.PoolSize clients and creates the registry.
func Open(ctx context.Context, db config.Database, logger zerolog.Logger) (*Store, error) {
	logger.Info().Str("host", db.Host).Int("port", db.Port).Int("pool_size", db.PoolSize).Msg("creating ClickHouse connection pool")
	conns, err := CreatePool(ctx, db, logger)
	if err != nil {
		return nil, err
	}
	s := newStore(conns, schema{db: db.Name, cluster: db.Cluster, policy: config.ClickHouseStoragePolicy()}, logger)
	conn, err := s.pool.get(ctx)
	if err != nil {
		s.pool.close()
		return nil, err
	}
	err = InitSchema(ctx, conn, s.schema, logger)
	s.pool.put(conn)
	if err != nil {
		s.pool.close()
		return nil, err
	}
	return s, nil
}

// newStore lends conns through a channel pool.
func newStore(conns []driver.Conn, sch schema, logger zerolog.Logger) *Store {
	ch := make(chan driver.Conn, len(conns))
	for _, c := range conns {
		ch <- c
	}
	return &Store{
		pool:   &connPool{ch: ch, conns: conns},
		schema: sch,
		logger: logger,
		now:    time.Now,
		groups: make(map[string]*featurestore.FeatureGroup),
	}
}

// CreateFeatureGroup creates the table backing fg and records the outcome
// in the registry: Created, or CreateFailed with the server error.
func (s *Store) CreateFeatureGroup(ctx context.Context, fg *featurestore.FeatureGroup) (string, error) {
	if err := fg.Validate(); err != nil {
		return "", err
	}
	if fg.Name == registryTable {
		return "", errors.Errorf("feature group name %s is reserved", fg.Name)
	}
	ddl, err := s.schema.createTableSQL(fg)
	if err != nil {
		return "", err
	}
	if _, err := s.DescribeFeatureGroup(ctx, fg.Name); err == nil {
		return "", errors.Errorf("feature group %s already exists", fg.Name)
	} else if errors.Cause(err) != featurestore.ErrFeatureGroupNotFound {
		return "", err
	}

	conn, err := s.pool.get(ctx)
	if err != nil {
		return "", err
	}
	defer s.pool.put(conn)

	status, reason := featurestore.StatusCreated, ""
	if err := conn.Exec(ctx, ddl); err != nil {
		status, reason = featurestore.StatusCreateFailed, err.Error()
		s.logger.Warn().Err(err).Str("feature_group", fg.Name).Msg("creating feature table failed")
	}
	arn := featurestore.LocalARN(config.StoreClickHouse, fg.Name)
	names := make([]string, len(fg.FeatureDefinitions))
	types := make([]string, len(fg.FeatureDefinitions))
	for i, d := range fg.FeatureDefinitions {
		names[i] = d.Name
		types[i] = string(d.Type)
	}
	now := s.now().UTC()
	err = s.writeRegistry(ctx, conn, []interface{}{
		fg.Name, arn, fg.RecordIdentifierFeatureName, fg.EventTimeFeatureName, names, types,
		status, reason, fg.OfflineStoreURI, fg.Description, now, now,
	})
	if err != nil {
		return "", errors.Wrapf(err, "registering feature group %s", fg.Name)
	}
	s.logger.Info().Str("feature_group", fg.Name).Str("status", status).Msg("feature group registered")
	return arn, nil
}

func (s *Store) writeRegistry(ctx context.Context, conn driver.Conn, row []interface{}) error {
	batch, err := conn.PrepareBatch(ctx, s.schema.insertRegistrySQL())
	if err != nil {
		return err
	}
	if err := batch.Append(row...); err != nil {
		batch.Abort()
		return err
	}
	return batch.Send()
}

func (s *Store) DescribeFeatureGroup(ctx context.Context, name string) (*featurestore.Description, error) {
	conn, err := s.pool.get(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	rows, err := conn.Query(ctx, s.schema.describeSQL(), name)
	if err != nil {
		return nil, errors.Wrapf(err, "describing feature group %s", name)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errors.Wrapf(err, "describing feature group %s", name)
		}
		return nil, errors.Wrap(featurestore.ErrFeatureGroupNotFound, name)
	}
	d := &featurestore.Description{}
	var names, types []string
	if err := rows.Scan(&d.Name, &d.ARN, &d.Status, &d.FailureReason,
		&d.RecordIdentifierFeatureName, &d.EventTimeFeatureName, &names, &types, &d.CreatedAt); err != nil {
		return nil, errors.Wrapf(err, "reading feature group %s", name)
	}
	if d.Status == statusDeleted {
		return nil, errors.Wrap(featurestore.ErrFeatureGroupNotFound, name)
	}
	d.FeatureDefinitions = registryDefinitions(names, types)
	return d, nil
}

func registryDefinitions(names, types []string) []dataset.FeatureDefinition {
	defs := make([]dataset.FeatureDefinition, 0, len(names))
	for i, n := range names {
		if i >= len(types) {
			break
		}
		defs = append(defs, dataset.FeatureDefinition{Name: n, Type: dataset.FeatureType(types[i])})
	}
	return defs
}

// DeleteFeatureGroup drops the group's table and marks it deleted in the
// registry.
func (s *Store) DeleteFeatureGroup(ctx context.Context, name string) error {
	d, err := s.DescribeFeatureGroup(ctx, name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.groups, name)
	s.mu.Unlock()

	conn, err := s.pool.get(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)
	if err := conn.Exec(ctx, s.schema.dropTableSQL(name)); err != nil {
		return errors.Wrapf(err, "dropping table of feature group %s", name)
	}
	names := make([]string, len(d.FeatureDefinitions))
	types := make([]string, len(d.FeatureDefinitions))
	for i, fd := range d.FeatureDefinitions {
		names[i] = fd.Name
		types[i] = string(fd.Type)
	}
	err = s.writeRegistry(ctx, conn, []interface{}{
		d.Name, d.ARN, d.RecordIdentifierFeatureName, d.EventTimeFeatureName, names, types,
		statusDeleted, "", "", "", d.CreatedAt, s.now().UTC(),
	})
	return errors.Wrapf(err, "deleting feature group %s", name)
}

func (s *Store) PutRecord(ctx context.Context, name string, rec featurestore.Record) error {
	return s.PutRecords(ctx, name, []featurestore.Record{rec})
}

// PutRecords appends recs in one batch. Every record is kept; lookups
// resolve duplicates.
func (s *Store) PutRecords(ctx context.Context, name string, recs []featurestore.Record) error {
	fg, err := s.group(ctx, name)
	if err != nil {
		return err
	}
	conn, err := s.pool.get(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	batch, err := conn.PrepareBatch(ctx, s.schema.insertSQL(fg))
	if err != nil {
		return errors.Wrapf(err, "preparing insert into %s", name)
	}
	for _, rec := range recs {
		if _, ok := rec.Get(fg.RecordIdentifierFeatureName); !ok {
			batch.Abort()
			return errors.Errorf("putting record into %s: missing %s", name, fg.RecordIdentifierFeatureName)
		}
		row, err := featurestore.TypedRow(fg.FeatureDefinitions, rec)
		if err != nil {
			batch.Abort()
			return errors.Wrapf(err, "putting record into %s", name)
		}
		if err := batch.Append(row...); err != nil {
			batch.Abort()
			return errors.Wrapf(err, "putting record into %s", name)
		}
	}
	if err := batch.Send(); err != nil {
		return errors.Wrapf(err, "putting %d records into %s", len(recs), name)
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
		return nil, errors.Wrapf(featurestore.ErrRecordNotFound, "%s in %s", id, name)
	}

	conn, err := s.pool.get(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	rows, err := conn.Query(ctx, s.schema.selectSQL(fg), key)
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
	sr := newScanRow(fg)
	if err := rows.Scan(sr.dest...); err != nil {
		return nil, errors.Wrapf(err, "reading record %s from %s", id, name)
	}
	return featurestore.RecordFromValues(fg.FeatureDefinitions, sr.values()), nil
}

// Close closes every connection.
func (s *Store) Close() error {
	s.pool.close()
	return nil
}

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
