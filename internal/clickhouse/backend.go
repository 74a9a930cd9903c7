package clickhouse

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/featureload/internal/config"
	"github.com/featureload/internal/dataset"
	"github.com/featureload/internal/featurestore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const registryTable = "feature_groups"

// ingestedAtColumn orders versions of a record that share an event time.
const ingestedAtColumn = "_ingested_at"

// CreatePool opens db.PoolSize connections in parallel and pings each.
func CreatePool(ctx context.Context, db config.Database, logger zerolog.Logger) ([]driver.Conn, error) {
	size := db.PoolSize
	if size < 1 {
		size = 1
	}
	opts := &clickhouse.Options{
		Addr: []string{db.Host + ":" + fmtPort(db.Port)},
		Auth: clickhouse.Auth{
			Database: db.Name,
			Username: db.User,
			Password: db.Password,
		},
		DialTimeout: 10 * time.Second,
	}
	conns := make([]driver.Conn, size)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < size; i++ {
		i := i
		g.Go(func() error {
			conn, err := clickhouse.Open(opts)
			if err != nil {
				return err
			}
			conns[i] = conn
			return conn.Ping(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		closeAll(conns)
		return nil, errors.Wrap(err, "connecting to clickhouse")
	}
	logger.Info().Int("clients", size).Msg("prewarmed ClickHouse connection pool")
	return conns, nil
}

func closeAll(conns []driver.Conn) {
	for _, c := range conns {
		if c != nil {
			c.Close()
		}
	}
}

func fmtPort(p int) string {
	if p <= 0 {
		return "9000"
	}
	return strconv.Itoa(p)
}

// schema renders DDL and queries for one database, optionally replicated
// across a cluster.
type schema struct {
	db      string
	cluster string
	policy  string
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}

func (s schema) onCluster() string {
	if s.cluster == "" {
		return ""
	}
	return " ON CLUSTER '" + s.cluster + "'"
}

func (s schema) settings() string {
	if s.policy == "" {
		return ""
	}
	return " SETTINGS storage_policy = '" + s.policy + "'"
}

func (s schema) table(name string) string {
	return quoteIdent(s.db) + "." + quoteIdent(name)
}

func (s schema) registry() string {
	return s.table(registryTable)
}

// engine returns a MergeTree family engine, replicated when a cluster is set.
func (s schema) engine(family, table string, args ...string) string {
	if s.cluster == "" {
		return family + "(" + strings.Join(args, ", ") + ")"
	}
	path := fmt.Sprintf("'/clickhouse/tables/{shard}/%s/%s'", s.db, table)
	return "Replicated" + family + "(" + strings.Join(append([]string{path, "'{replica}'"}, args...), ", ") + ")"
}

func (s schema) createDatabaseSQL() string {
	return "CREATE DATABASE IF NOT EXISTS " + quoteIdent(s.db) + s.onCluster()
}

func (s schema) createRegistrySQL() string {
	return "CREATE TABLE IF NOT EXISTS " + s.registry() + s.onCluster() + ` (
    name String,
    arn String,
    record_identifier String,
    event_time String,
    feature_names Array(String),
    feature_types Array(String),
    status String,
    failure_reason String,
    offline_store_uri String,
    description String,
    created_at DateTime64(3),
    updated_at DateTime64(3)
) ENGINE = ` + s.engine("ReplacingMergeTree", registryTable, "updated_at") + " ORDER BY name"
}

func columnType(t dataset.FeatureType, nullable bool) (string, error) {
	var typ string
	switch t {
	case dataset.FeatureTypeIntegral:
		typ = "Int64"
	case dataset.FeatureTypeFractional:
		typ = "Float64"
	case dataset.FeatureTypeString:
		typ = "String"
	default:
		return "", errors.Errorf("unsupported feature type %q", t)
	}
	if nullable {
		return "Nullable(" + typ + ")", nil
	}
	return typ, nil
}

// createTableSQL returns the DDL of the table backing fg. Every put is a
// new row; lookups pick the newest version.
func (s schema) createTableSQL(fg *featurestore.FeatureGroup) (string, error) {
	var b strings.Builder
	b.WriteString("CREATE TABLE " + s.table(fg.Name) + s.onCluster() + " (")
	for _, d := range fg.FeatureDefinitions {
		typ, err := columnType(d.Type, d.Name != fg.RecordIdentifierFeatureName)
		if err != nil {
			return "", errors.Wrapf(err, "feature %s", d.Name)
		}
		b.WriteString(quoteIdent(d.Name) + " " + typ + ", ")
	}
	b.WriteString(quoteIdent(ingestedAtColumn) + " DateTime64(6) DEFAULT now64(6)")
	b.WriteString(") ENGINE = " + s.engine("MergeTree", fg.Name))
	b.WriteString(" ORDER BY " + quoteIdent(fg.RecordIdentifierFeatureName))
	b.WriteString(s.settings())
	return b.String(), nil
}

func (s schema) insertSQL(fg *featurestore.FeatureGroup) string {
	cols := make([]string, len(fg.FeatureDefinitions))
	for i, d := range fg.FeatureDefinitions {
		cols[i] = quoteIdent(d.Name)
	}
	return "INSERT INTO " + s.table(fg.Name) + " (" + strings.Join(cols, ", ") + ")"
}

func (s schema) selectSQL(fg *featurestore.FeatureGroup) string {
	cols := make([]string, len(fg.FeatureDefinitions))
	for i, d := range fg.FeatureDefinitions {
		cols[i] = quoteIdent(d.Name)
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + s.table(fg.Name) +
		" WHERE " + quoteIdent(fg.RecordIdentifierFeatureName) + " = $1" +
		" ORDER BY " + quoteIdent(fg.EventTimeFeatureName) + " DESC, " + quoteIdent(ingestedAtColumn) + " DESC LIMIT 1"
}

func (s schema) insertRegistrySQL() string {
	return "INSERT INTO " + s.registry()
}

func (s schema) describeSQL() string {
	return "SELECT name, arn, status, failure_reason, record_identifier, event_time, feature_names, feature_types, created_at FROM " +
		s.registry() + " FINAL WHERE name = $1"
}

func (s schema) dropTableSQL(name string) string {
	return "DROP TABLE IF EXISTS " + s.table(name) + s.onCluster()
}

// InitSchema creates the database and the feature group registry.
func InitSchema(ctx context.Context, conn driver.Conn, s schema, logger zerolog.Logger) error {
	if err := conn.Exec(ctx, s.createDatabaseSQL()); err != nil {
		return errors.Wrap(err, "creating database")
	}
	if err := conn.Exec(ctx, s.createRegistrySQL()); err != nil {
		return errors.Wrap(err, "creating feature group registry")
	}
	logger.Info().Str("database", s.db).Str("cluster", s.cluster).Msg("feature group registry ready (ClickHouse)")
	return nil
}

// scanRow holds typed scan targets for one record.
type scanRow struct {
	dest []interface{}
}

func newScanRow(fg *featurestore.FeatureGroup) *scanRow {
	r := &scanRow{dest: make([]interface{}, len(fg.FeatureDefinitions))}
	for i, d := range fg.FeatureDefinitions {
		nullable := d.Name != fg.RecordIdentifierFeatureName
		switch {
		case d.Type == dataset.FeatureTypeIntegral && nullable:
			r.dest[i] = new(*int64)
		case d.Type == dataset.FeatureTypeIntegral:
			r.dest[i] = new(int64)
		case d.Type == dataset.FeatureTypeFractional:
			r.dest[i] = new(*float64)
		case nullable:
			r.dest[i] = new(*string)
		default:
			r.dest[i] = new(string)
		}
	}
	return r
}

// values dereferences the scan targets, nil for NULL.
func (r *scanRow) values() []interface{} {
	out := make([]interface{}, len(r.dest))
	for i, d := range r.dest {
		switch v := d.(type) {
		case **int64:
			if *v != nil {
				out[i] = **v
			}
		case **float64:
			if *v != nil {
				out[i] = **v
			}
		case **string:
			if *v != nil {
				out[i] = **v
			}
		case *int64:
			out[i] = *v
		case *string:
			out[i] = *v
		}
	}
	return out
}

// connPool lends connections from a channel.
type connPool struct {
	ch    chan driver.Conn
	conns []driver.Conn
	once  sync.Once
}

func (p *connPool) get(ctx context.Context) (driver.Conn, error) {
	select {
	case c := <-p.ch:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *connPool) put(c driver.Conn) { p.ch <- c }

func (p *connPool) close() {
	p.once.Do(func() { closeAll(p.conns) })
}
