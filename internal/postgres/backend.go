package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/featureload/internal/config"
	"github.com/featureload/internal/dataset"
	"github.com/featureload/internal/featurestore"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// dataSchema holds one table per feature group, apart from the registry.
const dataSchema = "feature_data"

// maxParams is the bind parameter limit of one PostgreSQL statement.
const maxParams = 65535

const createRegistrySQL = `
CREATE TABLE IF NOT EXISTS feature_groups (
    name TEXT NOT NULL PRIMARY KEY,
    arn TEXT NOT NULL,
    record_identifier TEXT NOT NULL,
    event_time TEXT NOT NULL,
    definitions JSONB NOT NULL,
    status TEXT NOT NULL,
    failure_reason TEXT NOT NULL DEFAULT '',
    offline_store_uri TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE SCHEMA IF NOT EXISTS feature_data;
`

const (
	insertRegistrySQL = `INSERT INTO feature_groups
    (name, arn, record_identifier, event_time, definitions, status, offline_store_uri, description, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
ON CONFLICT (name) DO NOTHING`
	updateStatusSQL   = `UPDATE feature_groups SET status = $2, failure_reason = $3, updated_at = $4 WHERE name = $1`
	describeSQL       = `SELECT name, arn, status, failure_reason, record_identifier, event_time, definitions, created_at FROM feature_groups WHERE name = $1`
	deleteRegistrySQL = `DELETE FROM feature_groups WHERE name = $1`
)

func connString(db config.Database) string {
	return "postgres://" + db.User + ":" + db.Password + "@" + db.Host + ":" + fmtPort(db.Port) + "/" + db.Name
}

// CreatePool creates a pgx connection pool of db.PoolSize connections.
func CreatePool(ctx context.Context, db config.Database) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString(db))
	if err != nil {
		return nil, errors.Wrap(err, "parsing postgres connection settings")
	}
	if db.PoolSize > 0 {
		cfg.MaxConns = int32(db.PoolSize)
		cfg.MinConns = int32(db.PoolSize)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating postgres pool")
	}
	return pool, nil
}

func fmtPort(p int) string {
	if p <= 0 {
		return "5432"
	}
	return strconv.Itoa(p)
}

// SetSessionSyncCommit sets synchronous_commit = off for the connection (faster writes).
func SetSessionSyncCommit(ctx context.Context, conn *pgxpool.Conn) error {
	_, err := conn.Exec(ctx, "SET synchronous_commit = off")
	return err
}

// PrewarmPool acquires and releases size connections and sets sync_commit off.
func PrewarmPool(ctx context.Context, pool *pgxpool.Pool, size int, logger zerolog.Logger) error {
	for i := 0; i < size; i++ {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return errors.Wrap(err, "acquiring postgres connection")
		}
		if err := SetSessionSyncCommit(ctx, conn); err != nil {
			conn.Release()
			return errors.Wrap(err, "setting synchronous_commit")
		}
		conn.Release()
	}
	logger.Info().Int("connections", size).Msg("prewarmed PostgreSQL connection pool")
	return nil
}

// InitSchema creates the feature group registry and the data schema.
func InitSchema(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	if _, err := pool.Exec(ctx, createRegistrySQL); err != nil {
		return errors.Wrap(err, "creating feature group registry")
	}
	logger.Info().Msg("feature group registry ready (PostgreSQL)")
	return nil
}

func tableIdent(name string) string {
	return pgx.Identifier{dataSchema, name}.Sanitize()
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func columnType(t dataset.FeatureType) (string, error) {
	switch t {
	case dataset.FeatureTypeIntegral:
		return "BIGINT", nil
	case dataset.FeatureTypeFractional:
		return "DOUBLE PRECISION", nil
	case dataset.FeatureTypeString:
		return "TEXT", nil
	default:
		return "", errors.Errorf("unsupported feature type %q", t)
	}
}

// createTableSQL returns the DDL of the table backing fg, keyed by its
// record identifier.
func createTableSQL(fg *featurestore.FeatureGroup) (string, error) {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(tableIdent(fg.Name))
	b.WriteString(" (")
	for i, d := range fg.FeatureDefinitions {
		typ, err := columnType(d.Type)
		if err != nil {
			return "", errors.Wrapf(err, "feature %s", d.Name)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(d.Name))
		b.WriteString(" ")
		b.WriteString(typ)
		if d.Name == fg.RecordIdentifierFeatureName {
			b.WriteString(" NOT NULL PRIMARY KEY")
		}
	}
	b.WriteString(")")
	return b.String(), nil
}

// upsertSQL returns a multi-row upsert for n records. A conflicting row is
// replaced only by a record whose event time is not older.
func upsertSQL(fg *featurestore.FeatureGroup, n int) string {
	cols := make([]string, len(fg.FeatureDefinitions))
	var set []string
	for i, d := range fg.FeatureDefinitions {
		cols[i] = quote(d.Name)
		if d.Name != fg.RecordIdentifierFeatureName {
			set = append(set, cols[i]+" = EXCLUDED."+cols[i])
		}
	}
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(tableIdent(fg.Name))
	b.WriteString(" AS t (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")
	idx := 1
	for r := 0; r < n; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("$" + strconv.Itoa(idx))
			idx++
		}
		b.WriteString(")")
	}
	et := quote(fg.EventTimeFeatureName)
	fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s WHERE t.%s <= EXCLUDED.%s",
		quote(fg.RecordIdentifierFeatureName), strings.Join(set, ", "), et, et)
	return b.String()
}

func selectSQL(fg *featurestore.FeatureGroup) string {
	cols := make([]string, len(fg.FeatureDefinitions))
	for i, d := range fg.FeatureDefinitions {
		cols[i] = quote(d.Name)
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + tableIdent(fg.Name) +
		" WHERE " + quote(fg.RecordIdentifierFeatureName) + " = $1"
}

func dropTableSQL(name string) string {
	return "DROP TABLE IF EXISTS " + tableIdent(name)
}

// rowsPerStatement is how many records of ncols features fit in one upsert.
func rowsPerStatement(ncols int) int {
	if ncols <= 0 {
		return 1
	}
	return maxParams / ncols
}
