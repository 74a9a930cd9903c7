package postgres

import (
	"testing"

	"github.com/featureload/internal/config"
	"github.com/featureload/internal/dataset"
	"github.com/featureload/internal/featurestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGroup() *featurestore.FeatureGroup {
	return &featurestore.FeatureGroup{
		Name:                        "transactions-fg",
		RecordIdentifierFeatureName: "record_id",
		EventTimeFeatureName:        "event_time",
		FeatureDefinitions: []dataset.FeatureDefinition{
			{Name: "record_id", Type: dataset.FeatureTypeIntegral},
			{Name: "merchant", Type: dataset.FeatureTypeString},
			{Name: "event_time", Type: dataset.FeatureTypeFractional},
		},
	}
}

func TestCreateTableSQL(t *testing.T) {
	sql, err := createTableSQL(testGroup())
	require.NoError(t, err)
	assert.Equal(t,
		`CREATE TABLE "feature_data"."transactions-fg" ("record_id" BIGINT NOT NULL PRIMARY KEY, "merchant" TEXT, "event_time" DOUBLE PRECISION)`,
		sql)

	fg := testGroup()
	fg.FeatureDefinitions[1].Type = "Boolean"
	_, err = createTableSQL(fg)
	assert.Error(t, err)
}

func TestUpsertSQL(t *testing.T) {
	assert.Equal(t,
		`INSERT INTO "feature_data"."transactions-fg" AS t ("record_id", "merchant", "event_time") VALUES ($1, $2, $3), ($4, $5, $6)`+
			` ON CONFLICT ("record_id") DO UPDATE SET "merchant" = EXCLUDED."merchant", "event_time" = EXCLUDED."event_time"`+
			` WHERE t."event_time" <= EXCLUDED."event_time"`,
		upsertSQL(testGroup(), 2))
}

func TestSelectAndDropSQL(t *testing.T) {
	assert.Equal(t,
		`SELECT "record_id", "merchant", "event_time" FROM "feature_data"."transactions-fg" WHERE "record_id" = $1`,
		selectSQL(testGroup()))
	assert.Equal(t, `DROP TABLE IF EXISTS "feature_data"."transactions-fg"`, dropTableSQL("transactions-fg"))
}

func TestRowsPerStatement(t *testing.T) {
	assert.Equal(t, 1985, rowsPerStatement(33))
	assert.Equal(t, 1, rowsPerStatement(0))
}

func TestConnString(t *testing.T) {
	db := config.Database{Host: "pg", Port: 0, Name: "default", User: "default", Password: "pw"}
	assert.Equal(t, "postgres://default:pw@pg:5432/default", connString(db))
}
