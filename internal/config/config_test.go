package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	c := Default()
	c.Source.URI = "s3://bucket/data.csv"
	c.FeatureGroup.RoleARN = "arn:aws:iam::123456789012:role/feature-store"
	return c
}

func TestSourceLocation(t *testing.T) {
	assert.Equal(t, "s3://b/k.csv", Source{Bucket: "b", Key: "/k.csv"}.Location())
	assert.Equal(t, "/tmp/x.csv", Source{URI: "/tmp/x.csv", Bucket: "b", Key: "k"}.Location())
	assert.Equal(t, "", Source{Bucket: "b"}.Location())
}

func TestResolveName(t *testing.T) {
	now := time.Date(2024, 3, 7, 9, 5, 2, 0, time.UTC)
	fg := FeatureGroup{NamePrefix: "fraud-"}
	assert.Equal(t, "fraud-07-09-05-02", fg.ResolveName(now))

	fg.Name = "fixed"
	assert.Equal(t, "fixed", fg.ResolveName(now))
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"no source", func(c *Config) { c.Source.URI = "" }, "source"},
		{"same columns", func(c *Config) { c.FeatureGroup.EventTime = c.FeatureGroup.RecordIdentifier }, "must differ"},
		{"no workers", func(c *Config) { c.Ingest.MaxWorkers = 0 }, "max workers"},
		{"no batch", func(c *Config) { c.Ingest.BatchSize = 0 }, "batch size"},
		{"bad poll", func(c *Config) { c.Poll.Interval = 0 }, "poll interval"},
		{"no role", func(c *Config) { c.FeatureGroup.RoleARN = "" }, "role arn"},
		{"bad offline", func(c *Config) { c.FeatureGroup.OfflineStoreURI = "gs://x" }, "s3://"},
		{"bad store", func(c *Config) { c.Store = "redis" }, "unknown store"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateSelfHostedNeedsNoRole(t *testing.T) {
	c := validConfig()
	c.FeatureGroup.RoleARN = ""
	c.Store = StorePostgres
	assert.NoError(t, c.Validate())
	c.Store = StoreClickHouse
	assert.NoError(t, c.Validate())
}

func TestValidateStore(t *testing.T) {
	c := Default()
	assert.NoError(t, c.ValidateStore(), "describe and get need no role or source")
	c.Store = "dynamodb"
	err := c.ValidateStore()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown store "dynamodb"`)
}
