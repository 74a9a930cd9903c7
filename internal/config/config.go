package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	DBName   = "default"
	User     = "default"
	Password = "strongpassword"
)

// Store backends.
const (
	StoreSageMaker  = "sagemaker"
	StorePostgres   = "postgres"
	StoreClickHouse = "clickhouse"
)

const (
	DefaultPollInterval     = 5 * time.Second
	DefaultMaxWorkers       = 3
	DefaultProgressInterval = 5 * time.Second
	DefaultNamePrefix       = "transactions-feature-group-"
)

// Config holds everything a command needs. Fields are populated from
// flags, FEATURELOAD_* environment variables and an optional TOML file.
type Config struct {
	Debug        bool
	Store        string
	Source       Source
	FeatureGroup FeatureGroup
	Ingest       Ingest
	Poll         Poll
	AWS          AWS
	Postgres     Database
	ClickHouse   Database
}

// Source locates the CSV dataset.
type Source struct {
	URI              string
	Bucket           string
	Key              string
	LowercaseColumns bool
}

// Location returns the URI, or an s3:// URI built from bucket and key.
func (s Source) Location() string {
	if s.URI != "" {
		return s.URI
	}
	if s.Bucket == "" || s.Key == "" {
		return ""
	}
	return "s3://" + s.Bucket + "/" + strings.TrimPrefix(s.Key, "/")
}

// FeatureGroup describes the group to create.
type FeatureGroup struct {
	Name              string
	NamePrefix        string
	RecordIdentifier  string
	EventTime         string
	RoleARN           string
	OfflineStoreURI   string
	Description       string
	EnableOnlineStore bool
	GenerateRecordID  bool
}

// ResolveName returns Name, or NamePrefix followed by a day-hour-minute-second
// stamp of now when Name is empty.
func (f FeatureGroup) ResolveName(now time.Time) string {
	if f.Name != "" {
		return f.Name
	}
	return f.NamePrefix + now.UTC().Format("02-15-04-05")
}

// Ingest tunes the ingestion pipeline and the verification lookups.
type Ingest struct {
	MaxWorkers       int
	BatchSize        int
	BatchWait        time.Duration
	RowsPerSecond    int
	Wait             bool
	ProgressInterval time.Duration
	LookupID         string
	VerifySamples    int
}

// Poll controls the creation status poll. A zero Timeout polls forever.
type Poll struct {
	Interval time.Duration
	Timeout  time.Duration
}

// AWS overrides for the default session.
type AWS struct {
	Region  string
	Profile string
}

// Database holds connection settings for the self-hosted stores.
type Database struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	PoolSize int
	Cluster  string
}

// Default returns a Config with the defaults of every command.
func Default() *Config {
	return &Config{
		Store: StoreSageMaker,
		Source: Source{
			LowercaseColumns: true,
		},
		FeatureGroup: FeatureGroup{
			NamePrefix:        DefaultNamePrefix,
			RecordIdentifier:  "record_id",
			EventTime:         "event_time",
			EnableOnlineStore: true,
		},
		Ingest: Ingest{
			MaxWorkers:       DefaultMaxWorkers,
			BatchSize:        1,
			BatchWait:        time.Second,
			Wait:             true,
			ProgressInterval: DefaultProgressInterval,
		},
		Poll: Poll{
			Interval: DefaultPollInterval,
		},
		Postgres: Database{
			Host:     PostgresHost(),
			Port:     5432,
			Name:     DBName,
			User:     User,
			Password: Password,
			PoolSize: 8,
		},
		ClickHouse: Database{
			Host:     ClickHouseHost(),
			Port:     9000,
			Name:     DBName,
			User:     User,
			Password: Password,
			PoolSize: 8,
			Cluster:  os.Getenv("CLICKHOUSE_CLUSTER"),
		},
	}
}

// Validate checks the settings needed by the run command.
func (c *Config) Validate() error {
	if c.Source.Location() == "" {
		return errors.New("a source uri, or a source bucket and key, is required")
	}
	if c.FeatureGroup.RecordIdentifier == "" {
		return errors.New("record identifier column is required")
	}
	if c.FeatureGroup.EventTime == "" {
		return errors.New("event time column is required")
	}
	if c.FeatureGroup.RecordIdentifier == c.FeatureGroup.EventTime {
		return errors.Errorf("record identifier and event time must differ, both are %q", c.FeatureGroup.EventTime)
	}
	if c.Ingest.MaxWorkers < 1 {
		return errors.New("max workers must be >= 1")
	}
	if c.Ingest.BatchSize < 1 {
		return errors.New("batch size must be >= 1")
	}
	if c.Ingest.BatchWait <= 0 {
		return errors.New("batch wait must be > 0")
	}
	if c.Ingest.RowsPerSecond < 0 {
		return errors.New("rows per second must be >= 0")
	}
	if c.Poll.Interval <= 0 {
		return errors.New("poll interval must be > 0")
	}
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if c.Store == StoreSageMaker {
		if c.FeatureGroup.RoleARN == "" {
			return errors.New("role arn is required for the sagemaker store")
		}
		if c.FeatureGroup.OfflineStoreURI != "" && !strings.HasPrefix(c.FeatureGroup.OfflineStoreURI, "s3://") {
			return errors.Errorf("offline store uri must be an s3:// uri, got %q", c.FeatureGroup.OfflineStoreURI)
		}
	}
	return nil
}

// ValidateStore checks the store backend name.
func (c *Config) ValidateStore() error {
	switch c.Store {
	case StoreSageMaker, StorePostgres, StoreClickHouse:
		return nil
	default:
		return errors.Errorf("unknown store %q (want %s, %s or %s)", c.Store, StoreSageMaker, StorePostgres, StoreClickHouse)
	}
}

// PostgresHost returns POSTGRES_HOST or localhost.
func PostgresHost() string {
	if h := os.Getenv("POSTGRES_HOST"); h != "" {
		return h
	}
	return "localhost"
}

// ClickHouseHost returns CLICKHOUSE_HOST or clickhouse.
func ClickHouseHost() string {
	if h := os.Getenv("CLICKHOUSE_HOST"); h != "" {
		return h
	}
	return "clickhouse"
}

// ClickHouseStoragePolicy for feature tables (must exist on the server).
// Empty means the server default.
func ClickHouseStoragePolicy() string {
	return os.Getenv("CLICKHOUSE_STORAGE_POLICY")
}
