// Package featurestore defines the feature store collaborator the workflow
// talks to. Implementations live in the sagemaker, postgres and clickhouse
// packages.
package featurestore

import (
	"context"
	"time"

	"github.com/featureload/internal/dataset"
	"github.com/pkg/errors"
)

// Feature group statuses.
const (
	StatusCreating     = "Creating"
	StatusCreated      = "Created"
	StatusCreateFailed = "CreateFailed"
	StatusDeleting     = "Deleting"
	StatusDeleteFailed = "DeleteFailed"
)

var (
	// ErrRecordNotFound is returned by GetRecord when the identifier is absent
	// or not yet visible.
	ErrRecordNotFound = errors.New("record not found")
	// ErrFeatureGroupNotFound is returned when the named group does not exist.
	ErrFeatureGroupNotFound = errors.New("feature group not found")
)

// LocalARN names a feature group held by a self-hosted backend.
func LocalARN(backend, name string) string {
	return "arn:featureload:" + backend + ":feature-group/" + name
}

// FeatureGroup is a create request.
type FeatureGroup struct {
	Name                        string
	RecordIdentifierFeatureName string
	EventTimeFeatureName        string
	FeatureDefinitions          []dataset.FeatureDefinition
	// OfflineStoreURI is where the store replicates records, e.g. s3://bucket/prefix.
	OfflineStoreURI   string
	RoleARN           string
	EnableOnlineStore bool
	Description       string
}

// Validate checks that the identifier and event time are defined features
// of a usable type.
func (fg *FeatureGroup) Validate() error {
	if fg.Name == "" {
		return errors.New("feature group name is required")
	}
	if err := dataset.ValidateFeatureName(fg.Name); err != nil {
		return errors.Wrap(err, "feature group name")
	}
	if len(fg.FeatureDefinitions) == 0 {
		return errors.Errorf("feature group %s has no feature definitions", fg.Name)
	}
	id, ok := fg.Definition(fg.RecordIdentifierFeatureName)
	if !ok {
		return errors.Errorf("record identifier %q is not a feature of %s", fg.RecordIdentifierFeatureName, fg.Name)
	}
	if id.Type == dataset.FeatureTypeFractional {
		return errors.Errorf("record identifier %q must be Integral or String, got %s", id.Name, id.Type)
	}
	et, ok := fg.Definition(fg.EventTimeFeatureName)
	if !ok {
		return errors.Errorf("event time %q is not a feature of %s", fg.EventTimeFeatureName, fg.Name)
	}
	if et.Type == dataset.FeatureTypeIntegral {
		return errors.Errorf("event time %q must be Fractional or String, got %s", et.Name, et.Type)
	}
	return nil
}

// Definition returns the definition called name.
func (fg *FeatureGroup) Definition(name string) (dataset.FeatureDefinition, bool) {
	for _, d := range fg.FeatureDefinitions {
		if d.Name == name {
			return d, true
		}
	}
	return dataset.FeatureDefinition{}, false
}

// Description is the result of a describe request.
type Description struct {
	Name                        string
	ARN                         string
	Status                      string
	FailureReason               string
	OfflineStoreStatus          string
	RecordIdentifierFeatureName string
	EventTimeFeatureName        string
	FeatureDefinitions          []dataset.FeatureDefinition
	CreatedAt                   time.Time
}

// FeatureGroup returns the schema part of the description.
func (d *Description) FeatureGroup() *FeatureGroup {
	return &FeatureGroup{
		Name:                        d.Name,
		RecordIdentifierFeatureName: d.RecordIdentifierFeatureName,
		EventTimeFeatureName:        d.EventTimeFeatureName,
		FeatureDefinitions:          d.FeatureDefinitions,
	}
}

// FeatureValue is one feature of a record, rendered as text.
type FeatureValue struct {
	Name  string
	Value string
}

// Record is the wire form of one row. Missing values are omitted.
type Record []FeatureValue

// Get returns the value of the feature called name.
func (r Record) Get(name string) (string, bool) {
	for _, fv := range r {
		if fv.Name == name {
			return fv.Value, true
		}
	}
	return "", false
}

// Map returns the record as a map.
func (r Record) Map() map[string]string {
	m := make(map[string]string, len(r))
	for _, fv := range r {
		m[fv.Name] = fv.Value
	}
	return m
}

// RecordFromRow renders row i of t, skipping missing values.
func RecordFromRow(t *dataset.Table, i int) Record {
	cols := t.Columns()
	rec := make(Record, 0, len(cols))
	for _, c := range cols {
		if s, ok := c.StringValue(i); ok {
			rec = append(rec, FeatureValue{Name: c.Name, Value: s})
		}
	}
	return rec
}

// Store is the feature store as seen by the workflow.
type Store interface {
	// CreateFeatureGroup requests creation and returns the group ARN. The
	// group may still be Creating when it returns.
	CreateFeatureGroup(ctx context.Context, fg *FeatureGroup) (string, error)
	DescribeFeatureGroup(ctx context.Context, name string) (*Description, error)
	DeleteFeatureGroup(ctx context.Context, name string) error
	PutRecord(ctx context.Context, name string, rec Record) error
	// GetRecord returns ErrRecordNotFound when no record has the identifier.
	GetRecord(ctx context.Context, name, id string) (Record, error)
	Close() error
}

// BatchWriter is implemented by stores that write many records in one call.
type BatchWriter interface {
	PutRecords(ctx context.Context, name string, recs []Record) error
}
