// Package sagemaker implements featurestore.Store on the SageMaker Feature
// Store: the control plane creates and describes feature groups, the
// runtime API writes and reads records.
package sagemaker

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	awssm "github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/aws/aws-sdk-go/service/sagemaker/sagemakeriface"
	"github.com/aws/aws-sdk-go/service/sagemakerfeaturestoreruntime"
	"github.com/aws/aws-sdk-go/service/sagemakerfeaturestoreruntime/sagemakerfeaturestoreruntimeiface"
	"github.com/featureload/internal/dataset"
	"github.com/featureload/internal/featurestore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Store talks to SageMaker. It is safe for concurrent use.
type Store struct {
	client  sagemakeriface.SageMakerAPI
	runtime sagemakerfeaturestoreruntimeiface.SageMakerFeatureStoreRuntimeAPI
	logger  zerolog.Logger
}

var _ featurestore.Store = (*Store)(nil)

// New creates a Store from an AWS session.
func New(sess *session.Session, logger zerolog.Logger) *Store {
	return NewWithClients(awssm.New(sess), sagemakerfeaturestoreruntime.New(sess), logger)
}

// NewWithClients creates a Store from existing clients.
func NewWithClients(
	client sagemakeriface.SageMakerAPI,
	runtime sagemakerfeaturestoreruntimeiface.SageMakerFeatureStoreRuntimeAPI,
	logger zerolog.Logger,
) *Store {
	return &Store{client: client, runtime: runtime, logger: logger}
}

// CreateFeatureGroup issues the create request and returns as soon as
// SageMaker accepts it. The group starts out Creating.
func (s *Store) CreateFeatureGroup(ctx context.Context, fg *featurestore.FeatureGroup) (string, error) {
	if err := fg.Validate(); err != nil {
		return "", err
	}
	input := &awssm.CreateFeatureGroupInput{
		FeatureGroupName:            aws.String(fg.Name),
		RecordIdentifierFeatureName: aws.String(fg.RecordIdentifierFeatureName),
		EventTimeFeatureName:        aws.String(fg.EventTimeFeatureName),
		FeatureDefinitions:          toFeatureDefinitions(fg.FeatureDefinitions),
		OnlineStoreConfig: &awssm.OnlineStoreConfig{
			EnableOnlineStore: aws.Bool(fg.EnableOnlineStore),
		},
	}
	if fg.OfflineStoreURI != "" {
		input.OfflineStoreConfig = &awssm.OfflineStoreConfig{
			S3StorageConfig: &awssm.S3StorageConfig{S3Uri: aws.String(fg.OfflineStoreURI)},
		}
	}
	if fg.RoleARN != "" {
		input.RoleArn = aws.String(fg.RoleARN)
	}
	if fg.Description != "" {
		input.Description = aws.String(fg.Description)
	}

	out, err := s.client.CreateFeatureGroupWithContext(ctx, input)
	if err != nil {
		return "", errors.Wrapf(err, "creating feature group %s", fg.Name)
	}
	arn := aws.StringValue(out.FeatureGroupArn)
	s.logger.Info().Str("feature_group", fg.Name).Str("arn", arn).Msg("feature group creation requested")
	return arn, nil
}

func (s *Store) DescribeFeatureGroup(ctx context.Context, name string) (*featurestore.Description, error) {
	out, err := s.client.DescribeFeatureGroupWithContext(ctx, &awssm.DescribeFeatureGroupInput{
		FeatureGroupName: aws.String(name),
	})
	if err != nil {
		if isCode(err, awssm.ErrCodeResourceNotFound) {
			return nil, errors.Wrap(featurestore.ErrFeatureGroupNotFound, name)
		}
		return nil, errors.Wrapf(err, "describing feature group %s", name)
	}

	d := &featurestore.Description{
		Name:                        aws.StringValue(out.FeatureGroupName),
		ARN:                         aws.StringValue(out.FeatureGroupArn),
		Status:                      aws.StringValue(out.FeatureGroupStatus),
		FailureReason:               aws.StringValue(out.FailureReason),
		RecordIdentifierFeatureName: aws.StringValue(out.RecordIdentifierFeatureName),
		EventTimeFeatureName:        aws.StringValue(out.EventTimeFeatureName),
		CreatedAt:                   aws.TimeValue(out.CreationTime),
	}
	if out.OfflineStoreStatus != nil {
		d.OfflineStoreStatus = aws.StringValue(out.OfflineStoreStatus.Status)
	}
	for _, fd := range out.FeatureDefinitions {
		d.FeatureDefinitions = append(d.FeatureDefinitions, dataset.FeatureDefinition{
			Name: aws.StringValue(fd.FeatureName),
			Type: dataset.FeatureType(aws.StringValue(fd.FeatureType)),
		})
	}
	return d, nil
}

func (s *Store) DeleteFeatureGroup(ctx context.Context, name string) error {
	_, err := s.client.DeleteFeatureGroupWithContext(ctx, &awssm.DeleteFeatureGroupInput{
		FeatureGroupName: aws.String(name),
	})
	if err != nil {
		if isCode(err, awssm.ErrCodeResourceNotFound) {
			return errors.Wrap(featurestore.ErrFeatureGroupNotFound, name)
		}
		return errors.Wrapf(err, "deleting feature group %s", name)
	}
	return nil
}

func (s *Store) PutRecord(ctx context.Context, name string, rec featurestore.Record) error {
	values := make([]*sagemakerfeaturestoreruntime.FeatureValue, len(rec))
	for i, fv := range rec {
		values[i] = &sagemakerfeaturestoreruntime.FeatureValue{
			FeatureName:   aws.String(fv.Name),
			ValueAsString: aws.String(fv.Value),
		}
	}
	_, err := s.runtime.PutRecordWithContext(ctx, &sagemakerfeaturestoreruntime.PutRecordInput{
		FeatureGroupName: aws.String(name),
		Record:           values,
	})
	if err != nil {
		return errors.Wrapf(err, "putting record into %s", name)
	}
	return nil
}

// GetRecord reads from the online store. An empty response means the
// record is not visible; ResourceNotFound means the group does not exist.
func (s *Store) GetRecord(ctx context.Context, name, id string) (featurestore.Record, error) {
	out, err := s.runtime.GetRecordWithContext(ctx, &sagemakerfeaturestoreruntime.GetRecordInput{
		FeatureGroupName:              aws.String(name),
		RecordIdentifierValueAsString: aws.String(id),
	})
	if err != nil {
		if isCode(err, sagemakerfeaturestoreruntime.ErrCodeResourceNotFound) {
			return nil, errors.Wrap(featurestore.ErrFeatureGroupNotFound, name)
		}
		return nil, errors.Wrapf(err, "getting record %s from %s", id, name)
	}
	if len(out.Record) == 0 {
		return nil, errors.Wrapf(featurestore.ErrRecordNotFound, "%s in %s", id, name)
	}
	rec := make(featurestore.Record, 0, len(out.Record))
	for _, fv := range out.Record {
		rec = append(rec, featurestore.FeatureValue{
			Name:  aws.StringValue(fv.FeatureName),
			Value: aws.StringValue(fv.ValueAsString),
		})
	}
	return rec, nil
}

// Close is a no-op; AWS clients hold no resources that need releasing.
func (s *Store) Close() error { return nil }

func toFeatureDefinitions(defs []dataset.FeatureDefinition) []*awssm.FeatureDefinition {
	out := make([]*awssm.FeatureDefinition, len(defs))
	for i, d := range defs {
		out[i] = &awssm.FeatureDefinition{
			FeatureName: aws.String(d.Name),
			FeatureType: aws.String(string(d.Type)),
		}
	}
	return out
}

func isCode(err error, code string) bool {
	aerr, ok := err.(awserr.Error)
	return ok && aerr.Code() == code
}
