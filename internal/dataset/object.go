package dataset

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a local path or an s3 object does not exist.
var ErrNotFound = errors.New("file or url does not exist")

// IsS3URI reports whether name is an s3:// URI.
func IsS3URI(name string) bool {
	return strings.HasPrefix(name, "s3://")
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(name string) (bucket, key string, err error) {
	u, err := url.Parse(name)
	if err != nil {
		return "", "", errors.Wrapf(err, "parsing S3 URL %v", name)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", errors.Errorf("not an s3 url: %v", name)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", errors.Errorf("s3 url has no key: %v", name)
	}
	return u.Host, key, nil
}

// OpenFileOrURL opens a path on the filesystem or an s3 URL for reading.
// The s3client parameter is required for s3 URLs.
func OpenFileOrURL(ctx context.Context, name string, s3client s3iface.S3API) (io.ReadCloser, error) {
	if !IsS3URI(name) {
		f, err := os.Open(name)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNotFound
			}
			return nil, errors.Wrapf(err, "opening file %v", name)
		}
		return f, nil
	}

	if s3client == nil {
		return nil, errors.New("missing s3 client")
	}
	bucket, key, err := ParseS3URI(name)
	if err != nil {
		return nil, err
	}
	result, err := s3client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchBucket, s3.ErrCodeNoSuchKey:
				return nil, ErrNotFound
			}
		}
		return nil, errors.Wrapf(err, "fetching S3 object %v", name)
	}
	return result.Body, nil
}

// WriteFileOrURL writes contents to a local path or an s3 URL.
func WriteFileOrURL(ctx context.Context, name string, contents []byte, s3client s3iface.S3API) error {
	if !IsS3URI(name) {
		if err := os.WriteFile(name, contents, 0o644); err != nil {
			return errors.Wrapf(err, "writing file %v", name)
		}
		return nil
	}

	if s3client == nil {
		return errors.New("missing s3 client")
	}
	bucket, key, err := ParseS3URI(name)
	if err != nil {
		return err
	}
	_, err = s3client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(contents),
		ContentLength: aws.Int64(int64(len(contents))),
		ContentType:   aws.String("text/csv"),
	})
	if err != nil {
		return errors.Wrapf(err, "putting S3 object %v", name)
	}
	return nil
}
