package dataset

import (
	"context"

	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Loader reads a CSV dataset from a local path or an s3 URL.
type Loader struct {
	s3client s3iface.S3API
	opts     ParseOptions
	logger   zerolog.Logger
}

// NewLoader creates a Loader. s3client may be nil when only local paths are read.
func NewLoader(s3client s3iface.S3API, opts ParseOptions, logger zerolog.Logger) *Loader {
	return &Loader{s3client: s3client, opts: opts, logger: logger}
}

// Load fetches location and parses it into a Table.
func (l *Loader) Load(ctx context.Context, location string) (*Table, error) {
	l.logger.Info().Str("location", location).Msg("loading dataset")
	rc, err := OpenFileOrURL(ctx, location, l.s3client)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", location)
	}
	defer rc.Close()

	t, err := Parse(rc, l.opts)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", location)
	}
	l.logger.Info().
		Int("rows", t.NumRows()).
		Int("columns", t.NumColumns()).
		Msg("dataset loaded")
	for _, c := range t.Columns() {
		l.logger.Debug().Str("column", c.Name).Stringer("kind", c.Kind).Msg("inferred column kind")
	}
	return t, nil
}
