package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/featureload/internal/featurestore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultInterval between status checks.
const DefaultInterval = 5 * time.Second

// Describer is the part of featurestore.Store the poller needs.
type Describer interface {
	DescribeFeatureGroup(ctx context.Context, name string) (*featurestore.Description, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// CreationError is returned when a feature group leaves Creating in any
// state other than Created.
type CreationError struct {
	Name          string
	Status        string
	FailureReason string
}

func (e *CreationError) Error() string {
	status := e.Status
	if status == "" {
		status = "<none>"
	}
	msg := fmt.Sprintf("failed to create feature group %s: status %s", e.Name, status)
	if e.FailureReason != "" {
		msg += ": " + e.FailureReason
	}
	return msg
}

// Poller waits for feature group creation.
type Poller struct {
	describer Describer
	interval  time.Duration
	sleep     SleepFunc
	logger    zerolog.Logger
}

// New creates a Poller checking every interval. A non-positive interval
// means DefaultInterval.
func New(describer Describer, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{describer: describer, interval: interval, sleep: Sleep, logger: logger}
}

// WithSleep replaces the sleep function.
func (p *Poller) WithSleep(sleep SleepFunc) *Poller {
	p.sleep = sleep
	return p
}

// WaitForCreated describes name until its status is no longer Creating,
// sleeping a fixed interval between checks. There is no attempt limit:
// only ctx bounds the wait. Anything other than Created at the end is a
// *CreationError. Describe errors are returned as they happen.
func (p *Poller) WaitForCreated(ctx context.Context, name string) (*featurestore.Description, error) {
	d, err := p.describe(ctx, name)
	if err != nil {
		return nil, err
	}
	for d.Status == featurestore.StatusCreating {
		p.logger.Info().Str("feature_group", name).Msg("waiting for feature group creation")
		if err := p.sleep(ctx, p.interval); err != nil {
			return nil, errors.Wrapf(err, "waiting for feature group %s", name)
		}
		if d, err = p.describe(ctx, name); err != nil {
			return nil, err
		}
	}
	if d.Status != featurestore.StatusCreated {
		return nil, &CreationError{Name: name, Status: d.Status, FailureReason: d.FailureReason}
	}
	p.logger.Info().Str("feature_group", name).Msg("feature group successfully created")
	return d, nil
}

func (p *Poller) describe(ctx context.Context, name string) (*featurestore.Description, error) {
	d, err := p.describer.DescribeFeatureGroup(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "polling feature group %s", name)
	}
	p.logger.Debug().Str("feature_group", name).Str("status", d.Status).Msg("feature group status")
	return d, nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
