package awsutil

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/featureload/internal/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// NewSession creates an AWS session from the default credential chain,
// overridden by the profile and region in cfg when they are set.
func NewSession(cfg config.AWS, logger zerolog.Logger) (*session.Session, error) {
	logger.Debug().Msg("initializing AWS session")
	awsConfig := &aws.Config{
		// retry on ephemeral AWS errors
		Retryer: client.DefaultRetryer{NumMaxRetries: 10},
	}
	if cfg.Profile != "" {
		logger.Info().Str("profile", cfg.Profile).Msg("overriding default AWS profile")
		awsConfig.Credentials = credentials.NewSharedCredentials("", cfg.Profile)
	}
	if cfg.Region != "" {
		logger.Info().Str("region", cfg.Region).Msg("overriding default AWS region")
		awsConfig.Region = aws.String(cfg.Region)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *awsConfig,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating AWS session")
	}
	return sess, nil
}
