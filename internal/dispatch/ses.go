package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// SESDispatcher delivers reminder notifications by email via AWS SES. On
// this channel owners are expected to be email addresses.
type SESDispatcher struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

func NewSESDispatcher(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESDispatcher, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for SES: %w", err)
	}

	return &SESDispatcher{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

func (d *SESDispatcher) Send(ctx context.Context, recipient, message string) error {
	if recipient == "" {
		return fmt.Errorf("missing recipient email address")
	}

	input := &ses.SendEmailInput{
		Source: aws.String(d.from),
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String("Reminder"),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(message),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := d.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	d.logger.Info("notification delivered via SES",
		zap.String("recipient", recipient),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}
