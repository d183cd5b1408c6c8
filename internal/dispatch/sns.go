package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// SNSDispatcher sends reminder notifications as SMS via AWS SNS. Owners are
// opaque identifiers; on this channel they are expected to be E.164 phone
// numbers.
type SNSDispatcher struct {
	client *sns.Client
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

// NewSNSDispatcher creates an SNS-backed SMS dispatcher.
func NewSNSDispatcher(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSDispatcher, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for SNS: %w", err)
	}

	return &SNSDispatcher{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

func (d *SNSDispatcher) Send(ctx context.Context, recipient, message string) error {
	if recipient == "" {
		return fmt.Errorf("missing recipient phone number")
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(recipient),
		Message:     aws.String(message),
	}

	result, err := d.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	d.logger.Info("notification delivered via SNS",
		zap.String("recipient", recipient),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}
