package sms

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSClient sends direct-to-phone text messages through Amazon SNS.
type SNSClient struct {
	api      *awssns.Client
	senderID string
}

// NewSNSClient loads AWS credentials from the default chain.
func NewSNSClient(ctx context.Context, region, senderID string) (*SNSClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SNSClient{api: awssns.NewFromConfig(cfg), senderID: senderID}, nil
}

// Send publishes body to toNumber as a transactional SMS and returns the message id.
func (c *SNSClient) Send(ctx context.Context, toNumber, body string) (string, error) {
	if !strings.HasPrefix(toNumber, "+") {
		return "", fmt.Errorf("invalid phone number: %s", toNumber)
	}

	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if c.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(c.senderID),
		}
	}

	out, err := c.api.Publish(ctx, &awssns.PublishInput{
		PhoneNumber:       aws.String(toNumber),
		Message:           aws.String(body),
		MessageAttributes: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish SMS to %s: %w", toNumber, err)
	}
	return aws.ToString(out.MessageId), nil
}
