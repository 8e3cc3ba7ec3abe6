package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/storyraise/newsletter-service/internal/pkg/logger"
)

// SESTransport sends emails via AWS SES using the SDK v2.
type SESTransport struct {
	region string
	client *sesv2.Client
}

// NewSESTransport creates an SES transport. Initializes the AWS SDK
// client if credentials are provided.
func NewSESTransport(accessKey, secretKey, region string) *SESTransport {
	if region == "" {
		region = "us-east-1"
	}

	t := &SESTransport{region: region}

	if accessKey != "" && secretKey != "" {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		)
		if err != nil {
			log.Printf("[SES] Warning: Failed to initialize AWS config: %v", err)
		} else {
			t.client = sesv2.NewFromConfig(cfg)
		}
	}

	return t
}

// Send delivers a single email through AWS SES.
func (t *SESTransport) Send(ctx context.Context, msg *OutboundEmail) (*SendResult, error) {
	if t.client == nil {
		return nil, fmt.Errorf("SES client not initialized - check credentials")
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.ToEmail}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("recipient_id"), Value: aws.String(msg.RecipientID)},
		},
	}

	result, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return &SendResult{Success: false, Error: err}, nil
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}

	logger.Debug("ses send ok", "email", logger.RedactEmail(msg.ToEmail), "message_id", messageID)

	return &SendResult{
		Success:   true,
		MessageID: messageID,
		SentAt:    time.Now(),
	}, nil
}
