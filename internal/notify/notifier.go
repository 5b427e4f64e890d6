package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"enhancement-pipeline/internal/common/logger"
)

const sendTimeout = 10 * time.Second

// Interfaces for mocking in tests.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type Config struct {
	EmailEnabled  bool
	SMSEnabled    bool
	FromEmail     string
	OperatorEmail string
	TopicARN      string
	AWSRegion     string
}

// Notifier alerts operators about terminal job failures. Delivery is best
// effort and never affects the outcome of the job itself.
type Notifier struct {
	config    Config
	sesClient SESService
	snsClient SNSService
	log       logger.Logger
}

func NewNotifier(ctx context.Context, config Config, log logger.Logger) (*Notifier, error) {
	n := &Notifier{
		config: config,
		log:    log.WithFields(map[string]interface{}{"component": "notify"}),
	}

	if !config.EmailEnabled && !config.SMSEnabled {
		return n, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(config.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	n.sesClient = ses.NewFromConfig(awsCfg)
	n.snsClient = sns.NewFromConfig(awsCfg)
	return n, nil
}

// NewNotifierWithClients is used by tests to inject mocks.
func NewNotifierWithClients(config Config, sesClient SESService, snsClient SNSService, log logger.Logger) *Notifier {
	return &Notifier{
		config:    config,
		sesClient: sesClient,
		snsClient: snsClient,
		log:       log.WithFields(map[string]interface{}{"component": "notify"}),
	}
}

// JobFailed sends the failure alert through every enabled channel.
func (n *Notifier) JobFailed(jobID, tenantID, ticketID, errorCode, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	subject := fmt.Sprintf("Enhancement job failed: %s", errorCode)
	body := fmt.Sprintf(
		"Job %s for tenant %s failed permanently.\n\nTicket: %s\nError code: %s\nDetail: %s\nTime: %s\n",
		jobID, tenantID, ticketID, errorCode, detail, time.Now().UTC().Format(time.RFC3339),
	)

	if n.config.EmailEnabled && n.config.OperatorEmail != "" {
		if err := n.sendEmail(ctx, subject, body); err != nil {
			n.log.WithError(err).Error("failure alert email not sent", map[string]interface{}{
				"job_id": jobID,
			})
		}
	}

	if n.config.SMSEnabled && n.config.TopicARN != "" {
		if err := n.publish(ctx, subject, body); err != nil {
			n.log.WithError(err).Error("failure alert publish not sent", map[string]interface{}{
				"job_id": jobID,
			})
		}
	}
}

func (n *Notifier) sendEmail(ctx context.Context, subject, body string) error {
	_, err := n.sesClient.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{
			ToAddresses: []string{n.config.OperatorEmail},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(n.config.FromEmail),
	})
	return err
}

func (n *Notifier) publish(ctx context.Context, subject, body string) error {
	_, err := n.snsClient.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.config.TopicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(body),
	})
	return err
}
