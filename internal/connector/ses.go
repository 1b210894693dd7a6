package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/mailbridge/internal/parser"
)

// sesMaxRetries is the maximum number of retry attempts for transient
// SES API failures.
const sesMaxRetries = 3

// sesBaseRetryDelay is the initial delay for exponential backoff.
const sesBaseRetryDelay = 1 * time.Second

func init() {
	mustRegister("ses", NewSES)
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// NewSES returns a connector that delivers messages through the AWS SES
// v2 API. Config values: "region", "sender" and "recipients" are
// required; "access_key_id"/"secret_access_key" select static
// credentials over the default chain.
func NewSES(name string, cfg map[string]any) (Connector, error) {
	return &sesConnector{Base: NewBase(name, cfg)}, nil
}

type sesConnector struct {
	Base

	clientOnce sync.Once
	client     SendEmailAPI
	clientErr  error
}

func (c *sesConnector) Validate(_ parser.Parser) error {
	if _, err := cfgString(c.Config(), "region"); err != nil {
		return err
	}
	if _, err := cfgString(c.Config(), "sender"); err != nil {
		return err
	}
	if _, err := cfgStringList(c.Config(), "recipients"); err != nil {
		return err
	}

	// Credentials are optional but must come as a pair.
	_, keyErr := cfgString(c.Config(), "access_key_id")
	_, secretErr := cfgString(c.Config(), "secret_access_key")
	if (keyErr == nil) != (secretErr == nil) {
		return fmt.Errorf("config values \"access_key_id\" and \"secret_access_key\" must be set together")
	}

	return nil
}

func (c *sesConnector) Send(p parser.Parser) error {
	ctx := context.Background()

	client, err := c.apiClient(ctx)
	if err != nil {
		return err
	}

	content, err := p.Content()
	if err != nil {
		return err
	}

	sender, _ := cfgString(c.Config(), "sender")
	recipients, _ := cfgStringList(c.Config(), "recipients")

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(sender),
		Destination:      &types.Destination{ToAddresses: recipients},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(p.Subject()),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(content),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= sesMaxRetries; attempt++ {
		if attempt > 0 {
			c.Logger().Debug("retrying SES API request",
				"connector", c.Name(),
				"attempt", attempt,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sesBackoffDelay(attempt)):
			}
		}

		if _, err := client.SendEmail(ctx, input); err == nil {
			return nil
		} else {
			lastErr = err
			c.Logger().Warn("SES API error",
				"connector", c.Name(),
				"attempt", attempt,
				"error", err,
			)
		}
	}

	return fmt.Errorf("SES API request failed after %d retries: %w", sesMaxRetries, lastErr)
}

// apiClient builds the SES client on first use so that config problems
// surface as dispatch errors rather than assembly failures.
func (c *sesConnector) apiClient(ctx context.Context) (SendEmailAPI, error) {
	c.clientOnce.Do(func() {
		if c.client != nil {
			return
		}

		region, err := cfgString(c.Config(), "region")
		if err != nil {
			c.clientErr = err
			return
		}

		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}

		key, keyErr := cfgString(c.Config(), "access_key_id")
		secret, secretErr := cfgString(c.Config(), "secret_access_key")
		if keyErr == nil && secretErr == nil {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(key, secret, ""),
			))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			c.clientErr = fmt.Errorf("failed to load AWS config: %w", err)
			return
		}
		c.client = sesv2.NewFromConfig(awsCfg)
	})

	return c.client, c.clientErr
}

func sesBackoffDelay(attempt int) time.Duration {
	delay := sesBaseRetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
