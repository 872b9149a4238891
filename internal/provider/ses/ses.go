// Package ses implements an email channel provider that sends through the
// AWS SES v2 API.
package ses

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/smtp-dispatch/internal/dispatch"
	"github.com/shineum/smtp-dispatch/internal/email"
	"github.com/shineum/smtp-dispatch/internal/message"
	"github.com/shineum/smtp-dispatch/internal/provider"
)

// ProviderID is the base channel provider ID of the SES provider.
const ProviderID = "ses"

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// Config holds the configuration for creating a Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// Sender is the verified identity used as the envelope sender. The
	// email's own From address is used when empty.
	Sender string
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Provider sends emails via the AWS SES v2 API.
type Provider struct {
	sender     string
	client     SendEmailAPI
	retryDelay time.Duration
	logger     *slog.Logger
}

// New creates a Provider with an SES client built from cfg. Static
// credentials are used when both keys are set, otherwise the default AWS
// credential chain applies.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(sender string, client SendEmailAPI) *Provider {
	return &Provider{
		sender:     sender,
		client:     client,
		retryDelay: baseRetryDelay,
		logger:     slog.Default(),
	}
}

// ID returns the channel provider ID for an optional instance name.
func ID(providerID string) string {
	return provider.ID(ProviderID, providerID)
}

// Register adds an SES provider built from cfg to reg for the email channel.
// The AWS client is created when the provider is first resolved.
func Register(reg *provider.Registry, cfg Config, providerID string) error {
	return reg.Add(ID(providerID), provider.ChannelEmail, func(ctx context.Context) (provider.Provider, error) {
		return New(ctx, cfg)
	})
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return ProviderID
}

// Dispatch delivers e via SES, retrying failed API calls with exponential
// backoff. Emails with attachments are sent as raw MIME; the rest use the
// SES simple format. API failures are reported through the result.
func (p *Provider) Dispatch(ctx context.Context, e *email.Email, cc *dispatch.CommunicationContext) ([]*dispatch.Result, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: email is nil", dispatch.ErrInvalidArgument)
	}
	if cc == nil {
		return nil, fmt.Errorf("%w: communication context is nil", dispatch.ErrInvalidArgument)
	}

	msg, err := message.Build(ctx, e, message.BuildOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}
	if p.sender != "" {
		msg.From = message.Mailbox{Name: msg.From.Name, Address: p.sender}
	}

	var input *sesv2.SendEmailInput
	if len(msg.Attachments) > 0 {
		raw, err := msg.Bytes()
		if err != nil {
			return nil, fmt.Errorf("failed to build raw message: %w", err)
		}
		input = &sesv2.SendEmailInput{
			Content: &types.EmailContent{
				Raw: &types.RawMessage{
					Data: raw,
				},
			},
		}
	} else {
		input = buildSimpleInput(msg)
	}

	result := &dispatch.Result{
		ResourceID:        msg.ID,
		ChannelID:         cc.ChannelID,
		ChannelProviderID: cc.ChannelProviderID,
	}

	out, err := p.send(ctx, input)
	if err != nil {
		result.Status = dispatch.Failure(ProviderID, err.Error())
		result.Err = err
	} else {
		if id := aws.ToString(out.MessageId); id != "" {
			result.ResourceID = id
			result.MessageString = id
		}
		result.Status = dispatch.Success(ProviderID, "Dispatched")
	}

	results := []*dispatch.Result{result}
	dispatch.SendDeliveryReports(ctx, cc, e, results)
	return results, nil
}

func (p *Provider) send(ctx context.Context, input *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Debug("retrying SES API request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
			if err := sleepWithContext(ctx, p.backoffDelay(attempt)); err != nil {
				return nil, fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		out, err := p.client.SendEmail(ctx, input)
		if err == nil {
			return out, nil
		}

		lastErr = err
		p.logger.Warn("SES API error",
			"provider", ProviderID,
			"attempt", attempt,
			"error", err,
		)
	}

	return nil, fmt.Errorf("SES API request failed after %d retries: %w", maxRetries, lastErr)
}

// buildSimpleInput creates a SES SendEmailInput for emails without attachments.
func buildSimpleInput(msg *message.Message) *sesv2.SendEmailInput {
	body := &types.Body{}

	if msg.HTMLBody != "" {
		body.Html = &types.Content{
			Data:    aws.String(msg.HTMLBody),
			Charset: aws.String(msg.Charset),
		}
	}
	if msg.TextBody != "" {
		body.Text = &types.Content{
			Data:    aws.String(msg.TextBody),
			Charset: aws.String(msg.Charset),
		}
	}

	dest := &types.Destination{
		ToAddresses:  mailboxes(msg.To),
		CcAddresses:  mailboxes(msg.Cc),
		BccAddresses: mailboxes(msg.Bcc),
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatMailbox(msg.From)),
		Destination:      dest,
		ReplyToAddresses: mailboxes(msg.ReplyTo),
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String(msg.Charset),
				},
				Body: body,
			},
		},
	}
}

func mailboxes(list []message.Mailbox) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, m := range list {
		out = append(out, formatMailbox(m))
	}
	return out
}

// formatMailbox renders bare addresses without angle brackets.
func formatMailbox(m message.Mailbox) string {
	if m.Name == "" {
		return m.Address
	}
	return m.String()
}

// backoffDelay returns the exponential backoff delay for the given attempt number.
func (p *Provider) backoffDelay(attempt int) time.Duration {
	delay := p.retryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
