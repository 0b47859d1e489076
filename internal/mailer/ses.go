package mailer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	appconfig "github.com/openlyops/newsletter-service/internal/config"
	"github.com/openlyops/newsletter-service/internal/domain"
)

// SESGateway delivers mail through the AWS SES v2 API. SendBulk maps to
// SendBulkEmail with per-destination replacement template data, which merges
// substitutions server side (at most 50 destinations per call).
type SESGateway struct {
	client *sesv2.Client
	from   string
}

// NewSESGateway creates an SES-backed gateway. When access keys are empty the
// default AWS credential chain (IAM role) is used.
func NewSESGateway(ctx context.Context, cfg appconfig.MailConfig) (*SESGateway, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.SESRegion),
	}
	if cfg.SESAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.SESAccessKey, cfg.SESSecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	from := cfg.FromAddress
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress)
	}
	return &SESGateway{client: sesv2.NewFromConfig(awsCfg), from: from}, nil
}

// SendSingle delivers one message via SendEmail.
func (g *SESGateway) SendSingle(ctx context.Context, from, to, subject, html, text string) error {
	body := &types.Body{}
	if html != "" {
		body.Html = &types.Content{Data: aws.String(html), Charset: aws.String("UTF-8")}
	}
	if text != "" {
		body.Text = &types.Content{Data: aws.String(text), Charset: aws.String("UTF-8")}
	}

	_, err := g.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send email: %w", err)
	}
	return nil
}

// SendBulk delivers a templated message to a page of recipients in one call.
func (g *SESGateway) SendBulk(ctx context.Context, templateID string, recipients []domain.BulkRecipient) error {
	entries := make([]types.BulkEmailEntry, 0, len(recipients))
	for _, r := range recipients {
		subs, err := json.Marshal(r.Substitutions)
		if err != nil {
			return fmt.Errorf("marshal substitutions: %w", err)
		}
		entries = append(entries, types.BulkEmailEntry{
			Destination: &types.Destination{ToAddresses: []string{r.Email}},
			ReplacementEmailContent: &types.ReplacementEmailContent{
				ReplacementTemplate: &types.ReplacementTemplate{
					ReplacementTemplateData: aws.String(string(subs)),
				},
			},
		})
	}

	// Default data keeps SES from rejecting the call if a replacement is
	// missing; an "invalid" link is never a working opt-out bypass.
	defaultData, _ := json.Marshal(map[string]string{"doNotEmailUrl": "invalid"})

	_, err := g.client.SendBulkEmail(ctx, &sesv2.SendBulkEmailInput{
		FromEmailAddress: aws.String(g.from),
		BulkEmailEntries: entries,
		DefaultContent: &types.BulkEmailContent{
			Template: &types.Template{
				TemplateName: aws.String(templateID),
				TemplateData: aws.String(string(defaultData)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send bulk email: %w", err)
	}
	return nil
}

// CreateTemplate provisions a reusable SES template.
func (g *SESGateway) CreateTemplate(ctx context.Context, name, subject, html, text string) error {
	_, err := g.client.CreateEmailTemplate(ctx, &sesv2.CreateEmailTemplateInput{
		TemplateName: aws.String(name),
		TemplateContent: &types.EmailTemplateContent{
			Subject: aws.String(subject),
			Html:    aws.String(html),
			Text:    aws.String(text),
		},
	})
	if err != nil {
		return fmt.Errorf("ses create template: %w", err)
	}
	return nil
}

// DeleteTemplate removes a provisioned SES template.
func (g *SESGateway) DeleteTemplate(ctx context.Context, name string) error {
	_, err := g.client.DeleteEmailTemplate(ctx, &sesv2.DeleteEmailTemplateInput{
		TemplateName: aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("ses delete template: %w", err)
	}
	return nil
}
