// Package mailer is the email collaborator of the subscription core: it
// renders liquid templates, builds the confirmation and opt-out links, and
// delivers mail through a pluggable gateway (AWS SES or a dry-run logger).
package mailer

import (
	"context"
	"fmt"
	"net/url"

	"github.com/openlyops/newsletter-service/internal/config"
	"github.com/openlyops/newsletter-service/internal/domain"
	"github.com/openlyops/newsletter-service/internal/pkg/logger"
	"github.com/openlyops/newsletter-service/internal/secure"
)

// Gateway abstracts the external delivery provider.
type Gateway interface {
	// SendSingle delivers one rendered message.
	SendSingle(ctx context.Context, from, to, subject, html, text string) error
	// SendBulk delivers one templated message to every recipient in a single
	// provider call, merging per-recipient substitutions server side.
	SendBulk(ctx context.Context, templateID string, recipients []domain.BulkRecipient) error
	// CreateTemplate provisions a reusable named template at the provider.
	CreateTemplate(ctx context.Context, name, subject, html, text string) error
	// DeleteTemplate removes a provisioned template.
	DeleteTemplate(ctx context.Context, name string) error
}

// Service composes the gateway with the template store and link building.
type Service struct {
	gateway   Gateway
	templates *TemplateStore
	domain    string
	fromName  string
	fromAddr  string
	adminAddr string
}

// NewService wires the mail collaborator from config.
func NewService(gateway Gateway, templates *TemplateStore, cfg config.MailConfig) *Service {
	return &Service{
		gateway:   gateway,
		templates: templates,
		domain:    cfg.Domain,
		fromName:  cfg.FromName,
		fromAddr:  cfg.FromAddress,
		adminAddr: cfg.AdminAddress,
	}
}

// ConfirmURL builds the double opt-in link embedded in confirmation mail.
func (s *Service) ConfirmURL(email, code string) string {
	return fmt.Sprintf("https://%s/newsletter/confirm?email=%s&code=%s",
		s.domain, url.QueryEscape(email), url.QueryEscape(code))
}

// DoNotEmailURL builds the opt-out link. The code is a bearer capability, so
// possession of the link suffices to opt out without authentication.
func (s *Service) DoNotEmailURL(email, code string) string {
	return fmt.Sprintf("https://%s/newsletter/do-not-email?email=%s&code=%s",
		s.domain, url.QueryEscape(email), url.QueryEscape(code))
}

// SendConfirmation sends the double opt-in request for a new or still
// unconfirmed subscriber.
func (s *Service) SendConfirmation(ctx context.Context, to, confirmCode, doNotEmailCode string) error {
	params := map[string]interface{}{
		"confirmUrl":    s.ConfirmURL(to, confirmCode),
		"doNotEmailUrl": s.DoNotEmailURL(to, doNotEmailCode),
		"domain":        s.domain,
	}
	html, err := s.templates.Render("newsletter-subscribe-confirmation.html", params)
	if err != nil {
		return fmt.Errorf("render confirmation html: %w", err)
	}
	text, err := s.templates.Render("newsletter-subscribe-confirmation.txt", params)
	if err != nil {
		return fmt.Errorf("render confirmation text: %w", err)
	}
	subject := "[Action Required] Confirm your newsletter subscription"
	return s.gateway.SendSingle(ctx, s.from(), to, subject, html, text)
}

// ProvisionTemplate renders the newsletter template for one issue and creates
// it at the provider under a unique name. The returned name is the templateID
// passed to broadcast.
func (s *Service) ProvisionTemplate(ctx context.Context, issueID, subject string, params map[string]interface{}) (string, error) {
	suffix, err := secure.RandomToken(5)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("newsletter_%s_%s", issueID, suffix)

	if params == nil {
		params = map[string]interface{}{}
	}
	params["domain"] = s.domain

	html, err := s.templates.Render("newsletter-template.html", params)
	if err != nil {
		return "", fmt.Errorf("render newsletter html: %w", err)
	}
	text, err := s.templates.Render("newsletter-template.txt", params)
	if err != nil {
		return "", fmt.Errorf("render newsletter text: %w", err)
	}
	if err := s.gateway.CreateTemplate(ctx, name, subject, html, text); err != nil {
		return "", err
	}
	logger.Info("newsletter template provisioned", "template", name)
	return name, nil
}

// DropTemplate removes a provisioned newsletter template after a run.
func (s *Service) DropTemplate(ctx context.Context, name string) error {
	return s.gateway.DeleteTemplate(ctx, name)
}

// SendAdminAlert delivers a plain-text operator notification.
func (s *Service) SendAdminAlert(ctx context.Context, subject, body string) error {
	logger.Info("sending admin alert", "subject", subject)
	return s.gateway.SendSingle(ctx, s.adminAddr, s.adminAddr, "[ADMIN ALERT] "+subject, "", body)
}

// SendBulk forwards a page of recipients to the gateway.
func (s *Service) SendBulk(ctx context.Context, templateID string, recipients []domain.BulkRecipient) error {
	return s.gateway.SendBulk(ctx, templateID, recipients)
}

func (s *Service) from() string {
	return fmt.Sprintf("%s <%s>", s.fromName, s.fromAddr)
}
