package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/openlyops/newsletter-service/internal/apperr"
	"github.com/openlyops/newsletter-service/internal/domain"
	"github.com/openlyops/newsletter-service/internal/pkg/logger"
	"github.com/openlyops/newsletter-service/internal/secure"
)

// ErrRunInProgress reports that another broadcast run holds the per-template
// lock.
var ErrRunInProgress = apperr.New(apperr.KindConflict,
	"a broadcast for this template is already running")

// Gateway is the bulk-send slice of the delivery provider.
type Gateway interface {
	SendBulk(ctx context.Context, templateID string, recipients []domain.BulkRecipient) error
}

// Linker builds the per-subscriber opt-out URL substituted into each message.
// Implemented by the mailer service.
type Linker interface {
	DoNotEmailURL(email, code string) string
}

// RunGuard serializes runs for one template. Guards for different templates
// never contend.
type RunGuard interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// GuardFactory builds the guard for a template. A nil factory disables the
// single-flight check (used by tests).
type GuardFactory func(templateID string) RunGuard

// Options tunes a dispatcher.
type Options struct {
	// PageSize is the number of recipients per bulk-send call. Default 50.
	PageSize int
	// PageRetries is the number of attempts beyond the first per page.
	// Zero means the default of 2; any negative value disables retries.
	PageRetries int
	// RetryDelay is the base backoff between page attempts. Default 1s.
	RetryDelay time.Duration
}

func (o *Options) fillDefaults() {
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.PageRetries < 0 {
		o.PageRetries = 0
	} else if o.PageRetries == 0 {
		o.PageRetries = 2
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
}

// Service drives broadcast runs. Safe for concurrent use; concurrent runs of
// the same template are serialized by the guard.
type Service struct {
	src    SubscriberSource
	gw     Gateway
	codec  *secure.Codec
	links  Linker
	guards GuardFactory
	opts   Options
}

// NewService wires a dispatcher from its collaborators.
func NewService(src SubscriberSource, gw Gateway, codec *secure.Codec, links Linker, guards GuardFactory, opts Options) *Service {
	opts.fillDefaults()
	return &Service{src: src, gw: gw, codec: codec, links: links, guards: guards, opts: opts}
}

// Broadcast sends the template to every eligible subscriber from the start.
func (s *Service) Broadcast(ctx context.Context, templateID string) (*domain.BroadcastReport, error) {
	return s.BroadcastFrom(ctx, templateID, "")
}

// BroadcastFrom resumes a run after the given subscriber id cursor. Pages are
// processed sequentially; per-page gateway failures are retried then skipped,
// while a directory read failure aborts the run with the partial report.
func (s *Service) BroadcastFrom(ctx context.Context, templateID, cursor string) (*domain.BroadcastReport, error) {
	if templateID == "" {
		return nil, apperr.New(apperr.KindValidation, "template id is required")
	}

	if s.guards != nil {
		guard := s.guards(templateID)
		ok, err := guard.Acquire(ctx)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInfrastructure, "acquiring broadcast lock", err)
		}
		if !ok {
			return nil, ErrRunInProgress
		}
		defer func() {
			if err := guard.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("releasing broadcast lock failed", "template", templateID, "err", err)
			}
		}()
	}

	report := &domain.BroadcastReport{
		RunID:      uuid.New().String(),
		TemplateID: templateID,
		Cursor:     cursor,
		StartedAt:  time.Now().UTC(),
	}
	pager := NewPager(s.src, s.opts.PageSize)
	pager.Resume(cursor)

	for page := 0; ; page++ {
		subs, err := pager.Next(ctx)
		if err != nil {
			report.FinishedAt = time.Now().UTC()
			return report, apperr.Wrap(apperr.KindInfrastructure, "fetching subscriber page", err)
		}
		if len(subs) == 0 {
			break
		}

		recipients := s.decryptPage(subs, report)
		if len(recipients) > 0 {
			if err := s.sendPage(ctx, templateID, recipients); err != nil {
				logger.Error("bulk send failed for page, continuing",
					"template", templateID, "page", page, "count", len(recipients), "err", err)
				report.PagesFailed++
			} else {
				logger.Info("broadcast page sent",
					"template", templateID, "page", page, "count", len(recipients))
				report.PagesSent++
				report.RecipientsSent += len(recipients)
			}
		}
		report.Cursor = pager.Cursor()
	}

	report.FinishedAt = time.Now().UTC()
	logger.Info("broadcast complete",
		"template", templateID,
		"pages_sent", report.PagesSent,
		"pages_failed", report.PagesFailed,
		"sent", report.RecipientsSent,
		"skipped", report.RecipientsSkipped)
	return report, nil
}

// decryptPage turns subscriber rows into bulk recipients. A record that fails
// authentication is skipped with a loud log; one corrupt row must not
// suppress delivery to the rest of the page.
func (s *Service) decryptPage(subs []domain.Subscriber, report *domain.BroadcastReport) []domain.BulkRecipient {
	recipients := make([]domain.BulkRecipient, 0, len(subs))
	for _, sub := range subs {
		if sub.EmailCiphertext == nil {
			report.RecipientsSkipped++
			continue
		}
		address, err := s.codec.Decrypt(*sub.EmailCiphertext)
		if err != nil {
			logger.Error("subscriber ciphertext unreadable, skipping recipient",
				"id", sub.ID, "err", err)
			report.RecipientsSkipped++
			continue
		}
		recipients = append(recipients, domain.BulkRecipient{
			Email: address,
			Substitutions: map[string]string{
				"doNotEmailUrl": s.links.DoNotEmailURL(address, sub.DoNotEmailCode),
			},
		})
	}
	return recipients
}

// sendPage invokes the gateway with bounded retries and backoff. Retries stop
// immediately when the context ends.
func (s *Service) sendPage(ctx context.Context, templateID string, recipients []domain.BulkRecipient) error {
	var lastErr error
	for attempt := 0; attempt <= s.opts.PageRetries; attempt++ {
		if attempt > 0 {
			delay := s.opts.RetryDelay * time.Duration(attempt)
			logger.Warn("retrying bulk send", "template", templateID, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				if lastErr != nil {
					return lastErr
				}
				return ctx.Err()
			}
		}
		if err := s.gw.SendBulk(ctx, templateID, recipients); err != nil {
			lastErr = err
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			continue
		}
		return nil
	}
	return lastErr
}
