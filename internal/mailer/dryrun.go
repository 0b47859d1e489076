package mailer

import (
	"context"
	"sync"

	"github.com/openlyops/newsletter-service/internal/domain"
	"github.com/openlyops/newsletter-service/internal/pkg/logger"
)

// DryRunGateway logs what would have been sent instead of delivering.
// Used in development and tests; the logger redacts recipient addresses.
type DryRunGateway struct {
	mu        sync.Mutex
	singles   int
	bulkCalls int
	templates map[string]bool
}

// NewDryRunGateway creates a gateway that only logs.
func NewDryRunGateway() *DryRunGateway {
	return &DryRunGateway{templates: make(map[string]bool)}
}

func (g *DryRunGateway) SendSingle(ctx context.Context, from, to, subject, html, text string) error {
	g.mu.Lock()
	g.singles++
	g.mu.Unlock()
	logger.Info("dry-run: would send email", "from", from, "to", to, "subject", subject)
	return nil
}

func (g *DryRunGateway) SendBulk(ctx context.Context, templateID string, recipients []domain.BulkRecipient) error {
	g.mu.Lock()
	g.bulkCalls++
	g.mu.Unlock()
	logger.Info("dry-run: would send bulk template", "template", templateID, "count", len(recipients))
	return nil
}

func (g *DryRunGateway) CreateTemplate(ctx context.Context, name, subject, html, text string) error {
	g.mu.Lock()
	g.templates[name] = true
	g.mu.Unlock()
	logger.Info("dry-run: would create template", "template", name, "subject", subject)
	return nil
}

func (g *DryRunGateway) DeleteTemplate(ctx context.Context, name string) error {
	g.mu.Lock()
	delete(g.templates, name)
	g.mu.Unlock()
	logger.Info("dry-run: would delete template", "template", name)
	return nil
}
