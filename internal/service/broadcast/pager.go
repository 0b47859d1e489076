package broadcast

import (
	"context"

	"github.com/openlyops/newsletter-service/internal/domain"
)

// SubscriberSource is the read path into the subscriber directory.
type SubscriberSource interface {
	// ListEligiblePage returns up to limit broadcast-eligible subscribers
	// with id greater than afterID, ordered by id ascending. An empty
	// afterID starts from the beginning.
	ListEligiblePage(ctx context.Context, afterID string, limit int) ([]domain.Subscriber, error)
}

// Pager is a lazy, finite iterator over eligible-subscriber pages. It is
// restartable: seed it with the cursor of the last processed page and it
// resumes from there instead of from zero.
type Pager struct {
	src    SubscriberSource
	size   int
	cursor string
	done   bool
}

// NewPager creates a pager over the source with the given page size.
func NewPager(src SubscriberSource, size int) *Pager {
	return &Pager{src: src, size: size}
}

// Resume positions the pager after the given subscriber id.
func (p *Pager) Resume(cursor string) { p.cursor = cursor }

// Cursor returns the id of the last subscriber handed out, the resume point
// for an interrupted run.
func (p *Pager) Cursor() string { return p.cursor }

// Next fetches the next page. It returns an empty slice once the eligible
// set is exhausted; the pager stays exhausted from then on. A fetch error is
// returned as-is and does not advance the cursor.
func (p *Pager) Next(ctx context.Context) ([]domain.Subscriber, error) {
	if p.done {
		return nil, nil
	}
	page, err := p.src.ListEligiblePage(ctx, p.cursor, p.size)
	if err != nil {
		return nil, err
	}
	if len(page) == 0 {
		p.done = true
		return nil, nil
	}
	p.cursor = page[len(page)-1].ID
	return page, nil
}
