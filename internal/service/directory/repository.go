package directory

import (
	"context"
	"errors"

	"github.com/openlyops/newsletter-service/internal/domain"
)

// ErrNoSubscriber is returned by Repository lookups when no row matches the
// fingerprint. The service maps it into the anti-enumeration error taxonomy.
var ErrNoSubscriber = errors.New("no subscriber for fingerprint")

// Repository defines the data access contract for subscriber rows.
// Conditional updates return the number of rows affected so the service can
// distinguish "state already advanced" from "wrong code" without extra reads.
type Repository interface {
	// GetByFingerprint returns the subscriber with the given fingerprint, or
	// ErrNoSubscriber when none exists.
	GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Subscriber, error)

	// Insert persists a new subscriber. The fingerprint column carries a
	// unique constraint; on conflict nothing is written and 0 is returned,
	// which the service treats as a concurrent create.
	Insert(ctx context.Context, s *domain.Subscriber) (int64, error)

	// ConfirmByCode atomically sets confirmed=true where the fingerprint and
	// confirmation code match and confirmed is still false.
	ConfirmByCode(ctx context.Context, fingerprint, code string) (int64, error)

	// ClearCiphertextByCode atomically nulls the ciphertext where the
	// fingerprint and do-not-email code match.
	ClearCiphertextByCode(ctx context.Context, fingerprint, code string) (int64, error)

	// CountConfirmed counts broadcast-eligible subscribers.
	CountConfirmed(ctx context.Context) (int, error)

	// CountUnconfirmed counts subscribers still awaiting double opt-in.
	CountUnconfirmed(ctx context.Context) (int, error)

	// CountOptedOut counts subscribers whose ciphertext has been nulled.
	CountOptedOut(ctx context.Context) (int, error)
}
