package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openlyops/newsletter-service/internal/domain"
	"github.com/openlyops/newsletter-service/internal/service/directory"
)

// SubscriberRepo implements directory.Repository and the broadcast read path
// against PostgreSQL. Only fingerprints and ciphertexts ever touch the
// database; plaintext addresses never appear in a query.
type SubscriberRepo struct{ db *sql.DB }

// NewSubscriberRepo creates a Postgres-backed subscriber repository.
func NewSubscriberRepo(db *sql.DB) *SubscriberRepo { return &SubscriberRepo{db: db} }

const subscriberColumns = `id, email_fingerprint, email_ciphertext, confirmed, confirm_code, do_not_email_code, create_date`

func (r *SubscriberRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Subscriber, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM newsletter_subscribers WHERE email_fingerprint = $1`,
		fingerprint,
	)
	s, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrNoSubscriber
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return s, nil
}

func (r *SubscriberRepo) Insert(ctx context.Context, s *domain.Subscriber) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO newsletter_subscribers
			(id, email_fingerprint, email_ciphertext, confirmed, confirm_code, do_not_email_code, create_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email_fingerprint) DO NOTHING
	`, s.ID, s.EmailFingerprint, nullString(s.EmailCiphertext), s.Confirmed, s.ConfirmCode, s.DoNotEmailCode, s.CreateDate)
	if err != nil {
		return 0, fmt.Errorf("insert subscriber: %w", err)
	}
	return res.RowsAffected()
}

func (r *SubscriberRepo) ConfirmByCode(ctx context.Context, fingerprint, code string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE newsletter_subscribers
		SET confirmed = TRUE
		WHERE email_fingerprint = $1 AND confirm_code = $2 AND confirmed = FALSE
	`, fingerprint, code)
	if err != nil {
		return 0, fmt.Errorf("confirm subscriber: %w", err)
	}
	return res.RowsAffected()
}

func (r *SubscriberRepo) ClearCiphertextByCode(ctx context.Context, fingerprint, code string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE newsletter_subscribers
		SET email_ciphertext = NULL
		WHERE email_fingerprint = $1 AND do_not_email_code = $2
	`, fingerprint, code)
	if err != nil {
		return 0, fmt.Errorf("clear subscriber ciphertext: %w", err)
	}
	return res.RowsAffected()
}

func (r *SubscriberRepo) CountConfirmed(ctx context.Context) (int, error) {
	return r.count(ctx,
		`SELECT COUNT(*) FROM newsletter_subscribers WHERE confirmed = TRUE AND email_ciphertext IS NOT NULL`)
}

func (r *SubscriberRepo) CountUnconfirmed(ctx context.Context) (int, error) {
	return r.count(ctx,
		`SELECT COUNT(*) FROM newsletter_subscribers WHERE confirmed = FALSE AND email_ciphertext IS NOT NULL`)
}

func (r *SubscriberRepo) CountOptedOut(ctx context.Context) (int, error) {
	return r.count(ctx,
		`SELECT COUNT(*) FROM newsletter_subscribers WHERE email_ciphertext IS NULL`)
}

func (r *SubscriberRepo) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count subscribers: %w", err)
	}
	return n, nil
}

// ListEligiblePage returns up to limit confirmed, not-opted-out subscribers
// with id greater than afterID, in id order. Keyset pagination keeps pages
// stable while a broadcast run mutates the table underneath it.
func (r *SubscriberRepo) ListEligiblePage(ctx context.Context, afterID string, limit int) ([]domain.Subscriber, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+subscriberColumns+`
		FROM newsletter_subscribers
		WHERE confirmed = TRUE AND email_ciphertext IS NOT NULL AND id > $1
		ORDER BY id ASC
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list eligible subscribers: %w", err)
	}
	defer rows.Close()

	var out []domain.Subscriber
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list eligible subscribers: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscriber(row rowScanner) (*domain.Subscriber, error) {
	var s domain.Subscriber
	var ciphertext sql.NullString
	if err := row.Scan(&s.ID, &s.EmailFingerprint, &ciphertext, &s.Confirmed,
		&s.ConfirmCode, &s.DoNotEmailCode, &s.CreateDate); err != nil {
		return nil, err
	}
	if ciphertext.Valid {
		s.EmailCiphertext = &ciphertext.String
	}
	return &s, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}
