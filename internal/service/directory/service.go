package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openlyops/newsletter-service/internal/apperr"
	"github.com/openlyops/newsletter-service/internal/domain"
	"github.com/openlyops/newsletter-service/internal/pkg/logger"
	"github.com/openlyops/newsletter-service/internal/secure"
)

// Sentinel service errors. ErrConfirmationPending is an action-required
// condition, not a hard failure: the address is known but the subscriber must
// click the link in their inbox.
var (
	ErrConfirmationPending = apperr.New(apperr.KindConflict,
		"last step: click the confirmation link in your email; check the spam folder if you don't see it")
	ErrAlreadySubscribed = apperr.New(apperr.KindConflict,
		"that email is already subscribed")
	ErrNoSuchCodeAndEmail = apperr.New(apperr.KindNotFound,
		"no such confirmation code and email combination")
	ErrOptOutRefused = apperr.New(apperr.KindForbidden,
		"incorrect code and/or email for newsletter opt-out")
)

// ConfirmationSender delivers the double opt-in request. Implemented by the
// mailer service.
type ConfirmationSender interface {
	SendConfirmation(ctx context.Context, address, confirmCode, doNotEmailCode string) error
}

// Token sizes in bytes of entropy. Subscriber ids are wider than codes since
// they double as the broadcast pagination key.
const (
	idTokenBytes   = 32
	codeTokenBytes = 16
)

// Service implements the subscriber state machine over a Repository.
// Safe for concurrent use.
type Service struct {
	repo  Repository
	codec *secure.Codec
	mail  ConfirmationSender
}

// NewService wires the directory from its collaborators.
func NewService(repo Repository, codec *secure.Codec, mail ConfirmationSender) *Service {
	return &Service{repo: repo, codec: codec, mail: mail}
}

// Create subscribes a new address, or resends the confirmation for a known
// unconfirmed one. An already-confirmed address fails with
// ErrAlreadySubscribed — including previously opted-out subscribers, whose
// confirmed flag is never reset (resubscription stays blocked).
func (s *Service) Create(ctx context.Context, address string) error {
	address = secure.NormalizeEmail(address)
	if err := validateAddress(address); err != nil {
		return err
	}
	fingerprint := s.codec.Fingerprint(address)

	existing, err := s.repo.GetByFingerprint(ctx, fingerprint)
	switch {
	case err == nil:
		if existing.Confirmed {
			return ErrAlreadySubscribed
		}
		// Known but unconfirmed: resend and tell the caller to check inbox.
		if err := s.mail.SendConfirmation(ctx, address, existing.ConfirmCode, existing.DoNotEmailCode); err != nil {
			return apperr.Wrap(apperr.KindInfrastructure, "resending confirmation", err)
		}
		return ErrConfirmationPending
	case errors.Is(err, ErrNoSubscriber):
		// New address, fall through to insert.
	default:
		return apperr.Wrap(apperr.KindInfrastructure, "looking up subscriber", err)
	}

	sub, err := s.newSubscriber(address, fingerprint)
	if err != nil {
		return err
	}

	inserted, err := s.repo.Insert(ctx, sub)
	if err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, "adding subscriber", err)
	}
	if inserted == 0 {
		// Lost a race with a concurrent create for the same address. That
		// request already owns the confirmation flow.
		return ErrConfirmationPending
	}

	logger.Info("newsletter subscriber created", "id", sub.ID)
	if err := s.mail.SendConfirmation(ctx, address, sub.ConfirmCode, sub.DoNotEmailCode); err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, "sending confirmation", err)
	}
	return nil
}

func (s *Service) newSubscriber(address, fingerprint string) (*domain.Subscriber, error) {
	id, err := secure.RandomToken(idTokenBytes)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, "generating id", err)
	}
	confirmCode, err := secure.RandomToken(codeTokenBytes)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, "generating confirm code", err)
	}
	doNotEmailCode, err := secure.RandomToken(codeTokenBytes)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, "generating opt-out code", err)
	}
	ciphertext, err := s.codec.Encrypt(address)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, "encrypting address", err)
	}
	return &domain.Subscriber{
		ID:               id,
		EmailFingerprint: fingerprint,
		EmailCiphertext:  &ciphertext,
		ConfirmCode:      confirmCode,
		DoNotEmailCode:   doNotEmailCode,
		CreateDate:       time.Now().UTC(),
	}, nil
}

// Confirm completes the double opt-in. A repeat confirmation for an already
// confirmed subscriber succeeds idempotently. Unknown addresses and wrong
// codes share one error so callers cannot probe which part was wrong.
func (s *Service) Confirm(ctx context.Context, address, code string) error {
	address = secure.NormalizeEmail(address)
	if err := validateAddress(address); err != nil {
		return err
	}
	if code == "" {
		return apperr.New(apperr.KindValidation, "confirmation code is required")
	}
	fingerprint := s.codec.Fingerprint(address)

	existing, err := s.repo.GetByFingerprint(ctx, fingerprint)
	if errors.Is(err, ErrNoSubscriber) {
		return ErrNoSuchCodeAndEmail
	}
	if err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, "looking up subscriber", err)
	}
	if existing.Confirmed {
		return nil
	}

	affected, err := s.repo.ConfirmByCode(ctx, fingerprint, code)
	if err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, "accepting confirmation code", err)
	}
	if affected == 0 {
		return ErrNoSuchCodeAndEmail
	}

	logger.Info("newsletter subscription confirmed", "fingerprint", fingerprint[:8])
	return nil
}

// SetDoNotEmail nulls the ciphertext for the subscriber whose fingerprint and
// do-not-email code match, permanently removing the deliverable address. The
// code is a bearer capability: a mismatch fails Forbidden without revealing
// whether the address exists. Repeating with a valid code is harmless — the
// conditional update still matches the row, so the call stays idempotent.
func (s *Service) SetDoNotEmail(ctx context.Context, address, code, reason string) error {
	address = secure.NormalizeEmail(address)
	if err := validateAddress(address); err != nil {
		return err
	}
	if code == "" {
		return apperr.New(apperr.KindValidation, "opt-out code is required")
	}
	fingerprint := s.codec.Fingerprint(address)

	affected, err := s.repo.ClearCiphertextByCode(ctx, fingerprint, code)
	if err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, "setting do-not-email", err)
	}
	if affected == 0 {
		return ErrOptOutRefused
	}

	logger.Audit("newsletter subscriber opted out", "fingerprint", fingerprint[:8], "reason", reason)
	return nil
}

// Stats returns the aggregate counts for operational dashboards.
func (s *Service) Stats(ctx context.Context) (*domain.SubscriberStats, error) {
	confirmed, err := s.repo.CountConfirmed(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, "counting confirmed subscribers", err)
	}
	unconfirmed, err := s.repo.CountUnconfirmed(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, "counting unconfirmed subscribers", err)
	}
	optedOut, err := s.repo.CountOptedOut(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, "counting opted-out subscribers", err)
	}
	return &domain.SubscriberStats{
		Confirmed:   confirmed,
		Unconfirmed: unconfirmed,
		OptedOut:    optedOut,
	}, nil
}

func validateAddress(address string) error {
	if address == "" {
		return apperr.New(apperr.KindValidation, "email address is required")
	}
	at := strings.Index(address, "@")
	if at <= 0 || at == len(address)-1 || strings.Count(address, "@") != 1 {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("invalid email address: %s", logger.RedactEmail(address)))
	}
	return nil
}
