package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openlyops/newsletter-service/internal/apperr"
	"github.com/openlyops/newsletter-service/internal/domain"
	"github.com/openlyops/newsletter-service/internal/secure"
)

// mockRepo is an in-memory repository mirroring the conditional-update
// semantics of the Postgres implementation.
type mockRepo struct {
	mu      sync.RWMutex
	rows    map[string]*domain.Subscriber // keyed by fingerprint
	failAll error                         // when set, every call fails
}

func newMockRepo() *mockRepo {
	return &mockRepo{rows: make(map[string]*domain.Subscriber)}
}

func (m *mockRepo) GetByFingerprint(_ context.Context, fp string) (*domain.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	s, ok := m.rows[fp]
	if !ok {
		return nil, ErrNoSubscriber
	}
	cp := *s
	return &cp, nil
}

func (m *mockRepo) Insert(_ context.Context, s *domain.Subscriber) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return 0, m.failAll
	}
	if _, exists := m.rows[s.EmailFingerprint]; exists {
		return 0, nil
	}
	cp := *s
	m.rows[s.EmailFingerprint] = &cp
	return 1, nil
}

func (m *mockRepo) ConfirmByCode(_ context.Context, fp, code string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return 0, m.failAll
	}
	s, ok := m.rows[fp]
	if !ok || s.Confirmed || s.ConfirmCode != code {
		return 0, nil
	}
	s.Confirmed = true
	return 1, nil
}

func (m *mockRepo) ClearCiphertextByCode(_ context.Context, fp, code string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return 0, m.failAll
	}
	s, ok := m.rows[fp]
	if !ok || s.DoNotEmailCode != code {
		return 0, nil
	}
	s.EmailCiphertext = nil
	return 1, nil
}

func (m *mockRepo) CountConfirmed(_ context.Context) (int, error) {
	return m.count(func(s *domain.Subscriber) bool { return s.BroadcastEligible() })
}

func (m *mockRepo) CountUnconfirmed(_ context.Context) (int, error) {
	return m.count(func(s *domain.Subscriber) bool { return !s.Confirmed && s.EmailCiphertext != nil })
}

func (m *mockRepo) CountOptedOut(_ context.Context) (int, error) {
	return m.count(func(s *domain.Subscriber) bool { return s.OptedOut() })
}

func (m *mockRepo) count(pred func(*domain.Subscriber) bool) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failAll != nil {
		return 0, m.failAll
	}
	n := 0
	for _, s := range m.rows {
		if pred(s) {
			n++
		}
	}
	return n, nil
}

// mockMailer records confirmation sends.
type mockMailer struct {
	mu    sync.Mutex
	sends []string // addresses
	fail  error
}

func (m *mockMailer) SendConfirmation(_ context.Context, address, confirmCode, doNotEmailCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sends = append(m.sends, address)
	return nil
}

const (
	testSalt = "directory-test-salt"
	testKey  = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
)

func newTestService(t *testing.T) (*Service, *mockRepo, *mockMailer, *secure.Codec) {
	t.Helper()
	codec, err := secure.NewCodec(testSalt, testKey)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	repo := newMockRepo()
	mail := &mockMailer{}
	return NewService(repo, codec, mail), repo, mail, codec
}

func TestCreate_NewSubscriber(t *testing.T) {
	svc, repo, mail, codec := newTestService(t)
	ctx := context.Background()

	if err := svc.Create(ctx, "x@y.com"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if len(repo.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(repo.rows))
	}
	sub := repo.rows[codec.Fingerprint("x@y.com")]
	if sub == nil {
		t.Fatal("subscriber not stored under address fingerprint")
	}
	if sub.Confirmed {
		t.Error("new subscriber must start unconfirmed")
	}
	if sub.EmailCiphertext == nil {
		t.Fatal("new subscriber must carry ciphertext")
	}
	if addr, err := codec.Decrypt(*sub.EmailCiphertext); err != nil || addr != "x@y.com" {
		t.Errorf("ciphertext decrypts to %q (%v), want x@y.com", addr, err)
	}
	if len(sub.ID) != 64 {
		t.Errorf("id length = %d, want 64", len(sub.ID))
	}
	if sub.ConfirmCode == "" || sub.DoNotEmailCode == "" || sub.ConfirmCode == sub.DoNotEmailCode {
		t.Error("confirm and opt-out codes must be distinct non-empty tokens")
	}
	if sub.CreateDate.IsZero() {
		t.Error("new subscriber must carry a creation timestamp")
	}
	if since := time.Since(sub.CreateDate); since < 0 || since > time.Minute {
		t.Errorf("create date %v is not recent", sub.CreateDate)
	}
	if len(mail.sends) != 1 {
		t.Errorf("confirmation sends = %d, want 1", len(mail.sends))
	}
}

func TestCreate_NormalizesAddress(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.Create(ctx, "  X@Y.com "); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Create(ctx, "x@y.com"); !errors.Is(err, ErrConfirmationPending) {
		t.Errorf("Create(equivalent address) = %v, want ErrConfirmationPending", err)
	}
	if len(repo.rows) != 1 {
		t.Errorf("rows = %d, want 1", len(repo.rows))
	}
}

func TestCreate_RepeatBeforeConfirmation(t *testing.T) {
	svc, repo, mail, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.Create(ctx, "x@y.com"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := svc.Create(ctx, "x@y.com")
	if !errors.Is(err, ErrConfirmationPending) {
		t.Fatalf("repeat Create = %v, want ErrConfirmationPending", err)
	}
	if len(repo.rows) != 1 {
		t.Errorf("rows = %d, want 1 (no duplicate row)", len(repo.rows))
	}
	if len(mail.sends) != 2 {
		t.Errorf("confirmation sends = %d, want 2 (resend)", len(mail.sends))
	}
}

func TestCreate_AfterConfirmation(t *testing.T) {
	svc, repo, _, codec := newTestService(t)
	ctx := context.Background()

	if err := svc.Create(ctx, "x@y.com"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	code := repo.rows[codec.Fingerprint("x@y.com")].ConfirmCode
	if err := svc.Confirm(ctx, "x@y.com", code); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	if err := svc.Create(ctx, "x@y.com"); !errors.Is(err, ErrAlreadySubscribed) {
		t.Errorf("Create(confirmed) = %v, want ErrAlreadySubscribed", err)
	}
}

func TestCreate_AfterOptOutStaysBlocked(t *testing.T) {
	svc, repo, _, codec := newTestService(t)
	ctx := context.Background()

	if err := svc.Create(ctx, "x@y.com"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	row := repo.rows[codec.Fingerprint("x@y.com")]
	if err := svc.Confirm(ctx, "x@y.com", row.ConfirmCode); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if err := svc.SetDoNotEmail(ctx, "x@y.com", row.DoNotEmailCode, "test"); err != nil {
		t.Fatalf("SetDoNotEmail: %v", err)
	}

	// Confirmed stays sticky through opt-out, so resubscription conflicts.
	if err := svc.Create(ctx, "x@y.com"); !errors.Is(err, ErrAlreadySubscribed) {
		t.Errorf("Create(opted-out) = %v, want ErrAlreadySubscribed", err)
	}
}

func TestCreate_InvalidAddress(t *testing.T) {
	svc, _, mail, _ := newTestService(t)
	ctx := context.Background()

	for _, addr := range []string{"", "no-at-sign", "@y.com", "x@", "a@b@c"} {
		err := svc.Create(ctx, addr)
		if !apperr.IsKind(err, apperr.KindValidation) {
			t.Errorf("Create(%q) = %v, want validation error", addr, err)
		}
	}
	if len(mail.sends) != 0 {
		t.Error("invalid addresses must not trigger sends")
	}
}

func TestConfirm_UnknownEmail(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	err := svc.Confirm(context.Background(), "ghost@y.com", "whatever")
	if !errors.Is(err, ErrNoSuchCodeAndEmail) {
		t.Errorf("Confirm(unknown) = %v, want ErrNoSuchCodeAndEmail", err)
	}
}

func TestConfirm_WrongCode(t *testing.T) {
	svc, repo, _, codec := newTestService(t)
	ctx := context.Background()

	if err := svc.Create(ctx, "x@y.com"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := svc.Confirm(ctx, "x@y.com", "wrong-code")
	if !errors.Is(err, ErrNoSuchCodeAndEmail) {
		t.Fatalf("Confirm(wrong code) = %v, want ErrNoSuchCodeAndEmail", err)
	}
	if repo.rows[codec.Fingerprint("x@y.com")].Confirmed {
		t.Error("wrong code must not confirm")
	}
}

func TestConfirm_RightCodeThenIdempotent(t *testing.T) {
	svc, repo, _, codec := newTestService(t)
	ctx := context.Background()

	if err := svc.Create(ctx, "x@y.com"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	code := repo.rows[codec.Fingerprint("x@y.com")].ConfirmCode

	if err := svc.Confirm(ctx, "x@y.com", code); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !repo.rows[codec.Fingerprint("x@y.com")].Confirmed {
		t.Fatal("subscriber should be confirmed")
	}

	// Second confirmation with the same code is a no-op success.
	if err := svc.Confirm(ctx, "x@y.com", code); err != nil {
		t.Errorf("repeat Confirm = %v, want nil", err)
	}
	// Even a wrong code succeeds once confirmed: the lookup short-circuits
	// before any code comparison, leaking nothing.
	if err := svc.Confirm(ctx, "x@y.com", "wrong"); err != nil {
		t.Errorf("Confirm(confirmed, wrong code) = %v, want nil", err)
	}
}

func TestSetDoNotEmail_ValidCode(t *testing.T) {
	svc, repo, _, codec := newTestService(t)
	ctx := context.Background()

	if err := svc.Create(ctx, "x@y.com"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	row := repo.rows[codec.Fingerprint("x@y.com")]
	if err := svc.Confirm(ctx, "x@y.com", row.ConfirmCode); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	before, _ := svc.Stats(ctx)

	if err := svc.SetDoNotEmail(ctx, "x@y.com", row.DoNotEmailCode, "too frequent"); err != nil {
		t.Fatalf("SetDoNotEmail: %v", err)
	}
	if repo.rows[codec.Fingerprint("x@y.com")].EmailCiphertext != nil {
		t.Error("ciphertext must be nulled on opt-out")
	}

	after, _ := svc.Stats(ctx)
	if after.OptedOut != before.OptedOut+1 {
		t.Errorf("OptedOut = %d, want %d", after.OptedOut, before.OptedOut+1)
	}
	if after.Confirmed != before.Confirmed-1 {
		t.Errorf("Confirmed = %d, want %d", after.Confirmed, before.Confirmed-1)
	}
}

func TestSetDoNotEmail_Idempotent(t *testing.T) {
	svc, repo, _, codec := newTestService(t)
	ctx := context.Background()

	if err := svc.Create(ctx, "x@y.com"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	code := repo.rows[codec.Fingerprint("x@y.com")].DoNotEmailCode

	if err := svc.SetDoNotEmail(ctx, "x@y.com", code, "first"); err != nil {
		t.Fatalf("SetDoNotEmail: %v", err)
	}
	// Repeating with the still-valid capability is harmless.
	if err := svc.SetDoNotEmail(ctx, "x@y.com", code, "second"); err != nil {
		t.Errorf("repeat SetDoNotEmail = %v, want nil", err)
	}
}

func TestSetDoNotEmail_InvalidCode(t *testing.T) {
	svc, repo, _, codec := newTestService(t)
	ctx := context.Background()

	if err := svc.Create(ctx, "x@y.com"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	err := svc.SetDoNotEmail(ctx, "x@y.com", "wrong-code", "none")
	if !errors.Is(err, ErrOptOutRefused) {
		t.Fatalf("SetDoNotEmail(wrong code) = %v, want ErrOptOutRefused", err)
	}
	// Unknown address yields the identical error: the capability check must
	// not reveal whether the email exists.
	err2 := svc.SetDoNotEmail(ctx, "ghost@y.com", "wrong-code", "none")
	if !errors.Is(err2, ErrOptOutRefused) {
		t.Fatalf("SetDoNotEmail(unknown email) = %v, want ErrOptOutRefused", err2)
	}
	if repo.rows[codec.Fingerprint("x@y.com")].EmailCiphertext == nil {
		t.Error("ciphertext must survive a refused opt-out")
	}
}

func TestCreate_ConcurrentInsertRace(t *testing.T) {
	svc, repo, mail, codec := newTestService(t)
	ctx := context.Background()

	// Pre-seed the row after the lookup would have missed: simulate by
	// inserting directly so the service's Insert hits the unique conflict.
	sub := &domain.Subscriber{ID: "other", EmailFingerprint: codec.Fingerprint("x@y.com")}
	ct, _ := codec.Encrypt("x@y.com")
	sub.EmailCiphertext = &ct
	repo.rows[sub.EmailFingerprint] = sub

	// GetByFingerprint now finds it, so the pending path fires; verify the
	// conflict path directly through Insert semantics too.
	if n, _ := repo.Insert(ctx, sub); n != 0 {
		t.Fatal("duplicate insert should affect 0 rows")
	}
	if err := svc.Create(ctx, "x@y.com"); !errors.Is(err, ErrConfirmationPending) {
		t.Errorf("Create = %v, want ErrConfirmationPending", err)
	}
	_ = mail
}

func TestDirectory_StoreFailurePropagates(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	repo.failAll = errors.New("connection refused")

	err := svc.Create(context.Background(), "x@y.com")
	if !apperr.IsKind(err, apperr.KindInfrastructure) {
		t.Errorf("Create under store failure = %v, want infrastructure kind", err)
	}
	if _, err := svc.Stats(context.Background()); !apperr.IsKind(err, apperr.KindInfrastructure) {
		t.Errorf("Stats under store failure = %v, want infrastructure kind", err)
	}
}
