package domain

import "time"

// Subscriber is a single mailing-list record. The email address is never
// persisted in plaintext: it exists only as an irreversible keyed fingerprint
// used for lookups and as a reversible AES-GCM ciphertext used at send time.
// A nil ciphertext is the sole opt-out marker and the transition to nil is
// irreversible for this record.
type Subscriber struct {
	ID               string    `json:"id" db:"id"`
	EmailFingerprint string    `json:"-" db:"email_fingerprint"`
	EmailCiphertext  *string   `json:"-" db:"email_ciphertext"`
	Confirmed        bool      `json:"confirmed" db:"confirmed"`
	ConfirmCode      string    `json:"-" db:"confirm_code"`
	DoNotEmailCode   string    `json:"-" db:"do_not_email_code"`
	CreateDate       time.Time `json:"create_date" db:"create_date"`
}

// OptedOut reports whether the subscriber has exercised the do-not-email
// capability. Once true the plaintext address is unrecoverable from this row.
func (s *Subscriber) OptedOut() bool { return s.EmailCiphertext == nil }

// BroadcastEligible reports whether the subscriber should receive broadcasts:
// double opt-in completed and not opted out.
func (s *Subscriber) BroadcastEligible() bool {
	return s.Confirmed && s.EmailCiphertext != nil
}

// SubscriberStats holds the aggregate counts shown on operational dashboards.
type SubscriberStats struct {
	Confirmed   int `json:"confirmed"`
	Unconfirmed int `json:"unconfirmed"`
	OptedOut    int `json:"opted_out"`
}
