// Package directory implements the subscriber state machine: double opt-in
// subscription, confirmation, and the irreversible do-not-email transition.
//
// Addresses are handled exclusively through their fingerprint (lookups) and
// ciphertext (delivery) representations; the service never persists or logs a
// plaintext address. All read-then-act writes are single conditional
// statements so concurrent requests for the same address cannot race.
//
// The service layer contains pure business logic and depends on the
// Repository interface defined in repository.go. It never imports net/http
// or database/sql directly.
package directory
