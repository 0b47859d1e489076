package domain

import "time"

// BulkRecipient is one destination of a templated bulk send, with the
// per-recipient substitution values merged into the template by the gateway.
type BulkRecipient struct {
	Email         string            `json:"email"`
	Substitutions map[string]string `json:"substitutions"`
}

// BroadcastReport summarizes one broadcast run. Cursor is the id of the last
// subscriber in the last page that was fetched and processed; passing it back
// resumes a run without revisiting earlier pages.
type BroadcastReport struct {
	RunID             string    `json:"run_id"`
	TemplateID        string    `json:"template_id"`
	PagesSent         int       `json:"pages_sent"`
	PagesFailed       int       `json:"pages_failed"`
	RecipientsSent    int       `json:"recipients_sent"`
	RecipientsSkipped int       `json:"recipients_skipped"`
	Cursor            string    `json:"cursor,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}
