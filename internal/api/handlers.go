package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/openlyops/newsletter-service/internal/domain"
	"github.com/openlyops/newsletter-service/internal/pkg/httputil"
	"github.com/openlyops/newsletter-service/internal/service/directory"
)

// Directory is the subscriber lifecycle surface the handlers depend on.
type Directory interface {
	Create(ctx context.Context, address string) error
	Confirm(ctx context.Context, address, code string) error
	SetDoNotEmail(ctx context.Context, address, code, reason string) error
	Stats(ctx context.Context) (*domain.SubscriberStats, error)
}

// Broadcaster starts a templated bulk send over eligible subscribers.
type Broadcaster interface {
	BroadcastFrom(ctx context.Context, templateID, cursor string) (*domain.BroadcastReport, error)
}

// Handlers holds the HTTP handlers for the newsletter API.
type Handlers struct {
	directory Directory
	broadcast Broadcaster
}

// NewHandlers creates the handler set.
func NewHandlers(dir Directory, bc Broadcaster) *Handlers {
	return &Handlers{directory: dir, broadcast: bc}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

type subscribeRequest struct {
	Email string `json:"email"`
}

// Subscribe registers an address and triggers the confirmation email.
// A pending double opt-in is reported as 400 with an actionable message
// rather than a conflict: the caller can complete it from their inbox.
func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	err := h.directory.Create(r.Context(), req.Email)
	if errors.Is(err, directory.ErrConfirmationPending) {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"message": "confirmation email sent"})
}

type codeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// Confirm completes the double opt-in. It accepts both the GET link from the
// confirmation email (query parameters) and a POST body.
func (h *Handlers) Confirm(w http.ResponseWriter, r *http.Request) {
	email, code, _, ok := credentialsFrom(w, r)
	if !ok {
		return
	}
	if err := h.directory.Confirm(r.Context(), email, code); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"message": "subscription confirmed"})
}

// DoNotEmail exercises the opt-out capability embedded in every sent email.
func (h *Handlers) DoNotEmail(w http.ResponseWriter, r *http.Request) {
	email, code, reason, ok := credentialsFrom(w, r)
	if !ok {
		return
	}
	if err := h.directory.SetDoNotEmail(r.Context(), email, code, reason); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"message": "you will not receive further emails"})
}

// Stats returns the aggregate subscriber counts.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.directory.Stats(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.OK(w, stats)
}

type broadcastRequest struct {
	TemplateID string `json:"template_id"`
	Cursor     string `json:"cursor,omitempty"`
}

// Broadcast starts a bulk send of the given template. A partial report is
// returned alongside the error status when a run aborts mid-way so the
// operator can resume from the reported cursor.
func (h *Handlers) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	report, err := h.broadcast.BroadcastFrom(r.Context(), req.TemplateID, req.Cursor)
	if err != nil {
		if report != nil {
			httputil.JSON(w, http.StatusBadGateway, map[string]any{
				"error":  "broadcast aborted",
				"report": report,
			})
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.OK(w, report)
}

// credentialsFrom reads email/code/reason from query parameters (GET links in
// emails) or a JSON body (POST). Missing fields are a 400.
func credentialsFrom(w http.ResponseWriter, r *http.Request) (email, code, reason string, ok bool) {
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		email, code, reason = q.Get("email"), q.Get("code"), q.Get("reason")
	} else {
		var req struct {
			Email  string `json:"email"`
			Code   string `json:"code"`
			Reason string `json:"reason"`
		}
		if !httputil.Decode(w, r, &req) {
			return "", "", "", false
		}
		email, code, reason = req.Email, req.Code, req.Reason
	}
	if email == "" || code == "" {
		httputil.BadRequest(w, "email and code are required")
		return "", "", "", false
	}
	return email, code, reason, true
}
