// Package intake turns completed form submissions into external records and
// posts the submission confirmations.
package intake

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"github.com/ticketbridge-io/ticketbridge/internal/connector"
	"github.com/ticketbridge-io/ticketbridge/internal/mapping"
	"github.com/ticketbridge-io/ticketbridge/internal/notify"
	"github.com/ticketbridge-io/ticketbridge/internal/translate"
	"github.com/ticketbridge-io/ticketbridge/pkg/ticket"
)

// defaultRetryDelay is the pause before the single create retry.
const defaultRetryDelay = 3 * time.Second

// RecordCreator creates one record in the external store.
type RecordCreator interface {
	CreatePage(ctx context.Context, properties map[string]any) error
}

// ProfileLookup resolves a platform user id to a display name and email.
type ProfileLookup interface {
	UserProfile(ctx context.Context, userID string) (name, email string, err error)
}

// Messages are the post-submission confirmation templates, rendered over
// MessageData. An empty template suppresses that message.
type Messages struct {
	SuccessUser string
	SuccessTeam string
	FailUser    string
	FailTeam    string
}

// MessageData is the substitution context for confirmation templates.
type MessageData struct {
	Requestor     string // chat user id, render as <@{{.Requestor}}> to mention
	RequestorName string
	Title         string
	DueDate       string
}

// Config holds intake handler configuration.
type Config struct {
	TeamChannel string
	Messages    Messages
}

// Handler processes one submission end to end: translate, enrich, create the
// record (with a single retry), confirm.
type Handler struct {
	translator  *translate.Translator
	creator     RecordCreator
	profiles    ProfileLookup
	sender      notify.Sender
	teamChannel string
	tmpls       map[string]*template.Template
	retryDelay  time.Duration
	logger      *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithRetryDelay overrides the pause before the create retry.
func WithRetryDelay(d time.Duration) Option {
	return func(h *Handler) { h.retryDelay = d }
}

// New creates a Handler. Template parse errors are configuration errors and
// fail startup.
func New(tr *translate.Translator, creator RecordCreator, profiles ProfileLookup, sender notify.Sender, cfg Config, logger *slog.Logger, opts ...Option) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tmpls := make(map[string]*template.Template)
	for name, body := range map[string]string{
		"success_user": cfg.Messages.SuccessUser,
		"success_team": cfg.Messages.SuccessTeam,
		"fail_user":    cfg.Messages.FailUser,
		"fail_team":    cfg.Messages.FailTeam,
	} {
		if body == "" {
			continue
		}
		tmpl, err := template.New(name).Parse(body)
		if err != nil {
			return nil, fmt.Errorf("intake: parse %s template: %w", name, err)
		}
		tmpls[name] = tmpl
	}

	h := &Handler{
		translator:  tr,
		creator:     creator,
		profiles:    profiles,
		sender:      sender,
		teamChannel: cfg.TeamChannel,
		tmpls:       tmpls,
		retryDelay:  defaultRetryDelay,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle implements connector.SubmissionHandler.
func (h *Handler) Handle(ctx context.Context, sub connector.Submission) error {
	tk, err := h.translator.FromExternal(mapping.SchemaForm, sub.Payload)
	if err != nil {
		h.confirm(ctx, sub.UserID, MessageData{Requestor: sub.UserID}, false)
		return fmt.Errorf("intake: translate submission: %w", err)
	}

	if tk.Requestor == "" {
		tk.Set(ticket.FieldRequestor, sub.UserID)
	}
	h.enrich(ctx, tk)

	data := MessageData{
		Requestor:     tk.Requestor,
		RequestorName: tk.RequestorName,
		Title:         tk.Title,
		DueDate:       tk.DueDate,
	}

	properties, err := h.recordProperties(tk)
	if err != nil {
		h.confirm(ctx, tk.Requestor, data, false)
		return err
	}

	if err := h.create(ctx, properties); err != nil {
		h.confirm(ctx, tk.Requestor, data, false)
		return fmt.Errorf("intake: create record: %w", err)
	}

	h.logger.Info("submission recorded", "requestor", tk.Requestor, "title", tk.Title)
	h.confirm(ctx, tk.Requestor, data, true)
	return nil
}

// enrich fills the requestor's name and email from the platform profile.
// Lookup failures are tolerated; the record just carries less detail.
func (h *Handler) enrich(ctx context.Context, tk *ticket.Ticket) {
	if h.profiles == nil || tk.Requestor == "" {
		return
	}
	name, email, err := h.profiles.UserProfile(ctx, tk.Requestor)
	if err != nil {
		h.logger.Warn("profile lookup failed", "requestor", tk.Requestor, "error", err)
		return
	}
	if tk.RequestorName == "" && name != "" {
		tk.Set(ticket.FieldRequestorName, name)
	}
	if tk.RequestorEmail == "" && email != "" {
		tk.Set(ticket.FieldRequestorEmail, email)
	}
}

// recordProperties rebuilds the nested record payload and lifts out its
// properties object, the part the create call owns.
func (h *Handler) recordProperties(tk *ticket.Ticket) (map[string]any, error) {
	out, err := h.translator.ToExternal(mapping.SchemaRecords, tk)
	if err != nil {
		return nil, fmt.Errorf("intake: build record: %w", err)
	}
	obj, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("intake: record payload is %T, expected object", out)
	}
	properties, ok := obj["properties"].(map[string]any)
	if !ok || len(properties) == 0 {
		return nil, fmt.Errorf("intake: submission mapped no record properties")
	}
	return properties, nil
}

// create attempts the external create, retrying once after retryDelay.
func (h *Handler) create(ctx context.Context, properties map[string]any) error {
	err := h.creator.CreatePage(ctx, properties)
	if err == nil {
		return nil
	}
	h.logger.Warn("record create failed, retrying once", "error", err)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(h.retryDelay):
	}
	return h.creator.CreatePage(ctx, properties)
}

// confirm posts the user-facing and team-facing confirmations. Sends are
// best effort; a lost confirmation does not fail the submission.
func (h *Handler) confirm(ctx context.Context, userID string, data MessageData, success bool) {
	userName, teamName := "fail_user", "fail_team"
	if success {
		userName, teamName = "success_user", "success_team"
	}
	h.post(ctx, userName, userID, data)
	h.post(ctx, teamName, h.teamChannel, data)
}

func (h *Handler) post(ctx context.Context, tmplName, destination string, data MessageData) {
	tmpl, ok := h.tmpls[tmplName]
	if !ok || destination == "" {
		return
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		h.logger.Error("render confirmation", "template", tmplName, "error", err)
		return
	}
	if err := h.sender.Send(ctx, destination, buf.String()); err != nil {
		h.logger.Error("send confirmation", "template", tmplName, "destination", destination, "error", err)
	}
}
