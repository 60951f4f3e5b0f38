// Package notify composes and sends transition notifications with an
// exactly-once guarantee per (ticket id, status) pair.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"golang.org/x/time/rate"

	"github.com/ticketbridge-io/ticketbridge/internal/state"
	"github.com/ticketbridge-io/ticketbridge/pkg/ticket"
)

// Sender delivers one text message to a chat destination. The destination is
// either a user id or a channel id.
type Sender interface {
	Send(ctx context.Context, destination, text string) error
}

// Outcome reports what a dispatch attempt did.
type Outcome struct {
	// Suppressed is true when a record for the transition already existed
	// and no messages were sent (idempotent replay).
	Suppressed bool
	Record     ticket.TransitionRecord
}

// MessageData is the substitution context for notification templates.
type MessageData struct {
	TicketID  string
	Title     string
	Requestor string // chat user id, render as <@{{.Requestor}}> to mention
	Status    string
	CreatedAt string
	DueDate   string
	URL       string
}

// Dispatcher sends the requestor-facing and team-facing messages for one
// transition, then writes the transition record. Deduplication lives at the
// record layer: a failed send leaves no record, so the event is retried on
// the next cycle; the conditional append closes the race between concurrent
// attempts.
type Dispatcher struct {
	store       state.Store
	sender      Sender
	teamChannel string
	userTmpl    *template.Template
	teamTmpl    *template.Template
	limiter     *rate.Limiter
	logger      *slog.Logger
	format      func(MessageData) MessageData
}

// Config holds dispatcher configuration.
type Config struct {
	// TeamChannel is the chat channel the team-facing copy goes to.
	TeamChannel string
	// UserTemplate and TeamTemplate are text/template bodies over MessageData.
	UserTemplate string
	TeamTemplate string
	// RatePerSecond bounds outbound sends; zero means 1/s.
	RatePerSecond float64
}

// New creates a Dispatcher. Template parse errors are configuration errors
// and fail startup.
func New(store state.Store, sender Sender, cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	userTmpl, err := template.New("user").Parse(cfg.UserTemplate)
	if err != nil {
		return nil, fmt.Errorf("notify: parse user template: %w", err)
	}
	teamTmpl, err := template.New("team").Parse(cfg.TeamTemplate)
	if err != nil {
		return nil, fmt.Errorf("notify: parse team template: %w", err)
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 1
	}
	return &Dispatcher{
		store:       store,
		sender:      sender,
		teamChannel: cfg.TeamChannel,
		userTmpl:    userTmpl,
		teamTmpl:    teamTmpl,
		limiter:     rate.NewLimiter(rate.Limit(rps), 2),
		logger:      logger,
	}, nil
}

// SetFormatter installs an optional hook that rewrites MessageData before
// rendering, used to localize timestamps for display.
func (d *Dispatcher) SetFormatter(f func(MessageData) MessageData) {
	d.format = f
}

// Dispatch sends both messages for a transition event and records it.
// Calling it again for the same transition is a no-op success.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *ticket.TransitionEvent) (Outcome, error) {
	exists, err := d.store.HasTransition(ctx, ev.TicketID, ev.ToStatus)
	if err != nil {
		return Outcome{}, err
	}
	if exists {
		d.logger.Info("duplicate transition suppressed", "ticket", ev.TicketID, "status", ev.ToStatus)
		return Outcome{Suppressed: true}, nil
	}

	data := MessageData{
		TicketID:  ev.TicketID,
		Title:     ev.Ticket.Title,
		Requestor: ev.Ticket.Requestor,
		Status:    ev.ToStatus,
		CreatedAt: ev.Ticket.CreatedAt,
		DueDate:   ev.Ticket.DueDate,
		URL:       ev.Ticket.PageURL,
	}
	if d.format != nil {
		data = d.format(data)
	}

	userMsg, err := render(d.userTmpl, data)
	if err != nil {
		return Outcome{}, err
	}
	teamMsg, err := render(d.teamTmpl, data)
	if err != nil {
		return Outcome{}, err
	}

	// Both sends must succeed before the record is written; a partial
	// failure leaves the event eligible for retry on the next cycle.
	if err := d.send(ctx, ev.Ticket.Requestor, userMsg); err != nil {
		return Outcome{}, fmt.Errorf("notify: requestor send: %w", err)
	}
	if err := d.send(ctx, d.teamChannel, teamMsg); err != nil {
		return Outcome{}, fmt.Errorf("notify: team send: %w", err)
	}

	rec := ticket.TransitionRecord{
		TicketID:    ev.TicketID,
		Status:      ev.ToStatus,
		PriorStatus: ev.FromStatus,
		NotifiedAt:  time.Now().UTC(),
	}
	if err := d.store.AppendTransition(ctx, rec); err != nil {
		if errors.Is(err, state.ErrTransitionExists) {
			// A concurrent attempt won the conditional append; the extra
			// sends are the at-least-once cost the record layer absorbs.
			d.logger.Info("duplicate transition suppressed", "ticket", ev.TicketID, "status", ev.ToStatus)
			return Outcome{Suppressed: true}, nil
		}
		return Outcome{}, err
	}

	d.logger.Info("transition notified",
		"ticket", ev.TicketID,
		"from", ev.FromStatus,
		"to", ev.ToStatus,
	)
	return Outcome{Record: rec}, nil
}

func (d *Dispatcher) send(ctx context.Context, destination, text string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return d.sender.Send(ctx, destination, text)
}

func render(tmpl *template.Template, data MessageData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("notify: render %s template: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
