// Package detect decides when an observed ticket has crossed into a
// completion status and a notification is owed.
package detect

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/ticketbridge-io/ticketbridge/internal/state"
	"github.com/ticketbridge-io/ticketbridge/pkg/ticket"
)

// lockStripes bounds the keyed-lock pool. A ticket id always hashes to the
// same stripe, so one ticket's cursor read-then-write stays serialized without
// the pool growing with the board.
const lockStripes = 64

// Detector compares each observed ticket's status against its persisted
// cursor. Work on distinct tickets runs in parallel; the read-then-write of
// one ticket's cursor is serialized through a striped lock so overlapping
// cycles cannot lose an update.
type Detector struct {
	store  state.Store
	labels map[string]struct{}
	logger *slog.Logger

	locks [lockStripes]sync.Mutex
}

// New creates a Detector. labels is the configured set of completion
// statuses; matching is case- and whitespace-insensitive.
func New(store state.Store, labels []string, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[ticket.NormalizeStatus(l)] = struct{}{}
	}
	return &Detector{
		store:  store,
		labels: set,
		logger: logger,
	}
}

// Completed reports whether a status is a configured completion label.
func (d *Detector) Completed(status string) bool {
	_, ok := d.labels[ticket.NormalizeStatus(status)]
	return ok
}

// Observe records a ticket observation and returns a transition event when
// the ticket is in a completion status that has not yet been notified.
//
// A ticket with no cursor is treated as arriving from the synthetic
// "unknown" status, so the first observation of a pre-existing ticket fires
// only if its current status is itself a completion label with no transition
// record. A completion status whose record is missing (a prior dispatch
// failed mid-way) is re-emitted so the next cycle retries the send.
func (d *Detector) Observe(ctx context.Context, tk *ticket.Ticket) (*ticket.TransitionEvent, error) {
	if tk.ID == "" {
		return nil, fmt.Errorf("detect: ticket has no id")
	}

	lock := d.lockFor(tk.ID)
	lock.Lock()
	defer lock.Unlock()

	prior := ticket.StatusUnknown
	cur, ok, err := d.store.Cursor(ctx, tk.ID)
	if err != nil {
		return nil, err
	}
	if ok {
		prior = cur.Status
	}

	changed := ticket.NormalizeStatus(prior) != ticket.NormalizeStatus(tk.Status)
	if changed {
		err := d.store.SetCursor(ctx, ticket.StatusCursor{
			TicketID:   tk.ID,
			Status:     tk.Status,
			ObservedAt: time.Now().UTC(),
		})
		if err != nil {
			return nil, err
		}
		d.logger.Debug("status moved", "ticket", tk.ID, "from", prior, "to", tk.Status)
	}

	if !d.Completed(tk.Status) {
		return nil, nil
	}

	notified, err := d.store.HasTransition(ctx, tk.ID, tk.Status)
	if err != nil {
		return nil, err
	}
	if notified {
		return nil, nil
	}

	return &ticket.TransitionEvent{
		TicketID:   tk.ID,
		FromStatus: prior,
		ToStatus:   tk.Status,
		Ticket:     tk,
	}, nil
}

func (d *Detector) lockFor(ticketID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(ticketID))
	return &d.locks[h.Sum32()%lockStripes]
}
