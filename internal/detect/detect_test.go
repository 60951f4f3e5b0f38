package detect

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ticketbridge-io/ticketbridge/internal/state"
	"github.com/ticketbridge-io/ticketbridge/pkg/ticket"
)

func newTestDetector(t *testing.T) (*Detector, state.Store) {
	t.Helper()
	s, err := state.NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, []string{"Work Completed", "Launched"}, nil), s
}

func observed(id, status string) *ticket.Ticket {
	tk := &ticket.Ticket{}
	tk.Set(ticket.FieldTicketID, id)
	tk.Set(ticket.FieldStatus, status)
	return tk
}

func TestFirstObservationNotCompleted(t *testing.T) {
	d, _ := newTestDetector(t)

	ev, err := d.Observe(context.Background(), observed("rec-1", "Unassigned"))
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if ev != nil {
		t.Errorf("first observation of non-completion status must not fire, got %+v", ev)
	}
}

func TestTransitionIntoCompletion(t *testing.T) {
	d, s := newTestDetector(t)
	ctx := context.Background()

	s.SetCursor(ctx, ticket.StatusCursor{TicketID: "rec-2", Status: "In Progress", ObservedAt: time.Now()})

	ev, err := d.Observe(ctx, observed("rec-2", "Launched"))
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if ev == nil {
		t.Fatal("expected a transition event")
	}
	if ev.FromStatus != "In Progress" || ev.ToStatus != "Launched" {
		t.Errorf("unexpected event: %+v", ev)
	}

	cur, ok, _ := s.Cursor(ctx, "rec-2")
	if !ok || cur.Status != "Launched" {
		t.Errorf("cursor not advanced: %+v (ok=%v)", cur, ok)
	}
}

func TestNoEventOnUnchangedStatus(t *testing.T) {
	d, s := newTestDetector(t)
	ctx := context.Background()

	s.SetCursor(ctx, ticket.StatusCursor{TicketID: "rec-3", Status: "Launched", ObservedAt: time.Now()})
	s.AppendTransition(ctx, ticket.TransitionRecord{TicketID: "rec-3", Status: "Launched", NotifiedAt: time.Now()})

	ev, err := d.Observe(ctx, observed("rec-3", "Launched"))
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if ev != nil {
		t.Errorf("already-notified unchanged status must not fire, got %+v", ev)
	}
}

func TestRetryWhenRecordMissing(t *testing.T) {
	d, s := newTestDetector(t)
	ctx := context.Background()

	// Cursor advanced on a previous cycle but the dispatch never completed,
	// so no transition record exists yet.
	s.SetCursor(ctx, ticket.StatusCursor{TicketID: "rec-4", Status: "Launched", ObservedAt: time.Now()})

	ev, err := d.Observe(ctx, observed("rec-4", "Launched"))
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if ev == nil {
		t.Fatal("expected the undelivered transition to be re-emitted")
	}
}

func TestFirstObservationAlreadyCompleted(t *testing.T) {
	d, _ := newTestDetector(t)

	ev, err := d.Observe(context.Background(), observed("rec-5", "Launched"))
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if ev == nil {
		t.Fatal("pre-existing completed ticket without a record should fire once")
	}
	if ev.FromStatus != ticket.StatusUnknown {
		t.Errorf("expected synthetic prior status, got %q", ev.FromStatus)
	}
}

func TestCompletionLabelNormalization(t *testing.T) {
	d, _ := newTestDetector(t)

	if !d.Completed("  work   completed ") {
		t.Error("label matching should ignore case and whitespace")
	}
	if d.Completed("Cancelled") {
		t.Error("unconfigured status must not match")
	}
}

func TestCompletionToCompletionIsNewTransition(t *testing.T) {
	d, s := newTestDetector(t)
	ctx := context.Background()

	s.SetCursor(ctx, ticket.StatusCursor{TicketID: "rec-6", Status: "Work Completed", ObservedAt: time.Now()})
	s.AppendTransition(ctx, ticket.TransitionRecord{TicketID: "rec-6", Status: "Work Completed", NotifiedAt: time.Now()})

	ev, err := d.Observe(ctx, observed("rec-6", "Launched"))
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if ev == nil {
		t.Fatal("a move between completion labels is its own transition")
	}
}

func TestLockForStableAndBounded(t *testing.T) {
	d, _ := newTestDetector(t)

	if d.lockFor("rec-8") != d.lockFor("rec-8") {
		t.Error("one ticket id must always map to the same lock")
	}

	// Any number of distinct ids lands inside the fixed stripe pool.
	seen := make(map[*sync.Mutex]struct{})
	for i := 0; i < 10*lockStripes; i++ {
		seen[d.lockFor(fmt.Sprintf("rec-%d", i))] = struct{}{}
	}
	if len(seen) > lockStripes {
		t.Errorf("lock pool grew past %d stripes: %d", lockStripes, len(seen))
	}
}

func TestConcurrentObservationsSerializePerTicket(t *testing.T) {
	d, s := newTestDetector(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	events := make(chan *ticket.TransitionEvent, 16)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev, err := d.Observe(ctx, observed("rec-7", "Launched"))
			if err != nil {
				t.Errorf("observe: %v", err)
				return
			}
			if ev != nil {
				events <- ev
			}
		}()
	}
	wg.Wait()
	close(events)

	// Without a dispatched record every serialized observation re-emits; the
	// cursor must still land on the observed status exactly once.
	cur, ok, _ := s.Cursor(ctx, "rec-7")
	if !ok || cur.Status != "Launched" {
		t.Errorf("cursor not settled: %+v (ok=%v)", cur, ok)
	}
}
