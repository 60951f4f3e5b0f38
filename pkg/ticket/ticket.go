package ticket

import (
	"strconv"
	"strings"
	"time"
)

// Canonical field names. These are the schema-independent attribute names the
// mapping configuration binds external paths to.
const (
	FieldTicketID       = "ticket_id"
	FieldStatus         = "ticket_status"
	FieldTitle          = "request_title"
	FieldDetails        = "request_details"
	FieldCategories     = "request_type"
	FieldRequestor      = "slack_user_id"
	FieldRequestorName  = "requestor_name"
	FieldRequestorEmail = "requestor_email"
	FieldLink           = "project_link"
	FieldDueDate        = "due_date"
	FieldCreatedAt      = "created_at"
	FieldArchived       = "archive_status"
	FieldPageURL        = "page_url"
)

// StatusUnknown is the synthetic prior status used for the first observation
// of a ticket that has no persisted cursor.
const StatusUnknown = "unknown"

// Ticket is the canonical representation of one request, independent of the
// external schema it was read from. Fields that were never assigned are
// distinguishable from fields assigned an empty value via Provided.
type Ticket struct {
	ID             string
	Title          string
	Details        string
	Categories     []string
	Requestor      string
	RequestorName  string
	RequestorEmail string
	Link           string
	DueDate        string
	CreatedAt      string
	Status         string
	Archived       bool
	PageURL        string

	// Extra holds values for canonical fields the mapping configuration
	// declares but this struct has no dedicated slot for.
	Extra map[string]any

	provided map[string]bool
	raw      map[string]any
}

// Set assigns a scalar value to the named canonical field. The typed slots
// hold a string rendering; the value as assigned is kept too, so writing a
// ticket back out reproduces the external payload's own types.
func (t *Ticket) Set(field string, v any) {
	switch field {
	case FieldTicketID:
		t.ID = str(v)
	case FieldStatus:
		t.Status = str(v)
	case FieldTitle:
		t.Title = str(v)
	case FieldDetails:
		t.Details = str(v)
	case FieldCategories:
		t.Categories = []string{str(v)}
	case FieldRequestor:
		t.Requestor = str(v)
	case FieldRequestorName:
		t.RequestorName = str(v)
	case FieldRequestorEmail:
		t.RequestorEmail = str(v)
	case FieldLink:
		t.Link = str(v)
	case FieldDueDate:
		t.DueDate = str(v)
	case FieldCreatedAt:
		t.CreatedAt = str(v)
	case FieldArchived:
		t.Archived = truthy(v)
	case FieldPageURL:
		t.PageURL = str(v)
	default:
		if t.Extra == nil {
			t.Extra = make(map[string]any)
		}
		t.Extra[field] = v
	}
	t.mark(field, v)
}

// SetList assigns an ordered collection to a multi-valued canonical field.
func (t *Ticket) SetList(field string, vs []any) {
	if field == FieldCategories {
		cats := make([]string, len(vs))
		for i, v := range vs {
			cats[i] = str(v)
		}
		t.Categories = cats
	} else {
		if t.Extra == nil {
			t.Extra = make(map[string]any)
		}
		t.Extra[field] = vs
	}
	t.mark(field, vs)
}

// Get returns the value of the named canonical field exactly as it was
// assigned, and whether it was ever assigned. A numeric leaf stays numeric
// even though the typed slot renders it as a string. Multi-valued fields
// return []any.
func (t *Ticket) Get(field string) (any, bool) {
	if !t.provided[field] {
		return nil, false
	}
	return t.raw[field], true
}

// Provided reports whether the named canonical field was assigned during
// translation. It distinguishes "not in the payload" from "present but empty".
func (t *Ticket) Provided(field string) bool {
	return t.provided[field]
}

func (t *Ticket) mark(field string, v any) {
	if t.provided == nil {
		t.provided = make(map[string]bool)
		t.raw = make(map[string]any)
	}
	t.provided[field] = true
	t.raw[field] = v
}

// TransitionEvent is the detected fact that a ticket's status moved into a
// completion label since it was last observed.
type TransitionEvent struct {
	TicketID   string
	FromStatus string
	ToStatus   string
	Ticket     *Ticket
}

// TransitionRecord is the persisted proof that a transition notification was
// dispatched. At most one record exists per (ticket id, normalized status).
type TransitionRecord struct {
	TicketID    string    `json:"ticket_id"`
	Status      string    `json:"status"`
	PriorStatus string    `json:"prior_status"`
	NotifiedAt  time.Time `json:"notified_at"`
}

// StatusCursor is the last-observed status of a ticket, persisted so a fresh
// process does not treat every record as newly transitioned.
type StatusCursor struct {
	TicketID   string    `json:"ticket_id"`
	Status     string    `json:"status"`
	ObservedAt time.Time `json:"observed_at"`
}

// NormalizeStatus lowercases a status and collapses internal whitespace so
// completion-label matching tolerates incidental formatting differences
// introduced by external editors.
func NormalizeStatus(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		// JSON numbers arrive as float64; render integers without decimals.
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return ""
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return strings.EqualFold(x, "true")
	case float64:
		return x != 0
	}
	return false
}
