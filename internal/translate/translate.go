// Package translate converts external payloads to canonical tickets and back.
//
// All schema-specific knowledge lives in the mapping registry; this package
// only walks configured paths over flattened payloads, so it never needs to
// change when an external field is added or renamed.
package translate

import (
	"errors"
	"fmt"
	"time"

	"github.com/araddon/dateparse"

	"github.com/ticketbridge-io/ticketbridge/internal/flatten"
	"github.com/ticketbridge-io/ticketbridge/internal/mapping"
	"github.com/ticketbridge-io/ticketbridge/pkg/ticket"
)

// ErrRequiredFieldMissing is returned when a payload lacks a field the
// mapping configuration flags as mandatory. The record is skipped; other
// records in the same cycle continue.
var ErrRequiredFieldMissing = errors.New("translate: required field missing")

// Translator converts between flattened external payloads and canonical
// tickets using the registry's path expressions.
type Translator struct {
	reg      *mapping.Registry
	maxDepth int
	loc      *time.Location
	layout   string
}

// Option configures a Translator.
type Option func(*Translator)

// WithMaxDepth caps payload traversal depth.
func WithMaxDepth(d int) Option {
	return func(t *Translator) { t.maxDepth = d }
}

// WithDisplayTime sets the timezone and layout used by FormatTimestamp.
func WithDisplayTime(loc *time.Location, layout string) Option {
	return func(t *Translator) {
		t.loc = loc
		t.layout = layout
	}
}

// New creates a Translator over the given registry.
func New(reg *mapping.Registry, opts ...Option) *Translator {
	t := &Translator{
		reg:    reg,
		loc:    time.UTC,
		layout: "2006-01-02 15:04:05",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FromExternal flattens a payload and assigns every canonical field the
// schema's paths resolve. Absent fields are left unset so callers can
// distinguish "not provided" from "provided empty"; only fields flagged
// required fail the record.
func (t *Translator) FromExternal(schema mapping.Schema, payload any) (*ticket.Ticket, error) {
	rec, err := flatten.Flatten(payload, flatten.Options{MaxDepth: t.maxDepth})
	if err != nil {
		return nil, err
	}

	tk := &ticket.Ticket{}
	for _, m := range t.reg.Fields(schema) {
		if len(m.Paths.Values) == 0 {
			continue
		}
		if m.Multi() {
			vals := flatten.ResolveAll(rec, m.Paths.Values)
			if len(vals) == 0 {
				if m.Required {
					return nil, fmt.Errorf("%w: %s (%s)", ErrRequiredFieldMissing, m.Name, schema)
				}
				continue
			}
			tk.SetList(m.Name, vals)
			continue
		}
		v, ok := flatten.Resolve(rec, m.Paths.Values[0])
		if !ok {
			if m.Required {
				return nil, fmt.Errorf("%w: %s (%s)", ErrRequiredFieldMissing, m.Name, schema)
			}
			continue
		}
		tk.Set(m.Name, v)
	}
	return tk, nil
}

// ToExternal rebuilds a nested payload from a ticket's provided fields,
// writing each value back through its configured path. Multi-valued fields
// reoccupy the same ordered array positions they were read from, so fields
// that are both read and written survive a round trip unchanged.
func (t *Translator) ToExternal(schema mapping.Schema, tk *ticket.Ticket) (any, error) {
	rec := make(flatten.Record)
	for _, m := range t.reg.Fields(schema) {
		if len(m.Paths.Values) == 0 {
			continue
		}
		v, ok := tk.Get(m.Name)
		if !ok {
			continue
		}
		if m.Multi() {
			vals, _ := v.([]any)
			for i, p := range m.Paths.Values {
				if i >= len(vals) {
					break
				}
				rec[p] = vals[i]
			}
			continue
		}
		rec[m.Paths.Values[0]] = v
	}
	return flatten.Unflatten(rec), nil
}

// FormatTimestamp normalizes an externally formatted date or datetime string
// into the configured display timezone and layout. Values that do not parse
// are returned untouched; translation stores raw values and only rendering
// uses this.
func (t *Translator) FormatTimestamp(value string) string {
	if value == "" {
		return value
	}
	parsed, err := dateparse.ParseIn(value, time.UTC)
	if err != nil {
		return value
	}
	return parsed.In(t.loc).Format(t.layout)
}

// FormatDate is FormatTimestamp truncated to the date portion.
func (t *Translator) FormatDate(value string) string {
	if value == "" {
		return value
	}
	parsed, err := dateparse.ParseIn(value, time.UTC)
	if err != nil {
		return value
	}
	return parsed.In(t.loc).Format("2006-01-02")
}
