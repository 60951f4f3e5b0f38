package translate

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ticketbridge-io/ticketbridge/internal/flatten"
	"github.com/ticketbridge-io/ticketbridge/internal/mapping"
	"github.com/ticketbridge-io/ticketbridge/pkg/ticket"
)

func newTestRegistry(t *testing.T) *mapping.Registry {
	t.Helper()
	reg, err := mapping.NewRegistry(map[mapping.Schema][]mapping.FieldMapping{
		mapping.SchemaForm: {
			{Name: ticket.FieldTitle, Label: "Request Title", Paths: path("view_state_values_input_one_title_value")},
			{Name: ticket.FieldCategories, Label: "Request Type", Paths: paths(
				"view_state_values_input_two_request_type_selected_options_0_value",
				"view_state_values_input_two_request_type_selected_options_1_value",
				"view_state_values_input_two_request_type_selected_options_2_value",
			)},
			{Name: ticket.FieldRequestor, Label: "Slack ID", Paths: path("user_id")},
		},
		mapping.SchemaRecords: {
			{Name: ticket.FieldTicketID, Label: "Ticket ID", Paths: path("id"), Required: true},
			{Name: ticket.FieldStatus, Label: "Status", Paths: path("properties_Status_status_name"), Required: true},
			{Name: ticket.FieldTitle, Label: "Title", Paths: path("properties_Title_title_0_text_content")},
			{Name: ticket.FieldCategories, Label: "Request Type", Paths: paths(
				"properties_Request Type_multi_select_0_name",
				"properties_Request Type_multi_select_1_name",
				"properties_Request Type_multi_select_2_name",
			)},
			{Name: ticket.FieldArchived, Label: "Archived", Paths: path("archived")},
			{Name: ticket.FieldPageURL, Label: "Page URL", Paths: path("url")},
			{Name: ticket.FieldDueDate, Label: "Due Date", Paths: path("properties_Due Date_date_start")},
		},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func path(p string) mapping.PathList { return mapping.SinglePath(p) }

func paths(ps ...string) mapping.PathList { return mapping.MultiPath(ps...) }

func parse(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return v
}

func TestFromExternalFormTitle(t *testing.T) {
	tr := New(newTestRegistry(t))
	payload := parse(t, `{
		"user": {"id": "U42"},
		"view": {"state": {"values": {"input_one": {"title": {"value": "Fix dashboard"}}}}}
	}`)

	tk, err := tr.FromExternal(mapping.SchemaForm, payload)
	if err != nil {
		t.Fatalf("from external: %v", err)
	}
	if tk.Title != "Fix dashboard" {
		t.Errorf("expected title 'Fix dashboard', got %q", tk.Title)
	}
	if tk.Requestor != "U42" {
		t.Errorf("expected requestor U42, got %q", tk.Requestor)
	}
	if tk.Provided(ticket.FieldDueDate) {
		t.Error("due date was not in the payload, should not be provided")
	}
}

func TestFromExternalMultiValuedOrder(t *testing.T) {
	tr := New(newTestRegistry(t))
	payload := parse(t, `{
		"id": "rec-1",
		"archived": false,
		"properties": {
			"Status": {"status": {"name": "In Progress"}},
			"Request Type": {"multi_select": [{"name": "analytics"}, {"name": "etl"}, {"name": "dashboard"}]}
		}
	}`)

	tk, err := tr.FromExternal(mapping.SchemaRecords, payload)
	if err != nil {
		t.Fatalf("from external: %v", err)
	}
	want := []string{"analytics", "etl", "dashboard"}
	if !reflect.DeepEqual(tk.Categories, want) {
		t.Errorf("expected categories %v in payload order, got %v", want, tk.Categories)
	}
}

func TestFromExternalRequiredFieldMissing(t *testing.T) {
	tr := New(newTestRegistry(t))
	payload := parse(t, `{"properties": {"Status": {"status": {"name": "Backlog"}}}}`)

	_, err := tr.FromExternal(mapping.SchemaRecords, payload)
	if !errors.Is(err, ErrRequiredFieldMissing) {
		t.Errorf("expected ErrRequiredFieldMissing, got %v", err)
	}
}

func TestFromExternalNullIsProvided(t *testing.T) {
	tr := New(newTestRegistry(t))
	payload := parse(t, `{
		"id": "rec-2",
		"url": null,
		"properties": {"Status": {"status": {"name": "Backlog"}}}
	}`)

	tk, err := tr.FromExternal(mapping.SchemaRecords, payload)
	if err != nil {
		t.Fatalf("from external: %v", err)
	}
	if !tk.Provided(ticket.FieldPageURL) {
		t.Error("null url should still count as provided")
	}
	if tk.PageURL != "" {
		t.Errorf("null url should be empty, got %q", tk.PageURL)
	}
}

func TestFromExternalArchivedFlag(t *testing.T) {
	tr := New(newTestRegistry(t))
	payload := parse(t, `{
		"id": "rec-3",
		"archived": true,
		"properties": {"Status": {"status": {"name": "Launched"}}}
	}`)

	tk, err := tr.FromExternal(mapping.SchemaRecords, payload)
	if err != nil {
		t.Fatalf("from external: %v", err)
	}
	if !tk.Archived {
		t.Error("expected archived flag to be set")
	}
}

func TestFromExternalTooDeep(t *testing.T) {
	tr := New(newTestRegistry(t), WithMaxDepth(2))
	payload := parse(t, `{"a": {"b": {"c": {"d": 1}}}}`)

	_, err := tr.FromExternal(mapping.SchemaForm, payload)
	if !errors.Is(err, flatten.ErrPayloadTooDeep) {
		t.Errorf("expected ErrPayloadTooDeep, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	tr := New(newTestRegistry(t))
	raw := `{
		"id": "rec-9",
		"archived": false,
		"url": "https://notion.so/rec-9",
		"properties": {
			"Title": {"title": [{"text": {"content": "Quarterly report"}}]},
			"Status": {"status": {"name": "Launched"}},
			"Due Date": {"date": {"start": "2024-06-01"}},
			"Request Type": {"multi_select": [{"name": "analytics"}, {"name": "etl"}]}
		}
	}`
	payload := parse(t, raw)

	tk, err := tr.FromExternal(mapping.SchemaRecords, payload)
	if err != nil {
		t.Fatalf("from external: %v", err)
	}
	out, err := tr.ToExternal(mapping.SchemaRecords, tk)
	if err != nil {
		t.Fatalf("to external: %v", err)
	}

	outRec, err := flatten.Flatten(out, flatten.Options{})
	if err != nil {
		t.Fatalf("re-flatten: %v", err)
	}

	reg := newTestRegistry(t)
	for _, m := range reg.Fields(mapping.SchemaRecords) {
		srcRec, _ := flatten.Flatten(payload, flatten.Options{})
		for _, p := range m.Paths.Values {
			src, ok := flatten.Resolve(srcRec, p)
			if !ok {
				continue
			}
			got, ok := flatten.Resolve(outRec, p)
			if !ok {
				t.Errorf("path %s lost in round trip", p)
				continue
			}
			if !reflect.DeepEqual(src, got) {
				t.Errorf("path %s changed: %v -> %v", p, src, got)
			}
		}
	}
}

func TestRoundTripKeepsLeafTypes(t *testing.T) {
	reg, err := mapping.NewRegistry(map[mapping.Schema][]mapping.FieldMapping{
		mapping.SchemaRecords: {
			{Name: ticket.FieldTicketID, Label: "Ticket ID", Paths: path("properties_ID_unique_id_number"), Required: true},
			{Name: ticket.FieldStatus, Label: "Status", Paths: path("properties_Status_status_name"), Required: true},
			{Name: ticket.FieldArchived, Label: "Archived", Paths: path("archived")},
		},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	tr := New(reg)
	payload := parse(t, `{
		"archived": false,
		"properties": {
			"ID": {"unique_id": {"number": 42}},
			"Status": {"status": {"name": "Launched"}}
		}
	}`)

	tk, err := tr.FromExternal(mapping.SchemaRecords, payload)
	if err != nil {
		t.Fatalf("from external: %v", err)
	}
	if tk.ID != "42" {
		t.Errorf("expected rendered id \"42\", got %q", tk.ID)
	}

	out, err := tr.ToExternal(mapping.SchemaRecords, tk)
	if err != nil {
		t.Fatalf("to external: %v", err)
	}
	outRec, err := flatten.Flatten(out, flatten.Options{})
	if err != nil {
		t.Fatalf("re-flatten: %v", err)
	}

	id, _ := flatten.Resolve(outRec, "properties_ID_unique_id_number")
	if !reflect.DeepEqual(id, float64(42)) {
		t.Errorf("numeric leaf changed type in round trip: %v (%T)", id, id)
	}
	archived, _ := flatten.Resolve(outRec, "archived")
	if archived != false {
		t.Errorf("boolean leaf changed in round trip: %v (%T)", archived, archived)
	}
}

func TestToExternalSkipsUnsetFields(t *testing.T) {
	tr := New(newTestRegistry(t))
	tk := &ticket.Ticket{}
	tk.Set(ticket.FieldTicketID, "rec-5")
	tk.Set(ticket.FieldStatus, "Backlog")

	out, err := tr.ToExternal(mapping.SchemaRecords, tk)
	if err != nil {
		t.Fatalf("to external: %v", err)
	}
	rec, err := flatten.Flatten(out, flatten.Options{})
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if len(rec) != 2 {
		t.Errorf("expected exactly 2 written paths, got %d: %v", len(rec), rec)
	}
}

func TestFormatTimestamp(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	tr := New(newTestRegistry(t), WithDisplayTime(loc, "2006-01-02 15:04:05"))

	got := tr.FormatTimestamp("2024-03-01T14:00:00.000Z")
	if got != "2024-03-01 09:00:00" {
		t.Errorf("expected converted timestamp, got %q", got)
	}

	// Unparseable values pass through untouched.
	if got := tr.FormatTimestamp("not a date"); got != "not a date" {
		t.Errorf("expected passthrough, got %q", got)
	}
	if got := tr.FormatDate("2024-03-01T14:00:00.000Z"); got != "2024-03-01" {
		t.Errorf("expected date portion, got %q", got)
	}
}
